/*
 * Part of the OpenLI collector.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

// Package export implements the per-mediator Export Buffer: an ordered
// byte-oriented FIFO of fully encoded records with partial-send
// resumption, grounded on the retry-on-partial-write loop in the donor
// ingest writer and the disk-spillover idiom in the donor's chancacher.
package export

import (
	"container/list"
	"net"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"

	"github.com/openli-go/openli/internal/logging"
	"github.com/openli-go/openli/internal/metrics"
)

// writeTimeout stands in for MSG_DONTWAIT: a very short write deadline so
// Transmit never blocks the single-threaded exporter loop. A deadline
// expiry is treated exactly like EAGAIN in the source -- the remaining
// bytes stay buffered and are retried on the next tick.
const writeTimeout = 2 * time.Millisecond

// BatchSize bounds how many bytes a single Transmit call will attempt to
// drain, matching the 10 MiB bounded-drain policy in the mediator forward
// contract.
const BatchSize = 10 * 1024 * 1024

type record struct {
	data []byte
	sent int
}

func (r *record) remaining() []byte { return r.data[r.sent:] }

// Buffer is the Export Buffer for a single mediator. The zero value is not
// usable; construct with New.
type Buffer struct {
	mu         sync.Mutex
	records    *list.List // of *record, oldest (head) first
	size       int64      // bytes currently held in memory
	capBytes   int64
	mediatorID uint32
	lg         *logging.Logger
	spill      *diskSpill // optional overflow store, nil if unconfigured
}

// New constructs an Export Buffer for mediatorID with an in-memory ceiling
// of capBytes. If spillPath is non-empty, records evicted past the ceiling
// are persisted to a bbolt-backed overflow store at that path instead of
// being dropped; pass "" to drop-oldest-on-overflow per the open-question
// decision recorded for unannounced mediators.
func New(lg *logging.Logger, mediatorID uint32, capBytes int64, spillPath string) (*Buffer, error) {
	b := &Buffer{
		records:    list.New(),
		capBytes:   capBytes,
		mediatorID: mediatorID,
		lg:         lg,
	}
	if spillPath != "" {
		sp, err := newDiskSpill(spillPath, mediatorID)
		if err != nil {
			return nil, err
		}
		b.spill = sp
	}
	return b, nil
}

// Append adds the encoded bytes of one record to the tail of the buffer.
// alreadySent records how many leading bytes were already transmitted on a
// prior connection, per the partial-send contract; it is almost always
// zero except when a forward attempt direct-sends part of a brand new
// record before falling back to buffering the rest.
func (b *Buffer) Append(data []byte, alreadySent int) {
	if len(data) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evictToFit(int64(len(data)))
	b.records.PushBack(&record{data: data, sent: alreadySent})
	b.size += int64(len(data))
}

// evictToFit drops or spills oldest whole records until there is room for
// an incoming record of size incoming, honoring the configured ceiling.
// Must be called with mu held.
func (b *Buffer) evictToFit(incoming int64) {
	if b.capBytes <= 0 {
		return
	}
	for b.size+incoming > b.capBytes {
		front := b.records.Front()
		if front == nil {
			return
		}
		rec := front.Value.(*record)
		if b.spill != nil {
			if err := b.spill.persist(rec.remaining()); err != nil && b.lg != nil {
				b.lg.Errorf("mediator %d: failed to spill overflow record to disk: %v", b.mediatorID, err)
			}
		} else {
			metrics.BufferOverflows.Inc()
			if b.lg != nil {
				b.lg.Criticalf("mediator %d: export buffer overflow, dropping %d buffered bytes", b.mediatorID, len(rec.data))
			}
		}
		b.records.Remove(front)
		b.size -= int64(len(rec.data))
	}
}

// ResetPartial clears the sent-count of the record at the head of the
// buffer. Callers invoke this whenever the mediator socket is (re)opened:
// the invariant is that the whole record at head is retransmitted after a
// reconnect, relying on downstream dedup.
func (b *Buffer) ResetPartial() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if front := b.records.Front(); front != nil {
		front.Value.(*record).sent = 0
	}
}

// BufferedBytes reports the number of bytes currently queued in memory.
func (b *Buffer) BufferedBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Empty reports whether the buffer holds no records, counting spilled
// records that have not yet been reloaded.
func (b *Buffer) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.records.Len() == 0 && (b.spill == nil || b.spill.empty())
}

// Transmit writes up to maxBatch bytes to conn, advancing partial sends
// and freeing fully-drained records. It returns the number of bytes
// written and an error only for a hard socket failure; a write-deadline
// timeout (the Go analogue of EAGAIN) is reported as sent=n, err=nil so the
// caller treats it as "retry later", matching the source's partial-send
// handling.
func (b *Buffer) Transmit(conn net.Conn, maxBatch int) (sent int64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.spill != nil {
		b.refillFromSpillLocked()
	}

	budget := int64(maxBatch)
	for budget > 0 {
		front := b.records.Front()
		if front == nil {
			break
		}
		rec := front.Value.(*record)
		chunk := rec.remaining()
		if int64(len(chunk)) > budget {
			chunk = chunk[:budget]
		}
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		n, werr := conn.Write(chunk)
		sent += int64(n)
		rec.sent += n
		budget -= int64(n)
		if werr != nil {
			if ne, ok := werr.(net.Error); ok && ne.Timeout() {
				return sent, nil
			}
			return sent, werr
		}
		if rec.sent >= len(rec.data) {
			b.records.Remove(front)
			b.size -= int64(len(rec.data))
			if b.spill != nil {
				b.refillFromSpillLocked()
			}
		}
	}
	return sent, nil
}

// refillFromSpillLocked pulls spilled records back into the in-memory list
// once there is headroom, preserving enqueue order (spill is itself FIFO).
// Must be called with mu held.
func (b *Buffer) refillFromSpillLocked() {
	for b.capBytes <= 0 || b.size < b.capBytes {
		data, ok, err := b.spill.popFront()
		if err != nil || !ok {
			return
		}
		b.records.PushFront(&record{data: data})
		b.size += int64(len(data))
		return // restore one record at a time; Transmit loop will re-enter
	}
}

// diskSpill is a small FIFO persisted in a bbolt database, used to hold
// export buffer overflow for a mediator that has been disconnected for an
// extended period rather than dropping it outright. Records are
// zstd-compressed before being written, since a mediator outage can leave
// this store holding many minutes of CC payload.
type diskSpill struct {
	db     *bolt.DB
	bucket []byte
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	mu     sync.Mutex
	head   uint64
	tail   uint64
}

func newDiskSpill(path string, mediatorID uint32) (*diskSpill, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	bucket := []byte(bucketName(mediatorID))
	var head, tail uint64
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucket)
		if err != nil {
			return err
		}
		c := b.Cursor()
		if k, _ := c.First(); k != nil {
			head = decodeKey(k)
		}
		if k, _ := c.Last(); k != nil {
			tail = decodeKey(k) + 1
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &diskSpill{db: db, bucket: bucket, enc: enc, dec: dec, head: head, tail: tail}, nil
}

func bucketName(mediatorID uint32) string {
	return "mediator-overflow-" + string(encodeKey(uint64(mediatorID)))
}

func (d *diskSpill) persist(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := encodeKey(d.tail)
	compressed := d.enc.EncodeAll(data, nil)
	err := d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(d.bucket)
		return b.Put(key, compressed)
	})
	if err == nil {
		d.tail++
	}
	return err
}

func (d *diskSpill) popFront() (data []byte, ok bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.head >= d.tail {
		return nil, false, nil
	}
	key := encodeKey(d.head)
	err = d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(d.bucket)
		v := b.Get(key)
		if v == nil {
			return nil
		}
		plain, derr := d.dec.DecodeAll(v, nil)
		if derr != nil {
			return derr
		}
		data = plain
		ok = true
		return b.Delete(key)
	})
	if ok {
		d.head++
	}
	return data, ok, err
}

func (d *diskSpill) empty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.head >= d.tail
}

func encodeKey(n uint64) []byte {
	k := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		k[i] = byte(n)
		n >>= 8
	}
	return k
}

func decodeKey(k []byte) uint64 {
	var n uint64
	for _, b := range k {
		n = n<<8 | uint64(b)
	}
	return n
}
