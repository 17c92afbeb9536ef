/*
 * Part of the OpenLI collector.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

// Package mediator implements the Mediator Registry: the set of known
// export destinations, their connection lifecycle, and unannounced
// buffering. Grounded on the donor muxer's Target/connection-state
// handling, adapted from a single upstream relay to many independently
// addressed LEA-handover destinations.
package mediator

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/openli-go/openli/internal/export"
	"github.com/openli-go/openli/internal/logging"
	"github.com/openli-go/openli/internal/metrics"
	"github.com/openli-go/openli/internal/wire"
)

var (
	ErrUnknownMediator = errors.New("mediator: unknown mediator id")
)

// Entry is one mediator's lifecycle and connection state. The registry
// never shares an Entry across goroutines concurrently with the exporter
// loop's own thread -- the loop is the sole owner, matching the
// single-writer discipline the core spec requires of the exporter.
type Entry struct {
	MediatorID      uint32
	IP              string
	Port            string
	conn            net.Conn
	Buffer          *export.Buffer
	AwaitingConfirm bool
	Halted          bool
	announced       bool // false for an implicitly-created unannounced entry
	sessionID       uuid.UUID
}

func (e *Entry) Connected() bool { return e.conn != nil }

// Registry owns every Entry for one exporter. Not safe for concurrent
// access from more than one goroutine; the exporter loop that owns it is
// strictly single-threaded per §5.
type Registry struct {
	entries       map[uint32]*Entry
	lg            *logging.Logger
	capBytes      int64
	spillDir      string
	dialTimeout   time.Duration
}

func New(lg *logging.Logger, capBytes int64, spillDir string) *Registry {
	return &Registry{
		entries:     make(map[uint32]*Entry),
		lg:          lg,
		capBytes:    capBytes,
		spillDir:    spillDir,
		dialTimeout: 3 * time.Second,
	}
}

func (r *Registry) spillPath(mediatorID uint32) string {
	if r.spillDir == "" {
		return ""
	}
	return fmt.Sprintf("%s/mediator-%d.spill", r.spillDir, mediatorID)
}

func (r *Registry) newEntry(mediatorID uint32) (*Entry, error) {
	buf, err := export.New(r.lg, mediatorID, r.capBytes, r.spillPath(mediatorID))
	if err != nil {
		return nil, err
	}
	e := &Entry{MediatorID: mediatorID, Buffer: buf, sessionID: uuid.New()}
	if r.lg != nil {
		r.lg.Infof("mediator %d: new registry entry, session %s", mediatorID, e.sessionID)
	}
	return e, nil
}

// Announce implements the MEDIATOR control message. If the entry exists and
// its address is unset, the address is filled in; if the address differs
// from what's on file, the live socket is closed so connect_all
// reestablishes to the new address; if the entry doesn't exist, it is
// created fresh. Either way awaitingconfirm and halted are cleared.
func (r *Registry) Announce(a wire.MediatorAnnounce) error {
	e, ok := r.entries[a.MediatorID]
	if !ok {
		ne, err := r.newEntry(a.MediatorID)
		if err != nil {
			return err
		}
		e = ne
		r.entries[a.MediatorID] = e
	}
	if e.IP == "" && e.Port == "" {
		e.IP, e.Port = a.IP, a.Port
	} else if e.IP != a.IP || e.Port != a.Port {
		if e.conn != nil {
			e.conn.Close()
			e.conn = nil
		}
		e.IP, e.Port = a.IP, a.Port
	}
	e.announced = true
	e.AwaitingConfirm = false
	e.Halted = false
	return nil
}

// Drop implements DROP_SINGLE_MEDIATOR: close the socket and mark halted,
// but keep the entry (and its buffer) until an explicit purge.
func (r *Registry) Drop(mediatorID uint32) error {
	e, ok := r.entries[mediatorID]
	if !ok {
		return ErrUnknownMediator
	}
	r.halt(e)
	return nil
}

// DropAll implements DROP_ALL_MEDIATORS (§12 supplemented message type):
// every known entry is halted.
func (r *Registry) DropAll() {
	for _, e := range r.entries {
		r.halt(e)
	}
}

func (r *Registry) halt(e *Entry) {
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	e.Halted = true
}

// FlagAll implements FLAG_MEDIATORS: marks every entry awaiting
// reconfirmation. The caller (exporter loop) arms the 10s purge timer in
// response to this call, per the supplemented message taxonomy in §12.
func (r *Registry) FlagAll() {
	for _, e := range r.entries {
		e.AwaitingConfirm = true
	}
}

// PurgeUnconfirmed implements the 10s unconfirmed-purge tick: any entry
// still awaiting confirmation after the grace window is halted.
func (r *Registry) PurgeUnconfirmed() {
	for _, e := range r.entries {
		if e.AwaitingConfirm {
			r.halt(e)
		}
	}
}

// ConnectAll attempts to (re)connect every entry with no live socket and a
// known address, flushing any buffered bytes immediately on success.
// Returns counts of successes and failures for observability.
func (r *Registry) ConnectAll() (succeeded, failed int) {
	for _, e := range r.entries {
		if e.Halted || e.conn != nil || e.IP == "" {
			continue
		}
		addr := net.JoinHostPort(e.IP, e.Port)
		conn, err := net.DialTimeout("tcp", addr, r.dialTimeout)
		if err != nil {
			failed++
			metrics.MediatorReconnects.WithLabelValues("failure").Inc()
			if r.lg != nil {
				r.lg.Warnf("mediator %d: connect to %s failed: %v", e.MediatorID, addr, err)
			}
			continue
		}
		e.conn = conn
		e.Buffer.ResetPartial()
		succeeded++
		metrics.MediatorReconnects.WithLabelValues("success").Inc()
		if !e.Buffer.Empty() {
			if _, werr := e.Buffer.Transmit(conn, export.BatchSize); werr != nil {
				e.conn.Close()
				e.conn = nil
				failed++
			}
		}
	}
	return
}

// Forward routes one encoded record to destid. An unknown destid creates
// an implicit unannounced entry (per the load-bearing "unannounced
// mediator" path) whose buffer begins filling immediately.
func (r *Registry) Forward(destid uint32, rec wire.Record) error {
	e, ok := r.entries[destid]
	if !ok {
		ne, err := r.newEntry(destid)
		if err != nil {
			return err
		}
		e = ne
		r.entries[destid] = e
	}
	return r.forwardEntry(e, rec)
}

// forwardEntry implements the entry-local forward policy from §4.B: if no
// socket, buffer; else attempt a bounded drain, then a direct send of the
// new record if the buffer emptied, buffering whatever didn't go out.
func (r *Registry) forwardEntry(e *Entry, rec wire.Record) error {
	data := rec.Marshal()
	metrics.MediatorBufferedBytes.WithLabelValues(fmt.Sprint(e.MediatorID)).Set(float64(e.Buffer.BufferedBytes()))

	if e.conn == nil {
		e.Buffer.Append(data, 0)
		return nil
	}

	if !e.Buffer.Empty() {
		if _, err := e.Buffer.Transmit(e.conn, export.BatchSize); err != nil {
			e.conn.Close()
			e.conn = nil
			e.Buffer.Append(data, 0)
			return err
		}
	}

	if !e.Buffer.Empty() {
		// bounded drain didn't finish; new record queues behind it.
		e.Buffer.Append(data, 0)
		return nil
	}

	e.conn.SetWriteDeadline(time.Now().Add(2 * time.Millisecond))
	n, err := e.conn.Write(data)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			e.Buffer.Append(data, n)
			return nil
		}
		e.Buffer.Append(data, n)
		e.conn.Close()
		e.conn = nil
		return err
	}
	if n < len(data) {
		e.Buffer.Append(data, n)
	}
	return nil
}

// Snapshot returns a read-only view of current entries, for tests and
// metrics collection.
func (r *Registry) Snapshot() map[uint32]Entry {
	out := make(map[uint32]Entry, len(r.entries))
	for k, v := range r.entries {
		out[k] = *v
	}
	return out
}
