/*
 * Part of the OpenLI collector.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

// Package relay implements the mediator daemon's collector-to-agency
// fan-out: every framed record read from any collector connection is
// broadcast to every connected agency handover. Grounded on the donor
// relay's bounded-retry accept loop, generalised from "hand a line off to
// an ingest muxer" to "hand a record off to every subscriber".
package relay

import (
	"encoding/binary"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/openli-go/openli/internal/logging"
	"github.com/openli-go/openli/internal/wire"
)

// subscriberQueueSize bounds how far behind a slow agency connection may
// fall; once its queue is full, each newly broadcast record is dropped for
// that subscriber rather than blocking the broadcaster.
const subscriberQueueSize = 1024

// maxAcceptFailures is the bounded-retry count on a listener's Accept loop,
// matching the donor relay's "break out after repeated accept failures"
// rule rather than spinning forever on a wedged listener.
const maxAcceptFailures = 3

// Hub owns the set of currently connected agency subscribers and relays
// every record broadcast to it out to each of them.
type Hub struct {
	lg *logging.Logger

	mtx  sync.Mutex
	subs map[int]chan []byte
	next int
}

func NewHub(lg *logging.Logger) *Hub {
	return &Hub{lg: lg, subs: make(map[int]chan []byte)}
}

func (h *Hub) subscribe() (int, chan []byte) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	id := h.next
	h.next++
	ch := make(chan []byte, subscriberQueueSize)
	h.subs[id] = ch
	return id, ch
}

func (h *Hub) unsubscribe(id int) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	delete(h.subs, id)
}

// broadcast fans one record body out to every subscriber, dropping it for
// any subscriber whose queue is already full rather than blocking the
// reader goroutine on a single slow agency.
func (h *Hub) broadcast(body []byte) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- body:
		default:
			if h.lg != nil {
				h.lg.Warnf("agency subscriber %d is behind, dropping one record", id)
			}
		}
	}
}

// AcceptCollectors runs the accept loop for the collector-facing listener:
// each connection is read until EOF or error, every framed record found on
// it is broadcast to agency subscribers.
func (h *Hub) AcceptCollectors(lst net.Listener) {
	h.acceptLoop(lst, "collector", h.handleCollector)
}

// AcceptAgencies runs the accept loop for the agency-facing listener: each
// connection is registered as a subscriber and fed every broadcast record
// until it disconnects.
func (h *Hub) AcceptAgencies(lst net.Listener) {
	h.acceptLoop(lst, "agency", h.handleAgency)
}

func (h *Hub) acceptLoop(lst net.Listener, kind string, handle func(net.Conn)) {
	var failCount int
	defer lst.Close()
	for {
		conn, err := lst.Accept()
		if err != nil {
			if strings.Contains(err.Error(), "closed") {
				return
			}
			failCount++
			if h.lg != nil {
				h.lg.Warnf("%s listener accept failed: %v", kind, err)
			}
			if failCount > maxAcceptFailures {
				if h.lg != nil {
					h.lg.Errorf("%s listener giving up after %d consecutive accept failures", kind, failCount)
				}
				return
			}
			continue
		}
		failCount = 0
		if h.lg != nil {
			h.lg.Infof("accepted %s connection from %s", kind, conn.RemoteAddr())
		}
		go handle(conn)
	}
}

func (h *Hub) handleCollector(conn net.Conn) {
	defer conn.Close()
	for {
		body, err := wire.ReadFramed(conn)
		if err != nil {
			if err != io.EOF && h.lg != nil {
				h.lg.Warnf("collector connection %s: %v", conn.RemoteAddr(), err)
			}
			return
		}
		h.broadcast(body)
	}
}

func (h *Hub) handleAgency(conn net.Conn) {
	defer conn.Close()
	id, ch := h.subscribe()
	defer h.unsubscribe(id)
	for body := range ch {
		if _, err := conn.Write(frame(body)); err != nil {
			if h.lg != nil {
				h.lg.Warnf("agency connection %s: %v", conn.RemoteAddr(), err)
			}
			return
		}
	}
}

// frame re-applies the u32-be length prefix stripped off by
// wire.ReadFramed, so an agency connection receives exactly the same
// framing a collector's Registry wrote.
func frame(body []byte) []byte {
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	copy(out[4:], body)
	return out
}
