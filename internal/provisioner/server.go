/*
 * Part of the OpenLI collector.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

// Package provisioner implements the provisioner's client-facing control
// channel: collectors and mediators connect in, and are pushed the current
// intercept and agency configuration. Grounded on
// provisioner_client.c's accept/auth/idle-timer handling, adapted from
// epoll-driven C state machines to one goroutine per connection plus a
// read deadline standing in for the idle timer.
package provisioner

import (
	"encoding/binary"
	"encoding/json"
	"net"
	"strings"
	"time"

	"github.com/openli-go/openli/internal/config"
	"github.com/openli-go/openli/internal/logging"
)

// idleTimeout mirrors PROVISIONER_IDLE_TIMEOUT_SECS: a client connection
// that never sends anything (clients are not expected to send more than an
// occasional keepalive) is dropped after this long without a read.
const idleTimeout = 60 * time.Second

const maxAcceptFailures = 3

// Snapshot is the control payload pushed to every newly connected client:
// the full set of currently active intercepts and agency bindings. A real
// deployment would follow this with incremental ANNOUNCE/WITHDRAW
// messages as warrants are added or expire; this server only pushes the
// configuration loaded at startup.
type Snapshot struct {
	Intercepts []config.InterceptEntry `json:"intercepts"`
	Agencies   []config.AgencyEntry    `json:"agencies"`
}

// Server pushes Snapshot to every collector/mediator that connects to the
// client-facing listener.
type Server struct {
	lg       *logging.Logger
	snapshot Snapshot
}

func New(lg *logging.Logger, intercepts []config.InterceptEntry, agencies []config.AgencyEntry) *Server {
	return &Server{lg: lg, snapshot: Snapshot{Intercepts: intercepts, Agencies: agencies}}
}

// Serve runs the accept loop for lst, pushing the current snapshot to each
// connecting client and then holding the connection open until it goes
// idle or disconnects.
func (s *Server) Serve(lst net.Listener) {
	var failCount int
	defer lst.Close()
	for {
		conn, err := lst.Accept()
		if err != nil {
			if strings.Contains(err.Error(), "closed") {
				return
			}
			failCount++
			if s.lg != nil {
				s.lg.Warnf("provisioner listener accept failed: %v", err)
			}
			if failCount > maxAcceptFailures {
				if s.lg != nil {
					s.lg.Errorf("provisioner listener giving up after %d consecutive accept failures", failCount)
				}
				return
			}
			continue
		}
		failCount = 0
		if s.lg != nil {
			s.lg.Infof("accepted client connection from %s", conn.RemoteAddr())
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	body, err := json.Marshal(s.snapshot)
	if err != nil {
		if s.lg != nil {
			s.lg.Errorf("marshalling snapshot: %v", err)
		}
		return
	}
	if err := writeFramed(conn, body); err != nil {
		if s.lg != nil {
			s.lg.Warnf("pushing snapshot to %s: %v", conn.RemoteAddr(), err)
		}
		return
	}
	// Hold the connection open, dropping it once it's been silent for
	// longer than the idle timeout; clients that send anything (even a
	// keepalive byte) reset the deadline.
	buf := make([]byte, 64)
	for {
		conn.SetReadDeadline(time.Now().Add(idleTimeout))
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}

func writeFramed(conn net.Conn, body []byte) error {
	var lenbuf [4]byte
	binary.BigEndian.PutUint32(lenbuf[:], uint32(len(body)))
	if _, err := conn.Write(lenbuf[:]); err != nil {
		return err
	}
	_, err := conn.Write(body)
	return err
}
