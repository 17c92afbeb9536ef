/*
 * Part of the OpenLI collector.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package mediator

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openli-go/openli/internal/wire"
)

func listenLoopback(t *testing.T) (net.Listener, string, string) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	return l, host, port
}

func TestForwardBuffersUntilConnected(t *testing.T) {
	r := New(nil, 0, "")
	require.NoError(t, r.Forward(1, wire.Record{LIID: "X", Body: []byte("hi")}))

	l, host, port := listenLoopback(t)
	defer l.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := l.Accept()
		accepted <- c
	}()

	require.NoError(t, r.Announce(wire.MediatorAnnounce{MediatorID: 1, IP: host, Port: port}))
	succ, _ := r.ConnectAll()
	require.Equal(t, 1, succ)

	conn := <-accepted
	defer conn.Close()

	buf := make([]byte, 64)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Contains(t, string(buf[:n]), "hi")
}

func TestDropHaltsButKeepsEntry(t *testing.T) {
	r := New(nil, 0, "")
	require.NoError(t, r.Forward(5, wire.Record{LIID: "A", Body: []byte("x")}))
	require.NoError(t, r.Announce(wire.MediatorAnnounce{MediatorID: 5, IP: "127.0.0.1", Port: "1"}))
	require.NoError(t, r.Drop(5))

	snap := r.Snapshot()
	entry, ok := snap[5]
	require.True(t, ok)
	require.True(t, entry.Halted)
}

func TestUnknownMediatorDropIsError(t *testing.T) {
	r := New(nil, 0, "")
	require.ErrorIs(t, r.Drop(99), ErrUnknownMediator)
}

func TestFlagAllThenPurgeUnconfirmed(t *testing.T) {
	r := New(nil, 0, "")
	require.NoError(t, r.Announce(wire.MediatorAnnounce{MediatorID: 1, IP: "127.0.0.1", Port: "1"}))
	require.NoError(t, r.Announce(wire.MediatorAnnounce{MediatorID: 2, IP: "127.0.0.1", Port: "2"}))

	r.FlagAll()
	// mediator 1 reconfirms, mediator 2 does not
	require.NoError(t, r.Announce(wire.MediatorAnnounce{MediatorID: 1, IP: "127.0.0.1", Port: "1"}))

	r.PurgeUnconfirmed()

	snap := r.Snapshot()
	require.False(t, snap[1].Halted)
	require.True(t, snap[2].Halted)
}
