/*
 * Part of the OpenLI collector.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package exporter

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openli-go/openli/internal/encoder"
	"github.com/openli-go/openli/internal/liid"
	"github.com/openli-go/openli/internal/mediator"
	"github.com/openli-go/openli/internal/wire"
)

type fakeCodec struct{}

func (fakeCodec) EncodeIRI(hdr encoder.HeaderTemplate, authcc, delivcc, liidStr string, seqno uint64, p encoder.IRIParams, iteration int) ([]byte, bool, error) {
	return []byte("IRI"), true, nil
}

func (fakeCodec) EncodeCC(hdr encoder.HeaderTemplate, authcc, delivcc, liidStr string, seqno uint64, p encoder.CCParams) ([]byte, error) {
	return p.IPContent, nil
}

func TestExporterLoopS1SequenceGapFree(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	host, port, _ := net.SplitHostPort(l.Addr().String())

	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := l.Accept()
		accepted <- c
	}()

	reg := mediator.New(nil, 0, "")
	tbl := liid.New()
	enc := encoder.New(encoder.HeaderTemplate{}, fakeCodec{})
	loop := New(nil, 16, reg, tbl, enc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	loop.Queue <- wire.Message{Kind: wire.MessageInterceptDetails, Intercept: &wire.InterceptAnnounce{LIID: "X", AuthCC: "NZ", DelivCC: "NZ"}}
	loop.Queue <- wire.Message{Kind: wire.MessageMediator, Mediator: &wire.MediatorAnnounce{MediatorID: 1, IP: host, Port: port}}

	conn := <-accepted
	defer conn.Close()

	loop.Queue <- wire.Message{Kind: wire.MessageIPCC, Job: &wire.Job{Kind: wire.MessageIPCC, DestID: 1, LIID: "X", CIN: 7, IPContent: []byte("P1")}}
	loop.Queue <- wire.Message{Kind: wire.MessageIPIRI, Job: &wire.Job{Kind: wire.MessageIPIRI, DestID: 1, LIID: "X", CIN: 7, Username: "u"}}
	loop.Queue <- wire.Message{Kind: wire.MessageIPCC, Job: &wire.Job{Kind: wire.MessageIPCC, DestID: 1, LIID: "X", CIN: 7, IPContent: []byte("P2")}}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 4096)
	total := 0
	deadline := time.Now().Add(2 * time.Second)
	for total < 4 && time.Now().Before(deadline) {
		n, err := conn.Read(buf[total:])
		if err != nil {
			break
		}
		total += n
	}
	require.Contains(t, string(buf[:total]), "P1")
}

func TestExporterLoopDropsUnknownLIID(t *testing.T) {
	reg := mediator.New(nil, 0, "")
	tbl := liid.New()
	enc := encoder.New(encoder.HeaderTemplate{}, fakeCodec{})
	loop := New(nil, 16, reg, tbl, enc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	released := false
	loop.Queue <- wire.Message{Kind: wire.MessageIPCC, Job: &wire.Job{Kind: wire.MessageIPCC, LIID: "ghost", Release: func() { released = true }}}

	require.Eventually(t, func() bool { return released }, time.Second, 10*time.Millisecond)
}
