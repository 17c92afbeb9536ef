/*
 * Part of the OpenLI collector.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

// Package capture wires a live or offline packet source to the IMAP and
// SIP trackers, translating their CC/IRI events into exporter jobs.
// Grounded on the donor network sniffer's pcap.OpenLive/ReadPacketData
// loop and its reopen-on-error handling, generalised from "frame up
// entries for the ingest muxer" to "reassemble one flow's bytes into the
// right application-protocol tracker".
package capture

import (
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/openli-go/openli/internal/imap"
	"github.com/openli-go/openli/internal/logging"
	"github.com/openli-go/openli/internal/sip"
	"github.com/openli-go/openli/internal/wire"
)

// Target describes one intercepted flow: which LIID/CIN to stamp onto
// jobs derived from it, and which application protocol is running on it.
type Target struct {
	LIID     string
	CIN      uint32
	DestID   uint32
	Protocol Protocol
	// ServerIP/ServerPort identify the server side of the flow, used to
	// assign Direction on each captured segment.
	ServerIP   string
	ServerPort uint16
}

type Protocol uint8

const (
	ProtocolIMAP Protocol = iota
	ProtocolSIP
)

type flowKey struct {
	srcIP, dstIP     string
	srcPort, dstPort uint16
}

func (k flowKey) reverse() flowKey {
	return flowKey{srcIP: k.dstIP, dstIP: k.srcIP, srcPort: k.dstPort, dstPort: k.srcPort}
}

type session struct {
	target Target
	imap   *imap.Tracker
	sip    *sip.Tracker
}

// Worker owns one pcap handle and the per-flow tracker state for the
// targets it has been told to watch. A Worker is single-threaded: Run
// drives the read loop and every tracker touch happens on that goroutine.
type Worker struct {
	handle *pcap.Handle
	lg     *logging.Logger
	Queue  chan<- wire.Message

	targets   map[flowKey]Target
	sessions  map[flowKey]*session
	bpfFilter string
}

// Open starts a live capture on the named interface with the given
// snapshot length and promiscuous setting, mirroring the reference
// sniffer's pcap.OpenLive call.
func Open(iface string, snaplen int32, promisc bool, lg *logging.Logger, queue chan<- wire.Message) (*Worker, error) {
	hnd, err := pcap.OpenLive(iface, snaplen, promisc, time.Second)
	if err != nil {
		return nil, err
	}
	return &Worker{
		handle:   hnd,
		lg:       lg,
		Queue:    queue,
		targets:  make(map[flowKey]Target),
		sessions: make(map[flowKey]*session),
	}, nil
}

// OpenOffline replays a previously captured pcap file, for testing and
// offline reprocessing; it satisfies the same Worker interface as a live
// capture so a config-level pcap://<path> input can drive the identical
// tracking/export pipeline as pcap:<interface>.
func OpenOffline(path string, lg *logging.Logger, queue chan<- wire.Message) (*Worker, error) {
	hnd, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, err
	}
	return &Worker{
		handle:   hnd,
		lg:       lg,
		Queue:    queue,
		targets:  make(map[flowKey]Target),
		sessions: make(map[flowKey]*session),
	}, nil
}

func (w *Worker) Close() {
	if w.handle != nil {
		w.handle.Close()
	}
}

// SetBPFFilter installs a capture filter on the live handle, matching the
// reference sniffer's SetBPFFilter call used both at startup and on
// reopen.
func (w *Worker) SetBPFFilter(filter string) error {
	w.bpfFilter = filter
	return w.handle.SetBPFFilter(filter)
}

// Watch registers a flow (identified by the client and server endpoints)
// against a target so captured packets on it are fed to the right
// protocol tracker and stamped with the right LIID/CIN/destid.
func (w *Worker) Watch(clientIP string, clientPort uint16, t Target) {
	key := flowKey{srcIP: clientIP, dstIP: t.ServerIP, srcPort: clientPort, dstPort: t.ServerPort}
	w.targets[key] = t
	w.targets[key.reverse()] = t
}

// Unwatch removes a previously registered flow, releasing its tracker
// state.
func (w *Worker) Unwatch(clientIP string, clientPort uint16, t Target) {
	key := flowKey{srcIP: clientIP, dstIP: t.ServerIP, srcPort: clientPort, dstPort: t.ServerPort}
	delete(w.targets, key)
	delete(w.targets, key.reverse())
	delete(w.sessions, key)
	delete(w.sessions, key.reverse())
}

// Run reads packets until the handle is closed or a read error that isn't
// a timeout occurs, matching the reference loop's ReadPacketData/timeout
// handling. An offline handle returns io.EOF once the file is exhausted,
// which Run treats as a clean finish rather than an error.
func (w *Worker) Run() error {
	for {
		data, ci, err := w.handle.ReadPacketData()
		if err != nil {
			if err == pcap.NextErrorTimeoutExpired {
				continue
			}
			if err == io.EOF {
				return nil
			}
			return err
		}
		w.handlePacket(data, ci.Timestamp)
	}
}

func (w *Worker) handlePacket(data []byte, ts time.Time) {
	pkt := gopacket.NewPacket(data, w.handle.LinkType(), gopacket.NoCopy)

	var srcIP, dstIP string
	if ipv4 := pkt.Layer(layers.LayerTypeIPv4); ipv4 != nil {
		ip := ipv4.(*layers.IPv4)
		srcIP, dstIP = ip.SrcIP.String(), ip.DstIP.String()
	} else if ipv6 := pkt.Layer(layers.LayerTypeIPv6); ipv6 != nil {
		ip := ipv6.(*layers.IPv6)
		srcIP, dstIP = ip.SrcIP.String(), ip.DstIP.String()
	} else {
		return
	}

	var srcPort, dstPort uint16
	var payload []byte
	if tcp := pkt.Layer(layers.LayerTypeTCP); tcp != nil {
		t := tcp.(*layers.TCP)
		srcPort, dstPort = uint16(t.SrcPort), uint16(t.DstPort)
		payload = t.Payload
	} else if udp := pkt.Layer(layers.LayerTypeUDP); udp != nil {
		u := udp.(*layers.UDP)
		srcPort, dstPort = uint16(u.SrcPort), uint16(u.DstPort)
		payload = u.Payload
	} else {
		return
	}
	if len(payload) == 0 {
		return
	}

	key := flowKey{srcIP: srcIP, dstIP: dstIP, srcPort: srcPort, dstPort: dstPort}
	target, ok := w.targets[key]
	if !ok {
		return
	}

	dir := wire.DirectionClientToServer
	if dstIP != target.ServerIP || dstPort != target.ServerPort {
		dir = wire.DirectionServerToClient
	}

	sess := w.sessionFor(key, target)
	switch target.Protocol {
	case ProtocolIMAP:
		w.feedIMAP(sess, target, payload, dir, ts)
	case ProtocolSIP:
		w.feedSIP(sess, target, payload, dir, ts)
	}
}

// sessionFor returns the tracker session for a flow, keyed consistently on
// the client->server orientation regardless of which direction the
// current packet travelled in, so both legs of a TCP flow share one
// tracker instance.
func (w *Worker) sessionFor(key flowKey, target Target) *session {
	canonical := key
	if key.dstIP != target.ServerIP || key.dstPort != target.ServerPort {
		canonical = key.reverse()
	}
	if s, ok := w.sessions[canonical]; ok {
		return s
	}
	s := &session{target: target}
	switch target.Protocol {
	case ProtocolIMAP:
		s.imap = imap.New()
	case ProtocolSIP:
		s.sip = sip.New()
	}
	w.sessions[canonical] = s
	w.sessions[canonical.reverse()] = s
	return s
}

func (w *Worker) feedIMAP(sess *session, target Target, payload []byte, dir wire.Direction, ts time.Time) {
	ccs, iris, err := sess.imap.Feed(payload, dir)
	if err != nil {
		if w.lg != nil {
			w.lg.Warnf("imap feed error for liid %q: %v", target.LIID, err)
		}
		return
	}
	for _, cc := range ccs {
		w.Queue <- wire.Message{Kind: wire.MessageIPCC, Job: &wire.Job{
			Kind: wire.MessageIPCC, DestID: target.DestID, LIID: target.LIID, CIN: target.CIN,
			Timestamp: ts, Direction: cc.Direction, IPContent: cc.Data,
		}}
	}
	for _, iri := range iris {
		w.Queue <- wire.Message{Kind: wire.MessageIPIRI, Job: &wire.Job{
			Kind: wire.MessageIPIRI, DestID: target.DestID, LIID: target.LIID, CIN: target.CIN,
			Timestamp: ts, Username: iri.Mailbox, Special: specialForIMAPKind(iri.Kind),
		}}
	}
}

func (w *Worker) feedSIP(sess *session, target Target, payload []byte, dir wire.Direction, ts time.Time) {
	ccs, iris, err := sess.sip.Feed(payload, dir)
	if err != nil {
		if w.lg != nil {
			w.lg.Warnf("sip feed error for liid %q: %v", target.LIID, err)
		}
		return
	}
	for _, cc := range ccs {
		w.Queue <- wire.Message{Kind: wire.MessageIPCC, Job: &wire.Job{
			Kind: wire.MessageIPCC, DestID: target.DestID, LIID: target.LIID, CIN: target.CIN,
			Timestamp: ts, Direction: cc.Direction, IPContent: cc.Data,
		}}
	}
	for _, iri := range iris {
		w.Queue <- wire.Message{Kind: wire.MessageIPIRI, Job: &wire.Job{
			Kind: wire.MessageIPIRI, DestID: target.DestID, LIID: target.LIID, CIN: target.CIN,
			Timestamp: ts, Username: iri.ToUser, Special: specialForSIPKind(iri.Kind),
		}}
	}
}

func specialForIMAPKind(kind string) uint8 {
	switch kind {
	case "session-start":
		return 1
	case "auth":
		return 2
	case "session-over":
		return 3
	}
	return 0
}

func specialForSIPKind(kind string) uint8 {
	switch kind {
	case "attempt":
		return 1
	case "ringing":
		return 2
	case "answer":
		return 3
	case "release":
		return 4
	}
	return 0
}

// CounterSeed derives a stable starting CIN from a LIID for targets that
// don't get one assigned explicitly by the provisioner, matching the
// intercept table's requirement that CIN be a 32-bit unsigned value.
func CounterSeed(liid string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(liid); i++ {
		h ^= uint32(liid[i])
		h *= 16777619
	}
	return h
}
