/*
 * Part of the OpenLI collector.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

// Package wire defines the messages that travel on the exporter's inbound
// queue and the on-the-wire record format sent to mediators.
package wire

import (
	"net"
	"time"
)

// MessageKind tags the union of values that can arrive on the exporter
// queue. A tagged variant avoids virtual dispatch on the hot path, per the
// dynamic-dispatch design note for protocol trackers: the exporter loop
// switches on Kind once per message rather than calling through an
// interface per frame.
type MessageKind uint8

const (
	MessageMediator MessageKind = iota
	MessageDropSingleMediator
	MessageDropAllMediators
	MessageFlagMediators
	MessageInterceptDetails
	MessageInterceptOver
	MessageIPIRI
	MessageIPCC
	MessageIPMMIRI
	MessageIPMMCC
	MessagePacketFin
)

func (k MessageKind) String() string {
	switch k {
	case MessageMediator:
		return "MEDIATOR"
	case MessageDropSingleMediator:
		return "DROP_SINGLE_MEDIATOR"
	case MessageDropAllMediators:
		return "DROP_ALL_MEDIATORS"
	case MessageFlagMediators:
		return "FLAG_MEDIATORS"
	case MessageInterceptDetails:
		return "INTERCEPT_DETAILS"
	case MessageInterceptOver:
		return "INTERCEPT_OVER"
	case MessageIPIRI:
		return "IPIRI"
	case MessageIPCC:
		return "IPCC"
	case MessageIPMMIRI:
		return "IPMMIRI"
	case MessageIPMMCC:
		return "IPMMCC"
	case MessagePacketFin:
		return "PACKET_FIN"
	}
	return "UNKNOWN"
}

// MediatorAnnounce carries the frames of a MEDIATOR or DROP_SINGLE_MEDIATOR
// message: u32 mediatorid, UTF-8 ip, UTF-8 port.
type MediatorAnnounce struct {
	MediatorID uint32
	IP         string
	Port       string
}

// InterceptAnnounce carries the frames of an INTERCEPT_DETAILS or
// INTERCEPT_OVER message: liid, authcc, delivcc.
type InterceptAnnounce struct {
	LIID    string
	AuthCC  string
	DelivCC string
}

// Direction records which side of a TCP flow (or SIP dialog leg) a CC
// segment travelled.
type Direction uint8

const (
	DirectionClientToServer Direction = iota
	DirectionServerToClient
)

// Job is the tagged payload for IPIRI/IPCC/IPMMIRI/IPMMCC messages.
// Ownership transfers to the exporter loop on enqueue; it is released once
// encoded and forwarded (or buffered).
type Job struct {
	Kind      MessageKind
	DestID    uint32
	LIID      string
	CIN       uint32
	Timestamp time.Time
	Direction Direction

	// IPIRI fields
	Special    uint8
	AccessTech uint8
	IPAssign   uint8
	Family     int32
	PrefixBits uint8
	Addr       net.IP
	Username   string

	// IPCC / IPMMCC fields
	IPContent []byte

	// Release is invoked once the exporter loop has finished with this
	// job's payload. For IPMMCC jobs referencing a captured packet shared
	// with other outgoing records, Release decrements that packet's
	// refcount; for everything else it is nil.
	Release func()
}

// Message is a single tagged value read off the exporter's inbound queue.
// At most one of the typed fields is populated, matching Kind;
// DROP_ALL_MEDIATORS, FLAG_MEDIATORS and PACKET_FIN carry none.
type Message struct {
	Kind      MessageKind
	Mediator  *MediatorAnnounce
	Intercept *InterceptAnnounce
	Job       *Job
}
