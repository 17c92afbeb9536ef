/*
 * Part of the OpenLI collector.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package sip

import (
	"github.com/openli-go/openli/internal/wire"
)

// DialogState tracks one SIP call instance, keyed by Call-ID. It mirrors
// the IMAP tracker's state-machine shape: INVITE moves a fresh dialog into
// Calling, a 183 response into Proceeding, a 200 OK into Answered, and a
// BYE (in either direction) into Over, at which point the dialog is
// removed; a later message with the same Call-ID starts a new dialog.
type DialogState uint8

const (
	DialogCalling DialogState = iota
	DialogProceeding
	DialogAnswered
	DialogOver
)

func (s DialogState) String() string {
	switch s {
	case DialogCalling:
		return "CALLING"
	case DialogProceeding:
		return "PROCEEDING"
	case DialogAnswered:
		return "ANSWERED"
	case DialogOver:
		return "OVER"
	}
	return "UNKNOWN"
}

// CCEvent carries the raw signalling bytes of one SIP message for export
// as Communication Content, the same way an IMAP command line is.
type CCEvent struct {
	Data      []byte
	Direction wire.Direction
}

// IRIEvent is one call-progress record: attempt, ringing, answer or
// release, carrying the identities the reference parser extracts from the
// From/To URIs, the Authorization headers and the SDP body.
type IRIEvent struct {
	Kind      string // "attempt", "ringing", "answer", "release"
	CallID    string
	FromURI   string
	ToURI     string
	ToUser    string
	ToRealm   string
	AuthUser  string
	AuthRealm string
	SessionID string
	MediaAddr string
	MediaPort string
}

// dialog is one in-progress call instance. Owned by Tracker and indexed by
// Call-ID, never referenced by pointer from outside the owning Tracker.
type dialog struct {
	state DialogState
}

// Tracker correlates SIP messages belonging to the same signalling flow
// into per-Call-ID dialogs. A capture worker creates one Tracker per
// watched flow and feeds it every SIP payload captured on that flow.
type Tracker struct {
	dialogs map[string]*dialog
}

func New() *Tracker {
	return &Tracker{dialogs: make(map[string]*dialog)}
}

// DialogState returns the current state of the dialog for callID, or false
// if no dialog has been seen yet for that Call-ID.
func (t *Tracker) DialogState(callID string) (DialogState, bool) {
	d, ok := t.dialogs[callID]
	if !ok {
		return 0, false
	}
	return d.state, true
}

// Feed decodes one SIP message and advances the dialog state for its
// Call-ID, returning the CC record for the raw message plus any IRI events
// the transition produced. A message with no recognisable Call-ID (or a
// keep-alive, which ParseMessage reports as a nil message) yields no
// events.
func (t *Tracker) Feed(data []byte, dir wire.Direction) ([]CCEvent, []IRIEvent, error) {
	msg, err := ParseMessage(data)
	if err != nil || msg == nil || msg.CallID == "" {
		return nil, nil, err
	}

	cc := []CCEvent{{Data: data, Direction: dir}}

	d, ok := t.dialogs[msg.CallID]
	if !ok {
		d = &dialog{state: DialogCalling}
		t.dialogs[msg.CallID] = d
	}

	iri := t.applyTransition(d, msg)
	if d.state == DialogOver {
		delete(t.dialogs, msg.CallID)
	}
	var iris []IRIEvent
	if iri != nil {
		iris = append(iris, *iri)
	}
	return cc, iris, nil
}

func (t *Tracker) applyTransition(d *dialog, msg *Message) *IRIEvent {
	base := IRIEvent{
		CallID:  msg.CallID,
		FromURI: msg.FromURI,
		ToURI:   msg.ToURI,
		ToUser:  msg.ToIdentity.Username,
		ToRealm: msg.ToIdentity.Realm,
	}
	if len(msg.Auth) > 0 {
		base.AuthUser = msg.Auth[0].Username
		base.AuthRealm = msg.Auth[0].Realm
	}
	if sessID, addr, ok := msg.SDPOrigin(); ok {
		base.SessionID = sessID
		_ = addr
	}
	if port, addr, ok := msg.SDPMedia(); ok {
		base.MediaPort = port
		base.MediaAddr = addr
	}

	switch {
	case msg.IsInvite() && d.state == DialogCalling:
		base.Kind = "attempt"
		return &base
	case msg.Is183SessionProgress() && d.state != DialogOver:
		d.state = DialogProceeding
		base.Kind = "ringing"
		return &base
	case msg.Is200OK() && d.state != DialogAnswered && d.state != DialogOver:
		d.state = DialogAnswered
		base.Kind = "answer"
		return &base
	case msg.IsBye():
		d.state = DialogOver
		base.Kind = "release"
		return &base
	}
	return nil
}
