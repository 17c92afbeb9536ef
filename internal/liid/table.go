/*
 * Part of the OpenLI collector.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

// Package liid implements the Intercept State Table: per-LIID
// authorisation metadata and per-CIN monotone sequence counters.
package liid

import (
	"errors"
	"fmt"
)

var ErrUnknownIntercept = errors.New("liid: unknown intercept")

// SeqCounter is the sequence counter for one (LIID, CIN) pair. Both
// counters start at zero and are incremented only after the encoder
// returns success for that record kind, never before.
type SeqCounter struct {
	CIN      uint32
	IRISeqno uint64
	CCSeqno  uint64
}

// Intercept is a warrant: the authorisation fields stamped into every
// PS-PDU header emitted for this LIID, plus the CIN-keyed counters that
// belong to it exclusively.
type Intercept struct {
	LIID    string
	AuthCC  string
	DelivCC string

	counters map[uint32]*SeqCounter
}

// Table owns every active Intercept for one exporter. Not safe for
// concurrent use from more than one goroutine; the exporter loop is the
// sole owner, as with mediator.Registry.
type Table struct {
	intercepts map[string]*Intercept
}

func New() *Table {
	return &Table{intercepts: make(map[string]*Intercept)}
}

// Add implements INTERCEPT_DETAILS: creates the intercept if unseen, or
// swaps in new authcc/delivcc for an existing LIID while preserving every
// existing CIN sequence counter -- reconfiguration must never reset
// numbering.
func (t *Table) Add(liid, authcc, delivcc string) *Intercept {
	if ic, ok := t.intercepts[liid]; ok {
		ic.AuthCC = authcc
		ic.DelivCC = delivcc
		return ic
	}
	ic := &Intercept{
		LIID:     liid,
		AuthCC:   authcc,
		DelivCC:  delivcc,
		counters: make(map[uint32]*SeqCounter),
	}
	t.intercepts[liid] = ic
	return ic
}

// End implements INTERCEPT_OVER: removes the intercept and everything it
// owns. A missing LIID is reported to the caller but is not fatal to the
// exporter loop.
func (t *Table) End(liid string) error {
	if _, ok := t.intercepts[liid]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownIntercept, liid)
	}
	delete(t.intercepts, liid)
	return nil
}

// Get looks up an intercept by LIID without creating one; jobs referencing
// an unknown LIID are dropped by the caller per the error handling design.
func (t *Table) Get(liid string) (*Intercept, bool) {
	ic, ok := t.intercepts[liid]
	return ic, ok
}

// Counter returns the sequence counter for (ic.LIID, cin), creating it
// lazily at zero on first reference.
func (ic *Intercept) Counter(cin uint32) *SeqCounter {
	if c, ok := ic.counters[cin]; ok {
		return c
	}
	c := &SeqCounter{CIN: cin}
	ic.counters[cin] = c
	return c
}

// Len reports how many intercepts are currently tracked.
func (t *Table) Len() int { return len(t.intercepts) }
