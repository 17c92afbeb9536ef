/*
 * Part of the OpenLI collector.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

// Package encoder implements the Encoder Adaptor: it wraps an external
// ASN.1 BER encoder (the codec itself is an external collaborator per
// scope -- its internals are not specified here) and stamps each record
// with the LIID and the per-CIN sequence number before handing it to the
// mediator registry. The job's CIN and timestamp are not passed to the
// codec and are not carried in the record.
package encoder

import (
	"fmt"

	"github.com/openli-go/openli/internal/liid"
	"github.com/openli-go/openli/internal/wire"
)

// HeaderTemplate is the process-wide, read-only-after-startup PS-PDU
// preamble material: operatorid, networkelemid, intpointid. Passed by
// reference into every encode call; never mutated after configuration
// parsing.
type HeaderTemplate struct {
	OperatorID    string
	NetworkElemID string
	IntPointID    string
}

// IRIParams and CCParams are the per-job fields the BER codec needs beyond
// what's already in HeaderTemplate/Intercept/SeqCounter.
type IRIParams struct {
	AccessTech uint8
	IPAssign   uint8
	Family     int32
	PrefixBits uint8
	Addr       []byte
	Username   string
	Special    uint8
}

type CCParams struct {
	Direction wire.Direction
	IPContent []byte
}

// BERCodec is the external collaborator contract: given the fixed header
// fields, the warrant's country codes, a monotone sequence number and the
// kind-specific payload, produce one encoded PS-PDU body. IRI encoding may
// be iterative: Done=false means "call again, there is another record",
// mirroring the source's "produce multiple records" IRI loop.
type BERCodec interface {
	EncodeIRI(hdr HeaderTemplate, authcc, delivcc, liidStr string, seqno uint64, p IRIParams, iteration int) (body []byte, done bool, err error)
	EncodeCC(hdr HeaderTemplate, authcc, delivcc, liidStr string, seqno uint64, p CCParams) (body []byte, err error)
}

// Adaptor ties a BERCodec to a fixed header template.
type Adaptor struct {
	Header HeaderTemplate
	Codec  BERCodec
}

func New(hdr HeaderTemplate, codec BERCodec) *Adaptor {
	return &Adaptor{Header: hdr, Codec: codec}
}

// EncodeCC consumes cc_seqno: on success it is incremented and exactly one
// record is returned, tagged with destid. IPMMCC jobs additionally release
// the originating captured packet's refcount via job.Release once the
// encode attempt (success or failure) completes, matching the source's
// explicit refcount decrement on the capture buffer.
func (a *Adaptor) EncodeCC(ic *liid.Intercept, seq *liid.SeqCounter, job *wire.Job) (wire.Record, error) {
	if job.Kind == wire.MessageIPMMCC && job.Release != nil {
		defer job.Release()
	}
	body, err := a.Codec.EncodeCC(a.Header, ic.AuthCC, ic.DelivCC, ic.LIID, seq.CCSeqno, CCParams{
		Direction: job.Direction,
		IPContent: job.IPContent,
	})
	if err != nil {
		return wire.Record{}, fmt.Errorf("encode cc: %w", err)
	}
	seq.CCSeqno++
	return wire.Record{
		Header:    []byte(a.Header.OperatorID + a.Header.NetworkElemID + a.Header.IntPointID),
		LIID:      ic.LIID,
		Body:      body,
		IPPayload: job.IPContent,
	}, nil
}

// EncodeIRI consumes iri_seqno. It loops until the codec reports the
// record kind is exhausted, incrementing the counter once per successful
// iteration -- this is how multi-parameter-block IRIs are emitted. A
// failed iteration aborts the whole job and returns whatever records were
// already produced alongside the error, matching "abort the current job's
// iteration" in the error-handling design.
func (a *Adaptor) EncodeIRI(ic *liid.Intercept, seq *liid.SeqCounter, job *wire.Job) ([]wire.Record, error) {
	var out []wire.Record
	params := IRIParams{
		AccessTech: job.AccessTech,
		IPAssign:   job.IPAssign,
		Family:     job.Family,
		PrefixBits: job.PrefixBits,
		Addr:       []byte(job.Addr),
		Username:   job.Username,
		Special:    job.Special,
	}
	for iteration := 0; ; iteration++ {
		body, done, err := a.Codec.EncodeIRI(a.Header, ic.AuthCC, ic.DelivCC, ic.LIID, seq.IRISeqno, params, iteration)
		if err != nil {
			return out, fmt.Errorf("encode iri: %w", err)
		}
		seq.IRISeqno++
		out = append(out, wire.Record{
			Header: []byte(a.Header.OperatorID + a.Header.NetworkElemID + a.Header.IntPointID),
			LIID:   ic.LIID,
			Body:   body,
		})
		if done {
			break
		}
	}
	return out, nil
}
