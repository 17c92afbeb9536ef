/*
 * Part of the OpenLI collector.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package wire

import (
	"encoding/binary"
	"io"
)

// Record is one fully encoded ETSI LI record as handed from the encoder
// adaptor to a mediator's export buffer: an opaque PS-PDU header and body
// produced by the external BER encoder, the LIID the mediator must use to
// route the record to the correct LEA handover, and an optional raw IP
// payload trailer (IPCC/IPMMCC jobs only).
type Record struct {
	Header    []byte
	LIID      string
	Body      []byte
	IPPayload []byte
}

// Marshal lays the record out exactly as the external interface contract
// requires: u32-be frame_len || header || u16-be liid_len || liid_bytes ||
// body || optional ip_payload. frame_len covers everything after itself,
// giving the mediator's TCP reader an unambiguous record boundary; the u16
// LIID length and inline LIID are an OpenLI framing layer above ETSI LI
// itself, used to route to the right LEA handover without parsing the
// PS-PDU body.
func (r Record) Marshal() []byte {
	liid := []byte(r.LIID)
	body := make([]byte, 0, len(r.Header)+2+len(liid)+len(r.Body)+len(r.IPPayload))
	body = append(body, r.Header...)
	var lenbuf [2]byte
	binary.BigEndian.PutUint16(lenbuf[:], uint16(len(liid)))
	body = append(body, lenbuf[:]...)
	body = append(body, liid...)
	body = append(body, r.Body...)
	if len(r.IPPayload) > 0 {
		body = append(body, r.IPPayload...)
	}
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	copy(out[4:], body)
	return out
}

// ReadFramed reads one length-prefixed frame written by Marshal from r,
// returning the body bytes (header || liid_len || liid || body ||
// ip_payload) without attempting to split them back into a Record --
// decoding the header and PS-PDU body is the external BER codec's concern.
func ReadFramed(r io.Reader) ([]byte, error) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(r, lenbuf[:]); err != nil {
		return nil, err
	}
	body := make([]byte, binary.BigEndian.Uint32(lenbuf[:]))
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}
