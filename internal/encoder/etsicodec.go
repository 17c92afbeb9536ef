/*
 * Part of the OpenLI collector.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package encoder

import (
	"bytes"
	"encoding/binary"
)

// TLVCodec is a minimal concrete BERCodec: it writes fixed-order
// tag-length-value fields rather than a certified ASN.1 BER PS-PDU. The
// real ETSI encoder is an external collaborator outside this codebase's
// scope; TLVCodec exists so the exporter pipeline has something to drive
// end to end, and is swapped out by linking a real encoder behind the same
// BERCodec interface.
type TLVCodec struct{}

const (
	tagOperatorID uint8 = iota + 1
	tagNetworkElemID
	tagIntPointID
	tagAuthCC
	tagDelivCC
	tagLIID
	tagSeqno
	tagUsername
	tagAddr
	tagIPContent
	tagDirection
)

func writeTLV(buf *bytes.Buffer, tag uint8, val []byte) {
	buf.WriteByte(tag)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(val)))
	buf.Write(lenBuf[:])
	buf.Write(val)
}

func (TLVCodec) EncodeCC(hdr HeaderTemplate, authcc, delivcc, liidStr string, seqno uint64, p CCParams) ([]byte, error) {
	var buf bytes.Buffer
	writeTLV(&buf, tagOperatorID, []byte(hdr.OperatorID))
	writeTLV(&buf, tagNetworkElemID, []byte(hdr.NetworkElemID))
	writeTLV(&buf, tagIntPointID, []byte(hdr.IntPointID))
	writeTLV(&buf, tagAuthCC, []byte(authcc))
	writeTLV(&buf, tagDelivCC, []byte(delivcc))
	writeTLV(&buf, tagLIID, []byte(liidStr))
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seqno)
	writeTLV(&buf, tagSeqno, seqBuf[:])
	writeTLV(&buf, tagDirection, []byte{byte(p.Direction)})
	writeTLV(&buf, tagIPContent, p.IPContent)
	return buf.Bytes(), nil
}

// EncodeIRI always produces exactly one record: the parameter sets this
// codec understands (IRIParams) never span multiple PS-PDU fragments.
func (TLVCodec) EncodeIRI(hdr HeaderTemplate, authcc, delivcc, liidStr string, seqno uint64, p IRIParams, iteration int) ([]byte, bool, error) {
	if iteration > 0 {
		return nil, true, nil
	}
	var buf bytes.Buffer
	writeTLV(&buf, tagOperatorID, []byte(hdr.OperatorID))
	writeTLV(&buf, tagNetworkElemID, []byte(hdr.NetworkElemID))
	writeTLV(&buf, tagIntPointID, []byte(hdr.IntPointID))
	writeTLV(&buf, tagAuthCC, []byte(authcc))
	writeTLV(&buf, tagDelivCC, []byte(delivcc))
	writeTLV(&buf, tagLIID, []byte(liidStr))
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seqno)
	writeTLV(&buf, tagSeqno, seqBuf[:])
	writeTLV(&buf, tagUsername, []byte(p.Username))
	writeTLV(&buf, tagAddr, p.Addr)
	return buf.Bytes(), true, nil
}
