/*
 * Part of the OpenLI collector.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package wire

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordMarshalLayout(t *testing.T) {
	r := Record{
		Header:    []byte{0xAA, 0xBB},
		LIID:      "X",
		Body:      []byte{0x01, 0x02, 0x03},
		IPPayload: []byte{0xEE},
	}
	out := r.Marshal()
	frameLen := binary.BigEndian.Uint32(out[0:4])
	require.Equal(t, uint32(len(out)-4), frameLen)

	body := out[4:]
	require.Equal(t, byte(0xAA), body[0])
	require.Equal(t, byte(0xBB), body[1])
	liidLen := binary.BigEndian.Uint16(body[2:4])
	require.Equal(t, uint16(1), liidLen)
	require.Equal(t, byte('X'), body[4])
	require.Equal(t, []byte{0x01, 0x02, 0x03}, body[5:8])
	require.Equal(t, byte(0xEE), body[8])
}

func TestRecordMarshalNoIPPayload(t *testing.T) {
	r := Record{Header: []byte{0x01}, LIID: "ab", Body: []byte{0x02}}
	out := r.Marshal()
	require.Len(t, out, 4+1+2+2+1)
}

func TestReadFramedRoundTrip(t *testing.T) {
	r := Record{Header: []byte{0x01, 0x02}, LIID: "xyz", Body: []byte{0x0A, 0x0B}}
	var buf bytes.Buffer
	buf.Write(r.Marshal())
	buf.Write(r.Marshal())

	first, err := ReadFramed(&buf)
	require.NoError(t, err)
	require.Equal(t, r.Marshal()[4:], first)

	second, err := ReadFramed(&buf)
	require.NoError(t, err)
	require.Equal(t, first, second)

	_, err = ReadFramed(&buf)
	require.Error(t, err)
}
