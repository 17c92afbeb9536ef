/*
 * Part of the OpenLI collector.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package encoder

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openli-go/openli/internal/liid"
	"github.com/openli-go/openli/internal/wire"
)

// fakeCodec is a minimal stand-in for the external BER encoder: it encodes
// nothing meaningfully ETSI-shaped, just enough structure to exercise the
// adaptor's sequencing and iteration contract.
type fakeCodec struct {
	iriIterations int
	failCC        bool
}

func (f *fakeCodec) EncodeIRI(hdr HeaderTemplate, authcc, delivcc, liidStr string, seqno uint64, p IRIParams, iteration int) ([]byte, bool, error) {
	body := []byte(fmt.Sprintf("IRI#%d:%s", seqno, p.Username))
	done := iteration >= f.iriIterations
	return body, done, nil
}

func (f *fakeCodec) EncodeCC(hdr HeaderTemplate, authcc, delivcc, liidStr string, seqno uint64, p CCParams) ([]byte, error) {
	if f.failCC {
		return nil, errors.New("boom")
	}
	return []byte(fmt.Sprintf("CC#%d", seqno)), nil
}

func TestEncodeCCIncrementsOnSuccess(t *testing.T) {
	a := New(HeaderTemplate{OperatorID: "OP"}, &fakeCodec{})
	tbl := liid.New()
	ic := tbl.Add("X", "NZ", "NZ")
	seq := ic.Counter(7)

	rec, err := a.EncodeCC(ic, seq, &wire.Job{Kind: wire.MessageIPCC})
	require.NoError(t, err)
	require.Contains(t, string(rec.Body), "CC#0")
	require.Equal(t, uint64(1), seq.CCSeqno)

	rec, err = a.EncodeCC(ic, seq, &wire.Job{Kind: wire.MessageIPCC})
	require.NoError(t, err)
	require.Contains(t, string(rec.Body), "CC#1")
}

func TestEncodeCCFailureDoesNotIncrement(t *testing.T) {
	a := New(HeaderTemplate{}, &fakeCodec{failCC: true})
	tbl := liid.New()
	ic := tbl.Add("X", "NZ", "NZ")
	seq := ic.Counter(1)

	_, err := a.EncodeCC(ic, seq, &wire.Job{Kind: wire.MessageIPCC})
	require.Error(t, err)
	require.Equal(t, uint64(0), seq.CCSeqno)
}

func TestEncodeIPMMCCReleasesRefcount(t *testing.T) {
	a := New(HeaderTemplate{}, &fakeCodec{})
	tbl := liid.New()
	ic := tbl.Add("X", "NZ", "NZ")
	seq := ic.Counter(1)

	released := false
	_, err := a.EncodeCC(ic, seq, &wire.Job{Kind: wire.MessageIPMMCC, Release: func() { released = true }})
	require.NoError(t, err)
	require.True(t, released)
}

func TestEncodeIRIIteratesMultipleRecords(t *testing.T) {
	a := New(HeaderTemplate{}, &fakeCodec{iriIterations: 2})
	tbl := liid.New()
	ic := tbl.Add("X", "NZ", "NZ")
	seq := ic.Counter(1)

	recs, err := a.EncodeIRI(ic, seq, &wire.Job{Kind: wire.MessageIPIRI, Username: "alice"})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, uint64(3), seq.IRISeqno)
	require.Contains(t, string(recs[0].Body), "alice")
}
