/*
 * Part of the OpenLI collector.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package liid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddPreservesCountersOnReannounce(t *testing.T) {
	tbl := New()
	ic := tbl.Add("Z", "US", "US")
	c := ic.Counter(1)
	c.CCSeqno = 3

	ic2 := tbl.Add("Z", "GB", "GB")
	require.Equal(t, ic, ic2)
	require.Equal(t, "GB", ic2.AuthCC)
	require.Equal(t, uint64(3), ic2.Counter(1).CCSeqno)
}

func TestEndRemovesIntercept(t *testing.T) {
	tbl := New()
	tbl.Add("X", "NZ", "NZ")
	require.NoError(t, tbl.End("X"))
	_, ok := tbl.Get("X")
	require.False(t, ok)
}

func TestEndUnknownIsErrorNotPanic(t *testing.T) {
	tbl := New()
	require.ErrorIs(t, tbl.End("missing"), ErrUnknownIntercept)
}

func TestCounterLazyCreateStartsZero(t *testing.T) {
	tbl := New()
	ic := tbl.Add("X", "NZ", "NZ")
	c := ic.Counter(7)
	require.Equal(t, uint64(0), c.IRISeqno)
	require.Equal(t, uint64(0), c.CCSeqno)
	require.Same(t, c, ic.Counter(7))
}
