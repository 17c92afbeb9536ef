/*
 * Part of the OpenLI collector.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package capture

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestWorker() *Worker {
	return &Worker{
		targets:  make(map[flowKey]Target),
		sessions: make(map[flowKey]*session),
	}
}

func TestWatchRegistersBothDirections(t *testing.T) {
	w := newTestWorker()
	target := Target{LIID: "X", CIN: 1, DestID: 1, Protocol: ProtocolIMAP, ServerIP: "10.0.0.1", ServerPort: 143}
	w.Watch("10.0.0.2", 5000, target)

	fwd := flowKey{srcIP: "10.0.0.2", dstIP: "10.0.0.1", srcPort: 5000, dstPort: 143}
	require.Equal(t, target, w.targets[fwd])
	require.Equal(t, target, w.targets[fwd.reverse()])
}

func TestUnwatchRemovesBothDirections(t *testing.T) {
	w := newTestWorker()
	target := Target{LIID: "X", ServerIP: "10.0.0.1", ServerPort: 143, Protocol: ProtocolIMAP}
	w.Watch("10.0.0.2", 5000, target)
	w.Unwatch("10.0.0.2", 5000, target)

	fwd := flowKey{srcIP: "10.0.0.2", dstIP: "10.0.0.1", srcPort: 5000, dstPort: 143}
	_, ok := w.targets[fwd]
	require.False(t, ok)
	_, ok = w.targets[fwd.reverse()]
	require.False(t, ok)
}

func TestSessionForSharesTrackerAcrossDirections(t *testing.T) {
	w := newTestWorker()
	target := Target{LIID: "X", ServerIP: "10.0.0.1", ServerPort: 143, Protocol: ProtocolIMAP}

	clientToServer := flowKey{srcIP: "10.0.0.2", dstIP: "10.0.0.1", srcPort: 5000, dstPort: 143}
	serverToClient := clientToServer.reverse()

	s1 := w.sessionFor(clientToServer, target)
	s2 := w.sessionFor(serverToClient, target)
	require.Same(t, s1, s2)
}

func TestCounterSeedIsDeterministic(t *testing.T) {
	require.Equal(t, CounterSeed("abc"), CounterSeed("abc"))
	require.NotEqual(t, CounterSeed("abc"), CounterSeed("abd"))
}

func TestFlowKeyReverseIsInvolution(t *testing.T) {
	k := flowKey{srcIP: "a", dstIP: "b", srcPort: 1, dstPort: 2}
	require.Equal(t, k, k.reverse().reverse())
}
