/*
 * Part of the OpenLI collector.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package imap

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openli-go/openli/internal/wire"
)

func feedLine(t *testing.T, tr *Tracker, line string, dir wire.Direction) ([]CCEvent, []IRIEvent) {
	t.Helper()
	ccs, iris, err := tr.Feed([]byte(line+"\r\n"), dir)
	require.NoError(t, err)
	return ccs, iris
}

func TestTrackerBannerEntersPreAuth(t *testing.T) {
	tr := New()
	_, iris := feedLine(t, tr, "* OK IMAP4rev1 ready", wire.DirectionServerToClient)
	require.Equal(t, StatePreAuth, tr.State())
	require.Len(t, iris, 1)
	require.Equal(t, "session-start", iris[0].Kind)
}

func TestTrackerPlainAuthInlineTokenIsRedacted(t *testing.T) {
	tr := New()
	feedLine(t, tr, "* OK ready", wire.DirectionServerToClient)

	token := base64.StdEncoding.EncodeToString([]byte("\x00alice\x00hunter2"))
	ccs, iris := feedLine(t, tr, "a1 AUTHENTICATE PLAIN "+token, wire.DirectionClientToServer)

	require.Equal(t, StateAuthenticated, tr.State())
	require.Equal(t, "alice", tr.Mailbox)
	require.Len(t, iris, 1)
	require.Equal(t, "auth", iris[0].Kind)
	require.Equal(t, "alice", iris[0].Mailbox)

	require.Len(t, ccs, 1)
	require.NotContains(t, string(ccs[0].Data), "hunter2")
	decoded, err := base64.StdEncoding.DecodeString(string(ccs[0].Data[:len(ccs[0].Data)-2]))
	require.NoError(t, err)
	require.Equal(t, "alice\x00XXX\x00XXX", string(decoded))
}

func TestTrackerPlainAuthSplitExchangeIsRedacted(t *testing.T) {
	tr := New()
	feedLine(t, tr, "* OK ready", wire.DirectionServerToClient)
	feedLine(t, tr, "a1 AUTHENTICATE PLAIN", wire.DirectionClientToServer)
	require.Equal(t, StateAuthStarted, tr.State())

	feedLine(t, tr, "+ ", wire.DirectionServerToClient)
	require.Equal(t, StateAuthenticating, tr.State())

	token := base64.StdEncoding.EncodeToString([]byte("\x00bob\x00secretpw"))
	ccs, iris := feedLine(t, tr, token, wire.DirectionClientToServer)

	require.Equal(t, StateAuthenticated, tr.State())
	require.Equal(t, "bob", tr.Mailbox)
	require.Len(t, iris, 1)
	require.NotContains(t, string(ccs[0].Data), "secretpw")
}

func TestTrackerUnsupportedMechanismProceedsWithoutIdentity(t *testing.T) {
	tr := New()
	feedLine(t, tr, "* OK ready", wire.DirectionServerToClient)
	_, iris := feedLine(t, tr, "a1 AUTHENTICATE GSSAPI", wire.DirectionClientToServer)

	require.Equal(t, StateAuthenticated, tr.State())
	require.Empty(t, tr.Mailbox)
	require.Empty(t, iris)
}

func TestTrackerIdleSplitsIntoServerAndClientCC(t *testing.T) {
	tr := New()
	feedLine(t, tr, "* OK ready", wire.DirectionServerToClient)
	token := base64.StdEncoding.EncodeToString([]byte("\x00carol\x00pw"))
	feedLine(t, tr, "a1 AUTHENTICATE PLAIN "+token, wire.DirectionClientToServer)
	require.Equal(t, StateAuthenticated, tr.State())

	feedLine(t, tr, "a2 IDLE", wire.DirectionClientToServer)
	feedLine(t, tr, "+ idling", wire.DirectionServerToClient)
	require.Equal(t, StateIdling, tr.State())

	feedLine(t, tr, "* 1 EXISTS", wire.DirectionServerToClient)
	feedLine(t, tr, "* 1 RECENT", wire.DirectionServerToClient)

	ccs, _ := feedLine(t, tr, "DONE", wire.DirectionClientToServer)
	require.Len(t, ccs, 2)
	require.Equal(t, wire.DirectionServerToClient, ccs[0].Direction)
	require.Contains(t, string(ccs[0].Data), "+ idling")
	require.Contains(t, string(ccs[0].Data), "EXISTS")
	require.NotContains(t, string(ccs[0].Data), "DONE")
	require.Equal(t, wire.DirectionClientToServer, ccs[1].Direction)
	require.Equal(t, "DONE\r\n", string(ccs[1].Data))

	ccs, _ = feedLine(t, tr, "a2 OK idle terminated", wire.DirectionServerToClient)
	require.Equal(t, StateAuthenticated, tr.State())
	require.Len(t, ccs, 1)
}

func TestTrackerIDCommandRewritesEndpoints(t *testing.T) {
	tr := New()
	feedLine(t, tr, "* OK ready", wire.DirectionServerToClient)
	feedLine(t, tr, `a1 ID ("x-originating-ip" "10.0.0.5" "x-originating-port" "4000")`, wire.DirectionClientToServer)

	require.Equal(t, "10.0.0.5", tr.ClientIP)
	require.Equal(t, "4000", tr.ClientPort)
}

func TestTrackerLogoutReachesSessionOver(t *testing.T) {
	tr := New()
	feedLine(t, tr, "* OK ready", wire.DirectionServerToClient)
	feedLine(t, tr, "a1 LOGOUT", wire.DirectionClientToServer)
	require.Equal(t, StateLogout, tr.State())

	feedLine(t, tr, "* BYE logging out", wire.DirectionServerToClient)
	require.Equal(t, StateSessionOver, tr.State())

	ccs, iris, err := tr.Feed([]byte("a1 OK logout completed\r\n"), wire.DirectionServerToClient)
	require.NoError(t, err)
	require.Nil(t, ccs)
	require.Nil(t, iris)
}

func TestTrackerGenericCommandRoundTrip(t *testing.T) {
	tr := New()
	feedLine(t, tr, "* OK ready", wire.DirectionServerToClient)
	token := base64.StdEncoding.EncodeToString([]byte("\x00dave\x00pw"))
	feedLine(t, tr, "a1 AUTHENTICATE PLAIN "+token, wire.DirectionClientToServer)

	ccs, _ := feedLine(t, tr, "a2 SELECT INBOX", wire.DirectionClientToServer)
	require.Len(t, ccs, 1)

	ccs, _ = feedLine(t, tr, "* 4 EXISTS", wire.DirectionServerToClient)
	require.Empty(t, ccs)

	ccs, _ = feedLine(t, tr, "a2 OK SELECT completed", wire.DirectionServerToClient)
	require.Len(t, ccs, 1)
	require.Contains(t, string(ccs[0].Data), "* 4 EXISTS")
	require.Contains(t, string(ccs[0].Data), "a2 OK SELECT completed")
}

func TestTrackerIncompleteLineWaitsForMoreData(t *testing.T) {
	tr := New()
	ccs, iris, err := tr.Feed([]byte("* OK partial"), wire.DirectionServerToClient)
	require.NoError(t, err)
	require.Empty(t, ccs)
	require.Empty(t, iris)
	require.Equal(t, StateInit, tr.State())

	ccs, iris, err = tr.Feed([]byte(" banner\r\n"), wire.DirectionServerToClient)
	require.NoError(t, err)
	require.Empty(t, ccs)
	require.Len(t, iris, 1)
	require.Equal(t, "session-start", iris[0].Kind)
	require.Equal(t, StatePreAuth, tr.State())
}

func TestTrackerByteAccounting(t *testing.T) {
	tr := New()
	feedLine(t, tr, "* OK ready", wire.DirectionServerToClient)
	feedLine(t, tr, "a1 NOOP", wire.DirectionClientToServer)
	require.EqualValues(t, len("a1 NOOP\r\n"), tr.ClientOctets)
	require.EqualValues(t, len("* OK ready\r\n"), tr.ServerOctets)
}
