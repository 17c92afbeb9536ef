/*
 * Part of the OpenLI collector.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package sip

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseInviteExtractsIdentities(t *testing.T) {
	raw := "INVITE sip:bob@example.com SIP/2.0\r\n" +
		"From: \"Alice\" <sip:alice@example.com>;tag=123\r\n" +
		"To: <sip:bob@example.com:5060;user=phone>\r\n" +
		"Call-ID: abc123@example.com\r\n" +
		"CSeq: 1 INVITE\r\n" +
		"Authorization: Digest username=\"alice\", realm=\"example.com\"\r\n" +
		"\r\n"

	msg, err := ParseMessage([]byte(raw))
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.True(t, msg.IsInvite())
	require.Equal(t, "sip:alice@example.com", msg.FromURI)
	require.Equal(t, "sip:bob@example.com", msg.ToURI)
	require.Equal(t, "bob", msg.ToIdentity.Username)
	require.Equal(t, "example.com", msg.ToIdentity.Realm)
	require.Equal(t, "abc123@example.com", msg.CallID)
	require.Len(t, msg.Auth, 1)
	require.Equal(t, "alice", msg.Auth[0].Username)
	require.Equal(t, "example.com", msg.Auth[0].Realm)
}

func TestParseResponseClassification(t *testing.T) {
	raw := "SIP/2.0 200 OK\r\nCall-ID: x@y\r\n\r\n"
	msg, err := ParseMessage([]byte(raw))
	require.NoError(t, err)
	require.True(t, msg.Is200OK())
	require.False(t, msg.IsInvite())

	raw183 := "SIP/2.0 183 Session Progress\r\nCall-ID: x@y\r\n\r\n"
	msg183, err := ParseMessage([]byte(raw183))
	require.NoError(t, err)
	require.True(t, msg183.Is183SessionProgress())
}

func TestParseKeepAliveReturnsNil(t *testing.T) {
	msg, err := ParseMessage([]byte("\r\n\r\n"))
	require.NoError(t, err)
	require.Nil(t, msg)

	msg, err = ParseMessage([]byte{0, 0, 0, 0})
	require.NoError(t, err)
	require.Nil(t, msg)
}

func TestSDPOriginAndMedia(t *testing.T) {
	raw := "INVITE sip:bob@example.com SIP/2.0\r\n" +
		"Call-ID: x@y\r\n" +
		"\r\n" +
		"v=0\r\n" +
		"o=alice 123456 654321 IN IP4 10.0.0.1\r\n" +
		"c=IN IP4 10.0.0.2\r\n" +
		"m=audio 49170 RTP/AVP 0\r\n"

	msg, err := ParseMessage([]byte(raw))
	require.NoError(t, err)
	sessID, addr, ok := msg.SDPOrigin()
	require.True(t, ok)
	require.Equal(t, "123456", sessID)
	require.Equal(t, "10.0.0.1", addr)

	port, maddr, ok := msg.SDPMedia()
	require.True(t, ok)
	require.Equal(t, "49170", port)
	require.Equal(t, "10.0.0.2", maddr)
}

func TestStripURIRemovesPortAndParams(t *testing.T) {
	require.Equal(t, "sip:francisco@bestel.com", stripURI("sip:francisco@bestel.com:55060"))
	require.Equal(t, "sip:200.57.7.195", stripURI("sip:200.57.7.195:55061;user=phone"))
}
