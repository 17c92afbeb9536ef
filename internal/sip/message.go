/*
 * Part of the OpenLI collector.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

// Package sip implements the VoIP signalling side of the tracker pair: a
// stateless SIP message decoder plus a per-Call-ID dialog tracker that
// turns INVITE/response/BYE sequences into IRI events. Grounded on the
// reference collector's osip2-based extraction helpers: which headers
// matter (From, To, Call-ID, CSeq, Authorization/Proxy-Authorization,
// SDP origin/media lines) and how the To URI is reduced to a bare
// username/realm identity.
package sip

import (
	"bufio"
	"strconv"
	"strings"
)

// Identity is a stripped SIP or SDP identity: a username plus the realm
// (host) it was asserted against, with any surrounding quotes removed.
type Identity struct {
	Username string
	Realm    string
}

// Message is a decoded SIP request or response. Body is left raw; SDP
// fields are only extracted on demand via SDPOrigin/SDPMedia, mirroring
// the reference parser's lazy SDP parse.
type Message struct {
	Method     string // empty for responses
	StatusCode int    // zero for requests
	FromURI    string
	ToURI      string
	ToIdentity Identity
	CallID     string
	CSeq       string
	Auth       []Identity
	ProxyAuth  []Identity
	Body       []byte
	headers    map[string][]string
}

// ParseMessage decodes one SIP message (request-line or status-line,
// headers, optional body) out of a single UDP datagram or one TCP framing
// unit. Keep-alive payloads (bare CRLF/CRLFCRLF or four NUL bytes) are
// recognised and return (nil, nil) rather than an error, matching the
// reference parser's keep-alive short-circuit.
func ParseMessage(data []byte) (*Message, error) {
	if isKeepAlive(data) {
		return nil, nil
	}

	reader := bufio.NewReader(strings.NewReader(string(data)))
	startLine, err := reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	startLine = strings.TrimRight(startLine, "\r\n")

	msg := &Message{headers: make(map[string][]string)}
	if strings.HasPrefix(startLine, "SIP/2.0 ") {
		fields := strings.SplitN(startLine, " ", 3)
		if len(fields) >= 2 {
			msg.StatusCode, _ = strconv.Atoi(fields[1])
		}
	} else {
		fields := strings.Fields(startLine)
		if len(fields) >= 1 {
			msg.Method = strings.ToUpper(fields[0])
		}
	}

	for {
		line, err := reader.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			break
		}
		if idx := strings.Index(trimmed, ":"); idx > 0 {
			key := strings.ToLower(strings.TrimSpace(trimmed[:idx]))
			key = canonicalHeader(key)
			val := strings.TrimSpace(trimmed[idx+1:])
			msg.headers[key] = append(msg.headers[key], val)
		}
		if err != nil {
			break
		}
	}

	rest, _ := readAll(reader)
	msg.Body = rest

	msg.FromURI = stripURI(firstHeaderURI(msg.headers["from"]))
	toRaw := firstHeaderURI(msg.headers["to"])
	msg.ToURI = stripURI(toRaw)
	msg.ToIdentity = identityFromURI(toRaw)
	msg.CallID = firstHeader(msg.headers["call-id"])
	msg.CSeq = firstHeader(msg.headers["cseq"])
	msg.Auth = parseAuthIdentities(msg.headers["authorization"])
	msg.ProxyAuth = parseAuthIdentities(msg.headers["proxy-authorization"])

	return msg, nil
}

func readAll(r *bufio.Reader) ([]byte, error) {
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			return out, nil
		}
	}
}

func isKeepAlive(data []byte) bool {
	if len(data) == 4 && string(data) == "\r\n\r\n" {
		return true
	}
	if len(data) == 2 && string(data) == "\r\n" {
		return true
	}
	if len(data) == 4 && data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 0 {
		return true
	}
	return false
}

// canonicalHeader folds the short forms of commonly-abbreviated SIP
// headers (f, t, i, m) onto their long names.
func canonicalHeader(key string) string {
	switch key {
	case "f":
		return "from"
	case "t":
		return "to"
	case "i":
		return "call-id"
	case "m":
		return "contact"
	}
	return key
}

func firstHeader(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// firstHeaderURI extracts the <...> or bare URI portion of a From/To
// header, discarding any display name and tag parameter.
func firstHeaderURI(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	v := vals[0]
	if s := strings.Index(v, "<"); s >= 0 {
		if e := strings.Index(v[s:], ">"); e >= 0 {
			return v[s+1 : s+e]
		}
	}
	// No angle brackets: URI runs up to the first ';' parameter.
	if idx := strings.Index(v, ";"); idx >= 0 {
		v = v[:idx]
	}
	return strings.TrimSpace(v)
}

// stripURI removes a port and any trailing parameters from a sip: URI,
// leaving "sip:user@host", the form used to key dialogs and populate IRIs.
func stripURI(uri string) string {
	if uri == "" {
		return ""
	}
	firstColon := strings.Index(uri, ":")
	if firstColon < 0 {
		return uri
	}
	rest := uri[firstColon+1:]
	for _, sep := range []string{":", ";", "?"} {
		if idx := strings.Index(rest, sep); idx >= 0 {
			rest = rest[:idx]
		}
	}
	return uri[:firstColon+1] + rest
}

func identityFromURI(uri string) Identity {
	firstColon := strings.Index(uri, ":")
	if firstColon < 0 {
		return Identity{}
	}
	rest := uri[firstColon+1:]
	if semi := strings.IndexAny(rest, ";?"); semi >= 0 {
		rest = rest[:semi]
	}
	at := strings.Index(rest, "@")
	if at < 0 {
		return Identity{Realm: rest}
	}
	user := rest[:at]
	host := rest[at+1:]
	if colon := strings.Index(host, ":"); colon >= 0 {
		host = host[:colon]
	}
	return Identity{Username: user, Realm: host}
}

// parseAuthIdentities extracts username/realm pairs out of one or more
// Authorization/Proxy-Authorization header values, stripping the quotes
// the reference implementation strips in its strip_quotes helper.
func parseAuthIdentities(vals []string) []Identity {
	var out []Identity
	for _, v := range vals {
		id := Identity{
			Username: authParam(v, "username"),
			Realm:    authParam(v, "realm"),
		}
		if id.Username != "" || id.Realm != "" {
			out = append(out, id)
		}
	}
	return out
}

func authParam(header, name string) string {
	lower := strings.ToLower(header)
	key := name + "="
	idx := strings.Index(lower, key)
	if idx < 0 {
		return ""
	}
	rest := header[idx+len(key):]
	rest = strings.TrimSpace(rest)
	if strings.HasPrefix(rest, `"`) {
		rest = rest[1:]
		if end := strings.Index(rest, `"`); end >= 0 {
			return rest[:end]
		}
		return rest
	}
	if end := strings.IndexAny(rest, ", "); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

// IsInvite, IsBye, Is200OK and Is183SessionProgress classify a decoded
// message the same way the reference parser's sip_is_* helpers do.
func (m *Message) IsInvite() bool             { return m.Method == "INVITE" }
func (m *Message) IsBye() bool                { return m.Method == "BYE" }
func (m *Message) Is200OK() bool              { return m.StatusCode == 200 }
func (m *Message) Is183SessionProgress() bool { return m.StatusCode == 183 }

// SDPOrigin parses the o= line of the body, returning (sessID, addr, ok).
func (m *Message) SDPOrigin() (sessID, addr string, ok bool) {
	for _, line := range strings.Split(string(m.Body), "\r\n") {
		if strings.HasPrefix(line, "o=") {
			fields := strings.Fields(line[2:])
			if len(fields) >= 6 {
				return fields[1], fields[5], true
			}
		}
	}
	return "", "", false
}

// SDPMedia parses the first m= and c= lines of the body, returning the
// media port and connection address.
func (m *Message) SDPMedia() (port, addr string, ok bool) {
	for _, line := range strings.Split(string(m.Body), "\r\n") {
		if port == "" && strings.HasPrefix(line, "m=") {
			fields := strings.Fields(line[2:])
			if len(fields) >= 2 {
				port = fields[1]
			}
		}
		if addr == "" && strings.HasPrefix(line, "c=") {
			fields := strings.Fields(line[2:])
			if len(fields) >= 3 {
				addr = fields[2]
			}
		}
	}
	return port, addr, port != "" && addr != ""
}
