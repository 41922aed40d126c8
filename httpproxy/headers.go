// Copyright 2026 The Viaduct Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package httpproxy

import (
	"net"
	"net/http"
	"os"
	"sort"

	"golang.org/x/net/http/httpguts"
)

// Version is the product version reported in the Via header.
const Version = "1.0.0"

// hopByHopHeaders are only meaningful for a single transport-level connection
// and must not be forwarded in either direction (RFC 7230 §6.1).
// Names are stored in canonical form.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailers":            true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

func isHopByHop(name string) bool {
	return hopByHopHeaders[http.CanonicalHeaderKey(name)]
}

var proxyHostname = func() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return hostname
}()

// viaToken returns the pseudonym this proxy appends to the Via chain,
// in the form "1.1 <hostname> (proxy/<version>)".
func viaToken() string {
	return "1.1 " + proxyHostname + " (proxy/" + Version + ")"
}

// headerPair is a single (name, value) element of an ordered header sequence.
// Duplicate names stay as separate pairs.
type headerPair struct {
	name  string
	value string
}

// enumerateHeaders flattens h into an ordered sequence of pairs. net/http does
// not retain the wire order across field names, so names are emitted in sorted
// canonical order; the value order within each name is the wire order.
func enumerateHeaders(h http.Header) []headerPair {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]headerPair, 0, len(h))
	for _, name := range names {
		for _, value := range h[name] {
			pairs = append(pairs, headerPair{name: name, value: value})
		}
	}
	return pairs
}

// rewriteRequestHeaders builds the header set for the upstream request:
// hop-by-hop headers are dropped, everything else is forwarded unmodified,
// and the proxy identifies itself by extending X-Forwarded-For with
// clientAddr and Via with its own pseudonym. Existing values are appended to;
// absent headers are created.
func rewriteRequestHeaders(in http.Header, clientAddr string) http.Header {
	out := make(http.Header, len(in))
	sawForwardedFor := false
	sawVia := false
	for _, pair := range enumerateHeaders(in) {
		if isHopByHop(pair.name) {
			continue
		}
		value := pair.value
		switch pair.name {
		case "X-Forwarded-For":
			if !sawForwardedFor {
				sawForwardedFor = true
				value += ", " + clientAddr
			}
		case "Via":
			if !sawVia {
				sawVia = true
				value += ", " + viaToken()
			}
		}
		appendHeader(out, pair.name, value)
	}
	if !sawForwardedFor {
		out.Set("X-Forwarded-For", clientAddr)
	}
	if !sawVia {
		out.Set("Via", viaToken())
	}
	return out
}

// rewriteResponseHeaders builds the header set relayed back to the client:
// only hop-by-hop stripping applies on the response path.
func rewriteResponseHeaders(in http.Header) http.Header {
	out := make(http.Header, len(in))
	for _, pair := range enumerateHeaders(in) {
		if isHopByHop(pair.name) {
			continue
		}
		appendHeader(out, pair.name, pair.value)
	}
	return out
}

// appendHeader adds the pair to out, revalidating the field before it is
// re-emitted on the other connection.
func appendHeader(out http.Header, name, value string) {
	if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
		return
	}
	out[http.CanonicalHeaderKey(name)] = append(out[http.CanonicalHeaderKey(name)], value)
}

// clientAddrForXFF extracts the client IP to record in X-Forwarded-For from a
// "host:port" remote address. Addresses without a port are used as is.
func clientAddrForXFF(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
