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
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsHopByHop(t *testing.T) {
	for _, name := range []string{
		"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
		"TE", "Trailers", "Transfer-Encoding", "Upgrade",
		// Case-insensitive matching.
		"connection", "KEEP-ALIVE", "te", "transfer-encoding",
	} {
		assert.True(t, isHopByHop(name), name)
	}
	for _, name := range []string{"Host", "Content-Length", "Via", "X-Forwarded-For", "Set-Cookie"} {
		assert.False(t, isHopByHop(name), name)
	}
}

func TestViaToken(t *testing.T) {
	token := viaToken()
	require.Equal(t, "1.1 "+proxyHostname+" (proxy/"+Version+")", token)
}

func TestEnumerateHeadersOrder(t *testing.T) {
	h := http.Header{}
	h.Add("Set-Cookie", "a=1")
	h.Add("Set-Cookie", "b=2")
	h.Add("Accept", "*/*")

	pairs := enumerateHeaders(h)
	require.Equal(t, []headerPair{
		{"Accept", "*/*"},
		{"Set-Cookie", "a=1"},
		{"Set-Cookie", "b=2"},
	}, pairs)
}

func TestRewriteRequestStripsHopByHop(t *testing.T) {
	in := http.Header{}
	in.Add("Connection", "keep-alive")
	in.Add("Keep-Alive", "timeout=5")
	in.Add("Proxy-Authorization", "Basic Zm9vOmJhcg==")
	in.Add("TE", "trailers")
	in.Add("Upgrade", "websocket")
	in.Add("Accept", "text/html")

	out := rewriteRequestHeaders(in, "192.0.2.7")
	for name := range hopByHopHeaders {
		assert.Empty(t, out.Values(name), name)
	}
	assert.Equal(t, "text/html", out.Get("Accept"))
}

func TestRewriteRequestAddsForwardingHeaders(t *testing.T) {
	out := rewriteRequestHeaders(http.Header{}, "192.0.2.7")
	require.Equal(t, "192.0.2.7", out.Get("X-Forwarded-For"))
	require.Equal(t, viaToken(), out.Get("Via"))
}

func TestRewriteRequestAppendsToExistingForwardingHeaders(t *testing.T) {
	in := http.Header{}
	in.Add("X-Forwarded-For", "10.0.0.1")
	in.Add("Via", "1.0 upstreamgw")

	out := rewriteRequestHeaders(in, "192.0.2.7")
	require.Equal(t, "10.0.0.1, 192.0.2.7", out.Get("X-Forwarded-For"))
	require.Equal(t, "1.0 upstreamgw, "+viaToken(), out.Get("Via"))
}

func TestRewriteRequestAppendsToFirstDuplicateOnly(t *testing.T) {
	in := http.Header{}
	in.Add("Via", "1.0 first")
	in.Add("Via", "1.1 second")

	out := rewriteRequestHeaders(in, "192.0.2.7")
	require.Equal(t, []string{"1.0 first, " + viaToken(), "1.1 second"}, out.Values("Via"))
}

func TestRewriteRequestPreservesDuplicates(t *testing.T) {
	in := http.Header{}
	in.Add("Set-Cookie", "a=1")
	in.Add("Set-Cookie", "b=2")

	out := rewriteRequestHeaders(in, "192.0.2.7")
	require.Equal(t, []string{"a=1", "b=2"}, out.Values("Set-Cookie"))
}

func TestRewriteRequestKeepsNonHopByHopPairs(t *testing.T) {
	in := http.Header{}
	in.Add("Accept", "text/html")
	in.Add("Connection", "close")
	in.Add("Cookie", "session=1")

	out := rewriteRequestHeaders(in, "192.0.2.7")
	for _, pair := range enumerateHeaders(in) {
		if isHopByHop(pair.name) {
			continue
		}
		assert.Contains(t, out.Values(pair.name), pair.value)
	}
}

func TestRewriteResponseStripsHopByHopOnly(t *testing.T) {
	in := http.Header{}
	in.Add("Transfer-Encoding", "chunked")
	in.Add("Connection", "close")
	in.Add("Content-Type", "text/plain")

	out := rewriteResponseHeaders(in)
	assert.Empty(t, out.Values("Transfer-Encoding"))
	assert.Empty(t, out.Values("Connection"))
	assert.Equal(t, "text/plain", out.Get("Content-Type"))
	// No request-direction injection on the response path.
	assert.Empty(t, out.Values("Via"))
	assert.Empty(t, out.Values("X-Forwarded-For"))
}

func TestClientAddrForXFF(t *testing.T) {
	assert.Equal(t, "192.0.2.7", clientAddrForXFF("192.0.2.7:49152"))
	assert.Equal(t, "::1", clientAddrForXFF("[::1]:49152"))
	assert.Equal(t, "10.0.0.1", clientAddrForXFF("10.0.0.1"))
}
