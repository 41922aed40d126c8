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
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viaduct-proxy/viaduct/transport"
)

// proxiedClient returns an http.Client that routes through the test proxy.
func proxiedClient(t *testing.T, proxyURL string) *http.Client {
	t.Helper()
	u, err := url.Parse(proxyURL)
	require.NoError(t, err)
	return &http.Client{Transport: &http.Transport{
		Proxy:           http.ProxyURL(u),
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}}
}

func TestProxyHandlerForwardsPlainHTTP(t *testing.T) {
	var gotVia string
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVia = r.Header.Get("Via")
		io.WriteString(w, "plain response")
	}))
	defer origin.Close()

	proxy := httptest.NewServer(NewProxyHandler(&transport.TCPDialer{}))
	defer proxy.Close()

	resp, err := proxiedClient(t, proxy.URL).Get(origin.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "plain response", string(body))
	assert.Equal(t, viaToken(), gotVia)
}

func TestProxyHandlerTunnelsTLS(t *testing.T) {
	origin := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The CONNECT tunnel is opaque: no Via is added inside it.
		assert.Empty(t, r.Header.Values("Via"))
		io.WriteString(w, "secret response")
	}))
	defer origin.Close()

	proxy := httptest.NewServer(NewProxyHandler(&transport.TCPDialer{}))
	defer proxy.Close()

	resp, err := proxiedClient(t, proxy.URL).Get(origin.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "secret response", string(body))
}

func TestProxyHandlerFallback(t *testing.T) {
	proxy := httptest.NewServer(NewProxyHandler(&transport.TCPDialer{}))
	defer proxy.Close()

	// A direct (relative target) request is not a proxy request.
	resp, err := http.Get(proxy.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProxyHandlerCustomFallback(t *testing.T) {
	handler := NewProxyHandler(&transport.TCPDialer{})
	handler.FallbackHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "proxy status: ok")
	})
	proxy := httptest.NewServer(handler)
	defer proxy.Close()

	resp, err := http.Get(proxy.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "proxy status: ok", string(body))
}

func TestProxyHandlerAuthAppliesToBothModes(t *testing.T) {
	proxy := httptest.NewServer(NewProxyHandler(&transport.TCPDialer{},
		WithAuthenticate(NewBasicAuthenticate(map[string]string{"user": "pass"}))))
	defer proxy.Close()

	resp, err := proxiedClient(t, proxy.URL).Get("http://example.com/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusProxyAuthRequired, resp.StatusCode)
	require.Equal(t, `Basic realm="proxy"`, resp.Header.Get("Proxy-Authenticate"))

	// CONNECT without credentials is challenged the same way, before any dial.
	conn := dialProxy(t, proxy.URL)
	connectResp, _ := sendConnect(t, conn, "example.com:443", http.Header{})
	require.Equal(t, http.StatusProxyAuthRequired, connectResp.StatusCode)
	require.Equal(t, `Basic realm="proxy"`, connectResp.Header.Get("Proxy-Authenticate"))
}
