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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/viaduct-proxy/viaduct/transport"
)

type forwardHandler struct {
	transport    http.RoundTripper
	authenticate AuthenticateFunc
	logger       *slog.Logger
}

var _ http.Handler = (*forwardHandler)(nil)

// NewForwardHandler creates an [http.Handler] that proxies absolute-form HTTP
// requests (GET http://host/path) to their origin, dialing through the given
// [transport.StreamDialer]. The handler terminates the client transaction and
// re-originates it upstream: hop-by-hop headers are stripped in both
// directions and Via / X-Forwarded-For are added on the way out.
func NewForwardHandler(dialer transport.StreamDialer, opts ...Option) http.Handler {
	cfg := applyOptions(opts)
	rt := cfg.roundTripper
	if rt == nil {
		dialContext := func(ctx context.Context, network, addr string) (net.Conn, error) {
			if !strings.HasPrefix(network, "tcp") {
				return nil, fmt.Errorf("protocol not supported: %v", network)
			}
			return dialer.DialStream(ctx, addr)
		}
		// The Transport doubles as the upstream connection pool. Redirects
		// are relayed to the client, never followed here, which is why the
		// handler calls RoundTrip and not a Client. Compression is left to
		// the client: the proxy must not inject Accept-Encoding.
		rt = &http.Transport{DialContext: dialContext, Proxy: nil, DisableCompression: true}
	}
	return &forwardHandler{transport: rt, authenticate: cfg.authenticate, logger: cfg.logger}
}

func (h *forwardHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !checkAuth(w, r, h.authenticate) {
		return
	}
	if r.URL.Host == "" {
		http.Error(w, "Must specify an absolute request target", http.StatusNotFound)
		return
	}
	if r.URL.Scheme != "http" {
		http.Error(w, `Only "http:" protocol prefix is supported`, http.StatusBadRequest)
		return
	}

	targetReq, err := http.NewRequestWithContext(r.Context(), r.Method, r.URL.String(), r.Body)
	if err != nil {
		http.Error(w, "Error creating target request", http.StatusInternalServerError)
		return
	}
	targetReq.ContentLength = r.ContentLength
	targetReq.Header = rewriteRequestHeaders(r.Header, clientAddrForXFF(r.RemoteAddr))

	targetResp, err := h.transport.RoundTrip(targetReq)
	if err != nil {
		if r.Context().Err() != nil {
			// The client is gone; the dial or transfer was already aborted
			// through the request context and there is nobody to answer.
			return
		}
		h.logDebug("upstream request failed", "url", r.URL.String(), "error", err)
		http.Error(w, "Failed to fetch destination", upstreamErrorStatus(err))
		return
	}
	defer targetResp.Body.Close()

	// Headers written below latch the response: any failure past this point
	// tears the client connection down instead of attempting a second status
	// line.
	copyHeaders(w.Header(), rewriteResponseHeaders(targetResp.Header))
	w.WriteHeader(targetResp.StatusCode)
	if _, err := io.Copy(w, targetResp.Body); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (h *forwardHandler) logDebug(msg string, args ...any) {
	if h.logger != nil {
		h.logger.Debug(msg, args...)
	}
}

// upstreamErrorStatus maps an upstream dial or transfer error to the status
// reported to the client: name-resolution failures are 404, everything else
// is 500.
func upstreamErrorStatus(err error) int {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func copyHeaders(dst, src http.Header) {
	for name, values := range src {
		dst[name] = append(dst[name], values...)
	}
}
