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
	"log/slog"
	"net/http"

	"github.com/viaduct-proxy/viaduct/transport"
)

// Option configures the handlers created by [NewProxyHandler],
// [NewForwardHandler] and [NewConnectHandler].
type Option func(c *handlerConfig)

type handlerConfig struct {
	authenticate AuthenticateFunc
	logger       *slog.Logger
	roundTripper http.RoundTripper
}

func applyOptions(opts []Option) handlerConfig {
	var cfg handlerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithAuthenticate gates every proxied request on the given callback.
// Requests without a Proxy-Authorization header are challenged with 407
// before the callback runs.
func WithAuthenticate(authenticate AuthenticateFunc) Option {
	return func(c *handlerConfig) {
		c.authenticate = authenticate
	}
}

// WithLogger enables debug logging on the handlers. A nil logger disables it,
// which is the default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *handlerConfig) {
		c.logger = logger
	}
}

// WithRoundTripper replaces the upstream connection manager used for
// non-CONNECT requests. By default each forward handler builds its own
// [http.Transport] over the configured dialer; pass a shared RoundTripper to
// control pooling across handlers.
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(c *handlerConfig) {
		c.roundTripper = rt
	}
}

// ProxyHandler is an [http.Handler] that works as an HTTP forward proxy:
// CONNECT requests are tunneled and absolute-form requests are re-originated
// upstream. Every request is routed to exactly one of the two proxy modes, the
// fallback, or a direct error response.
type ProxyHandler struct {
	// FallbackHandler handles requests that are neither CONNECT nor
	// absolute-form, such as a probe fetching "/". Defaults to a 404.
	FallbackHandler http.Handler

	connectHandler http.Handler
	forwardHandler http.Handler
}

var _ http.Handler = (*ProxyHandler)(nil)

// NewProxyHandler creates a [ProxyHandler] that reaches destinations through
// the given [transport.StreamDialer].
func NewProxyHandler(dialer transport.StreamDialer, opts ...Option) *ProxyHandler {
	return &ProxyHandler{
		connectHandler: NewConnectHandler(dialer, opts...),
		forwardHandler: NewForwardHandler(dialer, opts...),
	}
}

// ServeHTTP implements [http.Handler].ServeHTTP.
func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		h.connectHandler.ServeHTTP(w, r)
		return
	}
	if r.URL.Host != "" {
		h.forwardHandler.ServeHTTP(w, r)
		return
	}
	if h.FallbackHandler != nil {
		h.FallbackHandler.ServeHTTP(w, r)
		return
	}
	http.Error(w, "Not Found", http.StatusNotFound)
}
