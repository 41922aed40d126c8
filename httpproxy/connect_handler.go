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
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/viaduct-proxy/viaduct/transport"
)

// connectionEstablished is written to the raw client socket once the target
// is connected. After these bytes the connection carries tunneled data only,
// so no response object, chunking or keep-alive machinery is involved.
const connectionEstablished = "HTTP/1.1 200 Connection established\r\n\r\n"

type connectHandler struct {
	dialer       transport.StreamDialer
	authenticate AuthenticateFunc
	logger       *slog.Logger
}

var _ http.Handler = (*connectHandler)(nil)

// NewConnectHandler creates an [http.Handler] that handles CONNECT requests
// by opening a raw stream to the requested host:port through the given
// [transport.StreamDialer] and splicing bytes between the client and the
// target until either side closes.
func NewConnectHandler(dialer transport.StreamDialer, opts ...Option) http.Handler {
	cfg := applyOptions(opts)
	return &connectHandler{dialer: dialer, authenticate: cfg.authenticate, logger: cfg.logger}
}

func (h *connectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodConnect {
		http.Error(w, fmt.Sprintf("Method %v is not supported", r.Method), http.StatusMethodNotAllowed)
		return
	}
	// The request target is authority-form: "host:port" with a decimal port.
	_, portStr, err := net.SplitHostPort(r.Host)
	if err != nil {
		http.Error(w, "Authority is not a valid host:port", http.StatusBadRequest)
		return
	}
	if _, err := strconv.ParseUint(portStr, 10, 16); err != nil {
		http.Error(w, "Port must be a decimal number", http.StatusBadRequest)
		return
	}
	if !checkAuth(w, r, h.authenticate) {
		return
	}

	targetConn, err := h.dialer.DialStream(r.Context(), r.Host)
	if err != nil {
		h.logDebug("target dial failed", "target", r.Host, "error", err)
		http.Error(w, "Failed to connect to target", upstreamErrorStatus(err))
		return
	}
	defer targetConn.Close()

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "Webserver doesn't support hijacking", http.StatusInternalServerError)
		return
	}
	clientConn, bufrw, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, "Failed to hijack connection", http.StatusInternalServerError)
		return
	}
	defer clientConn.Close()

	// Bytes pipelined by the client before the tunnel exists are a protocol
	// violation; drop the connection without a status line.
	if bufrw.Reader.Buffered() > 0 {
		h.logDebug("client sent data before tunnel establishment", "target", r.Host)
		return
	}

	// Written directly to the socket, so the 200 is on the wire before any
	// target byte can follow it.
	if _, err := clientConn.Write([]byte(connectionEstablished)); err != nil {
		return
	}

	h.logDebug("tunnel established", "target", r.Host)
	relay(clientConn, targetConn)
}

func (h *connectHandler) logDebug(msg string, args ...any) {
	if h.logger != nil {
		h.logger.Debug(msg, args...)
	}
}

// relay splices bytes between the client and target connections in both
// directions. Client EOF propagates to the target as a half-close so the
// target can finish its reply. When the target side ends, the client
// connection is destroyed, which also unblocks the upload direction; closing
// again in the caller's defers is a no-op on an already-closed conn.
func relay(clientConn net.Conn, targetConn transport.StreamConn) {
	uploadDone := make(chan struct{})
	go func() {
		defer close(uploadDone)
		io.Copy(targetConn, clientConn)
		targetConn.CloseWrite()
	}()
	io.Copy(clientConn, targetConn)
	clientConn.Close()
	<-uploadDone
}
