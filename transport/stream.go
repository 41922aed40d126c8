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

package transport

import (
	"context"
	"net"
)

// StreamConn is a net.Conn that allows for closing only the reader or writer
// end of it, supporting half-open state.
type StreamConn interface {
	net.Conn
	// CloseRead closes the Read end of the connection, allowing for the
	// release of resources. No more reads should happen.
	CloseRead() error
	// CloseWrite closes the Write end of the connection. An EOF or FIN signal
	// may be sent to the connection target.
	CloseWrite() error
}

// StreamDialer provides a way to establish stream connections to a destination.
type StreamDialer interface {
	// DialStream connects to `raddr`.
	// `raddr` has the form `host:port`, where `host` can be a domain name or IP address.
	DialStream(ctx context.Context, raddr string) (StreamConn, error)
}

// FuncStreamDialer is a [StreamDialer] that uses the given dial function.
type FuncStreamDialer func(ctx context.Context, raddr string) (StreamConn, error)

var _ StreamDialer = (FuncStreamDialer)(nil)

// DialStream implements [StreamDialer].DialStream.
func (d FuncStreamDialer) DialStream(ctx context.Context, raddr string) (StreamConn, error) {
	return d(ctx, raddr)
}

// StreamEndpoint represents an endpoint that can be used to establish stream
// connections (like TCP) to a fixed destination.
type StreamEndpoint interface {
	// ConnectStream establishes a connection with the endpoint, returning the connection.
	ConnectStream(ctx context.Context) (StreamConn, error)
}

// TCPDialer is a [StreamDialer] that connects to the destination directly
// over TCP, using its Dialer field, a [net.Dialer].
type TCPDialer struct {
	// Dialer is used to create the connection on DialStream().
	Dialer net.Dialer
}

var _ StreamDialer = (*TCPDialer)(nil)

// DialStream implements [StreamDialer].DialStream using the standard [net.Dialer].
// The returned [StreamConn] is backed by a [net.TCPConn].
func (d *TCPDialer) DialStream(ctx context.Context, raddr string) (StreamConn, error) {
	conn, err := d.Dialer.DialContext(ctx, "tcp", raddr)
	if err != nil {
		return nil, err
	}
	return conn.(*net.TCPConn), nil
}

// TCPEndpoint is a [StreamEndpoint] that connects to the given address via TCP.
type TCPEndpoint struct {
	// The Dialer used to create the connection on ConnectStream().
	Dialer net.Dialer
	// The address to connect to, in "host:port" form.
	Address string
}

var _ StreamEndpoint = (*TCPEndpoint)(nil)

// ConnectStream implements [StreamEndpoint].ConnectStream.
func (e *TCPEndpoint) ConnectStream(ctx context.Context) (StreamConn, error) {
	conn, err := e.Dialer.DialContext(ctx, "tcp", e.Address)
	if err != nil {
		return nil, err
	}
	return conn.(*net.TCPConn), nil
}
