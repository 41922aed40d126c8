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

// Package socks5 provides a client for the SOCKS5 protocol (RFC 1928) with
// optional username/password authentication (RFC 1929). The proxy uses it to
// chain outbound connections through an upstream SOCKS5 server.
package socks5

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/viaduct-proxy/viaduct/transport"
)

const (
	protocolVersion = 5

	authMethodNoAuth   = 0x00
	authMethodUserPass = 0x02

	cmdConnect = 0x01

	addrTypeIPv4       = 0x01
	addrTypeDomainName = 0x03
	addrTypeIPv6       = 0x04
)

// ReplyCode is the REP field of a SOCKS5 server response. Non-zero codes are
// returned as errors from [Dialer.DialStream].
type ReplyCode byte

// Reply codes from https://datatracker.ietf.org/doc/html/rfc1928#section-6.
const (
	ErrGeneralServerFailure          = ReplyCode(0x01)
	ErrConnectionNotAllowedByRuleset = ReplyCode(0x02)
	ErrNetworkUnreachable            = ReplyCode(0x03)
	ErrHostUnreachable               = ReplyCode(0x04)
	ErrConnectionRefused             = ReplyCode(0x05)
	ErrTTLExpired                    = ReplyCode(0x06)
	ErrCommandNotSupported           = ReplyCode(0x07)
	ErrAddressTypeNotSupported       = ReplyCode(0x08)
)

var _ error = (ReplyCode)(0)

func (e ReplyCode) Error() string {
	switch e {
	case ErrGeneralServerFailure:
		return "general SOCKS server failure"
	case ErrConnectionNotAllowedByRuleset:
		return "connection not allowed by ruleset"
	case ErrNetworkUnreachable:
		return "network unreachable"
	case ErrHostUnreachable:
		return "host unreachable"
	case ErrConnectionRefused:
		return "connection refused"
	case ErrTTLExpired:
		return "TTL expired"
	case ErrCommandNotSupported:
		return "command not supported"
	case ErrAddressTypeNotSupported:
		return "address type not supported"
	default:
		return "reply code " + strconv.Itoa(int(e))
	}
}

// Dialer is a [transport.StreamDialer] that routes connections through a
// SOCKS5 server reachable at the given [transport.StreamEndpoint].
type Dialer struct {
	endpoint transport.StreamEndpoint
	// nil means no authentication.
	cred *credentials
}

type credentials struct {
	username []byte
	password []byte
}

var _ transport.StreamDialer = (*Dialer)(nil)

// NewDialer creates a [Dialer] that connects through the SOCKS5 server at endpoint.
func NewDialer(endpoint transport.StreamEndpoint) (*Dialer, error) {
	if endpoint == nil {
		return nil, errors.New("argument endpoint must not be nil")
	}
	return &Dialer{endpoint: endpoint}, nil
}

// SetCredentials enables username/password authentication (RFC 1929).
// Both fields must be 1 to 255 bytes long.
func (d *Dialer) SetCredentials(username, password []byte) error {
	if len(username) == 0 || len(username) > 255 {
		return fmt.Errorf("username length %v is outside 1..255", len(username))
	}
	if len(password) == 0 || len(password) > 255 {
		return fmt.Errorf("password length %v is outside 1..255", len(password))
	}
	d.cred = &credentials{username: username, password: password}
	return nil
}

// DialStream implements [transport.StreamDialer].DialStream.
// The method selection, authentication and connect requests are sent in a
// single write to save a roundtrip, which is valid because only one
// authentication method is ever offered. A SOCKS error reply is returned as a
// [ReplyCode] error, which can be matched with [errors.Is].
func (d *Dialer) DialStream(ctx context.Context, raddr string) (transport.StreamConn, error) {
	req, err := d.buildRequest(raddr)
	if err != nil {
		return nil, err
	}

	proxyConn, err := d.endpoint.ConnectStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not connect to SOCKS5 server: %w", err)
	}
	tunnelReady := false
	defer func() {
		if !tunnelReady {
			proxyConn.Close()
		}
	}()

	if _, err := proxyConn.Write(req); err != nil {
		return nil, fmt.Errorf("failed to write SOCKS5 request: %w", err)
	}
	if err := d.readHandshakeReply(proxyConn); err != nil {
		return nil, err
	}
	if err := readConnectReply(proxyConn); err != nil {
		return nil, err
	}
	tunnelReady = true
	return proxyConn, nil
}

// buildRequest assembles method selection, optional authentication, and the
// connect request for raddr into one buffer.
func (d *Dialer) buildRequest(raddr string) ([]byte, error) {
	var b []byte
	if d.cred == nil {
		// VER, NMETHODS = 1, METHODS = no auth.
		b = append(b, protocolVersion, 1, authMethodNoAuth)
	} else {
		// VER, NMETHODS = 1, METHODS = username/password.
		b = append(b, protocolVersion, 1, authMethodUserPass)
		// RFC 1929 subnegotiation: VER = 1, ULEN, UNAME, PLEN, PASSWD.
		b = append(b, 1, byte(len(d.cred.username)))
		b = append(b, d.cred.username...)
		b = append(b, byte(len(d.cred.password)))
		b = append(b, d.cred.password...)
	}
	// VER, CMD = connect, RSV = 0.
	b = append(b, protocolVersion, cmdConnect, 0)
	return appendAddress(b, raddr)
}

// readHandshakeReply consumes the method selection reply and, if credentials
// were offered, the authentication status reply.
func (d *Dialer) readHandshakeReply(r io.Reader) error {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fmt.Errorf("failed to read method reply: %w", err)
	}
	if buf[0] != protocolVersion {
		return fmt.Errorf("unexpected protocol version %v", buf[0])
	}
	switch buf[1] {
	case authMethodNoAuth:
		return nil
	case authMethodUserPass:
		if d.cred == nil {
			return errors.New("server requires authentication")
		}
		// Subnegotiation status: VER = 1, STATUS = 0 on success.
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return fmt.Errorf("failed to read auth reply: %w", err)
		}
		if buf[0] != 1 {
			return fmt.Errorf("unexpected auth version %v", buf[0])
		}
		if buf[1] != 0 {
			return fmt.Errorf("authentication failed with status %v", buf[1])
		}
		return nil
	default:
		return fmt.Errorf("unsupported authentication method %v", buf[1])
	}
}

// readConnectReply consumes the connect reply, including the bound address,
// which is read and discarded.
func readConnectReply(r io.Reader) error {
	// VER, REP, RSV, ATYP.
	var buf [256]byte
	if _, err := io.ReadFull(r, buf[:4]); err != nil {
		return fmt.Errorf("failed to read connect reply: %w", err)
	}
	if buf[0] != protocolVersion {
		return fmt.Errorf("unexpected protocol version %v", buf[0])
	}
	if buf[1] != 0 {
		return ReplyCode(buf[1])
	}
	var addrLen int
	switch buf[3] {
	case addrTypeIPv4:
		addrLen = 4
	case addrTypeIPv6:
		addrLen = 16
	case addrTypeDomainName:
		if _, err := io.ReadFull(r, buf[:1]); err != nil {
			return fmt.Errorf("failed to read bound address length: %w", err)
		}
		addrLen = int(buf[0])
	default:
		return fmt.Errorf("invalid address type %v", buf[3])
	}
	// Bound address and port are not used.
	if _, err := io.ReadFull(r, buf[:addrLen+2]); err != nil {
		return fmt.Errorf("failed to read bound address: %w", err)
	}
	return nil
}

// appendAddress adds address in the SOCKS5 wire format (ATYP, DST.ADDR,
// DST.PORT), as specified in https://datatracker.ietf.org/doc/html/rfc1928#section-5.
func appendAddress(b []byte, address string) ([]byte, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			b = append(b, addrTypeIPv4)
			b = append(b, ip4...)
		} else {
			b = append(b, addrTypeIPv6)
			b = append(b, ip.To16()...)
		}
	} else {
		if len(host) > 255 {
			return nil, fmt.Errorf("domain name length %v is over 255", len(host))
		}
		b = append(b, addrTypeDomainName, byte(len(host)))
		b = append(b, host...)
	}
	return binary.BigEndian.AppendUint16(b, uint16(port)), nil
}
