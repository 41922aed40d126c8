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

/*
Package httpproxy implements an HTTP/1.1 forward proxy as a set of
[net/http] handlers.

[NewProxyHandler] builds the full proxy: CONNECT requests are tunneled as raw
byte relays to the requested host:port, and absolute-form requests
(GET http://host/path) are terminated and re-originated against the origin
with hop-by-hop headers stripped and Via / X-Forwarded-For added. Destinations
are reached through a [transport.StreamDialer], so outbound traffic can be
sent directly or chained through an upstream proxy such as SOCKS5.

Proxy authentication is opt-in via [WithAuthenticate]: with a callback
configured, requests without credentials are challenged with
407 Proxy Authentication Required (Basic, realm "proxy") and the callback
decides the rest.

# Important Security Considerations

This package is designed primarily for private, internal forward proxies.
Running a public-facing proxy needs more than it provides:

  - Probing resistance: a public proxy should ideally not reveal its identity
    as a proxy, even under targeted probing; error responses here do.
  - Protection of local resources: the dialer should refuse connections to
    localhost and the local network to keep clients out of them.
  - Resource limits: connection counts, connected time and transfer limits
    per user are needed to prevent denial-of-service.
*/
package httpproxy
