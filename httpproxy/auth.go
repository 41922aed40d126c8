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
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
)

// AuthenticateFunc decides whether a proxied request is allowed. It receives
// the client request, whose Proxy-Authorization header carries the
// credentials. A false result challenges the client with 407; an error fails
// the request with 500.
type AuthenticateFunc func(r *http.Request) (bool, error)

// proxyAuthenticateValue is the challenge sent with every 407. The realm and
// scheme are fixed.
const proxyAuthenticateValue = `Basic realm="proxy"`

// checkAuth gates a request on the configured authentication callback.
// With no callback every request is allowed. With a callback, a request
// without Proxy-Authorization is challenged immediately; otherwise the
// callback decides. checkAuth writes the 407 or 500 response itself and
// reports whether processing may continue. No request-body bytes are read
// before this returns, so a challenged request loses nothing.
func checkAuth(w http.ResponseWriter, r *http.Request, authenticate AuthenticateFunc) bool {
	if authenticate == nil {
		return true
	}
	if r.Header.Get("Proxy-Authorization") == "" {
		challengeProxyAuth(w)
		return false
	}
	ok, err := authenticate(r)
	if err != nil {
		http.Error(w, "Proxy authentication error", http.StatusInternalServerError)
		return false
	}
	if !ok {
		challengeProxyAuth(w)
		return false
	}
	return true
}

// challengeProxyAuth writes a 407 with the Basic challenge and an empty body.
func challengeProxyAuth(w http.ResponseWriter) {
	w.Header().Set("Proxy-Authenticate", proxyAuthenticateValue)
	w.WriteHeader(http.StatusProxyAuthRequired)
}

// NewBasicAuthenticate returns an [AuthenticateFunc] that checks the
// Proxy-Authorization header against a static set of username:password pairs.
func NewBasicAuthenticate(users map[string]string) AuthenticateFunc {
	return func(r *http.Request) (bool, error) {
		username, password, ok := parseBasicProxyAuth(r.Header.Get("Proxy-Authorization"))
		if !ok {
			return false, nil
		}
		want, found := users[username]
		if !found {
			return false, nil
		}
		return subtle.ConstantTimeCompare([]byte(password), []byte(want)) == 1, nil
	}
}

// parseBasicProxyAuth decodes a "Basic base64(user:pass)" credential.
func parseBasicProxyAuth(auth string) (username, password string, ok bool) {
	const prefix = "Basic "
	if len(auth) < len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(auth[len(prefix):])
	if err != nil {
		return "", "", false
	}
	username, password, ok = strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", false
	}
	return username, password, true
}
