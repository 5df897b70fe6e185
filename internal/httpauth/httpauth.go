// Copyright 2026 The rclonepool Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpauth implements the WebDAV/REST authentication contract
// of spec §6: none, HTTP Basic against a sha256(password) table, a
// static API key header, or a JWT bearer token.
package httpauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/puffious/rclone-pool/pkg/config"
)

// Authenticator validates an incoming request per the configured
// method, returning the authenticated user (empty for AuthNone) and
// whether the request is allowed through.
type Authenticator struct {
	method    config.AuthMethod
	users     map[string]string // user -> sha256(password) hex
	apiKeys   map[string]string // key -> user
	jwtSecret []byte
}

// New builds an Authenticator from config.
func New(cfg *config.Config) *Authenticator {
	return &Authenticator{
		method:    cfg.WebDAVAuthMethod,
		users:     cfg.Users,
		apiKeys:   cfg.APIKeys,
		jwtSecret: []byte(cfg.JWTSecret),
	}
}

// Authenticate returns (user, true) if r is allowed through, else
// ("", false). Callers respond 401 on false.
func (a *Authenticator) Authenticate(r *http.Request) (string, bool) {
	switch a.method {
	case config.AuthNone, "":
		return "", true
	case config.AuthBasic:
		return a.authenticateBasic(r)
	case config.AuthAPIKey:
		return a.authenticateAPIKey(r)
	case config.AuthBearer:
		return a.authenticateBearer(r)
	default:
		return "", false
	}
}

func (a *Authenticator) authenticateBasic(r *http.Request) (string, bool) {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return "", false
	}
	want, ok := a.users[user]
	if !ok {
		return "", false
	}
	sum := sha256.Sum256([]byte(pass))
	got := hex.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return "", false
	}
	return user, true
}

func (a *Authenticator) authenticateAPIKey(r *http.Request) (string, bool) {
	key := r.Header.Get("X-API-Key")
	if key == "" {
		return "", false
	}
	user, ok := a.apiKeys[key]
	return user, ok
}

func (a *Authenticator) authenticateBearer(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	raw := strings.TrimPrefix(header, "Bearer ")

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return a.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return "", false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", false
	}
	sub, _ := claims["sub"].(string)
	return sub, true
}
