// ConfluenceSyncService - Smartsheet/Confluence Mirroring and Task Acknowledgment Workflow
// Copyright 2026 Chip E. (chip-edw)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chip-edw/ConfluenceSyncService-sub000

// Package signer provides HMAC signing and verification for acknowledgment
// links.
//
// The signer operates on canonical strings only. It does not interpret the
// exp field; expiry enforcement belongs to the caller so the same primitive
// can sign non-time-bound data.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// ErrEmptySecret indicates the service was started without a signing secret.
// A randomly generated fallback would mint links that no other process (or
// restart of this one) could verify, so this is fatal configuration.
var ErrEmptySecret = errors.New("signer: secret must not be empty")

// Signer signs and verifies canonical strings with HMAC-SHA256.
type Signer struct {
	key []byte
}

// New creates a Signer from the service-wide secret.
func New(secret string) (*Signer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Signer{key: []byte(secret)}, nil
}

// Sign returns the base64url (no padding) HMAC-SHA256 of the canonical string.
func (s *Signer) Sign(canonical string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(canonical))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the expected signature and compares in constant time.
// Malformed signatures return false without leaking timing information.
func (s *Signer) Verify(canonical, signature string) bool {
	got, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(canonical))
	return hmac.Equal(got, mac.Sum(nil))
}

// Canonical builds the deterministic, order-fixed signing string for an
// acknowledgment link: id, then exp (Unix seconds), then the optional
// correlation id. Values are percent-encoded so delimiter characters inside
// values cannot produce colliding canonical forms.
func Canonical(taskID string, expUnix int64, correlationID string) string {
	c := "id=" + url.QueryEscape(taskID) + "&exp=" + strconv.FormatInt(expUnix, 10)
	if correlationID != "" {
		c += "&c=" + url.QueryEscape(correlationID)
	}
	return c
}

// AckURL assembles the full clickable acknowledgment URL for a task.
// baseURL is the externally reachable origin, e.g. "https://sync.example.com".
func (s *Signer) AckURL(baseURL, taskID string, expUnix int64, correlationID, listID string) string {
	canonical := Canonical(taskID, expUnix, correlationID)
	sig := s.Sign(canonical)

	q := url.Values{}
	q.Set("id", taskID)
	q.Set("exp", strconv.FormatInt(expUnix, 10))
	if correlationID != "" {
		q.Set("c", correlationID)
	}
	if listID != "" {
		q.Set("list", listID)
	}
	q.Set("sig", sig)
	return fmt.Sprintf("%s/maintenance/actions/mark-complete?%s", baseURL, q.Encode())
}
