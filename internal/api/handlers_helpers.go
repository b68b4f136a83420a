// ConfluenceSyncService - Smartsheet/Confluence Mirroring and Task Acknowledgment Workflow
// Copyright 2026 Chip E. (chip-edw)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chip-edw/ConfluenceSyncService-sub000

package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/logging"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/models"
)

// sanitizeLogValue removes control characters from strings to prevent log
// injection attacks. Query parameters end up in log lines verbatim otherwise.
func sanitizeLogValue(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			result.WriteString(fmt.Sprintf("\\x%02x", r))
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// respondJSON sends a JSON response with proper headers.
func respondJSON(w http.ResponseWriter, status int, response *models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// respondError sends a JSON error response.
func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().Str("code", code).Str("error", sanitizeLogValue(err.Error())).Msg("API error")
	}

	respondJSON(w, status, &models.APIResponse{
		Status: "error",
		Error: &models.APIError{
			Code:    code,
			Message: message,
		},
	})
}

// respondText sends a small plain-text page. The acknowledgment endpoint is
// opened in a browser by a human, so the body is a sentence, not JSON.
func respondText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(body + "\n")); err != nil {
		logging.Error().Err(err).Msg("Failed to write text response")
	}
}
