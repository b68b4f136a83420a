// ConfluenceSyncService - Smartsheet/Confluence Mirroring and Task Acknowledgment Workflow
// Copyright 2026 Chip E. (chip-edw)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chip-edw/ConfluenceSyncService-sub000

package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, st *fakeTaskStore) http.Handler {
	t.Helper()
	f := newFixture(t, st.task)
	f.store.pingErr = st.pingErr
	return NewRouter(f.handler, RouterConfig{})
}

func TestRouter_HealthLive(t *testing.T) {
	router := newTestRouter(t, &fakeTaskStore{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health/live", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alive")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRouter_HealthReadyDown(t *testing.T) {
	router := newTestRouter(t, &fakeTaskStore{pingErr: errors.New("locked")})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouter_Metrics(t *testing.T) {
	router := newTestRouter(t, &fakeTaskStore{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_MarkCompleteRouted(t *testing.T) {
	router := newTestRouter(t, &fakeTaskStore{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/maintenance/actions/mark-complete", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
