// ConfluenceSyncService - Smartsheet/Confluence Mirroring and Task Acknowledgment Workflow
// Copyright 2026 Chip E. (chip-edw)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chip-edw/ConfluenceSyncService-sub000

package duedate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUTCCalc(t *testing.T, holidays ...string) *Calculator {
	t.Helper()
	c, err := NewCalculator(map[string]RegionConfig{
		"uk": {Timezone: "UTC", CutoffLocal: "17:00", Holidays: holidays},
	})
	require.NoError(t, err)
	return c
}

func TestNewCalculatorRejectsBadConfig(t *testing.T) {
	_, err := NewCalculator(map[string]RegionConfig{"x": {Timezone: "Not/AZone"}})
	assert.Error(t, err)

	_, err = NewCalculator(map[string]RegionConfig{"x": {Timezone: "UTC", CutoffLocal: "25:00"}})
	assert.Error(t, err)

	_, err = NewCalculator(map[string]RegionConfig{"x": {Timezone: "UTC", Holidays: []string{"01/02/2025"}}})
	assert.Error(t, err)
}

func TestComputeDueUTCBackwardTwentyBusinessDays(t *testing.T) {
	c := newUTCCalc(t)

	// Monday 2025-01-06; 20 business days back lands on Monday 2024-12-09.
	anchor := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	due, err := c.ComputeDueUTC(anchor, -20, "uk", "")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 12, 9, 17, 0, 0, 0, time.UTC), due)
}

func TestComputeDueUTCForwardFiveBusinessDays(t *testing.T) {
	c := newUTCCalc(t)

	anchor := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	due, err := c.ComputeDueUTC(anchor, 5, "uk", "")
	require.NoError(t, err)
	// Tue 7th, Wed 8th, Thu 9th, Fri 10th, Mon 13th.
	assert.Equal(t, time.Date(2025, 1, 13, 17, 0, 0, 0, time.UTC), due)
}

func TestComputeDueUTCSkipsHolidays(t *testing.T) {
	c := newUTCCalc(t, "2025-01-07")

	anchor := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	due, err := c.ComputeDueUTC(anchor, 1, "uk", "")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 8, 17, 0, 0, 0, time.UTC), due)
}

func TestComputeDueUTCZeroOffsetNormalizesWeekendForward(t *testing.T) {
	c := newUTCCalc(t)

	// Saturday 2025-01-04 normalizes forward to Monday 2025-01-06.
	anchor := time.Date(2025, 1, 4, 9, 0, 0, 0, time.UTC)
	due, err := c.ComputeDueUTC(anchor, 0, "uk", "")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 6, 17, 0, 0, 0, time.UTC), due)
}

func TestComputeDueUTCUsesRegionCivilCalendar(t *testing.T) {
	c, err := NewCalculator(map[string]RegionConfig{
		"us-west": {Timezone: "America/Los_Angeles", CutoffLocal: "17:00"},
	})
	require.NoError(t, err)

	// 2025-01-06T01:00Z is still Sunday evening in Los Angeles, so a zero
	// offset normalizes to Monday local, 17:00 PST = 2025-01-07T01:00Z.
	anchor := time.Date(2025, 1, 6, 1, 0, 0, 0, time.UTC)
	due, err := c.ComputeDueUTC(anchor, 0, "us-west", "")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 7, 1, 0, 0, 0, time.UTC), due)
}

func TestComputeDueUTCCutoffOverride(t *testing.T) {
	c := newUTCCalc(t)

	anchor := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	due, err := c.ComputeDueUTC(anchor, 0, "uk", "09:30")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 6, 9, 30, 0, 0, time.UTC), due)
}

func TestAddBusinessDaysUTC(t *testing.T) {
	c := newUTCCalc(t)

	// Friday 2025-01-10 17:00 + 2 business days = Tuesday 2025-01-14 17:00.
	from := time.Date(2025, 1, 10, 17, 0, 0, 0, time.UTC)
	got, err := c.AddBusinessDaysUTC(from, 2, "uk")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 14, 17, 0, 0, 0, time.UTC), got)

	// Backward stepping is symmetric: Tuesday - 2 business days = Friday.
	back, err := c.AddBusinessDaysUTC(got, -2, "uk")
	require.NoError(t, err)
	assert.Equal(t, from, back)

	// Zero days is the identity.
	same, err := c.AddBusinessDaysUTC(from, 0, "uk")
	require.NoError(t, err)
	assert.Equal(t, from, same)
}

func TestUnknownRegionErrors(t *testing.T) {
	c := newUTCCalc(t)
	_, err := c.ComputeDueUTC(time.Now(), 1, "nowhere", "")
	assert.Error(t, err)
	_, err = c.AddBusinessDaysUTC(time.Now(), 1, "nowhere")
	assert.Error(t, err)
	assert.False(t, c.HasRegion("nowhere"))
	assert.True(t, c.HasRegion("uk"))
}
