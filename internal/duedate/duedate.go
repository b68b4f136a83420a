// ConfluenceSyncService - Smartsheet/Confluence Mirroring and Task Acknowledgment Workflow
// Copyright 2026 Chip E. (chip-edw)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chip-edw/ConfluenceSyncService-sub000

// Package duedate computes task due dates from anchor dates and signed
// business-day offsets.
//
// All date arithmetic runs against the customer's region calendar (IANA
// timezone plus optional holiday set), never the host machine's local time.
// Results are converted back to UTC before they are returned or stored.
package duedate

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultCutoffLocal is the region-local time of day a due date falls on
// when no cutoff is configured.
const DefaultCutoffLocal = "17:00"

// RegionConfig describes one region's civil calendar.
type RegionConfig struct {
	// Timezone is an IANA zone name, e.g. "Europe/London".
	Timezone string
	// CutoffLocal is the "HH:MM" local time a due date falls on.
	CutoffLocal string
	// Holidays lists non-working dates as "2006-01-02" strings.
	Holidays []string
}

type region struct {
	name       string
	loc        *time.Location
	cutoffHour int
	cutoffMin  int
	holidays   map[string]struct{}
}

func (r *region) isBusinessDay(d time.Time) bool {
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := r.holidays[d.Format("2006-01-02")]
	return !holiday
}

// stepBusinessDays takes n signed business-day steps from d (a midnight
// region-local date). A zero n normalizes forward onto the nearest business
// day, so a weekend anchor still yields a working due date.
func (r *region) stepBusinessDays(d time.Time, n int) time.Time {
	if n == 0 {
		for !r.isBusinessDay(d) {
			d = d.AddDate(0, 0, 1)
		}
		return d
	}
	dir := 1
	if n < 0 {
		dir, n = -1, -n
	}
	for n > 0 {
		d = d.AddDate(0, 0, dir)
		if r.isBusinessDay(d) {
			n--
		}
	}
	return d
}

// Calculator resolves anchor dates, offsets and regions into due timestamps.
// It is immutable after construction and safe for concurrent use.
type Calculator struct {
	regions map[string]*region
}

// NewCalculator builds a Calculator from the configured regions. Unknown
// timezones and malformed cutoffs or holiday dates are configuration errors.
func NewCalculator(regions map[string]RegionConfig) (*Calculator, error) {
	out := make(map[string]*region, len(regions))
	for name, rc := range regions {
		loc, err := time.LoadLocation(rc.Timezone)
		if err != nil {
			return nil, fmt.Errorf("region %s: invalid timezone %q: %w", name, rc.Timezone, err)
		}
		cutoff := rc.CutoffLocal
		if cutoff == "" {
			cutoff = DefaultCutoffLocal
		}
		hh, mm, err := parseCutoff(cutoff)
		if err != nil {
			return nil, fmt.Errorf("region %s: %w", name, err)
		}
		holidays := make(map[string]struct{}, len(rc.Holidays))
		for _, h := range rc.Holidays {
			if _, err := time.ParseInLocation("2006-01-02", h, loc); err != nil {
				return nil, fmt.Errorf("region %s: invalid holiday %q: %w", name, h, err)
			}
			holidays[h] = struct{}{}
		}
		out[name] = &region{name: name, loc: loc, cutoffHour: hh, cutoffMin: mm, holidays: holidays}
	}
	return &Calculator{regions: out}, nil
}

func parseCutoff(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid cutoff %q, want HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid cutoff hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid cutoff minute in %q", s)
	}
	return hour, minute, nil
}

func (c *Calculator) region(name string) (*region, error) {
	r, ok := c.regions[name]
	if !ok {
		return nil, fmt.Errorf("unknown region %q", name)
	}
	return r, nil
}

// ComputeDueUTC resolves an anchor timestamp plus a signed business-day
// offset into a due timestamp. The anchor is interpreted on the region's
// civil calendar; the due date falls at cutoffLocal ("HH:MM", empty for the
// region default) and is returned in UTC.
//
// Negative offsets step backward and positive offsets step forward, both
// skipping weekends and region holidays symmetrically.
func (c *Calculator) ComputeDueUTC(anchorUTC time.Time, offsetBusinessDays int, regionName, cutoffLocal string) (time.Time, error) {
	r, err := c.region(regionName)
	if err != nil {
		return time.Time{}, err
	}
	hh, mm := r.cutoffHour, r.cutoffMin
	if cutoffLocal != "" {
		hh, mm, err = parseCutoff(cutoffLocal)
		if err != nil {
			return time.Time{}, err
		}
	}

	local := anchorUTC.In(r.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.loc)
	day = r.stepBusinessDays(day, offsetBusinessDays)

	due := time.Date(day.Year(), day.Month(), day.Day(), hh, mm, 0, 0, r.loc)
	return due.UTC(), nil
}

// AddBusinessDaysUTC steps the region-local date of fromUTC by the signed
// business-day count, preserving the wall-clock time of day, and returns the
// result in UTC. Grace and chase windows are anchored to a task's own due
// date by calling this with the due timestamp, not with "now".
func (c *Calculator) AddBusinessDaysUTC(fromUTC time.Time, days int, regionName string) (time.Time, error) {
	r, err := c.region(regionName)
	if err != nil {
		return time.Time{}, err
	}
	if days == 0 {
		return fromUTC, nil
	}

	local := fromUTC.In(r.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.loc)
	day = r.stepBusinessDays(day, days)

	res := time.Date(day.Year(), day.Month(), day.Day(),
		local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), r.loc)
	return res.UTC(), nil
}

// HasRegion reports whether the region is configured. Used at config
// validation time to fail fast on tasks referencing unknown regions.
func (c *Calculator) HasRegion(name string) bool {
	_, ok := c.regions[name]
	return ok
}
