// Package attendance decides when a worker's presence is registered: the
// check-in time window and the trigger state machine that fires the single
// registration call.
package attendance

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

// Window is the daily check-in window: [start-early, start+late] on
// working days. End is the end of the working day and is only reported.
type Window struct {
	Start        int // minute of day
	End          int // minute of day
	EarlyMinutes int
	LateMinutes  int
	Days         map[time.Weekday]bool
}

// NewWindow builds a Window from "HH:MM" clock strings and weekday names
// or numbers (0 = Sunday).
func NewWindow(start, end string, early, late int, days []string) (Window, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Window{}, fmt.Errorf("work start: %w", err)
	}
	e, err := ParseClock(end)
	if err != nil {
		return Window{}, fmt.Errorf("work end: %w", err)
	}
	if early < 0 || late < 0 {
		return Window{}, fmt.Errorf("%w: early/late allowance must not be negative", ErrInvalidWindow)
	}
	if early+late >= minutesPerDay {
		return Window{}, fmt.Errorf("%w: early+late allowance spans a full day", ErrInvalidWindow)
	}

	w := Window{Start: s, End: e, EarlyMinutes: early, LateMinutes: late, Days: make(map[time.Weekday]bool, len(days))}
	for _, d := range days {
		wd, err := ParseWeekday(d)
		if err != nil {
			return Window{}, err
		}
		w.Days[wd] = true
	}
	if len(w.Days) == 0 {
		return Window{}, fmt.Errorf("%w: no working days", ErrInvalidWindow)
	}
	return w, nil
}

// Contains reports whether now falls inside the check-in window on a
// working day. The window may wrap past midnight.
func (w Window) Contains(now time.Time) bool {
	if !w.Days[now.Weekday()] {
		return false
	}
	m := now.Hour()*60 + now.Minute()
	lo := w.Start - w.EarlyMinutes
	span := w.EarlyMinutes + w.LateMinutes
	offset := ((m-lo)%minutesPerDay + minutesPerDay) % minutesPerDay
	return offset <= span
}

// String renders the window for logs.
func (w Window) String() string {
	return fmt.Sprintf("%s-%s (-%dm/+%dm)", FormatClock(w.Start), FormatClock(w.End), w.EarlyMinutes, w.LateMinutes)
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("%w: %q is not HH:MM", ErrInvalidWindow, s)
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 23 {
		return 0, fmt.Errorf("%w: bad hour in %q", ErrInvalidWindow, s)
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("%w: bad minute in %q", ErrInvalidWindow, s)
	}
	return hh*60 + mm, nil
}

// FormatClock renders minutes since midnight as "HH:MM".
func FormatClock(minutes int) string {
	minutes = ((minutes % minutesPerDay) + minutesPerDay) % minutesPerDay
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseWeekday accepts an English weekday name (full or three letters) or a
// number 0-6 with Sunday as 0.
func ParseWeekday(s string) (time.Weekday, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if wd, ok := weekdayNames[key]; ok {
		return wd, nil
	}
	n, err := strconv.Atoi(key)
	if err != nil || n < 0 || n > 6 {
		return 0, fmt.Errorf("%w: unknown weekday %q", ErrInvalidWindow, s)
	}
	return time.Weekday(n), nil
}
