package notification

import (
	"fmt"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// quietHoursState is the evaluation result for one instant.
type quietHoursState struct {
	Inside bool
	// End is the next instant (UTC) the window closes. Zero when Inside is
	// false.
	End time.Time
}

// evalQuietHours decides whether now falls inside the company's quiet-hours
// window [start, end) in company-local time. Start after end means the
// window wraps past midnight. A malformed window evaluates to "not inside";
// notifications must not silently stall on bad configuration.
func evalQuietHours(w *repository.QuietHoursWindow, now time.Time) (quietHoursState, error) {
	if w == nil || !w.Enabled {
		return quietHoursState{}, nil
	}

	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return quietHoursState{}, fmt.Errorf("quiet hours: bad timezone %q: %w", w.Timezone, err)
	}
	startH, startM, err := parseClock(w.Start)
	if err != nil {
		return quietHoursState{}, err
	}
	endH, endM, err := parseClock(w.End)
	if err != nil {
		return quietHoursState{}, err
	}

	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()
	start := startH*60 + startM
	end := endH*60 + endM

	var inside bool
	if start <= end {
		inside = minute >= start && minute < end
	} else {
		// overnight wraparound, e.g. 22:00 → 08:00
		inside = minute >= start || minute < end
	}
	if !inside {
		return quietHoursState{}, nil
	}

	endLocal := time.Date(local.Year(), local.Month(), local.Day(), endH, endM, 0, 0, loc)
	if !endLocal.After(local) {
		endLocal = endLocal.AddDate(0, 0, 1)
	}
	return quietHoursState{Inside: true, End: endLocal.UTC()}, nil
}

// parseClock parses "HH:MM".
func parseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("quiet hours: bad clock value %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}
