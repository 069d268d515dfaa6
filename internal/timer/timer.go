// Package timer implements the synthetic "timer" trigger: schedules stored
// inside an area's params_action and the tick loop that fires due rules.
package timer

import (
	"fmt"
	"strings"
	"time"
)

const (
	TypeInterval  = "interval"
	TypeFixedTime = "fixed_time"
)

// Schedule is either an interval ("every N minutes") or a fixed-time ("at
// HH:MM every day") schedule, both anchored to a named timezone.
type Schedule struct {
	Type         string
	EveryMinutes int
	Timezone     string
	AtTime       string // "15:04"
	StartDate    string // "2006-01-02", optional
	EndDate      string // "2006-01-02", optional
}

// Display-name variants that map onto the two canonical timer actions.
var actionAliases = map[string]string{
	"every_x_minutes":        TypeInterval,
	"timer_every_x_minutes":  TypeInterval,
	"at_specific_time":       TypeFixedTime,
	"timer_at_specific_time": TypeFixedTime,
}

func canonicalType(actionKey string) (string, bool) {
	t, ok := actionAliases[strings.ToLower(strings.TrimSpace(actionKey))]
	return t, ok
}

// BuildSchedule derives a Schedule from a timer area's configuration: either
// an explicit type stored in the timer map, or inferred from the action's
// technical key plus raw parameters. Settings may sit at the top level of
// params_action or nested under the "timer" key; nested values win, which
// keeps the schedule and its run state out of the condition-map namespace.
func BuildSchedule(actionKey string, timerCfg map[string]any) (Schedule, error) {
	if nested, ok := timerCfg["timer"].(map[string]any); ok {
		merged := make(map[string]any, len(timerCfg)+len(nested))
		for k, v := range timerCfg {
			if k != "timer" {
				merged[k] = v
			}
		}
		for k, v := range nested {
			merged[k] = v
		}
		timerCfg = merged
	}
	if t, _ := timerCfg["type"].(string); t != "" {
		return scheduleFromMap(t, timerCfg)
	}
	if nested, ok := timerCfg["schedule"].(map[string]any); ok {
		if t, _ := nested["type"].(string); t != "" {
			return scheduleFromMap(t, nested)
		}
	}
	t, ok := canonicalType(actionKey)
	if !ok {
		return Schedule{}, fmt.Errorf("unknown timer action %q", actionKey)
	}
	return scheduleFromMap(t, timerCfg)
}

func scheduleFromMap(schedType string, m map[string]any) (Schedule, error) {
	s := Schedule{Type: schedType, Timezone: stringOr(m, "timezone", "UTC")}
	switch schedType {
	case TypeInterval:
		minutes := intValue(m["every_minutes"])
		if minutes <= 0 {
			return s, fmt.Errorf("interval schedule requires every_minutes > 0")
		}
		s.EveryMinutes = minutes
	case TypeFixedTime:
		at, _ := m["at_time"].(string)
		if at == "" {
			return s, fmt.Errorf("fixed_time schedule requires at_time")
		}
		s.AtTime = at
		s.StartDate, _ = m["start_date"].(string)
		s.EndDate, _ = m["end_date"].(string)
	default:
		return s, fmt.Errorf("unknown schedule type %q", schedType)
	}
	return s, nil
}

func stringOr(m map[string]any, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// ComputeNextRun returns the next fire timestamp in UTC, computed from now.
// Missed ticks are never backfilled: interval schedules restart from now. A
// fixed-time schedule past its end_date returns the zero time, meaning the
// schedule is exhausted and must never fire again.
func ComputeNextRun(s Schedule, now time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("timezone %q: %w", s.Timezone, err)
	}
	switch s.Type {
	case TypeInterval:
		return now.In(loc).Add(time.Duration(s.EveryMinutes) * time.Minute).UTC(), nil
	case TypeFixedTime:
		return nextFixedRun(s, now, loc)
	default:
		return time.Time{}, fmt.Errorf("unknown schedule type %q", s.Type)
	}
}

func nextFixedRun(s Schedule, now time.Time, loc *time.Location) (time.Time, error) {
	at, err := time.Parse("15:04", s.AtTime)
	if err != nil {
		if at, err = time.Parse("15:04:05", s.AtTime); err != nil {
			return time.Time{}, fmt.Errorf("at_time %q: %w", s.AtTime, err)
		}
	}
	nowLocal := now.In(loc)
	candidate := time.Date(nowLocal.Year(), nowLocal.Month(), nowLocal.Day(),
		at.Hour(), at.Minute(), at.Second(), 0, loc)

	if s.StartDate != "" {
		start, err := time.ParseInLocation("2006-01-02", s.StartDate, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("start_date %q: %w", s.StartDate, err)
		}
		if candidate.Before(start) {
			candidate = time.Date(start.Year(), start.Month(), start.Day(),
				at.Hour(), at.Minute(), at.Second(), 0, loc)
		}
	}
	if !candidate.After(nowLocal) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	if s.EndDate != "" {
		end, err := time.ParseInLocation("2006-01-02", s.EndDate, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("end_date %q: %w", s.EndDate, err)
		}
		lastAllowed := time.Date(end.Year(), end.Month(), end.Day(),
			at.Hour(), at.Minute(), at.Second(), 0, loc)
		if candidate.After(lastAllowed) {
			// Schedule exhausted.
			return time.Time{}, nil
		}
	}
	return candidate.UTC(), nil
}
