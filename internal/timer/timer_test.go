package timer

import (
	"testing"
	"time"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts
}

func TestComputeNextRunInterval(t *testing.T) {
	now := mustTime(t, "2024-01-01T00:00:00Z")
	sched := Schedule{Type: TypeInterval, EveryMinutes: 5, Timezone: "UTC"}
	next, err := ComputeNextRun(sched, now)
	if err != nil {
		t.Fatalf("ComputeNextRun: %v", err)
	}
	if want := mustTime(t, "2024-01-01T00:05:00Z"); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestComputeNextRunIntervalTimezone(t *testing.T) {
	// Interval math is wall-clock independent: the zone only anchors the
	// local view, the UTC instant is now + N minutes either way.
	now := mustTime(t, "2024-06-15T12:00:00Z")
	sched := Schedule{Type: TypeInterval, EveryMinutes: 90, Timezone: "Europe/Paris"}
	next, err := ComputeNextRun(sched, now)
	if err != nil {
		t.Fatalf("ComputeNextRun: %v", err)
	}
	if want := mustTime(t, "2024-06-15T13:30:00Z"); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestComputeNextRunFixedTimeLaterToday(t *testing.T) {
	now := mustTime(t, "2024-01-01T08:00:00Z")
	sched := Schedule{Type: TypeFixedTime, AtTime: "09:00", Timezone: "UTC"}
	next, err := ComputeNextRun(sched, now)
	if err != nil {
		t.Fatalf("ComputeNextRun: %v", err)
	}
	if want := mustTime(t, "2024-01-01T09:00:00Z"); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestComputeNextRunFixedTimeRollsToTomorrow(t *testing.T) {
	now := mustTime(t, "2024-01-01T10:00:00Z")
	sched := Schedule{Type: TypeFixedTime, AtTime: "09:00", Timezone: "UTC"}
	next, err := ComputeNextRun(sched, now)
	if err != nil {
		t.Fatalf("ComputeNextRun: %v", err)
	}
	if want := mustTime(t, "2024-01-02T09:00:00Z"); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestComputeNextRunFixedTimeStartDateClamp(t *testing.T) {
	now := mustTime(t, "2024-01-01T10:00:00Z")
	sched := Schedule{Type: TypeFixedTime, AtTime: "09:00", Timezone: "UTC", StartDate: "2024-02-10"}
	next, err := ComputeNextRun(sched, now)
	if err != nil {
		t.Fatalf("ComputeNextRun: %v", err)
	}
	if want := mustTime(t, "2024-02-10T09:00:00Z"); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestComputeNextRunFixedTimeEndDateExhausted(t *testing.T) {
	now := mustTime(t, "2024-03-01T10:00:00Z")
	sched := Schedule{Type: TypeFixedTime, AtTime: "09:00", Timezone: "UTC", EndDate: "2024-02-28"}
	next, err := ComputeNextRun(sched, now)
	if err != nil {
		t.Fatalf("ComputeNextRun: %v", err)
	}
	if !next.IsZero() {
		t.Fatalf("exhausted schedule should return the zero time, got %v", next)
	}
}

func TestComputeNextRunFixedTimeOtherZone(t *testing.T) {
	// 09:00 in New York is 14:00 UTC in January; at 12:00 UTC the slot is
	// still ahead today.
	now := mustTime(t, "2024-01-15T12:00:00Z")
	sched := Schedule{Type: TypeFixedTime, AtTime: "09:00", Timezone: "America/New_York"}
	next, err := ComputeNextRun(sched, now)
	if err != nil {
		t.Fatalf("ComputeNextRun: %v", err)
	}
	if want := mustTime(t, "2024-01-15T14:00:00Z"); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestBuildScheduleFromActionKey(t *testing.T) {
	s, err := BuildSchedule("every_x_minutes", map[string]any{"every_minutes": float64(15)})
	if err != nil {
		t.Fatalf("BuildSchedule: %v", err)
	}
	if s.Type != TypeInterval || s.EveryMinutes != 15 {
		t.Fatalf("unexpected schedule %+v", s)
	}

	s, err = BuildSchedule("at_specific_time", map[string]any{"at_time": "07:30", "timezone": "Europe/Paris"})
	if err != nil {
		t.Fatalf("BuildSchedule: %v", err)
	}
	if s.Type != TypeFixedTime || s.AtTime != "07:30" || s.Timezone != "Europe/Paris" {
		t.Fatalf("unexpected schedule %+v", s)
	}
}

func TestBuildScheduleNestedTimerMap(t *testing.T) {
	s, err := BuildSchedule("every_x_minutes", map[string]any{
		"timer": map[string]any{"every_minutes": float64(5)},
	})
	if err != nil {
		t.Fatalf("BuildSchedule: %v", err)
	}
	if s.Type != TypeInterval || s.EveryMinutes != 5 {
		t.Fatalf("unexpected schedule %+v", s)
	}

	// Nested values shadow top-level ones.
	s, err = BuildSchedule("every_x_minutes", map[string]any{
		"every_minutes": float64(5),
		"timer":         map[string]any{"every_minutes": float64(30)},
	})
	if err != nil {
		t.Fatalf("BuildSchedule: %v", err)
	}
	if s.EveryMinutes != 30 {
		t.Fatalf("every_minutes = %d, want 30", s.EveryMinutes)
	}

	// A timer map holding only run state still reads the flat schedule.
	s, err = BuildSchedule("every_x_minutes", map[string]any{
		"every_minutes": float64(5),
		"timer":         map[string]any{"next_run_at": "2024-01-01T00:05:00Z"},
	})
	if err != nil {
		t.Fatalf("BuildSchedule: %v", err)
	}
	if s.EveryMinutes != 5 {
		t.Fatalf("every_minutes = %d, want 5", s.EveryMinutes)
	}
}

func TestBuildScheduleExplicitTypeWins(t *testing.T) {
	s, err := BuildSchedule("at_specific_time", map[string]any{
		"type":          TypeInterval,
		"every_minutes": 5,
	})
	if err != nil {
		t.Fatalf("BuildSchedule: %v", err)
	}
	if s.Type != TypeInterval {
		t.Fatalf("explicit type ignored, got %+v", s)
	}
}

func TestBuildScheduleRejectsBadInput(t *testing.T) {
	if _, err := BuildSchedule("every_x_minutes", map[string]any{}); err == nil {
		t.Fatal("expected error for missing every_minutes")
	}
	if _, err := BuildSchedule("at_specific_time", map[string]any{}); err == nil {
		t.Fatal("expected error for missing at_time")
	}
	if _, err := BuildSchedule("new_issue", map[string]any{}); err == nil {
		t.Fatal("expected error for non-timer action")
	}
}
