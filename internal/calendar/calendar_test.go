// internal/calendar/calendar_test.go
package calendar

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCalendar = `
events:
  - name: diwali
    traffic_multiplier: 5.0
    expected_duration: 72h
    start: 2026-11-08T00:00:00Z
    regions: [ap-south]
  - name: lunar-new-year
    traffic_multiplier: 3.5
    expected_duration: 48h
    start: 2026-11-09T00:00:00Z
    end: 2026-11-10T00:00:00Z
  - name: eid
    traffic_multiplier: 2.0
`

func TestParse(t *testing.T) {
	profiles, err := Parse([]byte(sampleCalendar))
	require.NoError(t, err)
	require.Len(t, profiles, 3)

	assert.Equal(t, "diwali", profiles[0].Name)
	assert.Equal(t, 5.0, profiles[0].TrafficMultiplier)
	assert.Equal(t, 72*time.Hour, profiles[0].ExpectedDuration)
	assert.Equal(t, []string{"ap-south"}, profiles[0].Regions)
	assert.True(t, profiles[2].Start.IsZero())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"empty name", "events:\n  - name: ' '\n    traffic_multiplier: 2\n", ErrEmptyName},
		{"negative multiplier", "events:\n  - name: x\n    traffic_multiplier: -1\n", ErrInvalidProfile},
		{"duplicate", "events:\n  - name: x\n    traffic_multiplier: 1\n  - name: x\n    traffic_multiplier: 2\n", ErrDuplicateEvent},
		{"end before start", "events:\n  - name: x\n    traffic_multiplier: 1\n    start: 2026-01-02T00:00:00Z\n    end: 2026-01-01T00:00:00Z\n", ErrInvalidProfile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := Parse([]byte("events: [unterminated"))
	assert.Error(t, err)
}

func TestCalendar_LookupAndActive(t *testing.T) {
	profiles, err := Parse([]byte(sampleCalendar))
	require.NoError(t, err)
	cal, err := New(profiles...)
	require.NoError(t, err)

	p, ok := cal.Lookup(" diwali ")
	require.True(t, ok)
	assert.Equal(t, 5.0, p.TrafficMultiplier)

	m, d, ok := cal.TrafficMultiplier("lunar-new-year")
	assert.True(t, ok)
	assert.Equal(t, 3.5, m)
	assert.Equal(t, 48*time.Hour, d)

	_, _, ok = cal.TrafficMultiplier("holi")
	assert.False(t, ok)

	at := time.Date(2026, 11, 9, 12, 0, 0, 0, time.UTC)
	active := cal.Active(at)
	require.Len(t, active, 2)
	assert.Equal(t, "diwali", active[0].Name)
	assert.Equal(t, "lunar-new-year", active[1].Name)

	name, ok := cal.CurrentEvent(at)
	assert.True(t, ok)
	assert.Equal(t, "diwali", name)

	assert.Len(t, cal.Active(time.Date(2026, 11, 10, 1, 0, 0, 0, time.UTC)), 1, "explicit end closes the window")
	assert.Empty(t, cal.Active(time.Date(2026, 11, 12, 0, 0, 0, 0, time.UTC)), "expected duration closes the window")
	_, ok = cal.CurrentEvent(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.False(t, ok)
}

func TestCalendar_ReplaceIsAtomic(t *testing.T) {
	cal, err := New(Profile{Name: "diwali", TrafficMultiplier: 5})
	require.NoError(t, err)

	err = cal.Replace([]Profile{{Name: "eid", TrafficMultiplier: 2}, {Name: "bad", TrafficMultiplier: -1}})
	assert.ErrorIs(t, err, ErrInvalidProfile)
	_, ok := cal.Lookup("diwali")
	assert.True(t, ok)
	assert.Equal(t, 1, cal.Len())
}

func TestWatcher_Reloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calendar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCalendar), 0o644))

	cal, err := New()
	require.NoError(t, err)
	w, err := NewWatcher(cal, path, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, cal.Len())

	var reloads, failures atomic.Int32
	w.OnReload = func(_ int, err error) {
		if err != nil {
			failures.Add(1)
			return
		}
		reloads.Add(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	updated := "events:\n  - name: holi\n    traffic_multiplier: 4\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	assert.Eventually(t, func() bool {
		_, ok := cal.Lookup("holi")
		return ok && cal.Len() == 1
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("events: [oops"), 0o644))
	assert.Eventually(t, func() bool { return failures.Load() > 0 }, 5*time.Second, 20*time.Millisecond)
	_, ok := cal.Lookup("holi")
	assert.True(t, ok, "bad file keeps previous profiles")
	assert.Positive(t, reloads.Load())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestNewWatcher_MissingFile(t *testing.T) {
	cal, _ := New()
	_, err := NewWatcher(cal, filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}
