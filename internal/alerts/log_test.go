package alerts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	return NewLog(0, "", zerolog.Nop())
}

func TestAppendAssignsIdentityAndTimestamp(t *testing.T) {
	l := newTestLog(t)
	ev := l.Append(Event{EventType: EventMCPLog, Message: "hello"})
	assert.True(t, strings.HasPrefix(ev.EventID, "evt_"))
	_, ok := ParseTimestamp(ev.Timestamp)
	assert.True(t, ok)
}

func TestAppendFansOutCorrelatedEvents(t *testing.T) {
	l := newTestLog(t)
	ev := l.Append(Event{
		EventType: EventRuleTriggered,
		CameraID:  "cam1",
		RuleID:    "r_1",
		Message:   "door opened",
	})

	logs := l.Query(Filter{EventType: EventMCPLog})
	require.Len(t, logs, 1)
	prefix := fmt.Sprintf("PMCP[WATCH_RULE_TRIGGERED] | event_id=%s |", ev.EventID)
	assert.True(t, strings.HasPrefix(logs[0].Data, prefix),
		"fanout data %q should start with %q", logs[0].Data, prefix)
	assert.NotEqual(t, ev.EventID, logs[0].EventID)
	assert.Equal(t, 2, l.Len())
}

func TestAppendNoFanoutForMCPLog(t *testing.T) {
	l := newTestLog(t)
	l.Append(Event{EventType: EventMCPLog, Message: "plain"})
	assert.Equal(t, 1, l.Len())
}

func TestDurableMirrorSerializesAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.jsonl")
	l := NewLog(0, path, zerolog.Nop())
	defer l.Close()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				l.Append(Event{EventType: EventMCPLog, Message: fmt.Sprintf("w%d-%d", w, i)})
			}
		}(w)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 200)
	for _, line := range lines {
		var e Event
		require.NoError(t, json.Unmarshal([]byte(line), &e), "line %q", line)
	}
}

func TestLogCapacityBounded(t *testing.T) {
	l := NewLog(10, "", zerolog.Nop())
	for i := 0; i < 25; i++ {
		l.Append(Event{EventType: EventMCPLog, Message: fmt.Sprintf("m%d", i)})
	}
	assert.Equal(t, 10, l.Len())
	events := l.Query(Filter{Limit: 100})
	assert.Equal(t, "m15", events[0].Message)
}

func seedEvents(l *Log, n int, start time.Time) []Event {
	out := make([]Event, n)
	for i := 0; i < n; i++ {
		out[i] = l.Append(Event{
			EventType: EventMCPLog,
			CameraID:  "cam1",
			Message:   fmt.Sprintf("event %d", i),
			Timestamp: start.Add(time.Duration(i) * time.Second).Format(time.RFC3339Nano),
		})
	}
	return out
}

func TestQuerySinceIsStrictlyExclusive(t *testing.T) {
	l := newTestLog(t)
	start := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	seeded := seedEvents(l, 5, start)

	got := l.Query(Filter{Since: seeded[2].Timestamp})
	require.Len(t, got, 2)
	assert.Equal(t, "event 3", got[0].Message)
	assert.Equal(t, "event 4", got[1].Message)
}

func TestQuerySinceTimestampShapes(t *testing.T) {
	l := newTestLog(t)
	start := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	seedEvents(l, 5, start)

	// Z-suffixed, offset-aware, and naive cursors select the same window.
	for _, since := range []string{
		"2026-05-01T08:00:02Z",
		"2026-05-01T08:00:02+00:00",
		"2026-05-01T08:00:02",
	} {
		got := l.Query(Filter{Since: since})
		assert.Len(t, got, 2, "cursor %q", since)
	}
}

func TestQueryUnparseableSinceIsIgnored(t *testing.T) {
	l := newTestLog(t)
	seedEvents(l, 3, time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))
	got := l.Query(Filter{Since: "not-a-timestamp"})
	assert.Len(t, got, 3)
}

func TestQueryEventTypeCaseInsensitive(t *testing.T) {
	l := newTestLog(t)
	l.Append(Event{EventType: "  Watch_Rule_Triggered ", Message: "padded"})
	got := l.Query(Filter{EventType: "WATCH_RULE_TRIGGERED"})
	require.Len(t, got, 1)
	assert.Equal(t, "padded", got[0].Message)
}

func TestQueryCameraIDTrimmedButCaseSensitive(t *testing.T) {
	l := newTestLog(t)
	l.Append(Event{EventType: EventMCPLog, CameraID: " cam1 ", Message: "padded"})
	assert.Len(t, l.Query(Filter{CameraID: "cam1"}), 1)
	assert.Empty(t, l.Query(Filter{CameraID: "CAM1"}))
}

func TestQueryOrderingTiesBreakOnEventID(t *testing.T) {
	l := newTestLog(t)
	ts := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC).Format(time.RFC3339)
	l.Append(Event{EventID: "evt_bbb", EventType: EventMCPLog, Timestamp: ts})
	l.Append(Event{EventID: "evt_aaa", EventType: EventMCPLog, Timestamp: ts})

	got := l.Query(Filter{})
	require.Len(t, got, 2)
	assert.Equal(t, "evt_aaa", got[0].EventID)
	assert.Equal(t, "evt_bbb", got[1].EventID)
}

func TestQueryLimitClamped(t *testing.T) {
	l := NewLog(2000, "", zerolog.Nop())
	seedEvents(l, 1200, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))

	assert.Len(t, l.Query(Filter{Limit: 5000}), 1000)
	assert.Len(t, l.Query(Filter{Limit: 3}), 3)
}

func TestQueryUnparseableStoredTimestamps(t *testing.T) {
	l := newTestLog(t)
	start := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	l.Append(Event{EventID: "evt_a", EventType: EventMCPLog, Message: "first", Timestamp: start.Format(time.RFC3339)})
	l.Append(Event{EventID: "evt_b", EventType: EventMCPLog, Message: "broken", Timestamp: "garbage"})
	l.Append(Event{EventID: "evt_c", EventType: EventMCPLog, Message: "last", Timestamp: start.Add(time.Second).Format(time.RFC3339)})

	// Unfiltered: the broken entry keeps its insertion position.
	all := l.Query(Filter{})
	require.Len(t, all, 3)
	assert.Equal(t, "broken", all[1].Message)

	// Cursor-bounded: the broken entry is excluded for determinism.
	bounded := l.Query(Filter{Since: start.Add(-time.Hour).Format(time.RFC3339)})
	require.Len(t, bounded, 2)
	for _, e := range bounded {
		assert.NotEqual(t, "broken", e.Message)
	}
}

func TestReplayCursorPagination(t *testing.T) {
	l := NewLog(200, "", zerolog.Nop())
	seeded := seedEvents(l, 100, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))

	// Page through with the last timestamp as cursor; every event is seen
	// exactly once.
	var seen []string
	cursor := ""
	for {
		page := l.Query(Filter{Since: cursor, Limit: 7})
		if len(page) == 0 {
			break
		}
		for _, e := range page {
			seen = append(seen, e.EventID)
		}
		cursor = page[len(page)-1].Timestamp
	}
	require.Len(t, seen, len(seeded))
	unique := make(map[string]struct{}, len(seen))
	for _, id := range seen {
		unique[id] = struct{}{}
	}
	assert.Len(t, unique, len(seeded))
}

func TestSubscribeReceivesAppends(t *testing.T) {
	l := newTestLog(t)
	ch, cancel := l.Subscribe()
	defer cancel()

	ev := l.Append(Event{EventType: EventMCPLog, Message: "live"})
	select {
	case got := <-ch:
		assert.Equal(t, ev.EventID, got.EventID)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}
