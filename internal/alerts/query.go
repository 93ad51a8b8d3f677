package alerts

import (
	"sort"
	"strings"
	"time"
)

// Filter selects events for replay. Since is a strictly exclusive cursor;
// unparseable cursors are ignored rather than rejected.
type Filter struct {
	Since     string
	Until     string
	CameraID  string
	EventType string
	Limit     int
}

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// Query returns matching events sorted by timestamp ascending, ties broken by
// event_id. Events whose stored timestamps fail to parse keep their insertion
// position in unbounded queries but are excluded once a time cursor applies.
func (l *Log) Query(f Filter) []Event {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	since, haveSince := ParseTimestamp(f.Since)
	until, haveUntil := ParseTimestamp(f.Until)
	cameraID := strings.TrimSpace(f.CameraID)
	eventType := strings.ToLower(strings.TrimSpace(f.EventType))

	l.mu.Lock()
	snapshot := make([]entry, len(l.entries))
	copy(snapshot, l.entries)
	l.mu.Unlock()

	type keyed struct {
		event  Event
		ts     time.Time
		parsed bool
		seq    uint64
	}

	keys := make([]keyed, 0, len(snapshot))
	lastParsed := time.Time{}
	for _, ent := range snapshot {
		ts, ok := l.parseCached(ent.event.Timestamp)
		if !ok {
			if haveSince || haveUntil {
				continue
			}
			// Inherit the previous parseable timestamp so the entry sorts at
			// its insertion position.
			ts = lastParsed
		} else {
			lastParsed = ts
		}
		if cameraID != "" && strings.TrimSpace(ent.event.CameraID) != cameraID {
			continue
		}
		if eventType != "" && strings.ToLower(strings.TrimSpace(ent.event.EventType)) != eventType {
			continue
		}
		if haveSince && !ts.After(since) {
			continue
		}
		if haveUntil && ts.After(until) {
			continue
		}
		keys = append(keys, keyed{event: ent.event, ts: ts, parsed: ok, seq: ent.seq})
	}

	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].ts.Equal(keys[j].ts) {
			return keys[i].ts.Before(keys[j].ts)
		}
		if keys[i].event.EventID != keys[j].event.EventID {
			return keys[i].event.EventID < keys[j].event.EventID
		}
		return keys[i].seq < keys[j].seq
	})

	if len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]Event, len(keys))
	for i, k := range keys {
		out[i] = k.event
	}
	return out
}
