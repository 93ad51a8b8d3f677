package alerts

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

const DefaultLogCapacity = 1000

// entry pairs an event with its insertion sequence so unfiltered replay has a
// stable order even when stored timestamps fail to parse.
type entry struct {
	event Event
	seq   uint64
}

// Log is the bounded in-memory alert log, optionally mirrored to a
// line-delimited JSON file. Durable writes are best-effort.
type Log struct {
	mu       sync.Mutex
	entries  []entry
	capacity int
	nextSeq  uint64

	durable    *os.File
	durableErr bool

	tsCache *lru.Cache[string, time.Time]

	subMu sync.Mutex
	subs  map[chan Event]struct{}

	log zerolog.Logger
}

// NewLog creates an alert log. durablePath may be empty to disable the
// on-disk mirror.
func NewLog(capacity int, durablePath string, logger zerolog.Logger) *Log {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	cache, _ := lru.New[string, time.Time](2 * capacity)
	l := &Log{
		capacity: capacity,
		tsCache:  cache,
		subs:     make(map[chan Event]struct{}),
		log:      logger,
	}
	if durablePath != "" {
		f, err := os.OpenFile(durablePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logger.Warn().Err(err).Str("path", durablePath).Msg("alert log file unavailable, in-memory only")
		} else {
			l.durable = f
		}
	}
	return l
}

// Append records an event, assigning event_id and a UTC timestamp when
// absent. Correlated event types additionally fan out an mcp_log entry whose
// data carries the same PMCP prefix and event_id.
func (l *Log) Append(e Event) Event {
	if e.EventID == "" {
		e.EventID = NewEventID()
	}
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	l.append(e)

	if correlated(e.EventType) {
		line := CorrelationLine(e)
		l.log.Info().Str("event_id", e.EventID).Msg(line)
		l.append(Event{
			EventID:   NewEventID(),
			EventType: EventMCPLog,
			CameraID:  e.CameraID,
			Timestamp: e.Timestamp,
			Message:   "log fanout",
			Data:      line,
		})
	}
	return e
}

func (l *Log) append(e Event) {
	l.mu.Lock()
	l.entries = append(l.entries, entry{event: e, seq: l.nextSeq})
	l.nextSeq++
	if len(l.entries) > l.capacity {
		l.entries = l.entries[len(l.entries)-l.capacity:]
	}
	if l.durable != nil {
		if data, err := json.Marshal(e); err == nil {
			if _, err := l.durable.Write(append(data, '\n')); err != nil && !l.durableErr {
				l.durableErr = true
				l.log.Warn().Err(err).Msg("alert log file write failed, further errors suppressed")
			}
		}
	}
	l.mu.Unlock()

	l.subMu.Lock()
	for ch := range l.subs {
		select {
		case ch <- e:
		default:
		}
	}
	l.subMu.Unlock()
}

// Subscribe returns a channel receiving future events. Slow consumers drop
// events rather than block the log.
func (l *Log) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	l.subMu.Lock()
	l.subs[ch] = struct{}{}
	l.subMu.Unlock()
	return ch, func() {
		l.subMu.Lock()
		delete(l.subs, ch)
		l.subMu.Unlock()
	}
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Close flushes and closes the durable mirror.
func (l *Log) Close() error {
	if l.durable != nil {
		return l.durable.Close()
	}
	return nil
}

func (l *Log) parseCached(ts string) (time.Time, bool) {
	if t, ok := l.tsCache.Get(ts); ok {
		return t, true
	}
	t, ok := ParseTimestamp(ts)
	if ok {
		l.tsCache.Add(ts, t)
	}
	return t, ok
}
