package perception

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const changeLogCapacity = 200

// ChangeEntry is one line in a camera's bounded change log.
type ChangeEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
}

// SceneState is the rolling understanding of one camera's view. All writes go
// through Apply; readers get copies.
type SceneState struct {
	mu sync.Mutex

	cameraID    string
	summary     string
	objects     map[string]struct{}
	peopleCount *int
	lastChange  string
	lastUpdated time.Time
	updateCount uint64
	changeLog   []ChangeEntry
}

// SceneSnapshot is an immutable copy handed to the HTTP surface and prompts.
type SceneSnapshot struct {
	CameraID    string        `json:"camera_id"`
	Summary     string        `json:"summary"`
	Objects     []string      `json:"objects"`
	PeopleCount *int          `json:"people_count,omitempty"`
	LastChange  string        `json:"last_change"`
	LastUpdated time.Time     `json:"last_updated"`
	UpdateCount uint64        `json:"update_count"`
	ChangeLog   []ChangeEntry `json:"change_log"`
}

// SceneUpdate carries VLM output into the state. Nil/empty fields keep the
// previous value.
type SceneUpdate struct {
	Summary     string
	Objects     []string
	PeopleCount *int
	Changes     string
}

func NewSceneState(cameraID string) *SceneState {
	return &SceneState{
		cameraID: cameraID,
		objects:  make(map[string]struct{}),
	}
}

// Apply merges an analysis result. update_count and last_updated are
// monotonic; change log entries evict FIFO past capacity.
func (s *SceneState) Apply(u SceneUpdate, fallbackChange string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.Summary != "" {
		s.summary = u.Summary
	}
	if len(u.Objects) > 0 {
		s.objects = make(map[string]struct{}, len(u.Objects))
		for _, o := range u.Objects {
			o = strings.TrimSpace(o)
			if o != "" {
				s.objects[o] = struct{}{}
			}
		}
	}
	if u.PeopleCount != nil && *u.PeopleCount >= 0 {
		v := *u.PeopleCount
		s.peopleCount = &v
	}

	desc := u.Changes
	if desc == "" {
		desc = fallbackChange
	}
	if desc != "" {
		s.lastChange = desc
		s.changeLog = append(s.changeLog, ChangeEntry{Timestamp: now, Description: desc})
		if len(s.changeLog) > changeLogCapacity {
			s.changeLog = s.changeLog[len(s.changeLog)-changeLogCapacity:]
		}
	}

	s.updateCount++
	if now.After(s.lastUpdated) {
		s.lastUpdated = now
	}
}

// Snapshot returns a consistent copy.
func (s *SceneState) Snapshot() SceneSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	objects := make([]string, 0, len(s.objects))
	for o := range s.objects {
		objects = append(objects, o)
	}
	sort.Strings(objects)

	log := make([]ChangeEntry, len(s.changeLog))
	copy(log, s.changeLog)

	var people *int
	if s.peopleCount != nil {
		v := *s.peopleCount
		people = &v
	}

	return SceneSnapshot{
		CameraID:    s.cameraID,
		Summary:     s.summary,
		Objects:     objects,
		PeopleCount: people,
		LastChange:  s.lastChange,
		LastUpdated: s.lastUpdated,
		UpdateCount: s.updateCount,
		ChangeLog:   log,
	}
}

// ChangesSince returns change log entries strictly after the cursor time.
func (s *SceneState) ChangesSince(since time.Time) []ChangeEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ChangeEntry
	for _, e := range s.changeLog {
		if e.Timestamp.After(since) {
			out = append(out, e)
		}
	}
	return out
}

// ContextString renders the compact prior-context block used in VLM prompts:
// summary, people count, the five most recent changes, and top objects.
func (s *SceneState) ContextString() string {
	snap := s.Snapshot()
	if snap.UpdateCount == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Current scene: %s\n", snap.Summary)
	if snap.PeopleCount != nil {
		fmt.Fprintf(&b, "People visible: %d\n", *snap.PeopleCount)
	}
	if n := len(snap.ChangeLog); n > 0 {
		b.WriteString("Recent changes:\n")
		start := n - 5
		if start < 0 {
			start = 0
		}
		for _, e := range snap.ChangeLog[start:] {
			fmt.Fprintf(&b, "- %s: %s\n", e.Timestamp.Format(time.RFC3339), e.Description)
		}
	}
	if len(snap.Objects) > 0 {
		limit := len(snap.Objects)
		if limit > 10 {
			limit = 10
		}
		fmt.Fprintf(&b, "Objects: %s\n", strings.Join(snap.Objects[:limit], ", "))
	}
	return b.String()
}
