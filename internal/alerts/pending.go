package alerts

import (
	"errors"
	"sync"
	"time"
)

var ErrPendingNotFound = errors.New("pending evaluation not found")

const pendingQueueCapacity = 100

// PendingRule is the slice of a watch rule handed to an external evaluator.
type PendingRule struct {
	RuleID    string `json:"rule_id"`
	Name      string `json:"name"`
	Condition string `json:"condition"`
	Priority  string `json:"priority"`
}

// Pending is a deferred rule evaluation awaiting an external client in
// fallback mode.
type Pending struct {
	EventID   string        `json:"event_id"`
	CameraID  string        `json:"camera_id"`
	Thumbnail string        `json:"thumbnail,omitempty"`
	Rules     []PendingRule `json:"rules"`
	CreatedAt time.Time     `json:"created_at"`
}

// PendingQueue holds deferred evaluations per camera, bounded FIFO. Oldest
// entries are dropped when a camera's queue is full.
type PendingQueue struct {
	mu     sync.Mutex
	queues map[string][]Pending
}

func NewPendingQueue() *PendingQueue {
	return &PendingQueue{queues: make(map[string][]Pending)}
}

func (q *PendingQueue) Enqueue(p Pending) {
	q.mu.Lock()
	defer q.mu.Unlock()
	queue := append(q.queues[p.CameraID], p)
	if len(queue) > pendingQueueCapacity {
		queue = queue[len(queue)-pendingQueueCapacity:]
	}
	q.queues[p.CameraID] = queue
}

// List returns pending evaluations for a camera, or all cameras when
// cameraID is empty.
func (q *PendingQueue) List(cameraID string) []Pending {
	q.mu.Lock()
	defer q.mu.Unlock()
	if cameraID != "" {
		out := make([]Pending, len(q.queues[cameraID]))
		copy(out, q.queues[cameraID])
		return out
	}
	var out []Pending
	for _, queue := range q.queues {
		out = append(out, queue...)
	}
	return out
}

// Take removes and returns the pending evaluation with the given event id.
func (q *PendingQueue) Take(eventID string) (Pending, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for cameraID, queue := range q.queues {
		for i, p := range queue {
			if p.EventID == eventID {
				q.queues[cameraID] = append(queue[:i:i], queue[i+1:]...)
				return p, true
			}
		}
	}
	return Pending{}, false
}
