// Package notify delivers alert events to notification channels.
package notify

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"physicalmcp/internal/alerts"
)

const (
	deliveryTimeout = 15 * time.Second
	queueCapacity   = 256
	workerCount     = 4
	retryBackoff    = 2 * time.Second
)

// Alert is the channel-facing payload derived from an AlertEvent.
type Alert struct {
	Title    string
	Body     string
	Priority string
	Photo    []byte
	Target   string
}

// Channel delivers one alert to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, a Alert) error
}

// autoPriority is the channel preference when a rule says "auto".
var autoPriority = []string{"telegram", "discord", "slack", "ntfy", "desktop"}

// Dispatcher queues deliveries and works them across a small worker pool.
// A channel failure is retried once after a short pause and never blocks
// other channels or later alerts.
type Dispatcher struct {
	channels map[string]Channel
	queue    chan task
	log      zerolog.Logger
	backoff  time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

type task struct {
	channel Channel
	alert   Alert
}

func NewDispatcher(channels []Channel, logger zerolog.Logger) *Dispatcher {
	byName := make(map[string]Channel, len(channels))
	for _, c := range channels {
		byName[c.Name()] = c
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		channels: byName,
		queue:    make(chan task, queueCapacity),
		log:      logger,
		backoff:  retryBackoff,
		cancel:   cancel,
	}
	d.wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go d.work(ctx)
	}
	return d
}

// Resolve maps a rule's channel selector to a concrete channel. Returns nil
// for "none" or when nothing suitable is configured.
func (d *Dispatcher) Resolve(selector string) Channel {
	switch selector {
	case "", "auto":
		for _, name := range autoPriority {
			if c, ok := d.channels[name]; ok {
				return c
			}
		}
		return nil
	case "none":
		return nil
	default:
		return d.channels[selector]
	}
}

// Dispatch queues an event for delivery and returns immediately. The channel
// selector comes from the triggering rule, or "auto" for system events.
func (d *Dispatcher) Dispatch(e alerts.Event, selector, target string) {
	ch := d.Resolve(selector)
	if ch == nil {
		d.log.Debug().Str("event_id", e.EventID).Str("channel", selector).Msg("alert is log-only")
		return
	}
	a := Alert{
		Title:    strings.ToValidUTF8(alertTitle(e), ""),
		Body:     strings.ToValidUTF8(e.Message, ""),
		Priority: e.Priority,
		Target:   target,
	}
	if e.Thumbnail != "" {
		if photo, err := base64.StdEncoding.DecodeString(e.Thumbnail); err == nil {
			a.Photo = photo
		}
	}
	select {
	case d.queue <- task{channel: ch, alert: a}:
	default:
		d.log.Warn().Str("event_id", e.EventID).Str("channel", ch.Name()).Msg("notification queue full, dropping")
	}
}

func alertTitle(e alerts.Event) string {
	switch strings.ToLower(strings.TrimSpace(e.EventType)) {
	case alerts.EventRuleTriggered:
		if e.RuleName != "" {
			return fmt.Sprintf("Alert: %s", e.RuleName)
		}
		return "Watch rule triggered"
	case alerts.EventStartupWarn:
		return "physical-mcp warning"
	case alerts.EventProviderError:
		return "Vision provider error"
	default:
		return "physical-mcp"
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-d.queue:
			d.deliver(ctx, t)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, t task) {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, deliveryTimeout)
		err = t.channel.Send(callCtx, t.alert)
		cancel()
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			break
		}
		if attempt == 0 {
			select {
			case <-ctx.Done():
			case <-time.After(d.backoff):
			}
		}
	}
	d.log.Warn().Err(err).Str("channel", t.channel.Name()).Msg("notification delivery failed")
}

// Close stops delivery after draining for the grace period. Undelivered
// alerts are logged as drops.
func (d *Dispatcher) Close(grace time.Duration) {
	d.once.Do(func() {
		deadline := time.After(grace)
	drain:
		for {
			select {
			case <-deadline:
				break drain
			default:
				if len(d.queue) == 0 {
					break drain
				}
				time.Sleep(50 * time.Millisecond)
			}
		}
		d.cancel()
		d.wg.Wait()
		if n := len(d.queue); n > 0 {
			d.log.Warn().Int("dropped", n).Msg("undelivered notifications at shutdown")
		}
	})
}
