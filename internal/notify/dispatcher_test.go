package notify

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"physicalmcp/internal/alerts"
)

type fakeChannel struct {
	name string
	fail int // fail the first n sends

	mu    sync.Mutex
	sent  []Alert
	calls []time.Time
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(_ context.Context, a Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, time.Now())
	if len(f.calls) <= f.fail {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, a)
	return nil
}

func (f *fakeChannel) wait(t *testing.T, n int) []Alert {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		f.mu.Lock()
		if len(f.sent) >= n {
			out := append([]Alert(nil), f.sent...)
			f.mu.Unlock()
			return out
		}
		f.mu.Unlock()
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d deliveries", n)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestResolveAutoPrefersTelegram(t *testing.T) {
	tg := &fakeChannel{name: "telegram"}
	ntfy := &fakeChannel{name: "ntfy"}
	d := NewDispatcher([]Channel{ntfy, tg}, zerolog.Nop())
	defer d.Close(0)

	assert.Equal(t, "telegram", d.Resolve("auto").Name())
	assert.Equal(t, "ntfy", d.Resolve("ntfy").Name())
	assert.Nil(t, d.Resolve("none"))
	assert.Nil(t, d.Resolve("discord"), "unconfigured channel")
}

func TestResolveAutoFallsThrough(t *testing.T) {
	desk := &fakeChannel{name: "desktop"}
	d := NewDispatcher([]Channel{desk}, zerolog.Nop())
	defer d.Close(0)
	assert.Equal(t, "desktop", d.Resolve("").Name())
}

func TestResolveNothingConfigured(t *testing.T) {
	d := NewDispatcher(nil, zerolog.Nop())
	defer d.Close(0)
	assert.Nil(t, d.Resolve("auto"))
}

func TestDispatchDeliversAlert(t *testing.T) {
	tg := &fakeChannel{name: "telegram"}
	d := NewDispatcher([]Channel{tg}, zerolog.Nop())
	defer d.Close(time.Second)

	photo := []byte{0xFF, 0xD8, 0x01, 0xFF, 0xD9}
	d.Dispatch(alerts.Event{
		EventID:   "evt_1",
		EventType: alerts.EventRuleTriggered,
		RuleName:  "Person at the door",
		Message:   "Watch rule triggered on Porch",
		Priority:  "HIGH",
		Thumbnail: base64.StdEncoding.EncodeToString(photo),
	}, "auto", "")

	sent := tg.wait(t, 1)
	assert.Equal(t, "Alert: Person at the door", sent[0].Title)
	assert.Equal(t, "Watch rule triggered on Porch", sent[0].Body)
	assert.Equal(t, "HIGH", sent[0].Priority)
	assert.Equal(t, photo, sent[0].Photo)
}

func TestDispatchRetriesOnce(t *testing.T) {
	tg := &fakeChannel{name: "telegram", fail: 1}
	d := NewDispatcher([]Channel{tg}, zerolog.Nop())
	d.backoff = 50 * time.Millisecond
	defer d.Close(time.Second)

	d.Dispatch(alerts.Event{EventID: "evt_1", EventType: alerts.EventProviderError, Message: "x"}, "auto", "")
	sent := tg.wait(t, 1)
	require.Len(t, sent, 1)

	tg.mu.Lock()
	assert.Len(t, tg.calls, 2)
	tg.mu.Unlock()
}

func TestDispatchRetryWaitsBeforeSecondAttempt(t *testing.T) {
	tg := &fakeChannel{name: "telegram", fail: 2}
	d := NewDispatcher([]Channel{tg}, zerolog.Nop())
	d.backoff = 120 * time.Millisecond
	defer d.Close(time.Second)

	d.Dispatch(alerts.Event{EventID: "evt_1", EventType: alerts.EventProviderError, Message: "x"}, "auto", "")

	deadline := time.After(2 * time.Second)
	for {
		tg.mu.Lock()
		n := len(tg.calls)
		tg.mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for retry")
		case <-time.After(10 * time.Millisecond):
		}
	}

	tg.mu.Lock()
	gap := tg.calls[1].Sub(tg.calls[0])
	tg.mu.Unlock()
	assert.GreaterOrEqual(t, gap, 120*time.Millisecond)
	assert.Empty(t, tg.sent)
}

type stuckChannel struct {
	name string
	hold time.Duration
}

func (s *stuckChannel) Name() string { return s.name }

func (s *stuckChannel) Send(ctx context.Context, _ Alert) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.hold):
		return nil
	}
}

func TestSlowChannelDoesNotBlockOthers(t *testing.T) {
	slow := &stuckChannel{name: "telegram", hold: time.Minute}
	desk := &fakeChannel{name: "desktop"}
	d := NewDispatcher([]Channel{slow, desk}, zerolog.Nop())
	defer d.Close(0)

	d.Dispatch(alerts.Event{EventID: "evt_1", Message: "x"}, "telegram", "")
	d.Dispatch(alerts.Event{EventID: "evt_2", Message: "y"}, "desktop", "")

	sent := desk.wait(t, 1)
	assert.Equal(t, "y", sent[0].Body)
}

func TestDispatchNoneIsLogOnly(t *testing.T) {
	tg := &fakeChannel{name: "telegram"}
	d := NewDispatcher([]Channel{tg}, zerolog.Nop())
	defer d.Close(0)

	d.Dispatch(alerts.Event{EventID: "evt_1", Message: "x"}, "none", "")
	time.Sleep(50 * time.Millisecond)
	tg.mu.Lock()
	assert.Empty(t, tg.sent)
	tg.mu.Unlock()
}

func TestAlertTitles(t *testing.T) {
	assert.Equal(t, "Watch rule triggered", alertTitle(alerts.Event{EventType: alerts.EventRuleTriggered}))
	assert.Equal(t, "physical-mcp warning", alertTitle(alerts.Event{EventType: alerts.EventStartupWarn}))
	assert.Equal(t, "Vision provider error", alertTitle(alerts.Event{EventType: alerts.EventProviderError}))
	assert.Equal(t, "physical-mcp", alertTitle(alerts.Event{EventType: alerts.EventMCPLog}))
}
