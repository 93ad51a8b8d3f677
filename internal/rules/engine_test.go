package rules

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"physicalmcp/internal/vlm"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store := NewStore(filepath.Join(t.TempDir(), "rules.yaml"))
	e, err := NewEngine(store, 0, zerolog.Nop())
	require.NoError(t, err)
	return e
}

func TestCreateListDelete(t *testing.T) {
	e := newTestEngine(t)

	rule, err := e.Create(Spec{Condition: "a person is at the front door", CameraID: "cam1"})
	require.NoError(t, err)
	assert.True(t, rule.Enabled)
	assert.Equal(t, PriorityMedium, rule.Priority)
	assert.Equal(t, "auto", rule.Notification.Channel)
	assert.Equal(t, "a person is at the front door", rule.Name)

	list := e.List()
	require.Len(t, list, 1)
	assert.Equal(t, rule.ID, list[0].ID)

	require.NoError(t, e.Delete(rule.ID))
	assert.Empty(t, e.List())
	assert.ErrorIs(t, e.Delete(rule.ID), ErrNotFound)
}

func TestCreateIsNotIdempotent(t *testing.T) {
	e := newTestEngine(t)
	r1, err := e.Create(Spec{Condition: "the stove is on"})
	require.NoError(t, err)
	r2, err := e.Create(Spec{Condition: "the stove is on"})
	require.NoError(t, err)
	assert.NotEqual(t, r1.ID, r2.ID, "identical specs yield distinct rules")
	assert.Len(t, e.List(), 2)
}

func TestCreateValidation(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Create(Spec{Condition: "   "})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = e.Create(Spec{Condition: "x", CooldownSeconds: -1})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = e.Create(Spec{Condition: "x", Priority: "URGENT"})
	assert.ErrorIs(t, err, ErrInvalid)

	long := "a very long condition that should be truncated when used as the rule name"
	rule, err := e.Create(Spec{Condition: long})
	require.NoError(t, err)
	assert.Len(t, rule.Name, 48)
}

func TestToggleTwiceRestores(t *testing.T) {
	e := newTestEngine(t)
	rule, err := e.Create(Spec{Condition: "door open"})
	require.NoError(t, err)

	off, err := e.Toggle(rule.ID)
	require.NoError(t, err)
	assert.False(t, off.Enabled)

	on, err := e.Toggle(rule.ID)
	require.NoError(t, err)
	assert.True(t, on.Enabled)

	_, err = e.Toggle("r_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActiveForFiltersAtSelection(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now()

	scoped, err := e.Create(Spec{Condition: "person at door", CameraID: "cam1", CooldownSeconds: 60})
	require.NoError(t, err)
	global, err := e.Create(Spec{Condition: "anything moves"})
	require.NoError(t, err)
	disabled, err := e.Create(Spec{Condition: "pet on sofa", CameraID: "cam1"})
	require.NoError(t, err)
	_, err = e.Toggle(disabled.ID)
	require.NoError(t, err)

	active := e.ActiveFor("cam1", now)
	require.Len(t, active, 2)

	// Other cameras only see the unscoped rule.
	other := e.ActiveFor("cam2", now)
	require.Len(t, other, 1)
	assert.Equal(t, global.ID, other[0].ID)

	// A trigger pushes the scoped rule out of selection until cooldown ends.
	events := e.Evaluate([]vlm.RuleEvaluation{
		{RuleID: scoped.ID, Triggered: true, Confidence: 0.9},
	}, EvalContext{CameraID: "cam1", Now: now})
	require.Len(t, events, 1)

	assert.Len(t, e.ActiveFor("cam1", now.Add(30*time.Second)), 1)
	assert.Len(t, e.ActiveFor("cam1", now.Add(61*time.Second)), 2)

	// HasActive ignores cooldown; the camera still has rules worth sampling.
	assert.True(t, e.HasActive("cam1"))
	assert.True(t, e.HasActive("cam2"))
}

func TestEvaluateConfidenceFloor(t *testing.T) {
	e := newTestEngine(t)
	rule, err := e.Create(Spec{Condition: "package on porch"})
	require.NoError(t, err)

	low := e.Evaluate([]vlm.RuleEvaluation{
		{RuleID: rule.ID, Triggered: true, Confidence: 0.74, Reasoning: "maybe"},
	}, EvalContext{CameraID: "cam1", Now: time.Now()})
	assert.Empty(t, low)

	got, err := e.Get(rule.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastTriggered)
	assert.Zero(t, got.TriggerCount)

	at := e.Evaluate([]vlm.RuleEvaluation{
		{RuleID: rule.ID, Triggered: true, Confidence: 0.75, Reasoning: "clear view"},
	}, EvalContext{CameraID: "cam1", CameraName: "Porch", Now: time.Now()})
	require.Len(t, at, 1)
	assert.Equal(t, rule.ID, at[0].RuleID)
	assert.Equal(t, 0.75, at[0].Confidence)
	assert.Contains(t, at[0].Message, "Porch")

	got, err = e.Get(rule.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastTriggered)
	assert.Equal(t, 1, got.TriggerCount)
}

func TestEvaluateNotTriggeredLeavesState(t *testing.T) {
	e := newTestEngine(t)
	rule, err := e.Create(Spec{Condition: "door open"})
	require.NoError(t, err)

	events := e.Evaluate([]vlm.RuleEvaluation{
		{RuleID: rule.ID, Triggered: false, Confidence: 0.99},
		{RuleID: "r_unknown", Triggered: true, Confidence: 0.99},
	}, EvalContext{Now: time.Now()})
	assert.Empty(t, events)
}

func TestEvaluateCustomMessage(t *testing.T) {
	e := newTestEngine(t)
	rule, err := e.Create(Spec{Condition: "door open", CustomMessage: "Front door alert!"})
	require.NoError(t, err)

	events := e.Evaluate([]vlm.RuleEvaluation{
		{RuleID: rule.ID, Triggered: true, Confidence: 0.9},
	}, EvalContext{Now: time.Now()})
	require.Len(t, events, 1)
	assert.Equal(t, "Front door alert!", events[0].Message)
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	store := NewStore(path)
	e, err := NewEngine(store, 0, zerolog.Nop())
	require.NoError(t, err)

	rule, err := e.Create(Spec{
		Condition:       "a person lingers near the gate",
		CameraID:        "cam1",
		Priority:        "high",
		CooldownSeconds: 120,
		Notification:    Notification{Channel: "telegram"},
	})
	require.NoError(t, err)
	e.Evaluate([]vlm.RuleEvaluation{
		{RuleID: rule.ID, Triggered: true, Confidence: 0.9},
	}, EvalContext{Now: time.Now()})

	// A second engine over the same file sees the full state.
	e2, err := NewEngine(NewStore(path), 0, zerolog.Nop())
	require.NoError(t, err)
	got, err := e2.Get(rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "a person lingers near the gate", got.Condition)
	assert.Equal(t, PriorityHigh, got.Priority)
	assert.Equal(t, 120, got.CooldownSeconds)
	assert.Equal(t, "telegram", got.Notification.Channel)
	assert.Equal(t, 1, got.TriggerCount)
	require.NotNil(t, got.LastTriggered)
}

func TestReloadPreservesTriggerState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	e, err := NewEngine(NewStore(path), 0, zerolog.Nop())
	require.NoError(t, err)

	rule, err := e.Create(Spec{Condition: "door open"})
	require.NoError(t, err)
	e.Evaluate([]vlm.RuleEvaluation{
		{RuleID: rule.ID, Triggered: true, Confidence: 0.9},
	}, EvalContext{Now: time.Now()})

	// Simulate an external edit: rewrite the file with the trigger state
	// stripped and a condition change.
	edited := []*WatchRule{{
		ID:        rule.ID,
		Name:      rule.Name,
		Condition: "door left open for a while",
		Priority:  PriorityMedium,
		Enabled:   true,
		CreatedAt: rule.CreatedAt,
	}}
	require.NoError(t, NewStore(path).Save(edited))
	e.reload(time.Now())

	got, err := e.Get(rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "door left open for a while", got.Condition)
	assert.Equal(t, 1, got.TriggerCount, "in-memory trigger count survives reload")
	assert.NotNil(t, got.LastTriggered)
}

func TestStoreLoadMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "absent.yaml"))
	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)
	assert.True(t, store.ModTime().IsZero())
}

func TestStoreLoadNormalizesAndDrops(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	store := NewStore(path)
	require.NoError(t, store.Save([]*WatchRule{
		{ID: "r_keep", Condition: "x", Priority: "weird", Enabled: true},
		{ID: "", Condition: "no id"},
	}))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "r_keep", loaded[0].ID)
	assert.Equal(t, PriorityMedium, loaded[0].Priority)
}

func TestTemplates(t *testing.T) {
	e := newTestEngine(t)
	templates := Templates()
	require.NotEmpty(t, templates)

	rule, err := e.CreateFromTemplate("person_at_door", "cam1")
	require.NoError(t, err)
	assert.Equal(t, "cam1", rule.CameraID)
	assert.Equal(t, PriorityHigh, rule.Priority)
	assert.NotEmpty(t, rule.Condition)

	_, err = e.CreateFromTemplate("no_such_template", "cam1")
	assert.ErrorIs(t, err, ErrNotFound)
}
