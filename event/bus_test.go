package event_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sghaida/krate/event"
)

type recorder struct{ got []event.Event }

func (r *recorder) OnEvent(e event.Event) error {
	r.got = append(r.got, e)
	return nil
}

type prioListener struct {
	tag      string
	priority int
	log      *[]string
}

func (l *prioListener) OnEvent(event.Event) error {
	*l.log = append(*l.log, l.tag)
	return nil
}

func (l *prioListener) Priority() int { return l.priority }

//
// -----------------------------------------------------------------------------
// Buffering / Activate
// -----------------------------------------------------------------------------

// TestPublish_BuffersUntilActivate verifies early publishes are held and
// flushed in insertion order exactly once.
func TestPublish_BuffersUntilActivate(t *testing.T) {
	t.Parallel()

	b := event.NewBus()
	r := &recorder{}
	b.AddListener(r)

	require.NoError(t, b.Publish("one"))
	require.NoError(t, b.Publish("two"))
	assert.Empty(t, r.got)

	require.NoError(t, b.Activate())
	assert.Equal(t, []event.Event{"one", "two"}, r.got)

	// After activation delivery is immediate.
	require.NoError(t, b.Publish("three"))
	assert.Equal(t, []event.Event{"one", "two", "three"}, r.got)
}

// TestActivate_FlushStopsOnFirstError verifies a failing buffered delivery
// aborts the flush and surfaces the error.
func TestActivate_FlushStopsOnFirstError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	b := event.NewBus()
	r := &recorder{}
	b.AddListener(event.ListenerFunc(func(e event.Event) error {
		if e == "bad" {
			return boom
		}
		return nil
	}))
	b.AddListener(r)

	require.NoError(t, b.Publish("ok"))
	require.NoError(t, b.Publish("bad"))
	require.NoError(t, b.Publish("never"))

	require.ErrorIs(t, b.Activate(), boom)
	assert.Equal(t, []event.Event{"ok"}, r.got)
}

// TestDiscardBuffer verifies dropped events are never delivered.
func TestDiscardBuffer(t *testing.T) {
	t.Parallel()

	b := event.NewBus()
	r := &recorder{}
	b.AddListener(r)

	require.NoError(t, b.Publish("dropped"))
	b.DiscardBuffer()
	require.NoError(t, b.Activate())
	assert.Empty(t, r.got)
}

// TestStartBuffering_ReopensTheBuffer verifies a bus can return to buffering
// mode for another bootstrap cycle.
func TestStartBuffering_ReopensTheBuffer(t *testing.T) {
	t.Parallel()

	b := event.NewBus()
	r := &recorder{}
	b.AddListener(r)
	require.NoError(t, b.Activate())

	b.StartBuffering()
	require.NoError(t, b.Publish("held"))
	assert.Empty(t, r.got)

	require.NoError(t, b.Activate())
	assert.Equal(t, []event.Event{"held"}, r.got)
}

//
// -----------------------------------------------------------------------------
// Listener ordering
// -----------------------------------------------------------------------------

// TestDelivery_PriorityThenRegistrationOrder verifies prioritized listeners go
// first in ascending order, then unprioritized ones in registration order.
func TestDelivery_PriorityThenRegistrationOrder(t *testing.T) {
	t.Parallel()

	var log []string
	b := event.NewBus()
	b.AddListener(&prioListener{tag: "p10", priority: 10, log: &log})
	b.AddListener(event.ListenerFunc(func(event.Event) error {
		log = append(log, "plain1")
		return nil
	}))
	b.AddListener(&prioListener{tag: "p1", priority: 1, log: &log})
	b.AddListener(event.ListenerFunc(func(event.Event) error {
		log = append(log, "plain2")
		return nil
	}))

	require.NoError(t, b.Activate())
	require.NoError(t, b.Publish("go"))

	assert.Equal(t, []string{"p1", "p10", "plain1", "plain2"}, log)
}

// TestAddListenerWithPriority_OverridesInterface verifies the explicit
// priority wins over the Prioritized implementation.
func TestAddListenerWithPriority_OverridesInterface(t *testing.T) {
	t.Parallel()

	var log []string
	b := event.NewBus()
	b.AddListener(&prioListener{tag: "iface5", priority: 5, log: &log})
	b.AddListenerWithPriority(&prioListener{tag: "forced1", priority: 99, log: &log}, 1)

	require.NoError(t, b.Activate())
	require.NoError(t, b.Publish("go"))

	assert.Equal(t, []string{"forced1", "iface5"}, log)
}

// TestRemoveListener verifies removed listeners receive nothing further.
func TestRemoveListener(t *testing.T) {
	t.Parallel()

	b := event.NewBus()
	r := &recorder{}
	b.AddListener(r)
	require.NoError(t, b.Activate())

	require.NoError(t, b.Publish("first"))
	b.RemoveListener(r)
	require.NoError(t, b.Publish("second"))

	assert.Equal(t, []event.Event{"first"}, r.got)
}

// TestAddListener_IgnoresDuplicates verifies re-adding a registered listener
// does not duplicate delivery, regardless of which registration path re-adds
// it.
func TestAddListener_IgnoresDuplicates(t *testing.T) {
	t.Parallel()

	b := event.NewBus()
	r := &recorder{}
	b.AddListener(r)
	b.AddListener(r)
	b.AddListenerWithPriority(r, 1)

	require.NoError(t, b.Activate())
	require.NoError(t, b.Publish("once"))

	assert.Equal(t, []event.Event{"once"}, r.got)
}

// TestSnapshotRestore verifies the listener set can be captured and restored,
// dropping listeners registered in between.
func TestSnapshotRestore(t *testing.T) {
	t.Parallel()

	b := event.NewBus()
	kept := &recorder{}
	b.AddListener(kept)
	set := b.Snapshot()

	transient := &recorder{}
	b.AddListener(transient)
	b.Restore(set)

	require.NoError(t, b.Activate())
	require.NoError(t, b.Publish("go"))

	assert.Len(t, kept.got, 1)
	assert.Empty(t, transient.got)
}

//
// -----------------------------------------------------------------------------
// Error handling and re-entrancy
// -----------------------------------------------------------------------------

// TestPublish_StopsAtFirstListenerError verifies serial delivery aborts on the
// first failure and later listeners see nothing.
func TestPublish_StopsAtFirstListenerError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	b := event.NewBus()
	b.AddListener(event.ListenerFunc(func(event.Event) error { return boom }))
	late := &recorder{}
	b.AddListener(late)

	require.NoError(t, b.Activate())
	require.ErrorIs(t, b.Publish("go"), boom)
	assert.Empty(t, late.got)
}

// TestPublishQuiet_LogsAndContinues verifies quiet publishing swallows
// listener failures and still reaches the rest.
func TestPublishQuiet_LogsAndContinues(t *testing.T) {
	t.Parallel()

	b := event.NewBus()
	b.AddListener(event.ListenerFunc(func(event.Event) error { return errors.New("boom") }))
	late := &recorder{}
	b.AddListener(late)

	require.NoError(t, b.Activate())
	b.PublishQuiet("bye")
	assert.Equal(t, []event.Event{"bye"}, late.got)
}

// TestListenerMayPublishDuringDelivery verifies delivery runs outside the bus
// lock, so a listener can publish a follow-up event.
func TestListenerMayPublishDuringDelivery(t *testing.T) {
	t.Parallel()

	b := event.NewBus()
	r := &recorder{}
	b.AddListener(event.ListenerFunc(func(e event.Event) error {
		if e == "first" {
			return b.Publish("second")
		}
		return nil
	}))
	b.AddListener(r)

	require.NoError(t, b.Activate())
	require.NoError(t, b.Publish("first"))

	assert.Contains(t, r.got, event.Event("first"))
	assert.Contains(t, r.got, event.Event("second"))
}

//
// -----------------------------------------------------------------------------
// Parent propagation
// -----------------------------------------------------------------------------

// TestParentPropagation verifies events reach the parent bus after local
// delivery, including quiet publishes.
func TestParentPropagation(t *testing.T) {
	t.Parallel()

	parent := event.NewBus()
	upstream := &recorder{}
	parent.AddListener(upstream)
	require.NoError(t, parent.Activate())

	child := event.NewBus(event.WithParent(parent))
	local := &recorder{}
	child.AddListener(local)
	require.NoError(t, child.Activate())

	require.NoError(t, child.Publish("shared"))
	assert.Equal(t, []event.Event{"shared"}, local.got)
	assert.Equal(t, []event.Event{"shared"}, upstream.got)

	child.PublishQuiet("quiet")
	assert.Equal(t, []event.Event{"shared", "quiet"}, upstream.got)
}

//
// -----------------------------------------------------------------------------
// Custom multicaster
// -----------------------------------------------------------------------------

type countingMulticaster struct {
	events []event.Event
	inner  event.SerialMulticaster
}

func (m *countingMulticaster) Multicast(e event.Event, listeners []event.Listener) error {
	m.events = append(m.events, e)
	return m.inner.Multicast(e, listeners)
}

// TestSetMulticaster verifies an installed collaborator handles both the
// flush and subsequent publishes.
func TestSetMulticaster(t *testing.T) {
	t.Parallel()

	b := event.NewBus()
	mc := &countingMulticaster{}
	b.SetMulticaster(mc)

	require.NoError(t, b.Publish("buffered"))
	require.NoError(t, b.Activate())
	require.NoError(t, b.Publish("live"))

	assert.Equal(t, []event.Event{"buffered", "live"}, mc.events)
}
