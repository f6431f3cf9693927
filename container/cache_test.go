package container

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct{ id string }

//
// -----------------------------------------------------------------------------
// GetSingleton / RegisterInstance
// -----------------------------------------------------------------------------

// TestGetSingleton_Missing verifies an unknown name is simply absent.
func TestGetSingleton_Missing(t *testing.T) {
	t.Parallel()

	c := NewInstanceCache(nil)
	v, ok := c.GetSingleton("ghost")
	assert.False(t, ok)
	assert.Nil(t, v)
	assert.False(t, c.ContainsSingleton("ghost"))
	assert.False(t, c.IsInCreation("ghost"))
}

// TestRegisterInstance verifies pre-built instances land in the completed tier
// in registration order.
func TestRegisterInstance(t *testing.T) {
	t.Parallel()

	c := NewInstanceCache(nil)
	a, b := &widget{id: "a"}, &widget{id: "b"}
	c.RegisterInstance("a", a)
	c.RegisterInstance("b", b)

	got, ok := c.GetSingleton("a")
	require.True(t, ok)
	assert.Same(t, a, got)
	assert.True(t, c.ContainsSingleton("b"))
	assert.Equal(t, []string{"a", "b"}, c.SingletonNames())

	// Re-registering replaces without duplicating the order entry.
	c.RegisterInstance("a", b)
	assert.Equal(t, []string{"a", "b"}, c.SingletonNames())
}

//
// -----------------------------------------------------------------------------
// CreateSingleton — three-tier protocol
// -----------------------------------------------------------------------------

// TestCreateSingleton_Completes verifies the happy path moves the instance to
// the completed tier and clears the in-creation mark.
func TestCreateSingleton_Completes(t *testing.T) {
	t.Parallel()

	c := NewInstanceCache(nil)
	w := &widget{id: "w"}

	got, err := c.CreateSingleton("w", func(expose func(func() any)) (any, error) {
		assert.True(t, c.IsInCreation("w"))
		return w, nil
	})
	require.NoError(t, err)
	assert.Same(t, w, got)
	assert.True(t, c.ContainsSingleton("w"))
	assert.False(t, c.IsInCreation("w"))

	// A second create returns the completed instance without rebuilding.
	got, err = c.CreateSingleton("w", func(func(func() any)) (any, error) {
		t.Fatal("must not rebuild a completed singleton")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Same(t, w, got)
}

// TestCreateSingleton_EarlyReferenceVisibleDuringConstruction verifies the
// exposed one-shot factory mints the early reference dependents see mid-cycle,
// and that it is invoked at most once.
func TestCreateSingleton_EarlyReferenceVisibleDuringConstruction(t *testing.T) {
	t.Parallel()

	c := NewInstanceCache(nil)
	w := &widget{id: "w"}
	mints := 0

	_, err := c.CreateSingleton("w", func(expose func(func() any)) (any, error) {
		// Before exposure nothing is visible.
		_, ok := c.GetSingleton("w")
		assert.False(t, ok)

		expose(func() any {
			mints++
			return w
		})

		early, ok := c.GetSingleton("w")
		require.True(t, ok)
		assert.Same(t, w, early)

		// The factory is one-shot; repeated lookups hit the early tier.
		early, ok = c.GetSingleton("w")
		require.True(t, ok)
		assert.Same(t, w, early)
		assert.Equal(t, 1, mints)
		return w, nil
	})
	require.NoError(t, err)
}

// TestCreateSingleton_ReentrantCreateIsCircular verifies re-entering creation
// for the same name without an exposed reference raises
// CircularReferenceError.
func TestCreateSingleton_ReentrantCreateIsCircular(t *testing.T) {
	t.Parallel()

	c := NewInstanceCache(nil)

	_, err := c.CreateSingleton("w", func(func(func() any)) (any, error) {
		_, inner := c.CreateSingleton("w", func(func(func() any)) (any, error) {
			return &widget{}, nil
		})
		return nil, inner
	})

	var circular CircularReferenceError
	require.True(t, errors.As(err, &circular))
	assert.Equal(t, "w", circular.Name)
	// Failure leaves no trace.
	assert.False(t, c.IsInCreation("w"))
	assert.False(t, c.ContainsSingleton("w"))
}

// TestCreateSingleton_FailureClearsAllTiers verifies a failed construction
// leaves no partial singleton behind, even after exposure.
func TestCreateSingleton_FailureClearsAllTiers(t *testing.T) {
	t.Parallel()

	c := NewInstanceCache(nil)
	boom := errors.New("boom")

	_, err := c.CreateSingleton("w", func(expose func(func() any)) (any, error) {
		expose(func() any { return &widget{} })
		_, ok := c.GetSingleton("w") // pull the early reference out
		require.True(t, ok)
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	_, ok := c.GetSingleton("w")
	assert.False(t, ok)
	assert.False(t, c.IsInCreation("w"))
	assert.Empty(t, c.SingletonNames())
}

//
// -----------------------------------------------------------------------------
// Destruction
// -----------------------------------------------------------------------------

// TestDestroySingletons_ReverseOrderWithDependentsFirst verifies reverse
// completion order with recorded dependents destroyed ahead of their
// dependencies.
func TestDestroySingletons_ReverseOrderWithDependentsFirst(t *testing.T) {
	t.Parallel()

	c := NewInstanceCache(nil)
	var destroyed []string
	track := func(name string) func(any) error {
		return func(any) error {
			destroyed = append(destroyed, name)
			return nil
		}
	}

	for _, name := range []string{"a", "b", "c"} {
		c.RegisterInstance(name, &widget{id: name})
		c.RegisterDestroyer(name, track(name))
	}
	// a holds a reference to c, so a must go before c.
	c.RegisterDependent("c", "a")

	c.DestroySingletons()

	assert.Equal(t, []string{"a", "c", "b"}, destroyed)
	assert.Empty(t, c.SingletonNames())
}

// TestDestroySingletons_HookFailureDoesNotAbort verifies one failing destroy
// hook never starves the rest.
func TestDestroySingletons_HookFailureDoesNotAbort(t *testing.T) {
	t.Parallel()

	c := NewInstanceCache(nil)
	var destroyed []string

	c.RegisterInstance("bad", &widget{id: "bad"})
	c.RegisterDestroyer("bad", func(any) error { return errors.New("boom") })
	c.RegisterInstance("good", &widget{id: "good"})
	c.RegisterDestroyer("good", func(any) error {
		destroyed = append(destroyed, "good")
		return nil
	})

	c.DestroySingletons()

	assert.Equal(t, []string{"good"}, destroyed)
	assert.Empty(t, c.SingletonNames())
}

type disposableWidget struct{ destroyed *bool }

func (d *disposableWidget) Destroy() error {
	*d.destroyed = true
	return nil
}

// TestDestroySingleton_HonorsDisposableAndScopesToOneName verifies targeted
// destruction runs the Disposable hook and leaves unrelated singletons alone.
func TestDestroySingleton_HonorsDisposableAndScopesToOneName(t *testing.T) {
	t.Parallel()

	c := NewInstanceCache(nil)
	gone := false
	c.RegisterInstance("victim", &disposableWidget{destroyed: &gone})
	c.RegisterInstance("bystander", &widget{id: "b"})

	c.DestroySingleton("victim")

	assert.True(t, gone)
	assert.False(t, c.ContainsSingleton("victim"))
	assert.True(t, c.ContainsSingleton("bystander"))
	assert.Equal(t, []string{"bystander"}, c.SingletonNames())
}

// TestDestroySingleton_TakesDependentsAlong verifies dependents of the victim
// are destroyed with it.
func TestDestroySingleton_TakesDependentsAlong(t *testing.T) {
	t.Parallel()

	c := NewInstanceCache(nil)
	c.RegisterInstance("db", &widget{id: "db"})
	c.RegisterInstance("repo", &widget{id: "repo"})
	c.RegisterDependent("db", "repo")

	c.DestroySingleton("db")

	assert.False(t, c.ContainsSingleton("db"))
	assert.False(t, c.ContainsSingleton("repo"))
}

// TestClear releases every tier and all bookkeeping.
func TestClear(t *testing.T) {
	t.Parallel()

	c := NewInstanceCache(nil)
	c.RegisterInstance("a", &widget{})
	c.RegisterDestroyer("a", func(any) error {
		t.Fatal("clear must not run destroy hooks")
		return nil
	})

	c.Clear()

	assert.Empty(t, c.SingletonNames())
	assert.False(t, c.ContainsSingleton("a"))
}
