package container

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

//
// -----------------------------------------------------------------------------
// Register / Remove / Definition
// -----------------------------------------------------------------------------

// TestRegister_Validation covers the registration error cases.
func TestRegister_Validation(t *testing.T) {
	t.Parallel()

	s := NewDefinitionStore()

	require.ErrorIs(t, s.Register("", Define[*dbConn]("db")), ErrEmptyName)
	require.ErrorIs(t, s.Register("db", nil), ErrNilDefinition)

	var conflict DefinitionConflictError
	err := s.Register("db", Define[*dbConn]("db").WithParent("db"))
	require.Error(t, err)
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "db", conflict.Name)
}

// TestRegister_OverrideDisallowed verifies the override policy raises a
// conflict instead of replacing.
func TestRegister_OverrideDisallowed(t *testing.T) {
	t.Parallel()

	s := NewDefinitionStore(WithOverride(false))
	require.NoError(t, s.Register("db", Define[*dbConn]("db")))

	err := s.Register("db", Define[*dbConn]("db").Lazy())
	var conflict DefinitionConflictError
	require.True(t, errors.As(err, &conflict))

	// The original definition survives.
	def, err := s.Definition("db")
	require.NoError(t, err)
	assert.False(t, def.IsLazy())
}

// TestRegister_OverrideLogSeverity verifies an allowed override logs louder
// when the incoming role outranks the existing one, quieter when the content
// is equivalent.
func TestRegister_OverrideLogSeverity(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	s := NewDefinitionStore(WithStoreLogger(zap.New(core)))

	require.NoError(t, s.Register("db", Define[*dbConn]("db")))
	require.NoError(t, s.Register("db", Define[*dbConn]("db").WithRole(RoleInfrastructure)))
	require.NoError(t, s.Register("db", Define[*dbConn]("db").WithRole(RoleInfrastructure).Lazy()))
	require.NoError(t, s.Register("db", Define[*dbConn]("db").WithRole(RoleInfrastructure).Lazy()))

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, zapcore.DebugLevel, entries[2].Level)
}

// TestRemove verifies removal, registration-order maintenance and the
// not-found error.
func TestRemove(t *testing.T) {
	t.Parallel()

	s := NewDefinitionStore()
	require.NoError(t, s.Register("a", Define[*dbConn]("a")))
	require.NoError(t, s.Register("b", Define[*dbConn]("b")))

	require.NoError(t, s.Remove("a"))
	assert.Equal(t, []string{"b"}, s.Names())

	var notFound DefinitionNotFoundError
	require.True(t, errors.As(s.Remove("a"), &notFound))
	assert.Equal(t, "a", notFound.Name)
}

//
// -----------------------------------------------------------------------------
// Freeze / Names
// -----------------------------------------------------------------------------

// TestFreeze_SnapshotDroppedByLateRegistration verifies post-freeze
// registration stays legal and refreshes the enumeration.
func TestFreeze_SnapshotDroppedByLateRegistration(t *testing.T) {
	t.Parallel()

	s := NewDefinitionStore()
	require.NoError(t, s.Register("a", Define[*dbConn]("a")))

	s.Freeze()
	require.True(t, s.IsFrozen())
	assert.Equal(t, []string{"a"}, s.Names())

	require.NoError(t, s.Register("b", Define[*dbConn]("b")))
	assert.Equal(t, []string{"a", "b"}, s.Names())
}

//
// -----------------------------------------------------------------------------
// Aliases
// -----------------------------------------------------------------------------

// TestRegisterAlias covers chains, shadowing, cycles and re-pointing.
func TestRegisterAlias(t *testing.T) {
	t.Parallel()

	s := NewDefinitionStore()
	require.NoError(t, s.Register("db", Define[*dbConn]("db")))

	require.NoError(t, s.RegisterAlias("db", "primary"))
	require.NoError(t, s.RegisterAlias("primary", "main"))
	assert.Equal(t, "db", s.Canonical("main"))
	assert.Equal(t, "db", s.Canonical("primary"))
	assert.Equal(t, "db", s.Canonical("db"))

	// Self-alias is a no-op.
	require.NoError(t, s.RegisterAlias("db", "db"))

	// An alias may not shadow a definition.
	var conflict DefinitionConflictError
	require.True(t, errors.As(s.RegisterAlias("primary", "db"), &conflict))

	aliases := s.Aliases("db")
	assert.ElementsMatch(t, []string{"primary", "main"}, aliases)
}

// TestRegisterAlias_Cycle verifies an alias pointing back into its own chain
// is rejected.
func TestRegisterAlias_Cycle(t *testing.T) {
	t.Parallel()

	s := NewDefinitionStore()
	require.NoError(t, s.RegisterAlias("b", "a")) // a -> b
	err := s.RegisterAlias("a", "b")              // b -> a would loop
	var conflict DefinitionConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "b", conflict.Name)
}

// TestRegisterAlias_OverridePolicy verifies re-pointing follows the override
// policy.
func TestRegisterAlias_OverridePolicy(t *testing.T) {
	t.Parallel()

	s := NewDefinitionStore(WithOverride(false))
	require.NoError(t, s.RegisterAlias("db", "primary"))

	err := s.RegisterAlias("cache", "primary")
	var conflict DefinitionConflictError
	require.True(t, errors.As(err, &conflict))

	// Same target is not an override.
	require.NoError(t, s.RegisterAlias("db", "primary"))
}

//
// -----------------------------------------------------------------------------
// Merged — parent-chain folding and cache invalidation
// -----------------------------------------------------------------------------

// TestMerged_ParentChain verifies a two-level chain folds child over parent.
func TestMerged_ParentChain(t *testing.T) {
	t.Parallel()

	s := NewDefinitionStore()
	require.NoError(t, s.Register("base", Define[*dbConn]("base").Abstract().Lazy()))
	require.NoError(t, s.Register("mid", NewDefinition("mid", nil).WithParent("base").WithPriority(2)))
	require.NoError(t, s.Register("leaf", NewDefinition("leaf", nil).WithParent("mid").WithScope(ScopePrototype)))

	m, err := s.Merged("leaf")
	require.NoError(t, err)
	assert.Equal(t, "leaf", m.Name())
	assert.Equal(t, TypeOf[*dbConn](), m.Type())
	assert.True(t, m.IsLazy())
	assert.False(t, m.IsAbstract())
	assert.Equal(t, ScopePrototype, m.ScopeName())
	p, ok := m.PriorityValue()
	require.True(t, ok)
	assert.Equal(t, 2, p)

	// The abstract root merges to itself and stays abstract.
	root, err := s.Merged("base")
	require.NoError(t, err)
	assert.True(t, root.IsAbstract())
}

// TestMerged_ParentMissing verifies a dangling parent reference is a conflict,
// not a not-found.
func TestMerged_ParentMissing(t *testing.T) {
	t.Parallel()

	s := NewDefinitionStore()
	require.NoError(t, s.Register("leaf", NewDefinition("leaf", nil).WithParent("ghost")))

	_, err := s.Merged("leaf")
	var conflict DefinitionConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "leaf", conflict.Name)
}

// TestMerged_ParentCycle verifies a parent-reference loop is detected.
func TestMerged_ParentCycle(t *testing.T) {
	t.Parallel()

	s := NewDefinitionStore()
	require.NoError(t, s.Register("a", NewDefinition("a", nil).WithParent("b")))
	require.NoError(t, s.Register("b", NewDefinition("b", nil).WithParent("a")))

	_, err := s.Merged("a")
	var conflict DefinitionConflictError
	require.True(t, errors.As(err, &conflict))
}

// TestMerged_InvalidationCascadesToChildren verifies re-registering a parent
// invalidates cached merged views of its descendants.
func TestMerged_InvalidationCascadesToChildren(t *testing.T) {
	t.Parallel()

	s := NewDefinitionStore()
	require.NoError(t, s.Register("base", Define[*dbConn]("base").Abstract()))
	require.NoError(t, s.Register("leaf", NewDefinition("leaf", nil).WithParent("base")))

	m, err := s.Merged("leaf")
	require.NoError(t, err)
	assert.False(t, m.IsLazy())

	require.NoError(t, s.Register("base", Define[*dbConn]("base").Abstract().Lazy()))

	m, err = s.Merged("leaf")
	require.NoError(t, err)
	assert.True(t, m.IsLazy())
}

//
// -----------------------------------------------------------------------------
// Parent store chaining
// -----------------------------------------------------------------------------

// TestParentStore_LookupAndShadowing verifies ancestor fallback, local-only
// Contains and shadow-aware enumeration.
func TestParentStore_LookupAndShadowing(t *testing.T) {
	t.Parallel()

	parent := NewDefinitionStore()
	require.NoError(t, parent.Register("db", Define[*dbConn]("db")))
	require.NoError(t, parent.Register("cache", Define[*dbConn]("cache")))

	child := NewDefinitionStore(WithParentStore(parent))
	require.NoError(t, child.Register("cache", Define[*dbConn]("cache").Lazy()))
	require.NoError(t, child.Register("local", Define[*dbConn]("local")))

	// Definition falls back to the ancestor.
	def, err := child.Definition("db")
	require.NoError(t, err)
	assert.Equal(t, "db", def.Name())

	// Contains is local only.
	assert.False(t, child.Contains("db"))
	assert.True(t, child.Contains("cache"))

	// Ancestors first, shadowed names dropped.
	assert.Equal(t, []string{"db", "cache", "local"}, child.NamesIncludingAncestors())

	// The local definition shadows the inherited one in Merged too.
	m, err := child.Merged("cache")
	require.NoError(t, err)
	assert.True(t, m.IsLazy())
}
