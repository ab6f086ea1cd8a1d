package services

import (
	"testing"

	"github.com/prudhvinik1/eventsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConflictResolver_TakeLocal(t *testing.T) {
	// ARRANGE
	resolver := NewConflictResolver(PreferLocal, discardLogger())
	server := sampleEvent("evt-1")
	server.Version = 3
	local := sampleEvent("evt-1")
	local.Venue = "Green Hall"
	local.Description = ""

	// ACT
	resolved, write, err := resolver.Resolve(local, server, models.ResolutionTakeLocal, "")

	// ASSERT: every mutable field comes from local, identity stays with server
	require.NoError(t, err)
	assert.True(t, write)
	assert.Equal(t, "Green Hall", resolved.Venue)
	assert.Equal(t, "", resolved.Description)
	assert.Equal(t, int64(3), resolved.Version, "version is bumped by the write, not the resolver")
	assert.Equal(t, "Blue Room", server.Venue, "server copy must not be modified")
}

func TestConflictResolver_TakeServer_NeverChangesServer(t *testing.T) {
	resolver := NewConflictResolver(PreferLocal, discardLogger())
	server := sampleEvent("evt-1")
	server.Version = 7
	local := sampleEvent("evt-1")
	local.Name = "Something else"
	local.Venue = "Elsewhere"
	local.Latitude = 1

	resolved, write, err := resolver.Resolve(local, server, models.ResolutionTakeServer, "")

	require.NoError(t, err)
	assert.False(t, write, "take-server must not write")
	assert.Equal(t, *server, *resolved)
	assert.Equal(t, int64(7), resolved.Version)
}

func TestConflictResolver_TakeServer_WithoutLocal(t *testing.T) {
	resolver := NewConflictResolver(PreferLocal, discardLogger())
	server := sampleEvent("evt-1")

	resolved, write, err := resolver.Resolve(nil, server, models.ResolutionTakeServer, "")

	require.NoError(t, err)
	assert.False(t, write)
	assert.Equal(t, server.Name, resolved.Name)
}

func TestConflictResolver_Merge_KeepsServerDescriptionWhenLocalEmpty(t *testing.T) {
	resolver := NewConflictResolver(PreferLocal, discardLogger())
	server := sampleEvent("evt-1")
	server.Description = "Server description"
	local := sampleEvent("evt-1")
	local.Description = ""
	local.Venue = "Local venue"

	resolved, write, err := resolver.Resolve(local, server, models.ResolutionMerge, "")

	require.NoError(t, err)
	assert.True(t, write)
	assert.Equal(t, "Server description", resolved.Description)
	assert.Equal(t, "Local venue", resolved.Venue, "local wins non-empty fields")
}

func TestConflictResolver_Merge_PreferServer(t *testing.T) {
	resolver := NewConflictResolver(PreferServer, discardLogger())
	server := sampleEvent("evt-1")
	server.Address = ""
	local := sampleEvent("evt-1")
	local.Venue = "Local venue"
	local.Address = "2 Side St"

	resolved, write, err := resolver.Resolve(local, server, models.ResolutionMerge, "")

	require.NoError(t, err)
	assert.True(t, write)
	assert.Equal(t, "Blue Room", resolved.Venue, "server wins when preferred")
	assert.Equal(t, "2 Side St", resolved.Address, "empty server field falls back to local")
}

func TestConflictResolver_Merge_OverrideAndNoChange(t *testing.T) {
	resolver := NewConflictResolver(PreferLocal, discardLogger())
	server := sampleEvent("evt-1")
	local := sampleEvent("evt-1")
	local.Venue = "Local venue"

	resolved, write, err := resolver.Resolve(local, server, models.ResolutionMerge, PreferServer)

	require.NoError(t, err)
	assert.False(t, write, "merge equal to server needs no write")
	assert.Equal(t, "Blue Room", resolved.Venue)
}

func TestConflictResolver_InvalidInput(t *testing.T) {
	resolver := NewConflictResolver("", discardLogger())
	assert.Equal(t, PreferLocal, resolver.Preference())

	_, _, err := resolver.Resolve(sampleEvent("a"), sampleEvent("a"), models.Resolution("coin-flip"), "")
	assert.ErrorIs(t, err, ErrInvalidResolution)

	_, _, err = resolver.Resolve(nil, sampleEvent("a"), models.ResolutionTakeLocal, "")
	assert.ErrorIs(t, err, ErrInvalidResolution)

	_, _, err = resolver.Resolve(sampleEvent("a"), nil, models.ResolutionMerge, "")
	assert.ErrorIs(t, err, ErrInvalidResolution)
}

func TestParseMergePreference(t *testing.T) {
	pref, err := ParseMergePreference("server")
	require.NoError(t, err)
	assert.Equal(t, PreferServer, pref)

	_, err = ParseMergePreference("newest")
	assert.Error(t, err)
}
