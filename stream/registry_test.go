package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AddAssignsUniqueIDs(t *testing.T) {
	r := newSubscriptionRegistry()

	a := r.add(SubscriptionConfig{Channel: "x"}, nil)
	b := r.add(SubscriptionConfig{Channel: "x"}, nil)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.NotZero(t, a.CreatedAt)
	assert.Equal(t, 2, r.count())
}

func TestRegistry_ChannelRouting(t *testing.T) {
	r := newSubscriptionRegistry()

	a := r.add(SubscriptionConfig{Channel: "memory"}, nil)
	b := r.add(SubscriptionConfig{Channel: "memory"}, nil)
	r.add(SubscriptionConfig{Channel: "analytics"}, nil)

	subs := r.channelSubs("memory")
	require.Len(t, subs, 2)
	// Registration order is preserved
	assert.Equal(t, a.ID, subs[0].ID)
	assert.Equal(t, b.ID, subs[1].ID)

	assert.Nil(t, r.channelSubs("unknown"))
}

func TestRegistry_RemoveMaintainsIndexes(t *testing.T) {
	r := newSubscriptionRegistry()

	a := r.add(SubscriptionConfig{Channel: "memory"}, nil)
	b := r.add(SubscriptionConfig{Channel: "memory"}, nil)

	removed, ok := r.remove(a.ID)
	require.True(t, ok)
	assert.Equal(t, a.ID, removed.ID)
	assert.Equal(t, 1, r.count())

	subs := r.channelSubs("memory")
	require.Len(t, subs, 1)
	assert.Equal(t, b.ID, subs[0].ID)

	// Unknown and repeated removals report not-found
	_, ok = r.remove(a.ID)
	assert.False(t, ok)
	_, ok = r.remove("missing")
	assert.False(t, ok)

	// Last removal drops the channel index entirely
	_, ok = r.remove(b.ID)
	require.True(t, ok)
	assert.Nil(t, r.channelSubs("memory"))
	assert.Zero(t, r.count())
}

func TestRegistry_SnapshotIsolation(t *testing.T) {
	r := newSubscriptionRegistry()

	a := r.add(SubscriptionConfig{Channel: "memory"}, nil)
	snapshot := r.channelSubs("memory")

	// Mutating the registry does not invalidate the snapshot
	_, ok := r.remove(a.ID)
	require.True(t, ok)
	require.Len(t, snapshot, 1)
	assert.Equal(t, a.ID, snapshot[0].ID)
}

func TestRegistry_Clear(t *testing.T) {
	r := newSubscriptionRegistry()

	r.add(SubscriptionConfig{Channel: "a"}, nil)
	r.add(SubscriptionConfig{Channel: "b"}, nil)

	removed := r.clear()
	assert.Len(t, removed, 2)
	assert.Zero(t, r.count())
	assert.Empty(t, r.all())
}

func TestRegistry_Get(t *testing.T) {
	r := newSubscriptionRegistry()

	a := r.add(SubscriptionConfig{Channel: "a", BufferSize: 7}, nil)

	sub, ok := r.get(a.ID)
	require.True(t, ok)
	assert.Equal(t, 7, sub.Config.BufferSize)

	_, ok = r.get("missing")
	assert.False(t, ok)
}
