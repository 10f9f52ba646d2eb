package stream

import (
	"sync"

	"github.com/google/uuid"

	"github.com/elementalcollision/graphmemory-stream/pkg/timestamp"
)

// Subscription is one registered consumer of a channel's updates.
type Subscription struct {
	// ID is the opaque handle returned by Subscribe and accepted by
	// Unsubscribe. IDs are never reused within a client.
	ID string

	// Config is the subscription as registered, with defaults applied.
	Config SubscriptionConfig

	// CreatedAt is the Unix-millisecond registration time.
	CreatedAt int64

	callback Callback
}

// subscriptionRegistry indexes live subscriptions by ID for lifecycle
// operations and by channel for message routing. Routing iterates a snapshot,
// so a callback that subscribes or unsubscribes mid-delivery cannot corrupt
// the indexes.
type subscriptionRegistry struct {
	mu        sync.RWMutex
	byID      map[string]*Subscription
	byChannel map[string][]*Subscription
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{
		byID:      make(map[string]*Subscription),
		byChannel: make(map[string][]*Subscription),
	}
}

// add registers cfg and returns the new subscription.
func (r *subscriptionRegistry) add(cfg SubscriptionConfig, cb Callback) *Subscription {
	sub := &Subscription{
		ID:        uuid.NewString(),
		Config:    cfg,
		CreatedAt: timestamp.Now(),
		callback:  cb,
	}

	r.mu.Lock()
	r.byID[sub.ID] = sub
	r.byChannel[cfg.Channel] = append(r.byChannel[cfg.Channel], sub)
	r.mu.Unlock()

	return sub
}

// remove deletes the subscription by ID. Returns the removed subscription,
// or false if the ID is unknown.
func (r *subscriptionRegistry) remove(id string) (*Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	delete(r.byID, id)

	subs := r.byChannel[sub.Config.Channel]
	for i, s := range subs {
		if s.ID == id {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(r.byChannel, sub.Config.Channel)
	} else {
		r.byChannel[sub.Config.Channel] = subs
	}

	return sub, true
}

// get returns the subscription by ID.
func (r *subscriptionRegistry) get(id string) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.byID[id]
	return sub, ok
}

// channelSubs returns a snapshot of the subscriptions on channel, in
// registration order.
func (r *subscriptionRegistry) channelSubs(channel string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.byChannel[channel]
	if len(subs) == 0 {
		return nil
	}
	out := make([]*Subscription, len(subs))
	copy(out, subs)
	return out
}

// all returns a snapshot of every live subscription.
func (r *subscriptionRegistry) all() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Subscription, 0, len(r.byID))
	for _, channel := range r.byChannel {
		out = append(out, channel...)
	}
	return out
}

// count returns the number of live subscriptions.
func (r *subscriptionRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// clear drops every subscription and returns what was removed.
func (r *subscriptionRegistry) clear() []*Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Subscription, 0, len(r.byID))
	for _, sub := range r.byID {
		out = append(out, sub)
	}
	r.byID = make(map[string]*Subscription)
	r.byChannel = make(map[string][]*Subscription)
	return out
}
