package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/feedbackhub/gamification/internal/domain/profile"
	"github.com/feedbackhub/gamification/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBSCRIBERS
// Handlers that keep the read side in step with domain events.
// ══════════════════════════════════════════════════════════════════════════════

// handlerTimeout bounds every subscriber's I/O.
const handlerTimeout = 3 * time.Second

// Subscriber is the subscription surface of the bus.
type Subscriber interface {
	Subscribe(eventType shared.EventType, handler shared.EventHandler) error
	SubscribeAll(handler shared.EventHandler) error
}

// ProfileReader loads the stored profile of a user.
type ProfileReader interface {
	GetProfile(ctx context.Context, userID string) (*profile.UserProfile, error)
}

// LeaderboardUpdater writes the user's stored point total into the ranking.
// Async delivery may reorder events, so the payload only says which user
// changed; the score comes from the profile store.
func LeaderboardUpdater(board profile.Leaderboard, profiles ProfileReader) shared.EventHandler {
	return func(event shared.Event) error {
		if _, ok := event.(shared.PointsReconciledEvent); !ok {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()

		p, err := profiles.GetProfile(ctx, event.AggregateID())
		if err != nil {
			return fmt.Errorf("leaderboard: load profile %s: %w", event.AggregateID(), err)
		}
		return board.SetScore(ctx, p.ID, p.Points)
	}
}

// CacheInvalidator drops the cached profile summary of the event's user.
func CacheInvalidator(cache profile.Cache) shared.EventHandler {
	return func(event shared.Event) error {
		if event.AggregateID() == "" {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		return cache.Invalidate(ctx, event.AggregateID())
	}
}

// ChannelPublisher publishes a message on a named channel.
type ChannelPublisher interface {
	Publish(ctx context.Context, channel string, message any) error
}

// Forwarder relays every event as an Envelope to external listeners,
// one channel per event type.
func Forwarder(pub ChannelPublisher, channel func(eventType string) string) shared.EventHandler {
	return func(event shared.Event) error {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		return pub.Publish(ctx, channel(string(event.EventType())), NewEnvelope(event))
	}
}

// EventObserver receives every event, e.g. for metrics.
type EventObserver interface {
	ObserveEvent(event shared.Event)
}

// Observe adapts an EventObserver to a handler.
func Observe(o EventObserver) shared.EventHandler {
	return func(event shared.Event) error {
		o.ObserveEvent(event)
		return nil
	}
}

// ErrLeaderboardWithoutProfiles is returned by Wire when a leaderboard is
// given without the profile store it reads scores from.
var ErrLeaderboardWithoutProfiles = errors.New("messaging: leaderboard wiring needs a profile reader")

// ReadModelWiring lists the optional read-side collaborators; nil ones are skipped.
type ReadModelWiring struct {
	Leaderboard profile.Leaderboard
	Profiles    ProfileReader
	Cache       profile.Cache
	Publisher   ChannelPublisher
	Channel     func(eventType string) string
	Observer    EventObserver
}

// Wire subscribes the read-side handlers.
func Wire(bus Subscriber, w ReadModelWiring) error {
	if w.Leaderboard != nil {
		if w.Profiles == nil {
			return ErrLeaderboardWithoutProfiles
		}
		if err := bus.Subscribe(shared.EventPointsReconciled, LeaderboardUpdater(w.Leaderboard, w.Profiles)); err != nil {
			return err
		}
	}
	if w.Cache != nil {
		if err := bus.SubscribeAll(CacheInvalidator(w.Cache)); err != nil {
			return err
		}
	}
	if w.Publisher != nil && w.Channel != nil {
		if err := bus.SubscribeAll(Forwarder(w.Publisher, w.Channel)); err != nil {
			return err
		}
	}
	if w.Observer != nil {
		if err := bus.SubscribeAll(Observe(w.Observer)); err != nil {
			return err
		}
	}
	return nil
}
