// Package worker reacts to review events published on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/loandesk/internal/domain"
	"github.com/opensource-finance/loandesk/internal/review"
)

// claimWindow bounds how long a transition's notification claim is held.
const claimWindow = time.Hour

// Directory lists the reviewers who may be notified.
type Directory interface {
	ListUsers(ctx context.Context) ([]*domain.User, error)
}

// Worker keeps the local cache consistent with writes made by any instance
// and tells reviewers when an application reaches them.
type Worker struct {
	bus      domain.EventBus
	cache    domain.Cache
	dir      Directory
	notifier domain.Notifier

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a worker. cache, dir and notifier may be nil.
func NewWorker(bus domain.EventBus, cache domain.Cache, dir Directory, notifier domain.Notifier) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		cache:    cache,
		dir:      dir,
		notifier: notifier,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the application topics.
func (w *Worker) Start() error {
	handlers := map[string]domain.MessageHandler{
		domain.TopicApplicationTransitioned: w.handleTransition,
		domain.TopicApplicationSaved:        w.handleSaved,
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for topic, h := range handlers {
		sub, err := w.bus.Subscribe(w.ctx, topic, h)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	slog.Info("worker started", "subscriptions", len(w.subscriptions))
	return nil
}

func (w *Worker) handleSaved(ctx context.Context, msg *domain.Message) error {
	var ev domain.SavedEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		slog.Error("failed to parse saved event", "message_id", msg.ID, "error", err)
		return err
	}
	w.invalidate(ctx, ev.AppNumber)
	return nil
}

func (w *Worker) handleTransition(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var ev domain.TransitionEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		slog.Error("failed to parse transition event", "message_id", msg.ID, "error", err)
		return err
	}
	w.invalidate(ctx, ev.AppNumber)

	// Every instance receives the event; only the one that claims it notifies.
	if !w.claim(ctx, msg.ID) {
		slog.Debug("transition notifications claimed elsewhere", "app_number", ev.AppNumber, "message_id", msg.ID)
		return nil
	}

	notified, err := w.notifyNextReviewers(ctx, &ev)
	if err != nil {
		slog.Error("failed to notify reviewers", "app_number", ev.AppNumber, "error", err)
		return err
	}

	slog.Info("transition event processed",
		"app_number", ev.AppNumber,
		"status", ev.ToStatus,
		"stage", ev.ToStage,
		"notified", notified,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// invalidate drops what this instance may have cached about an application.
func (w *Worker) invalidate(ctx context.Context, appNumber string) {
	if w.cache == nil {
		return
	}
	for _, key := range []string{domain.ApplicationCacheKey(appNumber), domain.CacheKeyStatusCounts} {
		if err := w.cache.Delete(ctx, key); err != nil {
			slog.Warn("failed to invalidate cache", "key", key, "error", err)
		}
	}
}

// claim reports whether this instance should notify for a message. The
// shared counter lets exactly one of several workers win; a counter failure
// falls back to notifying.
func (w *Worker) claim(ctx context.Context, messageID string) bool {
	if w.cache == nil || messageID == "" {
		return true
	}
	n, err := w.cache.IncrementCounter(ctx, "notified:"+messageID, claimWindow)
	if err != nil {
		slog.Warn("failed to claim transition notifications", "message_id", messageID, "error", err)
		return true
	}
	return n == 1
}

// notifyNextReviewers notifies every user other than the actor who has an
// enabled action on the application in its new state.
func (w *Worker) notifyNextReviewers(ctx context.Context, ev *domain.TransitionEvent) (int, error) {
	if w.dir == nil || w.notifier == nil {
		return 0, nil
	}
	users, err := w.dir.ListUsers(ctx)
	if err != nil {
		return 0, err
	}

	notified := 0
	for _, u := range users {
		if strings.EqualFold(u.Name, ev.Actor) {
			continue
		}
		view := review.ResolveView(string(ev.ToStatus), ev.ToStage, u.Role)
		if len(view.ButtonsEnabled) == 0 {
			continue
		}
		if err := w.notifier.Notify(ctx, transitionNotification(u, ev, view)); err != nil {
			slog.Warn("notification failed", "user", u.Name, "app_number", ev.AppNumber, "error", err)
			continue
		}
		notified++
	}
	return notified, nil
}

func transitionNotification(u *domain.User, ev *domain.TransitionEvent, view domain.ViewPermissions) *domain.Notification {
	actions := make([]string, len(view.ButtonsEnabled))
	for i, a := range view.ButtonsEnabled {
		actions[i] = string(a)
	}
	return &domain.Notification{
		Recipient: u.Name,
		Email:     u.Email,
		Subject:   fmt.Sprintf("Application %s awaits your review", ev.AppNumber),
		Body: fmt.Sprintf("%s moved %s (%s) to %s / %s.\nAvailable actions: %s.",
			ev.Actor, ev.AppNumber, ev.ApplicantName, ev.ToStatus, ev.ToStage, strings.Join(actions, ", ")),
	}
}

// Stop unsubscribes and cancels in-flight handlers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
