package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opensource-finance/loandesk/internal/domain"
)

// Directory lists reviewers and the applications awaiting each of them.
type Directory interface {
	ListUsers(ctx context.Context) ([]*domain.User, error)
	PendingFor(ctx context.Context, userName string) ([]*domain.Application, error)
}

// Digest periodically tells each reviewer how many applications await them.
type Digest struct {
	dir      Directory
	notifier domain.Notifier
	cache    domain.Cache
	window   time.Duration
	cron     *cron.Cron
}

// NewDigest creates a digest job. Repeat digests to the same user within
// window are suppressed through a cache counter.
func NewDigest(dir Directory, notifier domain.Notifier, cache domain.Cache, window time.Duration) *Digest {
	if window <= 0 {
		window = time.Hour
	}
	return &Digest{
		dir:      dir,
		notifier: notifier,
		cache:    cache,
		window:   window,
	}
}

// Start schedules the digest with a standard five-field cron spec.
func (d *Digest) Start(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid digest schedule %q: %w", spec, err)
	}

	d.cron = cron.New()
	if _, err := d.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := d.Run(ctx); err != nil {
			slog.Error("digest run failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule digest: %w", err)
	}
	d.cron.Start()

	slog.Info("digest scheduled", "schedule", spec, "window", d.window)
	return nil
}

// Stop halts the schedule and waits for a running digest to finish.
func (d *Digest) Stop(ctx context.Context) {
	if d.cron == nil {
		return
	}
	select {
	case <-d.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Run sends one digest round and returns how many notifications went out.
func (d *Digest) Run(ctx context.Context) (int, error) {
	users, err := d.dir.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list users: %w", err)
	}

	sent := 0
	for _, u := range users {
		pending, err := d.dir.PendingFor(ctx, u.Name)
		if err != nil {
			slog.WarnContext(ctx, "digest skipped user", "user", u.Name, "error", err)
			continue
		}
		if len(pending) == 0 {
			continue
		}

		if d.cache != nil {
			n, err := d.cache.IncrementCounter(ctx, "digest:"+strings.ToLower(u.Name), d.window)
			if err == nil && n > 1 {
				continue
			}
		}

		if err := d.notifier.Notify(ctx, digestNotification(u, pending)); err != nil {
			slog.WarnContext(ctx, "digest delivery failed", "user", u.Name, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

func digestNotification(u *domain.User, pending []*domain.Application) *domain.Notification {
	var b strings.Builder
	fmt.Fprintf(&b, "%d application(s) await your review:\n", len(pending))
	for _, app := range pending {
		fmt.Fprintf(&b, "  %s  %s  %s / %s\n", app.AppNumber, app.ApplicantName, app.Status, app.Stage)
	}
	return &domain.Notification{
		Recipient: u.Name,
		Email:     u.Email,
		Subject:   fmt.Sprintf("LoanDesk: %d application(s) pending", len(pending)),
		Body:      b.String(),
	}
}
