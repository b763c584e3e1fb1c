package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/courseloop/courseloop/pkg/access"
	"github.com/courseloop/courseloop/pkg/entitlement"
	"github.com/courseloop/courseloop/pkg/plan"
	"github.com/courseloop/courseloop/pkg/subscription"
	"github.com/courseloop/courseloop/pkg/usage"
)

// Config is the billing service configuration.
type Config struct {
	WebhookSecret       string        `env:"BILLING_WEBHOOK_SECRET,required"`
	SignatureTolerance  time.Duration `env:"BILLING_SIGNATURE_TOLERANCE" envDefault:"5m"`
	CronSecret          string        `env:"CRON_SECRET,required"`
	ReminderHorizonDays int           `env:"RENEWAL_REMINDER_HORIZON_DAYS" envDefault:"7"`
}

// Service is the surface the platform's route handlers consume: access
// checks, usage recording, entitlement resolution, webhook application, and
// the sweep operations. It composes the core packages; it holds no state of
// its own.
type Service struct {
	cfg        Config
	users      subscription.UserStore
	lifecycle  *subscription.Lifecycle
	reconciler *subscription.Reconciler
	resolver   *entitlement.Resolver
	tracker    *usage.Tracker
	gate       *access.Gate
	log        *slog.Logger
}

// NewService wires the billing core together over the given stores.
func NewService(cfg Config, users subscription.UserStore, usageStore usage.Store, catalog *plan.Catalog, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}

	lifecycle := subscription.NewLifecycle(users, log)
	resolver := entitlement.NewResolver(catalog)
	tracker := usage.NewTracker(usageStore)
	gate := access.NewGate(users, lifecycle, resolver, tracker, log)
	reconciler := subscription.NewReconciler(users, lifecycle, cfg.WebhookSecret, log,
		subscription.WithSignatureTolerance(cfg.SignatureTolerance))

	return &Service{
		cfg:        cfg,
		users:      users,
		lifecycle:  lifecycle,
		reconciler: reconciler,
		resolver:   resolver,
		tracker:    tracker,
		gate:       gate,
		log:        log,
	}
}

// CheckAccess answers whether the user may perform the feature's action now.
// It does not consume quota.
func (s *Service) CheckAccess(ctx context.Context, userID string, feature plan.Feature) (access.Decision, error) {
	return s.gate.Check(ctx, userID, feature)
}

// RecordUsage charges one unit of the feature's monthly quota. Call it only
// after the gated action succeeded.
func (s *Service) RecordUsage(ctx context.Context, userID string, feature plan.Feature) (int64, error) {
	return s.tracker.Record(ctx, userID, feature)
}

// ResolveEntitlements returns the user's effective tier and limits.
func (s *Service) ResolveEntitlements(u *subscription.User) entitlement.Entitlements {
	return s.resolver.Resolve(u)
}

// RequestCancellation stops auto-renewal for the user's subscription.
func (s *Service) RequestCancellation(ctx context.Context, userID string) error {
	return s.lifecycle.RequestCancellation(ctx, userID)
}

// ApplyWebhookEvent verifies and applies a provider webhook delivery.
func (s *Service) ApplyWebhookEvent(ctx context.Context, payload []byte, signature string) error {
	return s.reconciler.ApplyEvent(ctx, payload, signature)
}

// RunExpirySweep downgrades every user whose paid period lapsed before now.
func (s *Service) RunExpirySweep(ctx context.Context, now time.Time) (subscription.SweepReport, error) {
	return s.lifecycle.ExpireSweep(ctx, now)
}

// RunReminderSweep flags users whose renewal is due within the configured
// horizon.
func (s *Service) RunReminderSweep(ctx context.Context, now time.Time) (subscription.SweepReport, error) {
	horizon := time.Duration(s.cfg.ReminderHorizonDays) * 24 * time.Hour
	return s.lifecycle.ReminderSweep(ctx, now, horizon)
}

// RunUsagePurge deletes usage records older than the previous month.
func (s *Service) RunUsagePurge(ctx context.Context) (int64, error) {
	return s.tracker.PurgeStale(ctx, s.tracker.PreviousMonthStart())
}
