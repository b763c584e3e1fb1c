package billing

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/courseloop/courseloop/pkg/subscription"
)

// Webhook deliveries are signed over the raw body; the platform's provider
// sends the signature in this header.
const signatureHeader = "Stripe-Signature"

// cronSecretHeader authenticates external schedulers triggering sweeps.
const cronSecretHeader = "X-Cron-Secret"

const maxWebhookBody = 1 << 20 // 1 MiB

// Handle returns the billing HTTP surface:
//
//	POST /webhooks/billing            provider webhook deliveries
//	POST /internal/sweeps/expiry      downgrade lapsed subscriptions
//	POST /internal/sweeps/reminders   flag upcoming renewals
//	POST /internal/sweeps/usage-purge drop stale usage records
//
// The sweep endpoints require the shared cron secret; both the in-process
// scheduler and an external orchestrator may trigger them since the
// underlying operations are idempotent.
func (s *Service) Handle() http.Handler {
	r := chi.NewRouter()

	r.Post("/webhooks/billing", s.handleWebhook)

	r.Route("/internal/sweeps", func(r chi.Router) {
		r.Use(s.requireCronSecret)
		r.Post("/expiry", s.handleExpirySweep)
		r.Post("/reminders", s.handleReminderSweep)
		r.Post("/usage-purge", s.handleUsagePurge)
	})

	return r
}

// handleWebhook acknowledges every valid delivery, even when applying it
// failed terminally; only signature problems and transient persistence
// failures tell the provider to act. A 4xx stops the provider's retries, a
// 5xx invites them.
func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	err = s.ApplyWebhookEvent(r.Context(), payload, r.Header.Get(signatureHeader))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	case errors.Is(err, subscription.ErrInvalidSignature),
		errors.Is(err, subscription.ErrInvalidPayload):
		s.log.WarnContext(r.Context(), "webhook delivery rejected", slog.Any("error", err))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid delivery"})
	case subscription.IsRetryable(err):
		s.log.ErrorContext(r.Context(), "webhook application failed transiently", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "temporary failure"})
	default:
		// Reconciler contract says this should not happen; acknowledge so the
		// provider does not hammer a permanently-failing event.
		s.log.ErrorContext(r.Context(), "webhook application failed", slog.Any("error", err))
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}

func (s *Service) handleExpirySweep(w http.ResponseWriter, r *http.Request) {
	report, err := s.RunExpirySweep(r.Context(), time.Now().UTC())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "sweep failed"})
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse(report))
}

func (s *Service) handleReminderSweep(w http.ResponseWriter, r *http.Request) {
	report, err := s.RunReminderSweep(r.Context(), time.Now().UTC())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "sweep failed"})
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse(report))
}

func (s *Service) handleUsagePurge(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.RunUsagePurge(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "purge failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (s *Service) requireCronSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(cronSecretHeader)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.CronSecret)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func sweepResponse(report subscription.SweepReport) map[string]int {
	return map[string]int{
		"scanned": report.Scanned,
		"applied": report.Applied,
		"failed":  len(report.Failures),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
