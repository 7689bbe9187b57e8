package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/harunnryd/kanshi/internal/logger"
	"github.com/harunnryd/kanshi/internal/transport"

	"github.com/oklog/ulid/v2"
)

// Notifier delivers policy changes over a Transport with bounded
// retries. Delivery is effectively exactly-once per (change, recipient):
// a pair whose record already reads "sent" is never delivered again.
type Notifier struct {
	transport   transport.Transport
	history     *History
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewNotifier(tr transport.Transport, history *History, maxAttempts int, backoffBase, backoffCap time.Duration) *Notifier {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Notifier{
		transport:   tr,
		history:     history,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		backoffCap:  backoffCap,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Send delivers one change to one recipient. An already-sent pair is
// returned unchanged without touching the transport. Dry-run renders
// the message and records dry_run status but never sends. Exhausted
// retries leave a failed record; the failure is recorded, not raised.
func (n *Notifier) Send(ctx context.Context, change *PolicyChange, recipient string, cc []string, dryRun bool) (*NotificationRecord, error) {
	runID := logger.GetRunID(ctx)

	if existing, ok := n.history.Lookup(change.ID, recipient); ok && existing.Status == StatusSent {
		slog.Debug("Notification already sent, skipping",
			"change", change.ID,
			"recipient", recipient,
			"run_id", runID,
		)
		return existing, nil
	}

	rec := NotificationRecord{
		ID:          ulid.Make().String(),
		ChangeID:    change.ID,
		Recipient:   recipient,
		Subject:     Subject(change),
		Criticality: change.Criticality,
		Status:      StatusPending,
	}

	bodyText := RenderText(change)
	bodyHTML := RenderHTML(change)

	if dryRun {
		rec.Status = StatusDryRun
		if err := n.history.Upsert(rec); err != nil {
			return nil, err
		}
		slog.Info("Dry run: notification rendered but not sent",
			"change", change.ID,
			"recipient", recipient,
			"subject", rec.Subject,
			"run_id", runID,
		)
		return &rec, nil
	}

	for attempt := 0; attempt < n.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := n.sleep(ctx, n.backoff(attempt)); err != nil {
				rec.LastError = err.Error()
				break
			}
		}

		rec.Attempts = attempt + 1
		_, err := n.transport.Send(ctx, []string{recipient}, cc, rec.Subject, bodyText, bodyHTML)
		if err == nil {
			now := time.Now().UTC()
			rec.Status = StatusSent
			rec.SentAt = &now
			rec.LastError = ""
			if uerr := n.history.Upsert(rec); uerr != nil {
				return nil, uerr
			}
			slog.Info("Notification sent",
				"change", change.ID,
				"recipient", recipient,
				"attempts", rec.Attempts,
				"run_id", runID,
			)
			return &rec, nil
		}

		rec.LastError = err.Error()
		slog.Warn("Notification attempt failed",
			"change", change.ID,
			"recipient", recipient,
			"attempt", rec.Attempts,
			"error", err,
			"run_id", runID,
		)

		if !transport.IsRetryable(err) {
			break
		}
	}

	rec.Status = StatusFailed
	if err := n.history.Upsert(rec); err != nil {
		return nil, err
	}
	slog.Error("Notification delivery exhausted",
		"change", change.ID,
		"recipient", recipient,
		"attempts", rec.Attempts,
		"last_error", rec.LastError,
		"run_id", runID,
	)
	return &rec, nil
}

// SendBatch delivers a set of changes to every recipient independently.
// One pair failing never stops the rest.
func (n *Notifier) SendBatch(ctx context.Context, changes []*PolicyChange, recipients, cc []string, dryRun bool) []NotificationRecord {
	var records []NotificationRecord
	for _, change := range changes {
		for _, recipient := range recipients {
			if ctx.Err() != nil {
				return records
			}
			rec, err := n.Send(ctx, change, recipient, cc, dryRun)
			if err != nil {
				slog.Error("Notification record could not be persisted",
					"change", change.ID,
					"recipient", recipient,
					"error", err,
				)
				continue
			}
			records = append(records, *rec)
		}
	}
	return records
}

// backoff returns base*2^(attempt-1) capped.
func (n *Notifier) backoff(attempt int) time.Duration {
	d := n.backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= n.backoffCap {
			return n.backoffCap
		}
	}
	if n.backoffCap > 0 && d > n.backoffCap {
		return n.backoffCap
	}
	return d
}
