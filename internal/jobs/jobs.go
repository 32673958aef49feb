// Package jobs holds the periodic background jobs of the reservation service.
package jobs

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"reservation-service/internal/models"
	"reservation-service/internal/notify"
	"reservation-service/internal/service"
	"reservation-service/internal/util"

	"go.uber.org/zap"
)

// Store is the read side the jobs need.
type Store interface {
	ListPendingPayouts(ctx context.Context, olderThan time.Time) ([]models.Transaction, error)
	ListReservationsDueForCompletion(ctx context.Context, before time.Time) ([]models.Reservation, error)
	FindUser(ctx context.Context, id string) (*models.User, error)
}

// Completer checks out reservations.
type Completer interface {
	CompleteReservation(ctx context.Context, reservationID string) service.Result
}

// JobRunner runs the scheduled jobs
type JobRunner struct {
	store          Store
	completer      Completer
	notifier       service.Notifier
	payoutReminder time.Duration
	now            func() time.Time
	logger         *zap.Logger
}

// NewJobRunner creates a new job runner
func NewJobRunner(store Store, completer Completer, notifier service.Notifier, payoutReminder time.Duration) *JobRunner {
	return &JobRunner{
		store:          store,
		completer:      completer,
		notifier:       notifier,
		payoutReminder: payoutReminder,
		now:            time.Now,
		logger:         util.GetLogger(),
	}
}

// SetClock replaces the clock used to pick due work.
func (jr *JobRunner) SetClock(now func() time.Time) {
	jr.now = now
}

// SendPayoutReminders reminds owners of payouts that have been PENDING
// longer than the reminder window. One reminder goes to each owner.
func (jr *JobRunner) SendPayoutReminders() {
	jr.runWithRecovery("SendPayoutReminders", func(ctx context.Context) error {
		_, err := jr.RemindPendingPayouts(ctx)
		return err
	})
}

// RemindPendingPayouts returns the number of owners reminded.
func (jr *JobRunner) RemindPendingPayouts(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "JobRunner.RemindPendingPayouts")
	defer span.End()

	payouts, err := jr.store.ListPendingPayouts(ctx, jr.now().Add(-jr.payoutReminder))
	if err != nil {
		return 0, fmt.Errorf("failed to list pending payouts: %w", err)
	}
	util.PendingPayouts.Set(float64(len(payouts)))

	type owed struct {
		count  int
		amount int64
	}
	byOwner := make(map[string]*owed)
	for _, tx := range payouts {
		o, ok := byOwner[tx.UserID]
		if !ok {
			o = &owed{}
			byOwner[tx.UserID] = o
		}
		o.count++
		o.amount += tx.Amount
	}

	owners := make([]string, 0, len(byOwner))
	for id := range byOwner {
		owners = append(owners, id)
	}
	sort.Strings(owners)

	reminded := 0
	for _, ownerID := range owners {
		o := byOwner[ownerID]
		recipient := notify.Recipient{UserID: ownerID}
		if u, err := jr.store.FindUser(ctx, ownerID); err == nil {
			recipient = notify.Recipient{UserID: u.ID, Name: u.Name, Email: u.Email, Phone: u.Phone}
		} else {
			jr.logger.Warn("Owner not found for payout reminder", zap.String("owner_id", ownerID), zap.Error(err))
		}

		_, err := jr.notifier.Notify(ctx, notify.KindPayoutReminder, recipient, map[string]string{
			"pendingPayouts": strconv.Itoa(o.count),
			"pendingAmount":  strconv.FormatInt(o.amount, 10),
		})
		if err != nil {
			jr.logger.Error("Failed to send payout reminder", zap.String("owner_id", ownerID), zap.Error(err))
			continue
		}
		reminded++
	}

	jr.logger.Info("Payout reminders sent",
		zap.Int("pending_payouts", len(payouts)),
		zap.Int("owners_reminded", reminded))
	return reminded, nil
}

// CompleteDueReservations checks out CHECKED_IN reservations whose
// check-out has passed.
func (jr *JobRunner) CompleteDueReservations() {
	jr.runWithRecovery("CompleteDueReservations", func(ctx context.Context) error {
		_, err := jr.AutoComplete(ctx)
		return err
	})
}

// AutoComplete returns the number of reservations completed.
func (jr *JobRunner) AutoComplete(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "JobRunner.AutoComplete")
	defer span.End()

	due, err := jr.store.ListReservationsDueForCompletion(ctx, jr.now())
	if err != nil {
		return 0, fmt.Errorf("failed to list reservations due for completion: %w", err)
	}

	completed := 0
	for _, r := range due {
		res := jr.completer.CompleteReservation(ctx, r.ID)
		if !res.Success {
			jr.logger.Warn("Auto-complete failed",
				zap.String("reservation_id", r.ID),
				zap.String("failed_step", res.FailedStep),
				zap.String("error", res.Error))
			continue
		}
		completed++
	}

	jr.logger.Info("Auto-complete finished", zap.Int("due", len(due)), zap.Int("completed", completed))
	return completed, nil
}

func (jr *JobRunner) runWithRecovery(jobName string, job func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			jr.logger.Error("Job panicked", zap.String("job", jobName), zap.Any("panic", r))
		}
	}()

	start := time.Now()
	jr.logger.Info("Starting job", zap.String("job", jobName))
	if err := job(context.Background()); err != nil {
		jr.logger.Error("Job failed", zap.String("job", jobName), zap.Error(err))
		return
	}
	jr.logger.Info("Job completed", zap.String("job", jobName), zap.Duration("took", time.Since(start)))
}
