// Package notify delivers reservation notifications over log, Kafka and
// email channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"reservation-service/internal/util"

	"go.uber.org/zap"
)

// Notification kinds sent by the workflows and jobs.
const (
	KindReservationConfirmed = "reservation_confirmed"
	KindReservationCheckedIn = "reservation_checked_in"
	KindReservationCompleted = "reservation_completed"
	KindReservationCancelled = "reservation_cancelled"
	KindPaymentReceived      = "payment_received"
	KindPayoutCompleted      = "payout_completed"
	KindPayoutReminder       = "payout_reminder"
)

// Delivery statuses.
const (
	StatusSent    = "SENT"
	StatusPartial = "PARTIAL"
	StatusFailed  = "FAILED"
	StatusSkipped = "SKIPPED"
)

// ErrNoAddress means the recipient has no address for the channel.
var ErrNoAddress = errors.New("recipient has no address for channel")

// Recipient identifies who a notification is for.
type Recipient struct {
	UserID string
	Name   string
	Email  string
	Phone  string
}

// Notification is one message handed to a channel.
type Notification struct {
	Kind      string
	Recipient Recipient
	Data      map[string]string
}

// Receipt summarises a delivery.
type Receipt struct {
	Channel string `json:"channel"`
	Status  string `json:"status"`
}

// Channel delivers notifications over one medium.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Fanout sends every notification to all of its channels.
type Fanout struct {
	channels []Channel
	retry    RetryPolicy
	logger   *zap.Logger
}

// NewFanout creates a notifier over channels
func NewFanout(retry RetryPolicy, channels ...Channel) *Fanout {
	return &Fanout{
		channels: channels,
		retry:    retry,
		logger:   util.GetLogger(),
	}
}

// Notify delivers to each channel with retries. It returns an error only
// when no channel delivered.
func (f *Fanout) Notify(ctx context.Context, kind string, recipient Recipient, data map[string]string) (Receipt, error) {
	ctx, span := util.StartSpan(ctx, "Fanout.Notify")
	defer span.End()

	n := Notification{Kind: kind, Recipient: recipient, Data: data}

	var (
		sent    []string
		skipped int
		errs    []error
	)
	for _, ch := range f.channels {
		err := f.retry.Do(ctx, func() error { return ch.Send(ctx, n) })
		switch {
		case err == nil:
			sent = append(sent, ch.Name())
			util.NotificationsTotal.WithLabelValues(ch.Name(), StatusSent).Inc()
		case errors.Is(err, ErrNoAddress):
			skipped++
			util.NotificationsTotal.WithLabelValues(ch.Name(), StatusSkipped).Inc()
		default:
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
			util.NotificationsTotal.WithLabelValues(ch.Name(), StatusFailed).Inc()
			f.logger.Warn("Notification delivery failed",
				zap.String("channel", ch.Name()),
				zap.String("kind", kind),
				zap.String("recipient", recipient.UserID),
				zap.Error(err))
		}
	}

	receipt := Receipt{Channel: strings.Join(sent, ",")}
	switch {
	case len(sent) > 0 && len(errs) == 0:
		receipt.Status = StatusSent
	case len(sent) > 0:
		receipt.Status = StatusPartial
	case len(errs) == 0:
		receipt.Status = StatusSkipped
	default:
		receipt.Status = StatusFailed
		err := errors.Join(errs...)
		util.RecordError(span, err)
		return receipt, err
	}
	return receipt, nil
}
