package models

import "time"

// Event types
const (
	EventTypeReservationConfirmed = "RESERVATION_CONFIRMED"
	EventTypeReservationCheckedIn = "RESERVATION_CHECKED_IN"
	EventTypeReservationCompleted = "RESERVATION_COMPLETED"
	EventTypeReservationCancelled = "RESERVATION_CANCELLED"
	EventTypeGuestPaymentRecorded = "GUEST_PAYMENT_RECORDED"
	EventTypeOwnerPayoutScheduled = "OWNER_PAYOUT_SCHEDULED"
	EventTypeOwnerPayoutCompleted = "OWNER_PAYOUT_COMPLETED"
	EventTypeNotification         = "NOTIFICATION_REQUESTED"

	// Inbound commands and gateway events consumed by the workers.
	EventTypeConfirmRequested  = "RESERVATION_CONFIRM_REQUESTED"
	EventTypeCheckInRequested  = "RESERVATION_CHECK_IN_REQUESTED"
	EventTypeCheckOutRequested = "RESERVATION_CHECK_OUT_REQUESTED"
	EventTypeCancelRequested   = "RESERVATION_CANCEL_REQUESTED"
	EventTypePaymentCaptured   = "PAYMENT_CAPTURED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// ReservationEvent is published after a workflow changes a reservation's status.
type ReservationEvent struct {
	BaseEvent
	ReservationID string            `json:"reservation_id"`
	PropertyID    string            `json:"property_id"`
	GuestID       string            `json:"guest_id"`
	Status        ReservationStatus `json:"status"`
	RefundAmount  int64             `json:"refund_amount,omitempty"`
}

// PaymentEvent is published for guest payments and owner payouts.
type PaymentEvent struct {
	BaseEvent
	ReservationID string        `json:"reservation_id"`
	TransactionID string        `json:"transaction_id"`
	Amount        int64         `json:"amount"`
	Currency      string        `json:"currency"`
	Distribution  *Distribution `json:"distribution,omitempty"`
}

// NotificationEvent carries a notification to downstream delivery services.
type NotificationEvent struct {
	BaseEvent
	Kind      string            `json:"kind"`
	Recipient string            `json:"recipient"`
	Data      map[string]string `json:"data"`
}

// ReservationCommand asks the service to run a workflow for a reservation.
type ReservationCommand struct {
	BaseEvent
	ReservationID string `json:"reservation_id"`
	Reason        string `json:"reason,omitempty"`
}

// PaymentCapturedEvent is sent by the payment gateway once money has been captured.
type PaymentCapturedEvent struct {
	BaseEvent
	ReservationID string `json:"reservation_id"`
	Amount        int64  `json:"amount"`
	Method        string `json:"method"`
	GatewayRef    string `json:"gateway_ref"`
}
