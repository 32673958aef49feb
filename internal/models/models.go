package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "PENDING"
	ReservationStatusConfirmed ReservationStatus = "CONFIRMED"
	ReservationStatusCheckedIn ReservationStatus = "CHECKED_IN"
	ReservationStatusCancelled ReservationStatus = "CANCELLED"
	ReservationStatusCompleted ReservationStatus = "COMPLETED"
)

// PaymentStatus tracks how much of a reservation has been paid.
type PaymentStatus string

const (
	PaymentStatusUnpaid  PaymentStatus = "UNPAID"
	PaymentStatusPartial PaymentStatus = "PARTIAL"
	PaymentStatusPaid    PaymentStatus = "PAID"
)

// Reservation is a guest booking of a property.
// Amounts are whole currency units.
type Reservation struct {
	ID                 string            `db:"id" json:"id"`
	PropertyID         string            `db:"property_id" json:"property_id"`
	GuestID            string            `db:"guest_id" json:"guest_id"`
	CheckIn            time.Time         `db:"check_in" json:"check_in"`
	CheckOut           time.Time         `db:"check_out" json:"check_out"`
	TotalAmount        int64             `db:"total_amount" json:"total_amount"`
	PaidAmount         int64             `db:"paid_amount" json:"paid_amount"`
	OutstandingBalance int64             `db:"outstanding_balance" json:"outstanding_balance"`
	Currency           string            `db:"currency" json:"currency"`
	Status             ReservationStatus `db:"status" json:"status"`
	PaymentStatus      PaymentStatus     `db:"payment_status" json:"payment_status"`
	Version            int64             `db:"version" json:"version"`
	CreatedAt          time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time         `db:"updated_at" json:"updated_at"`
}

// ReservationPatch lists the reservation fields a workflow step may change.
// Nil fields are left untouched.
type ReservationPatch struct {
	Status             *ReservationStatus
	PaymentStatus      *PaymentStatus
	PaidAmount         *int64
	OutstandingBalance *int64
}

// Apply copies the non-nil patch fields onto r.
func (p ReservationPatch) Apply(r *Reservation) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.PaymentStatus != nil {
		r.PaymentStatus = *p.PaymentStatus
	}
	if p.PaidAmount != nil {
		r.PaidAmount = *p.PaidAmount
	}
	if p.OutstandingBalance != nil {
		r.OutstandingBalance = *p.OutstandingBalance
	}
}

// TaskType identifies the kind of operational task.
type TaskType string

const (
	TaskTypeCleaning    TaskType = "CLEANING"
	TaskTypeCheckIn     TaskType = "CHECK_IN"
	TaskTypeCheckOut    TaskType = "CHECK_OUT"
	TaskTypeInspection  TaskType = "INSPECTION"
	TaskTypeMaintenance TaskType = "MAINTENANCE"
)

// TaskStatus is the progress of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusCancelled  TaskStatus = "CANCELLED"
)

// TaskPriority orders tasks for staff.
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "LOW"
	TaskPriorityMedium TaskPriority = "MEDIUM"
	TaskPriorityHigh   TaskPriority = "HIGH"
	TaskPriorityUrgent TaskPriority = "URGENT"
)

// Task is an operational job attached to a property and, usually, a reservation.
type Task struct {
	ID            string         `db:"id" json:"id"`
	PropertyID    string         `db:"property_id" json:"property_id"`
	ReservationID *string        `db:"reservation_id" json:"reservation_id,omitempty"`
	Type          TaskType       `db:"type" json:"type"`
	Status        TaskStatus     `db:"status" json:"status"`
	Title         string         `db:"title" json:"title"`
	Description   string         `db:"description" json:"description"`
	Priority      TaskPriority   `db:"priority" json:"priority"`
	ScheduledDate time.Time      `db:"scheduled_date" json:"scheduled_date"`
	Cost          int64          `db:"cost" json:"cost"`
	Tags          pq.StringArray `db:"tags" json:"tags"`
	AssigneeID    *string        `db:"assignee_id" json:"assignee_id,omitempty"`
	AssigneeRole  string         `db:"assignee_role" json:"assignee_role"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// TaskPatch lists the task fields that may be updated.
type TaskPatch struct {
	Status     *TaskStatus
	AssigneeID *string
}

// Apply copies the non-nil patch fields onto t.
func (p TaskPatch) Apply(t *Task) {
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.AssigneeID != nil {
		t.AssigneeID = p.AssigneeID
	}
}

// TransactionType identifies a money movement.
type TransactionType string

const (
	TransactionTypeGuestPayment TransactionType = "GUEST_PAYMENT"
	TransactionTypeOwnerPayout  TransactionType = "OWNER_PAYOUT"
	TransactionTypeAgencyFee    TransactionType = "AGENCY_FEE"
	TransactionTypeRefund       TransactionType = "REFUND"
)

// TransactionStatus is the settlement state of a transaction.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusCancelled TransactionStatus = "CANCELLED"
)

// Distribution is the three-way split of a reservation amount.
type Distribution struct {
	TotalAmount     int64   `json:"total_amount"`
	OwnerPayout     int64   `json:"owner_payout"`
	PlatformFee     int64   `json:"platform_fee"`
	AgentFee        int64   `json:"agent_fee"`
	CalculatedTotal int64   `json:"calculated_total"`
	OwnerPercent    float64 `json:"owner_percent"`
	PlatformPercent float64 `json:"platform_percent"`
	AgentPercent    float64 `json:"agent_percent"`
}

// TransactionMetadata is stored as JSON next to every transaction.
type TransactionMetadata struct {
	Distribution   *Distribution `json:"distribution,omitempty"`
	PaymentMethod  string        `json:"payment_method,omitempty"`
	GatewayRef     string        `json:"gateway_ref,omitempty"`
	PayoutMethod   string        `json:"payout_method,omitempty"`
	PayoutRef      string        `json:"payout_ref,omitempty"`
	Notes          string        `json:"notes,omitempty"`
	RefundPercent  int           `json:"refund_percent,omitempty"`
	DaysUntilStart int           `json:"days_until_start,omitempty"`
	Reason         string        `json:"reason,omitempty"`
}

// Value implements driver.Valuer for the jsonb column.
func (m TransactionMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner for the jsonb column.
func (m *TransactionMetadata) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*m = TransactionMetadata{}
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported metadata type %T", src)
	}
}

// Transaction is a ledger entry tied to a reservation.
type Transaction struct {
	ID            string              `db:"id" json:"id"`
	UserID        string              `db:"user_id" json:"user_id"`
	PropertyID    string              `db:"property_id" json:"property_id"`
	ReservationID string              `db:"reservation_id" json:"reservation_id"`
	Type          TransactionType     `db:"type" json:"type"`
	Amount        int64               `db:"amount" json:"amount"`
	Currency      string              `db:"currency" json:"currency"`
	Status        TransactionStatus   `db:"status" json:"status"`
	Metadata      TransactionMetadata `db:"metadata" json:"metadata"`
	ProcessedAt   *time.Time          `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt     time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time           `db:"updated_at" json:"updated_at"`
}

// TransactionPatch lists the transaction fields that may be updated.
// ExpectStatus turns the update into a compare-and-set on the current status.
type TransactionPatch struct {
	Status       *TransactionStatus
	ExpectStatus *TransactionStatus
	Metadata     *TransactionMetadata
	ProcessedAt  *time.Time
}

// Apply copies the non-nil patch fields onto tx.
func (p TransactionPatch) Apply(tx *Transaction) {
	if p.Status != nil {
		tx.Status = *p.Status
	}
	if p.Metadata != nil {
		tx.Metadata = *p.Metadata
	}
	if p.ProcessedAt != nil {
		at := *p.ProcessedAt
		tx.ProcessedAt = &at
	}
}

// Property is a rentable unit.
type Property struct {
	ID        string    `db:"id" json:"id"`
	OwnerID   string    `db:"owner_id" json:"owner_id"`
	AgentID   *string   `db:"agent_id" json:"agent_id,omitempty"`
	Name      string    `db:"name" json:"name"`
	Address   string    `db:"address" json:"address"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// UserRole distinguishes guests, owners, agents and staff.
type UserRole string

const (
	UserRoleGuest UserRole = "GUEST"
	UserRoleOwner UserRole = "OWNER"
	UserRoleAgent UserRole = "AGENT"
	UserRoleAdmin UserRole = "ADMIN"
)

// User is anyone the core sends money or notifications to.
type User struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Phone     string    `db:"phone" json:"phone"`
	Role      UserRole  `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

// StepRecord is one row of the saga step journal.
type StepRecord struct {
	ExecutionID string    `db:"execution_id" json:"execution_id"`
	Saga        string    `db:"saga" json:"saga"`
	Step        string    `db:"step" json:"step"`
	Phase       string    `db:"phase" json:"phase"`
	Status      string    `db:"status" json:"status"`
	Error       string    `db:"error" json:"error,omitempty"`
	DurationMs  int64     `db:"duration_ms" json:"duration_ms"`
	RecordedAt  time.Time `db:"recorded_at" json:"recorded_at"`
}

// TaskFilter narrows ListTasks. Empty fields match everything.
type TaskFilter struct {
	ReservationID string
	Types         []TaskType
	Statuses      []TaskStatus
}

// TransactionFilter narrows ListTransactions. Empty fields match everything.
type TransactionFilter struct {
	ReservationID string
	Types         []TransactionType
	Statuses      []TransactionStatus
}
