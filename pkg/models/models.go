package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ShiftStatus is the lifecycle state of a posted shift
type ShiftStatus string

const (
	ShiftOpen       ShiftStatus = "open"
	ShiftAssigned   ShiftStatus = "assigned"
	ShiftInProgress ShiftStatus = "in_progress"
	ShiftCompleted  ShiftStatus = "completed"
	ShiftCancelled  ShiftStatus = "cancelled"
)

// AssignmentStatus is the lifecycle state of a worker-shift pairing
type AssignmentStatus string

const (
	AssignmentAssigned  AssignmentStatus = "assigned"
	AssignmentCheckedIn AssignmentStatus = "checked_in"
	AssignmentCompleted AssignmentStatus = "completed"
	AssignmentNoShow    AssignmentStatus = "no_show"
	AssignmentCancelled AssignmentStatus = "cancelled"
)

// PaymentStatus is the escrow state of the funds tied to an assignment.
// Valid order: pending -> in_escrow -> released -> paid_out;
// refunded is reachable only from in_escrow.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentInEscrow PaymentStatus = "in_escrow"
	PaymentReleased PaymentStatus = "released"
	PaymentPaidOut  PaymentStatus = "paid_out"
	PaymentRefunded PaymentStatus = "refunded"
)

// RefundStatus is the processing state of a refund
type RefundStatus string

const (
	RefundPending    RefundStatus = "pending"
	RefundProcessing RefundStatus = "processing"
	RefundCompleted  RefundStatus = "completed"
	RefundFailed     RefundStatus = "failed"
)

// Shift represents a time slot posted by a business.
// StartTime and EndTime are times of day in "15:04" form;
// EndTime earlier than StartTime means the shift runs past midnight.
type Shift struct {
	ID               uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	BusinessID       uuid.UUID   `gorm:"type:uuid;index" json:"business_id"`
	Date             time.Time   `gorm:"not null" json:"date"`
	StartTime        string      `gorm:"not null" json:"start_time"`
	EndTime          string      `gorm:"not null" json:"end_time"`
	RequiredCount    int         `gorm:"not null" json:"required_count"`
	FilledCount      int         `gorm:"default:0" json:"filled_count"`
	Status           ShiftStatus `gorm:"index;not null" json:"status"`
	CancelledAt      *time.Time  `json:"cancelled_at,omitempty"`
	LastTransitionBy string      `json:"last_transition_by,omitempty"`
	LastTransitionAt *time.Time  `json:"last_transition_at,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Assignment represents one worker committed to one shift
type Assignment struct {
	ID               uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	ShiftID          uuid.UUID        `gorm:"type:uuid;index;not null" json:"shift_id"`
	WorkerID         uuid.UUID        `gorm:"type:uuid;index;not null" json:"worker_id"`
	Status           AssignmentStatus `gorm:"index;not null" json:"status"`
	CheckInAt        *time.Time       `json:"check_in_at,omitempty"`
	CheckOutAt       *time.Time       `json:"check_out_at,omitempty"`
	BreakMinutes     int              `gorm:"default:0" json:"break_minutes"`
	GrossHours       float64          `gorm:"default:0" json:"gross_hours"`
	NetHours         float64          `gorm:"default:0" json:"net_hours"`
	AutoClockedOut   bool             `gorm:"default:false" json:"auto_clocked_out"`
	BreakReminderAt  *time.Time       `json:"break_reminder_at,omitempty"`
	BreakRequiredBy  *time.Time       `json:"break_required_by,omitempty"`
	LastTransitionBy string           `json:"last_transition_by,omitempty"`
	LastTransitionAt *time.Time       `json:"last_transition_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Payment holds the escrowed funds for one assignment.
// Amounts are in the smallest currency unit (cents).
type Payment struct {
	ID                    uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	AssignmentID          uuid.UUID     `gorm:"type:uuid;uniqueIndex;not null" json:"assignment_id"`
	ShiftID               uuid.UUID     `gorm:"type:uuid;index;not null" json:"shift_id"`
	WorkerID              uuid.UUID     `gorm:"type:uuid;index;not null" json:"worker_id"`
	GrossCents            int64         `gorm:"not null" json:"gross_cents"`
	WorkerCents           int64         `gorm:"not null" json:"worker_cents"`
	CommissionCents       int64         `gorm:"not null" json:"commission_cents"`
	Status                PaymentStatus `gorm:"index;not null" json:"status"`
	EscrowAt              *time.Time    `json:"escrow_at,omitempty"`
	ReleasedAt            *time.Time    `json:"released_at,omitempty"`
	PaidOutAt             *time.Time    `json:"paid_out_at,omitempty"`
	InstantPayoutEligible bool          `gorm:"default:false" json:"instant_payout_eligible"`
	PayoutFailureCount    int           `gorm:"default:0" json:"payout_failure_count"`
	RefundRequested       bool          `gorm:"default:false" json:"refund_requested"`
	LastTransitionBy      string        `json:"last_transition_by,omitempty"`
	LastTransitionAt      *time.Time    `json:"last_transition_at,omitempty"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// Refund represents a return of escrowed funds to the business.
// Active is true while the refund is live (pending/processing/completed)
// and cleared to NULL when it fails terminally; the composite unique
// index on (payment_id, active) lets the store reject a second live
// refund for the same payment even when two detection runs race.
type Refund struct {
	ID               uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	PaymentID        uuid.UUID    `gorm:"type:uuid;uniqueIndex:idx_refunds_payment_active;not null" json:"payment_id"`
	Active           *bool        `gorm:"uniqueIndex:idx_refunds_payment_active" json:"-"`
	AmountCents      int64        `gorm:"not null" json:"amount_cents"`
	Reason           string       `json:"reason"`
	Status           RefundStatus `gorm:"index;not null" json:"status"`
	Attempts         int          `gorm:"default:0" json:"attempts"`
	NextAttemptAt    *time.Time   `json:"next_attempt_at,omitempty"`
	InitiatedAt      time.Time    `json:"initiated_at"`
	ProcessedAt      *time.Time   `json:"processed_at,omitempty"`
	LastError        string       `json:"last_error,omitempty"`
	LastTransitionBy string       `json:"last_transition_by,omitempty"`
	LastTransitionAt *time.Time   `json:"last_transition_at,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// RunRecord is the persisted summary of one rule run, kept for
// operational alerting and the ops API
type RunRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Rule       string    `gorm:"index;not null" json:"rule"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Processed  int       `json:"processed"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	FirstError string    `json:"first_error,omitempty"`
}

// BeforeCreate assigns an ID so callers can create records without minting one
func (s *Shift) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (a *Assignment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

func (r *Refund) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
