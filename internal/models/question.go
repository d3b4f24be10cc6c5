package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// AppointmentStatus is the lifecycle state of a booked appointment.
type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentNoShow    AppointmentStatus = "no_show"
)

// Terminal reports whether the appointment reached a final state, after
// which its thread becomes a cleanup candidate.
func (s AppointmentStatus) Terminal() bool {
	return s == AppointmentCompleted || s == AppointmentCancelled || s == AppointmentNoShow
}

// Question is a consultation thread between a customer and, once an
// appointment is booked, the assigned consultant.
type Question struct {
	ID         string `gorm:"primaryKey" json:"id"`
	CustomerID string `gorm:"type:text;not null;index" json:"customer_id"`

	// AppointmentID links the thread to a booked appointment, if any.
	AppointmentID *string `gorm:"index" json:"appointment_id,omitempty"`
	// AppointmentStatus is a snapshot kept in sync by the appointment
	// domain's status events; authoritative state is the Appointment row.
	AppointmentStatus AppointmentStatus `gorm:"type:text" json:"appointment_status,omitempty"`

	Topics pq.StringArray `gorm:"type:text[]" json:"topics,omitempty"`

	LastActivityAt time.Time      `gorm:"index" json:"last_activity_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate generates a UUID for new questions.
func (q *Question) BeforeCreate(tx *gorm.DB) (err error) {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	return
}

// Appointment is the booking that assigns a consultant to a question.
type Appointment struct {
	ID           string            `gorm:"primaryKey" json:"id"`
	QuestionID   string            `gorm:"type:text;not null;uniqueIndex" json:"question_id"`
	ConsultantID string            `gorm:"type:text;not null;index" json:"consultant_id"`
	Status       AppointmentStatus `gorm:"type:text;not null;default:'scheduled'" json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// BeforeCreate generates a UUID for new appointments.
func (a *Appointment) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return
}
