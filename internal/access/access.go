// Package access decides whether a user may operate on a consultation
// thread. Decisions are always derived from durable ownership and role data,
// never from ephemeral presence or membership state, and are re-evaluated on
// every privileged operation.
package access

import (
	"errors"

	"carechat/backend/internal/apperr"
	"carechat/backend/internal/models"
)

// Directory is the slice of durable storage the evaluator reads.
type Directory interface {
	GetQuestionByID(questionID string) (*models.Question, error)
	GetAppointmentByQuestionID(questionID string) (*models.Appointment, error)
	GetUserByID(userID string) (*models.User, error)
}

// Evaluator applies the thread access rule: owner, then assigned consultant,
// then privileged role; everyone else is denied.
type Evaluator struct {
	Dir Directory
}

// NewEvaluator builds an Evaluator.
func NewEvaluator(dir Directory) *Evaluator {
	return &Evaluator{Dir: dir}
}

// CanAccess reports whether userID may operate on questionID. It fails with
// the storage NotFound error when the thread or user does not exist.
func (e *Evaluator) CanAccess(questionID, userID string) (bool, error) {
	q, err := e.Dir.GetQuestionByID(questionID)
	if err != nil {
		return false, err
	}

	if q.CustomerID == userID {
		return true, nil
	}

	// a thread may exist without a booked appointment
	appt, err := e.Dir.GetAppointmentByQuestionID(questionID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return false, err
	}
	if appt != nil && appt.ConsultantID == userID {
		return true, nil
	}

	user, err := e.Dir.GetUserByID(userID)
	if err != nil {
		return false, err
	}
	if user.Role.Privileged() {
		return true, nil
	}

	return false, nil
}
