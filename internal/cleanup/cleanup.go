// Package cleanup reclaims the ephemeral and durable state of finished or
// abandoned consultation threads. It runs as periodic jobs plus an
// on-demand hook the appointment domain calls on status transitions.
package cleanup

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"carechat/backend/internal/config"
	"carechat/backend/internal/ephemeral"
	"carechat/backend/internal/logger"
	"carechat/backend/internal/models"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"
)

// ThreadStore is the slice of durable storage the cleanup jobs touch.
type ThreadStore interface {
	ListTerminalQuestions(statuses []models.AppointmentStatus, olderThan time.Time) ([]models.Question, error)
	ArchiveQuestion(questionID string) error
	SetAppointmentStatus(questionID string, status models.AppointmentStatus) error
}

// Alerter receives out-of-band failure notifications. Optional; may be nil.
type Alerter interface {
	CleanupFailed(questionID string, err error)
}

// Service owns the cleanup and archival jobs.
type Service struct {
	Storage ThreadStore
	State   *ephemeral.State
	Alerts  Alerter
}

// NewService builds the cleanup service. alerts may be nil.
func NewService(store ThreadStore, state *ephemeral.State, alerts Alerter) *Service {
	return &Service{Storage: store, State: state, Alerts: alerts}
}

// Start launches one scheduler goroutine per job. Cancelling the context
// stops them.
func (s *Service) Start(ctx context.Context) error {
	jobs := []struct {
		name string
		cron string
		run  func() error
	}{
		{"ephemeral_sweep", config.SweepCron, s.SweepEphemeral},
		{"terminal_cleanup", config.DailyCleanupCron, func() error { return s.CleanupTerminalThreads(time.Now()) }},
		{"archive", config.ArchiveCron, func() error { return s.ArchiveOldThreads(time.Now()) }},
	}
	for _, job := range jobs {
		if !gronx.IsValid(job.cron) {
			logger.L().Error("invalid cron expression", zap.String("job", job.name), zap.String("cron", job.cron))
			continue
		}
		go s.runScheduler(ctx, job.name, job.cron, job.run)
	}
	return nil
}

func (s *Service) runScheduler(ctx context.Context, name, cronExpr string, run func() error) {
	logger.L().Info("cleanup job scheduled", zap.String("job", name), zap.String("cron", cronExpr))
	for {
		next, err := gronx.NextTickAfter(cronExpr, time.Now().UTC(), false)
		if err != nil {
			logger.L().Error("next tick failed", zap.String("job", name), zap.Error(err))
			select {
			case <-time.After(30 * time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-time.After(time.Until(next)):
			if err := run(); err != nil {
				logger.L().Error("cleanup job failed", zap.String("job", name), zap.Error(err))
			}
		case <-ctx.Done():
			logger.L().Info("cleanup scheduler stopping", zap.String("job", name))
			return
		}
	}
}

// SweepEphemeral reconciles typing sets whose per-user entries already
// expired. Normally TTL expiry alone suffices; this is the backstop.
func (s *Service) SweepEphemeral() error {
	keys, err := s.State.Store.Keys("typing:*")
	if err != nil {
		return err
	}
	for _, key := range keys {
		rest := strings.TrimPrefix(key, "typing:")
		if strings.Contains(rest, ":") {
			// per-user entry, expires on its own
			continue
		}
		if err := s.State.SweepTyping(rest); err != nil {
			logger.L().Warn("typing sweep failed", zap.String("question", rest), zap.Error(err))
		}
	}
	return nil
}

// CleanupTerminalThreads clears the ephemeral state of threads whose
// appointment reached a terminal status long enough ago: completed threads
// after the long window, cancelled/no-show after the short one. Failures
// are per-thread and never abort the sweep.
func (s *Service) CleanupTerminalThreads(now time.Time) error {
	completed, err := s.Storage.ListTerminalQuestions(
		[]models.AppointmentStatus{models.AppointmentCompleted},
		now.Add(-config.CompletedMaxAge))
	if err != nil {
		return err
	}
	worthless, err := s.Storage.ListTerminalQuestions(
		[]models.AppointmentStatus{models.AppointmentCancelled, models.AppointmentNoShow},
		now.Add(-config.CancelledMaxAge))
	if err != nil {
		return err
	}

	cleaned := 0
	for _, q := range append(completed, worthless...) {
		if err := s.State.ClearRoom(q.ID); err != nil {
			logger.L().Warn("thread cleanup failed", zap.String("question", q.ID), zap.Error(err))
			if s.Alerts != nil {
				s.Alerts.CleanupFailed(q.ID, err)
			}
			continue
		}
		cleaned++
	}
	logger.L().Info("terminal thread cleanup done", zap.Int("cleaned", cleaned))
	return nil
}

// ArchiveOldThreads soft-deletes terminal threads past the retention
// window, clearing their ephemeral state first. Archival is reversible.
func (s *Service) ArchiveOldThreads(now time.Time) error {
	old, err := s.Storage.ListTerminalQuestions(
		[]models.AppointmentStatus{models.AppointmentCompleted, models.AppointmentCancelled, models.AppointmentNoShow},
		now.Add(-config.ArchiveRetention))
	if err != nil {
		return err
	}

	archived := 0
	for _, q := range old {
		if err := s.State.ClearRoom(q.ID); err != nil {
			logger.L().Warn("pre-archive cleanup failed", zap.String("question", q.ID), zap.Error(err))
			if s.Alerts != nil {
				s.Alerts.CleanupFailed(q.ID, err)
			}
			continue
		}
		if err := s.Storage.ArchiveQuestion(q.ID); err != nil {
			logger.L().Warn("archive failed", zap.String("question", q.ID), zap.Error(err))
			if s.Alerts != nil {
				s.Alerts.CleanupFailed(q.ID, err)
			}
			continue
		}
		archived++
	}
	logger.L().Info("thread archival done", zap.Int("archived", archived))
	return nil
}

// HandleAppointmentStatus is the hook the appointment domain calls when a
// booking changes state. Completed threads keep their ephemeral keys for a
// grace window so follow-up questions still work; cancelled and no-show
// threads are cleaned immediately.
func (s *Service) HandleAppointmentStatus(questionID string, status models.AppointmentStatus) error {
	if err := s.Storage.SetAppointmentStatus(questionID, status); err != nil {
		return err
	}

	switch status {
	case models.AppointmentCompleted:
		if err := s.State.GraceExpireRoom(questionID, config.CompletedGraceTTL); err != nil {
			return err
		}
		s.broadcast(models.EvQuestionUpdated, questionID)
	case models.AppointmentCancelled, models.AppointmentNoShow:
		if err := s.State.ClearRoom(questionID); err != nil {
			return err
		}
		s.broadcast(models.EvQuestionUpdated, questionID)
	case models.AppointmentScheduled:
		s.broadcast(models.EvConsultantAssigned, questionID)
	}
	return nil
}

func (s *Service) broadcast(event, questionID string) {
	payload, err := json.Marshal(models.ServerEvent{Event: event, QuestionID: questionID})
	if err != nil {
		return
	}
	if err := s.State.Store.Publish(ephemeral.RoomChannel(questionID), payload); err != nil {
		logger.L().Warn("status broadcast failed", zap.String("question", questionID), zap.Error(err))
	}
}
