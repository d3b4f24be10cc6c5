package storage

import (
	"errors"
	"fmt"
	"time"

	"carechat/backend/internal/apperr"
	"carechat/backend/internal/models"

	"gorm.io/gorm"
)

// Storage is the durable-store contract the chat subsystem consumes. Tests
// mock this interface; production uses the gorm-backed Service.
type Storage interface {
	GetUserByID(userID string) (*models.User, error)
	GetQuestionByID(questionID string) (*models.Question, error)
	GetAppointmentByQuestionID(questionID string) (*models.Appointment, error)

	SaveQuestion(q *models.Question) error
	TouchQuestionActivity(questionID string) error
	SetAppointmentStatus(questionID string, status models.AppointmentStatus) error

	SaveMessage(msg *models.Message) error
	GetMessageByID(id uint) (*models.Message, error)
	GetRecentMessages(questionID string, limit int) ([]models.Message, error)
	MarkMessageRead(id uint, readBy string) (*models.Message, error)
	UnreadCounts(userID string) (map[string]int64, error)

	ListTerminalQuestions(statuses []models.AppointmentStatus, olderThan time.Time) ([]models.Question, error)
	ArchiveQuestion(questionID string) error
}

// Service implements Storage over PostgreSQL via gorm.
type Service struct {
	DB *gorm.DB
}

// NewService builds the gorm-backed storage service.
func NewService(db *gorm.DB) *Service {
	return &Service{DB: db}
}

// GetUserByID loads a user, mapping missing rows to apperr.ErrNotFound.
func (s *Service) GetUserByID(userID string) (*models.User, error) {
	var user models.User
	err := s.DB.First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %s: %w", userID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetQuestionByID loads a question; soft-deleted rows are treated as missing.
func (s *Service) GetQuestionByID(questionID string) (*models.Question, error) {
	var q models.Question
	err := s.DB.First(&q, "id = ?", questionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("question %s: %w", questionID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// GetAppointmentByQuestionID returns the appointment linked to the question,
// or nil when the question has none.
func (s *Service) GetAppointmentByQuestionID(questionID string) (*models.Appointment, error) {
	var a models.Appointment
	err := s.DB.First(&a, "question_id = ?", questionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// SaveQuestion upserts a question row.
func (s *Service) SaveQuestion(q *models.Question) error {
	return s.DB.Save(q).Error
}

// TouchQuestionActivity bumps the thread's last-activity timestamp.
func (s *Service) TouchQuestionActivity(questionID string) error {
	return s.DB.Model(&models.Question{}).
		Where("id = ?", questionID).
		Update("last_activity_at", time.Now()).Error
}

// SetAppointmentStatus updates the appointment row and the snapshot kept on
// the question.
func (s *Service) SetAppointmentStatus(questionID string, status models.AppointmentStatus) error {
	if err := s.DB.Model(&models.Appointment{}).
		Where("question_id = ?", questionID).
		Update("status", status).Error; err != nil {
		return err
	}
	return s.DB.Model(&models.Question{}).
		Where("id = ?", questionID).
		Update("appointment_status", status).Error
}

// SaveMessage persists a message after checking its thread still exists and
// is not soft-deleted. The generated ID is written back into msg.
func (s *Service) SaveMessage(msg *models.Message) error {
	if _, err := s.GetQuestionByID(msg.QuestionID); err != nil {
		return err
	}
	return s.DB.Create(msg).Error
}

// GetMessageByID loads a message, mapping missing rows to apperr.ErrNotFound.
func (s *Service) GetMessageByID(id uint) (*models.Message, error) {
	var msg models.Message
	err := s.DB.First(&msg, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("message %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetRecentMessages returns the newest messages of a thread in chronological
// order.
func (s *Service) GetRecentMessages(questionID string, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := s.DB.Where("question_id = ?", questionID).
		Order("created_at desc").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	// reverse into chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MarkMessageRead flips the read flag. A sender cannot mark their own
// message; that surfaces as ErrInvalidRequest.
func (s *Service) MarkMessageRead(id uint, readBy string) (*models.Message, error) {
	msg, err := s.GetMessageByID(id)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != nil && *msg.SenderID == readBy {
		return nil, fmt.Errorf("cannot mark own message as read: %w", apperr.ErrInvalidRequest)
	}
	if msg.Read {
		return msg, nil
	}
	now := time.Now()
	msg.Read = true
	msg.ReadAt = &now
	if err := s.DB.Model(msg).Updates(map[string]interface{}{
		"read":    true,
		"read_at": now,
	}).Error; err != nil {
		return nil, err
	}
	return msg, nil
}

// UnreadCounts returns, per question owned by or assigned to the user, how
// many messages from other senders are still unread.
func (s *Service) UnreadCounts(userID string) (map[string]int64, error) {
	type row struct {
		QuestionID string
		Count      int64
	}
	var rows []row
	err := s.DB.Model(&models.Message{}).
		Select("messages.question_id as question_id, count(*) as count").
		Joins("JOIN questions ON questions.id = messages.question_id AND questions.deleted_at IS NULL").
		Joins("LEFT JOIN appointments ON appointments.question_id = questions.id").
		Where("messages.read = ?", false).
		Where("(messages.sender_id IS NULL OR messages.sender_id <> ?)", userID).
		Where("(questions.customer_id = ? OR appointments.consultant_id = ?)", userID, userID).
		Group("messages.question_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.QuestionID] = r.Count
	}
	return counts, nil
}

// ListTerminalQuestions returns live questions whose appointment snapshot is
// in one of the given statuses and whose last update is older than the cutoff.
func (s *Service) ListTerminalQuestions(statuses []models.AppointmentStatus, olderThan time.Time) ([]models.Question, error) {
	var qs []models.Question
	err := s.DB.Where("appointment_status IN ?", statuses).
		Where("updated_at < ?", olderThan).
		Find(&qs).Error
	if err != nil {
		return nil, err
	}
	return qs, nil
}

// ArchiveQuestion soft-deletes a thread. Reversible; never a hard delete.
func (s *Service) ArchiveQuestion(questionID string) error {
	return s.DB.Delete(&models.Question{}, "id = ?", questionID).Error
}
