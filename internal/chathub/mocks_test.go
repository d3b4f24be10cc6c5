package chathub_test

import (
	"sync"
	"time"

	"carechat/backend/internal/chathub"
	"carechat/backend/internal/models"

	"github.com/stretchr/testify/mock"
)

// MockStorage is a testify mock of the storage.Storage interface.
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) GetUserByID(userID string) (*models.User, error) {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockStorage) GetQuestionByID(questionID string) (*models.Question, error) {
	args := m.Called(questionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Question), args.Error(1)
}

func (m *MockStorage) GetAppointmentByQuestionID(questionID string) (*models.Appointment, error) {
	args := m.Called(questionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Appointment), args.Error(1)
}

func (m *MockStorage) SaveQuestion(q *models.Question) error {
	args := m.Called(q)
	return args.Error(0)
}

func (m *MockStorage) TouchQuestionActivity(questionID string) error {
	args := m.Called(questionID)
	return args.Error(0)
}

func (m *MockStorage) SetAppointmentStatus(questionID string, status models.AppointmentStatus) error {
	args := m.Called(questionID, status)
	return args.Error(0)
}

func (m *MockStorage) SaveMessage(msg *models.Message) error {
	args := m.Called(msg)
	return args.Error(0)
}

func (m *MockStorage) GetMessageByID(id uint) (*models.Message, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockStorage) GetRecentMessages(questionID string, limit int) ([]models.Message, error) {
	args := m.Called(questionID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockStorage) MarkMessageRead(id uint, readBy string) (*models.Message, error) {
	args := m.Called(id, readBy)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockStorage) UnreadCounts(userID string) (map[string]int64, error) {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int64), args.Error(1)
}

func (m *MockStorage) ListTerminalQuestions(statuses []models.AppointmentStatus, olderThan time.Time) ([]models.Question, error) {
	args := m.Called(statuses, olderThan)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Question), args.Error(1)
}

func (m *MockStorage) ArchiveQuestion(questionID string) error {
	args := m.Called(questionID)
	return args.Error(0)
}

// mockClient is an in-memory Client that records everything the hub sends.
type mockClient struct {
	userID string
	role   models.Role
	Recv   chan models.ServerEvent

	closeOnce sync.Once
}

func newMockClient(userID string, role models.Role) *mockClient {
	return &mockClient{
		userID: userID,
		role:   role,
		Recv:   make(chan models.ServerEvent, 64),
	}
}

func (c *mockClient) GetUserID() string                         { return c.userID }
func (c *mockClient) GetRole() models.Role                      { return c.role }
func (c *mockClient) GetSendChannel() chan<- models.ServerEvent { return c.Recv }
func (c *mockClient) Run()                                      {}
func (c *mockClient) Close() {
	c.closeOnce.Do(func() { close(c.Recv) })
}

// checkerFunc adapts a function to chathub.AccessChecker.
type checkerFunc func(questionID, userID string) (bool, error)

func (f checkerFunc) CanAccess(questionID, userID string) (bool, error) {
	return f(questionID, userID)
}

func allowAll() chathub.AccessChecker {
	return checkerFunc(func(string, string) (bool, error) { return true, nil })
}

// limiterFunc adapts a function to chathub.RateLimiter.
type limiterFunc func(userID, event string) error

func (f limiterFunc) Allow(userID, event string) error { return f(userID, event) }

func noLimit() chathub.RateLimiter {
	return limiterFunc(func(string, string) error { return nil })
}
