package handler_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"carechat/backend/internal/access"
	"carechat/backend/internal/api/handler"
	"carechat/backend/internal/apperr"
	"carechat/backend/internal/auth"
	"carechat/backend/internal/models"
	"carechat/backend/internal/ratelimit"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

// fakeStore covers the storage methods the REST routes touch.
type fakeStore struct {
	users        map[string]*models.User
	questions    map[string]*models.Question
	appointments map[string]*models.Appointment
	messages     map[string][]models.Message
	unread       map[string]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:        map[string]*models.User{},
		questions:    map[string]*models.Question{},
		appointments: map[string]*models.Appointment{},
		messages:     map[string][]models.Message{},
		unread:       map[string]int64{},
	}
}

func (f *fakeStore) GetUserByID(id string) (*models.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user %s: %w", id, apperr.ErrNotFound)
}

func (f *fakeStore) GetQuestionByID(id string) (*models.Question, error) {
	if q, ok := f.questions[id]; ok {
		return q, nil
	}
	return nil, fmt.Errorf("question %s: %w", id, apperr.ErrNotFound)
}

func (f *fakeStore) GetAppointmentByQuestionID(id string) (*models.Appointment, error) {
	if a, ok := f.appointments[id]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("appointment for %s: %w", id, apperr.ErrNotFound)
}

func (f *fakeStore) GetRecentMessages(questionID string, limit int) ([]models.Message, error) {
	msgs := f.messages[questionID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (f *fakeStore) UnreadCounts(userID string) (map[string]int64, error) {
	out := map[string]int64{}
	for q, n := range f.unread {
		out[q] = n
	}
	_ = userID
	return out, nil
}

func (f *fakeStore) SaveQuestion(*models.Question) error         { return nil }
func (f *fakeStore) TouchQuestionActivity(string) error          { return nil }
func (f *fakeStore) SaveMessage(*models.Message) error           { return nil }
func (f *fakeStore) GetMessageByID(uint) (*models.Message, error) {
	return nil, apperr.ErrNotFound
}
func (f *fakeStore) MarkMessageRead(uint, string) (*models.Message, error) {
	return nil, apperr.ErrNotFound
}
func (f *fakeStore) SetAppointmentStatus(string, models.AppointmentStatus) error { return nil }
func (f *fakeStore) ListTerminalQuestions([]models.AppointmentStatus, time.Time) ([]models.Question, error) {
	return nil, nil
}
func (f *fakeStore) ArchiveQuestion(string) error { return nil }

func bearerFor(t *testing.T, userID string, role models.Role) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  userID,
		"role": string(role),
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func newTestRouter(t *testing.T, store *fakeStore) *gin.Engine {
	t.Helper()
	return newTestRouterWithLimiter(t, store, ratelimit.NewLimiter(testRedis(t)))
}

func newTestRouterWithLimiter(t *testing.T, store *fakeStore, limiter *ratelimit.Limiter) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := handler.NewHandler(nil, store, auth.NewVerifier(testSecret),
		access.NewEvaluator(store), limiter, nil)

	r := gin.New()
	h.RegisterRoutes(r)
	return r
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func seedThread(store *fakeStore) {
	store.users["owner"] = &models.User{ID: "owner", Role: models.RoleCustomer, Active: true}
	store.users["doc"] = &models.User{ID: "doc", Role: models.RoleConsultant, Active: true}
	store.users["stranger"] = &models.User{ID: "stranger", Role: models.RoleCustomer, Active: true}
	store.users["inactive"] = &models.User{ID: "inactive", Role: models.RoleCustomer, Active: false}
	store.questions["q1"] = &models.Question{ID: "q1", CustomerID: "owner"}
	store.appointments["q1"] = &models.Appointment{ID: "a1", QuestionID: "q1", ConsultantID: "doc"}
	store.messages["q1"] = []models.Message{
		{QuestionID: "q1", Content: "hello", Kind: models.MessageText},
		{QuestionID: "q1", Content: "hi there", Kind: models.MessageText},
	}
	store.unread["q1"] = 2
}

func doRequest(r *gin.Engine, method, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRejectsMissingToken(t *testing.T) {
	store := newFakeStore()
	seedThread(store)
	r := newTestRouter(t, store)

	w := doRequest(r, http.MethodGet, "/api/v1/questions/unread", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "authentication_required")
}

func TestRejectsInactiveUser(t *testing.T) {
	store := newFakeStore()
	seedThread(store)
	r := newTestRouter(t, store)

	w := doRequest(r, http.MethodGet, "/api/v1/questions/unread", bearerFor(t, "inactive", models.RoleCustomer))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHistoryDeniedForStranger(t *testing.T) {
	store := newFakeStore()
	seedThread(store)
	r := newTestRouter(t, store)

	w := doRequest(r, http.MethodGet, "/api/v1/questions/q1/messages", bearerFor(t, "stranger", models.RoleCustomer))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "access_denied")
}

func TestHistoryForOwner(t *testing.T) {
	store := newFakeStore()
	seedThread(store)
	r := newTestRouter(t, store)

	w := doRequest(r, http.MethodGet, "/api/v1/questions/q1/messages", bearerFor(t, "owner", models.RoleCustomer))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hello")
	assert.Contains(t, w.Body.String(), "hi there")
}

func TestHistoryForAssignedConsultant(t *testing.T) {
	store := newFakeStore()
	seedThread(store)
	r := newTestRouter(t, store)

	w := doRequest(r, http.MethodGet, "/api/v1/questions/q1/messages", bearerFor(t, "doc", models.RoleConsultant))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHistoryRejectsBadLimit(t *testing.T) {
	store := newFakeStore()
	seedThread(store)
	r := newTestRouter(t, store)

	w := doRequest(r, http.MethodGet, "/api/v1/questions/q1/messages?limit=abc", bearerFor(t, "owner", models.RoleCustomer))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_request")
}

func TestHistoryRateLimited(t *testing.T) {
	store := newFakeStore()
	seedThread(store)
	// two requests per window; burst rule disabled by the high threshold
	limiter := ratelimit.NewCustomLimiter(testRedis(t), time.Minute, 2, 100, time.Millisecond)
	r := newTestRouterWithLimiter(t, store, limiter)
	bearer := bearerFor(t, "owner", models.RoleCustomer)

	for i := 0; i < 2; i++ {
		w := doRequest(r, http.MethodGet, "/api/v1/questions/q1/messages", bearer)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := doRequest(r, http.MethodGet, "/api/v1/questions/q1/messages", bearer)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate_limited")
}

func TestUnreadRateLimited(t *testing.T) {
	store := newFakeStore()
	seedThread(store)
	limiter := ratelimit.NewCustomLimiter(testRedis(t), time.Minute, 1, 100, time.Millisecond)
	r := newTestRouterWithLimiter(t, store, limiter)
	bearer := bearerFor(t, "owner", models.RoleCustomer)

	w := doRequest(r, http.MethodGet, "/api/v1/questions/unread", bearer)
	require.Equal(t, http.StatusOK, w.Code)
	w = doRequest(r, http.MethodGet, "/api/v1/questions/unread", bearer)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimitChargedBeforeAccessCheck(t *testing.T) {
	store := newFakeStore()
	seedThread(store)
	// zero budget: a stranger over budget draws the rate-limit denial, not
	// an access evaluation
	limiter := ratelimit.NewCustomLimiter(testRedis(t), time.Minute, 0, 100, time.Millisecond)
	r := newTestRouterWithLimiter(t, store, limiter)

	w := doRequest(r, http.MethodGet, "/api/v1/questions/q1/messages", bearerFor(t, "stranger", models.RoleCustomer))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotContains(t, w.Body.String(), "access_denied")
}

func TestUnreadCounts(t *testing.T) {
	store := newFakeStore()
	seedThread(store)
	r := newTestRouter(t, store)

	w := doRequest(r, http.MethodGet, "/api/v1/questions/unread", bearerFor(t, "owner", models.RoleCustomer))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"q1":2`)
}
