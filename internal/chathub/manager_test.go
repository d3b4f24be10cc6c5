package chathub_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"carechat/backend/internal/apperr"
	"carechat/backend/internal/chathub"
	"carechat/backend/internal/ephemeral"
	"carechat/backend/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type hubHarness struct {
	hub     *chathub.ManagerService
	storage *MockStorage
	state   *ephemeral.State
}

func newTestHub(t *testing.T, checker chathub.AccessChecker, limiter chathub.RateLimiter) *hubHarness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	state := ephemeral.NewState(ephemeral.NewRedisStore(client))
	store := new(MockStorage)
	hub := chathub.NewManagerService(store, state, checker, limiter, nil)
	go hub.Run()
	t.Cleanup(hub.Stop)
	return &hubHarness{hub: hub, storage: store, state: state}
}

// waitFor drains the client's channel until the named event arrives.
func waitFor(t *testing.T, c *mockClient, event string) models.ServerEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-c.Recv:
			if !ok {
				t.Fatalf("channel closed while waiting for %s", event)
			}
			if ev.Event == event {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", event)
		}
	}
}

func waitForAck(t *testing.T, c *mockClient) *models.Ack {
	t.Helper()
	ev := waitFor(t, c, models.EvAck)
	require.NotNil(t, ev.Ack)
	return ev.Ack
}

func connect(t *testing.T, h *hubHarness, c *mockClient) {
	t.Helper()
	h.hub.RegisterCh <- c
	waitFor(t, c, models.EvConnected)
}

func join(t *testing.T, h *hubHarness, c *mockClient, questionID string) {
	t.Helper()
	h.storage.On("GetRecentMessages", questionID, mock.AnythingOfType("int")).Return([]models.Message{}, nil)
	h.hub.IncomingCh <- chathub.Request{Client: c, Event: models.ClientEvent{
		Event:      models.EvJoinQuestion,
		QuestionID: questionID,
	}}
	waitFor(t, c, models.EvJoinedQuestion)
	ack := waitForAck(t, c)
	require.Equal(t, "success", ack.Status)
}

func TestRegisterAndUnregister(t *testing.T) {
	h := newTestHub(t, allowAll(), noLimit())
	clientA := newMockClient("user_A", models.RoleCustomer)

	connect(t, h, clientA)
	assert.True(t, h.hub.Connected("user_A"))

	online, err := h.state.IsOnline("user_A")
	require.NoError(t, err)
	assert.True(t, online)

	h.hub.UnregisterCh <- clientA
	require.Eventually(t, func() bool {
		on, _ := h.state.IsOnline("user_A")
		return !on
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, h.hub.Connected("user_A"))
}

func TestJoinNotifiesExistingMembers(t *testing.T) {
	h := newTestHub(t, allowAll(), noLimit())
	clientA := newMockClient("user_A", models.RoleCustomer)
	clientB := newMockClient("user_B", models.RoleConsultant)
	connect(t, h, clientA)
	connect(t, h, clientB)

	join(t, h, clientA, "q1")
	join(t, h, clientB, "q1")

	ev := waitFor(t, clientA, models.EvUserJoined)
	assert.Equal(t, "user_B", ev.UserID)
	assert.Equal(t, "q1", ev.QuestionID)
}

func TestJoinIsIdempotent(t *testing.T) {
	h := newTestHub(t, allowAll(), noLimit())
	clientA := newMockClient("user_A", models.RoleCustomer)
	connect(t, h, clientA)

	join(t, h, clientA, "q1")
	join(t, h, clientA, "q1")

	members, err := h.state.RoomMembers("q1")
	require.NoError(t, err)
	assert.Equal(t, []string{"user_A"}, members)
}

func TestJoinDenied(t *testing.T) {
	denyX := checkerFunc(func(questionID, userID string) (bool, error) {
		return userID != "consultant_X", nil
	})
	h := newTestHub(t, denyX, noLimit())
	clientX := newMockClient("consultant_X", models.RoleConsultant)
	connect(t, h, clientX)

	h.hub.IncomingCh <- chathub.Request{Client: clientX, Event: models.ClientEvent{
		Event:      models.EvJoinQuestion,
		QuestionID: "q1",
	}}
	ack := waitForAck(t, clientX)
	assert.Equal(t, "error", ack.Status)
	assert.Equal(t, "access_denied", ack.Code)

	members, err := h.state.RoomMembers("q1")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestLeaveNonMemberSucceeds(t *testing.T) {
	h := newTestHub(t, allowAll(), noLimit())
	clientA := newMockClient("user_A", models.RoleCustomer)
	connect(t, h, clientA)

	h.hub.IncomingCh <- chathub.Request{Client: clientA, Event: models.ClientEvent{
		Event:      models.EvLeaveQuestion,
		QuestionID: "q1",
	}}
	ack := waitForAck(t, clientA)
	assert.Equal(t, "success", ack.Status)
}

func TestSendMessageBroadcasts(t *testing.T) {
	h := newTestHub(t, allowAll(), noLimit())
	clientA := newMockClient("user_A", models.RoleCustomer)
	clientB := newMockClient("user_B", models.RoleConsultant)
	connect(t, h, clientA)
	connect(t, h, clientB)
	join(t, h, clientA, "q1")
	join(t, h, clientB, "q1")
	waitFor(t, clientA, models.EvUserJoined)

	h.storage.On("SaveMessage", mock.AnythingOfType("*models.Message")).Return(nil)
	h.storage.On("TouchQuestionActivity", "q1").Return(nil)

	h.hub.IncomingCh <- chathub.Request{Client: clientA, Event: models.ClientEvent{
		Event:      models.EvSendMessage,
		QuestionID: "q1",
		Content:    "Hello",
	}}

	ev := waitFor(t, clientB, models.EvNewMessage)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "Hello", ev.Message.Content)
	require.NotNil(t, ev.Message.SenderID)
	assert.Equal(t, "user_A", *ev.Message.SenderID)

	ack := waitForAck(t, clientA)
	assert.Equal(t, "success", ack.Status)

	h.storage.AssertCalled(t, "SaveMessage", mock.AnythingOfType("*models.Message"))
	h.storage.AssertCalled(t, "TouchQuestionActivity", "q1")
}

func TestSendMessageTooLong(t *testing.T) {
	h := newTestHub(t, allowAll(), noLimit())
	clientA := newMockClient("user_A", models.RoleCustomer)
	connect(t, h, clientA)
	join(t, h, clientA, "q1")

	h.hub.IncomingCh <- chathub.Request{Client: clientA, Event: models.ClientEvent{
		Event:      models.EvSendMessage,
		QuestionID: "q1",
		Content:    strings.Repeat("x", 6000),
	}}
	ack := waitForAck(t, clientA)
	assert.Equal(t, "error", ack.Status)
	assert.Equal(t, "invalid_request", ack.Code)
	h.storage.AssertNotCalled(t, "SaveMessage", mock.Anything)
}

func TestSendMessageRateLimited(t *testing.T) {
	limited := limiterFunc(func(userID, event string) error {
		return fmt.Errorf("over budget: %w", apperr.ErrRateLimited)
	})
	h := newTestHub(t, allowAll(), limited)
	clientA := newMockClient("user_A", models.RoleCustomer)
	connect(t, h, clientA)

	h.hub.IncomingCh <- chathub.Request{Client: clientA, Event: models.ClientEvent{
		Event:      models.EvSendMessage,
		QuestionID: "q1",
		Content:    "Hello",
	}}
	ack := waitForAck(t, clientA)
	assert.Equal(t, "error", ack.Status)
	assert.Equal(t, "rate_limited", ack.Code)
}

func TestTypingRequiresMembership(t *testing.T) {
	h := newTestHub(t, allowAll(), noLimit())
	clientA := newMockClient("user_A", models.RoleCustomer)
	connect(t, h, clientA)

	h.hub.IncomingCh <- chathub.Request{Client: clientA, Event: models.ClientEvent{
		Event:      models.EvTyping,
		QuestionID: "q1",
		IsTyping:   true,
	}}
	ack := waitForAck(t, clientA)
	assert.Equal(t, "error", ack.Status)
	assert.Equal(t, "access_denied", ack.Code)
}

func TestTypingBroadcastExcludesTypist(t *testing.T) {
	h := newTestHub(t, allowAll(), noLimit())
	clientA := newMockClient("user_A", models.RoleCustomer)
	clientB := newMockClient("user_B", models.RoleConsultant)
	connect(t, h, clientA)
	connect(t, h, clientB)
	join(t, h, clientA, "q1")
	join(t, h, clientB, "q1")
	waitFor(t, clientA, models.EvUserJoined)

	h.hub.IncomingCh <- chathub.Request{Client: clientA, Event: models.ClientEvent{
		Event:      models.EvTyping,
		QuestionID: "q1",
		IsTyping:   true,
	}}

	ev := waitFor(t, clientB, models.EvTypingStatus)
	assert.Equal(t, []string{"user_A"}, ev.TypingUserIDs)
	ack := waitForAck(t, clientA)
	assert.Equal(t, "success", ack.Status)

	// the typist does not receive the typing broadcast
	select {
	case ev := <-clientA.Recv:
		assert.NotEqual(t, models.EvTypingStatus, ev.Event)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestMarkAsReadBroadcasts(t *testing.T) {
	h := newTestHub(t, allowAll(), noLimit())
	clientA := newMockClient("user_A", models.RoleCustomer)
	clientB := newMockClient("user_B", models.RoleConsultant)
	connect(t, h, clientA)
	connect(t, h, clientB)
	join(t, h, clientA, "q1")
	join(t, h, clientB, "q1")
	waitFor(t, clientA, models.EvUserJoined)

	sender := "user_A"
	stored := &models.Message{QuestionID: "q1", SenderID: &sender, Content: "Hello"}
	stored.ID = 7
	h.storage.On("GetMessageByID", uint(7)).Return(stored, nil)
	h.storage.On("MarkMessageRead", uint(7), "user_B").Return(stored, nil)

	h.hub.IncomingCh <- chathub.Request{Client: clientB, Event: models.ClientEvent{
		Event:      models.EvMarkAsRead,
		QuestionID: "q1",
		MessageID:  7,
	}}

	ev := waitFor(t, clientA, models.EvMessageRead)
	assert.Equal(t, uint(7), ev.MessageID)
	assert.Equal(t, "user_B", ev.ReadBy)
	ack := waitForAck(t, clientB)
	assert.Equal(t, "success", ack.Status)
}

func TestMarkOwnMessageRejected(t *testing.T) {
	h := newTestHub(t, allowAll(), noLimit())
	clientA := newMockClient("user_A", models.RoleCustomer)
	connect(t, h, clientA)
	join(t, h, clientA, "q1")

	sender := "user_A"
	stored := &models.Message{QuestionID: "q1", SenderID: &sender, Content: "Hello"}
	stored.ID = 7
	h.storage.On("GetMessageByID", uint(7)).Return(stored, nil)

	h.hub.IncomingCh <- chathub.Request{Client: clientA, Event: models.ClientEvent{
		Event:      models.EvMarkAsRead,
		QuestionID: "q1",
		MessageID:  7,
	}}
	ack := waitForAck(t, clientA)
	assert.Equal(t, "error", ack.Status)
	assert.Equal(t, "invalid_request", ack.Code)
	h.storage.AssertNotCalled(t, "MarkMessageRead", mock.Anything, mock.Anything)
}

func TestDisconnectLeavesAllRooms(t *testing.T) {
	h := newTestHub(t, allowAll(), noLimit())
	clientA := newMockClient("user_A", models.RoleCustomer)
	clientB := newMockClient("user_B", models.RoleConsultant)
	connect(t, h, clientA)
	connect(t, h, clientB)
	join(t, h, clientA, "q1")
	join(t, h, clientA, "q2")
	join(t, h, clientB, "q1")
	waitFor(t, clientA, models.EvUserJoined)
	join(t, h, clientB, "q2")
	waitFor(t, clientA, models.EvUserJoined)

	h.hub.UnregisterCh <- clientA

	left := map[string]bool{}
	for i := 0; i < 2; i++ {
		ev := waitFor(t, clientB, models.EvUserLeft)
		assert.Equal(t, "user_A", ev.UserID)
		left[ev.QuestionID] = true
	}
	assert.True(t, left["q1"])
	assert.True(t, left["q2"])

	for _, q := range []string{"q1", "q2"} {
		members, err := h.state.RoomMembers(q)
		require.NoError(t, err)
		assert.NotContains(t, members, "user_A")
	}
	rooms, err := h.state.UserRooms("user_A")
	require.NoError(t, err)
	assert.Empty(t, rooms)
}
