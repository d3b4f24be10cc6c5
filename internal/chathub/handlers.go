package chathub

import (
	"errors"
	"fmt"
	"time"

	"carechat/backend/internal/apperr"
	"carechat/backend/internal/config"
	"carechat/backend/internal/logger"
	"carechat/backend/internal/models"

	"go.uber.org/zap"
)

// handleRequest dispatches one inbound event. Runs on its own goroutine;
// it never touches the hub's maps, only storage, ephemeral state, pub/sub
// and the requesting client's send channel.
func (m *ManagerService) handleRequest(req Request) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Error("handler panic",
				zap.String("event", req.Event.Event), zap.Any("panic", r))
			m.ack(req, apperr.ErrInternal)
		}
	}()

	userID := req.Client.GetUserID()

	// activity keeps presence alive regardless of what the event is
	if err := m.State.RefreshPresence(userID); err != nil {
		logger.L().Warn("presence refresh failed", zap.String("user", userID), zap.Error(err))
	}

	if req.Event.QuestionID == "" {
		m.ack(req, fmt.Errorf("question id is required: %w", apperr.ErrInvalidRequest))
		return
	}

	if err := m.Limiter.Allow(userID, req.Event.Event); err != nil {
		if !errors.Is(err, apperr.ErrRateLimited) {
			// limiter failure fails closed but is reported as rate limiting
			logger.L().Error("rate limiter error", zap.String("user", userID), zap.Error(err))
			err = apperr.ErrRateLimited
		}
		m.ack(req, err)
		return
	}

	var err error
	switch req.Event.Event {
	case models.EvJoinQuestion:
		err = m.handleJoin(req)
	case models.EvLeaveQuestion:
		err = m.handleLeave(req)
	case models.EvSendMessage:
		err = m.handleSendMessage(req)
	case models.EvTyping:
		err = m.handleTyping(req)
	case models.EvMarkAsRead:
		err = m.handleMarkAsRead(req)
	default:
		err = fmt.Errorf("unknown event %q: %w", req.Event.Event, apperr.ErrInvalidRequest)
	}
	m.ack(req, err)
}

// ack sends the structured acknowledgment every request gets. Expected
// denials go out verbatim; anything unrecognized is logged and masked.
func (m *ManagerService) ack(req Request, err error) {
	a := models.Ack{
		Event:      models.EvAck,
		Status:     "success",
		QuestionID: req.Event.QuestionID,
		Timestamp:  time.Now().UTC(),
	}
	if err != nil {
		a.Status = "error"
		a.Code = apperr.Code(err)
		switch a.Code {
		case "internal_error":
			logger.L().Error("request failed",
				zap.String("event", req.Event.Event),
				zap.String("user", req.Client.GetUserID()),
				zap.Error(err))
			a.Message = "internal error"
		default:
			a.Message = err.Error()
		}
	}
	m.sendToClient(req.Client, models.ServerEvent{
		Event:      models.EvAck,
		QuestionID: req.Event.QuestionID,
		Ack:        &a,
	})
}

func (m *ManagerService) requireAccess(questionID, userID string) error {
	allowed, err := m.Access.CanAccess(questionID, userID)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("user %s has no access to question %s: %w", userID, questionID, apperr.ErrAccessDenied)
	}
	return nil
}

// handleJoin adds the user to the room after an access check. Joining a
// room the user is already in is a no-op apart from re-sending history.
func (m *ManagerService) handleJoin(req Request) error {
	userID := req.Client.GetUserID()
	questionID := req.Event.QuestionID

	if err := m.requireAccess(questionID, userID); err != nil {
		return err
	}

	already, err := m.State.IsRoomMember(questionID, userID)
	if err != nil {
		return err
	}
	if !already {
		if err := m.State.JoinRoom(questionID, userID); err != nil {
			return err
		}
		m.publish(models.ServerEvent{
			Event:         models.EvUserJoined,
			QuestionID:    questionID,
			UserID:        userID,
			ExcludeUserID: userID,
		})
	}

	// subscribe this connection to the room's local fan-out either way
	m.attachCh <- attach{client: req.Client, questionID: questionID}

	history, err := m.Storage.GetRecentMessages(questionID, config.RecentHistoryOnJoin)
	if err != nil {
		return err
	}
	m.sendDirect(req.Client, models.ServerEvent{
		Event:      models.EvJoinedQuestion,
		QuestionID: questionID,
		Messages:   history,
	})
	return nil
}

// handleLeave is idempotent: leaving a room the user never joined succeeds.
func (m *ManagerService) handleLeave(req Request) error {
	userID := req.Client.GetUserID()
	questionID := req.Event.QuestionID

	was, err := m.State.IsRoomMember(questionID, userID)
	if err != nil {
		return err
	}
	if err := m.State.LeaveRoom(questionID, userID); err != nil {
		return err
	}
	m.detachCh <- attach{client: req.Client, questionID: questionID}
	if was {
		m.publish(models.ServerEvent{
			Event:      models.EvUserLeft,
			QuestionID: questionID,
			UserID:     userID,
		})
	}
	return nil
}

// handleSendMessage validates, persists and broadcasts a message, and
// touches the thread's activity timestamp.
func (m *ManagerService) handleSendMessage(req Request) error {
	_, err := m.PostMessage(req.Client.GetUserID(), req.Event)
	return err
}

// PostMessage is the shared send path for the socket handler and the REST
// facade: access check, variant validation, persistence, broadcast.
func (m *ManagerService) PostMessage(userID string, ev models.ClientEvent) (*models.Message, error) {
	questionID := ev.QuestionID

	if err := m.requireAccess(questionID, userID); err != nil {
		return nil, err
	}

	sender := userID
	msg := &models.Message{
		QuestionID:    questionID,
		SenderID:      &sender,
		Content:       ev.Content,
		Kind:          ev.Kind,
		AttachmentRef: ev.AttachmentRef,
		ThumbnailRef:  ev.ThumbnailRef,
	}
	if msg.Kind == "" {
		msg.Kind = models.MessageText
	}
	if err := msg.Validate(config.MaxMessageLength, config.MaxFileDescription); err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperr.ErrInvalidRequest)
	}

	if err := m.Storage.SaveMessage(msg); err != nil {
		return nil, err
	}
	if err := m.Storage.TouchQuestionActivity(questionID); err != nil {
		logger.L().Warn("activity touch failed", zap.String("question", questionID), zap.Error(err))
	}
	if err := m.State.RefreshMembership(questionID, userID); err != nil {
		logger.L().Warn("membership refresh failed", zap.String("question", questionID), zap.Error(err))
	}

	m.publish(models.ServerEvent{
		Event:      models.EvNewMessage,
		QuestionID: questionID,
		Message:    msg,
	})
	return msg, nil
}

// handleTyping requires room membership rather than a full access re-check;
// membership already implies a prior successful join.
func (m *ManagerService) handleTyping(req Request) error {
	userID := req.Client.GetUserID()
	questionID := req.Event.QuestionID

	member, err := m.State.IsRoomMember(questionID, userID)
	if err != nil {
		return err
	}
	if !member {
		return fmt.Errorf("typing outside joined room: %w", apperr.ErrAccessDenied)
	}

	if err := m.State.SetTyping(questionID, userID, req.Event.IsTyping); err != nil {
		return err
	}
	typing, err := m.State.TypingUsers(questionID)
	if err != nil {
		return err
	}
	m.publish(models.ServerEvent{
		Event:         models.EvTypingStatus,
		QuestionID:    questionID,
		TypingUserIDs: typing,
		ExcludeUserID: userID,
	})
	return nil
}

// handleMarkAsRead flips the read flag and broadcasts a read receipt. Users
// cannot mark their own messages.
func (m *ManagerService) handleMarkAsRead(req Request) error {
	userID := req.Client.GetUserID()
	questionID := req.Event.QuestionID

	if err := m.requireAccess(questionID, userID); err != nil {
		return err
	}
	if req.Event.MessageID == 0 {
		return fmt.Errorf("message id is required: %w", apperr.ErrInvalidRequest)
	}

	msg, err := m.Storage.GetMessageByID(req.Event.MessageID)
	if err != nil {
		return err
	}
	if msg.QuestionID != questionID {
		return fmt.Errorf("message %d not in question %s: %w", req.Event.MessageID, questionID, apperr.ErrNotFound)
	}
	if msg.SenderID != nil && *msg.SenderID == userID {
		return fmt.Errorf("cannot mark own message as read: %w", apperr.ErrInvalidRequest)
	}

	if _, err := m.Storage.MarkMessageRead(req.Event.MessageID, userID); err != nil {
		return err
	}
	m.publish(models.ServerEvent{
		Event:      models.EvMessageRead,
		QuestionID: questionID,
		MessageID:  req.Event.MessageID,
		ReadBy:     userID,
	})
	return nil
}

// sendDirect delivers an event to one client only, without the room fan-out.
func (m *ManagerService) sendDirect(client Client, ev models.ServerEvent) {
	m.sendToClient(client, ev)
}
