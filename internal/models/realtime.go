package models

import "time"

// Client→server event names.
const (
	EvJoinQuestion  = "join_question"
	EvLeaveQuestion = "leave_question"
	EvSendMessage   = "send_message"
	EvTyping        = "typing"
	EvMarkAsRead    = "mark_as_read"
)

// Server→client event names.
const (
	EvConnected          = "connected"
	EvJoinedQuestion     = "joined_question"
	EvUserJoined         = "user_joined"
	EvUserLeft           = "user_left"
	EvNewMessage         = "new_message"
	EvMessageRead        = "message_read"
	EvTypingStatus       = "typing_status"
	EvQuestionUpdated    = "question_updated"
	EvConsultantAssigned = "consultant_assigned"
	EvAck                = "ack"
	EvError              = "error"
)

// ClientEvent is the envelope a client sends over the socket.
type ClientEvent struct {
	Event         string      `json:"event"`
	QuestionID    string      `json:"question_id,omitempty"`
	Content       string      `json:"content,omitempty"`
	Kind          MessageKind `json:"kind,omitempty"`
	AttachmentRef string      `json:"attachment_ref,omitempty"`
	ThumbnailRef  string      `json:"thumbnail_ref,omitempty"`
	IsTyping      bool        `json:"is_typing,omitempty"`
	MessageID     uint        `json:"message_id,omitempty"`
}

// Ack is the structured success/error acknowledgment returned for every
// client request.
type Ack struct {
	Event      string    `json:"event"`
	Status     string    `json:"status"`
	Code       string    `json:"code,omitempty"`
	Message    string    `json:"message,omitempty"`
	QuestionID string    `json:"question_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ServerEvent is the envelope delivered to clients and fanned out between
// server processes over Redis pub/sub. Fields are populated per event.
type ServerEvent struct {
	Event         string    `json:"event"`
	QuestionID    string    `json:"question_id,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	Message       *Message  `json:"message,omitempty"`
	Messages      []Message `json:"messages,omitempty"`
	MessageID     uint      `json:"message_id,omitempty"`
	ReadBy        string    `json:"read_by,omitempty"`
	TypingUserIDs []string  `json:"typing_user_ids,omitempty"`
	// Ack is set when the event acknowledges a client request.
	Ack *Ack `json:"ack,omitempty"`
	// ExcludeUserID suppresses delivery to one user (e.g. the typist).
	ExcludeUserID string `json:"exclude_user_id,omitempty"`
}
