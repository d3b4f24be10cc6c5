package models

import (
	"fmt"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
)

// MessageKind tags the variant carried by a message. File and image
// messages reference an externally uploaded artifact; they never carry
// inline binary data.
type MessageKind string

const (
	MessageText  MessageKind = "text"
	MessageFile  MessageKind = "file"
	MessageImage MessageKind = "image"
)

// Message is one entry in a question thread. Immutable after creation
// except for the read flag and soft-delete.
type Message struct {
	gorm.Model

	QuestionID string `gorm:"type:text;not null;index:idx_question_msg" json:"question_id"`
	// SenderID is nil when the sending account has been deleted.
	SenderID *string     `gorm:"type:text;index:idx_question_msg" json:"sender_id"`
	Content  string      `gorm:"type:text;not null" json:"content"`
	Kind     MessageKind `gorm:"type:text;not null;default:'text'" json:"kind"`

	// AttachmentRef is the object-store key for file and image messages.
	AttachmentRef string `gorm:"type:text" json:"attachment_ref,omitempty"`
	// ThumbnailRef is set for image messages only.
	ThumbnailRef string `gorm:"type:text" json:"thumbnail_ref,omitempty"`

	Read   bool       `gorm:"not null;default:false" json:"read"`
	ReadAt *time.Time `json:"read_at,omitempty"`
}

// Validate checks the variant invariants before the message is persisted.
func (m *Message) Validate(maxText, maxFileDesc int) error {
	switch m.Kind {
	case MessageText, "":
		if m.Content == "" {
			return fmt.Errorf("text message requires content")
		}
		if utf8.RuneCountInString(m.Content) > maxText {
			return fmt.Errorf("content exceeds %d characters", maxText)
		}
		if m.AttachmentRef != "" || m.ThumbnailRef != "" {
			return fmt.Errorf("text message cannot carry an attachment")
		}
	case MessageFile:
		if m.AttachmentRef == "" {
			return fmt.Errorf("file message requires an attachment reference")
		}
		if utf8.RuneCountInString(m.Content) > maxFileDesc {
			return fmt.Errorf("file description exceeds %d characters", maxFileDesc)
		}
		if m.ThumbnailRef != "" {
			return fmt.Errorf("file message cannot carry a thumbnail")
		}
	case MessageImage:
		if m.AttachmentRef == "" {
			return fmt.Errorf("image message requires an attachment reference")
		}
		if utf8.RuneCountInString(m.Content) > maxFileDesc {
			return fmt.Errorf("image description exceeds %d characters", maxFileDesc)
		}
	default:
		return fmt.Errorf("unknown message kind %q", m.Kind)
	}
	return nil
}
