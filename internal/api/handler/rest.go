package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"carechat/backend/internal/apperr"
	"carechat/backend/internal/config"
	"carechat/backend/internal/models"

	"github.com/gin-gonic/gin"
)

const (
	maxHistoryPage = 200
	presignExpiry  = 15 * time.Minute
	maxUploadBytes = 20 << 20
)

// messageView is a Message plus a short-lived download URL for attachments.
type messageView struct {
	models.Message
	AttachmentURL string `json:"attachment_url,omitempty"`
}

// GetMessageHistory returns the most recent messages of a thread, oldest
// first, with presigned attachment URLs.
func (h *Handler) GetMessageHistory(c *gin.Context) {
	questionID := c.Param("id")

	limit := config.RecentHistoryOnJoin
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			fail(c, fmt.Errorf("limit must be a positive integer: %w", apperr.ErrInvalidRequest))
			return
		}
		if n > maxHistoryPage {
			n = maxHistoryPage
		}
		limit = n
	}

	messages, err := h.Storage.GetRecentMessages(questionID, limit)
	if err != nil {
		fail(c, err)
		return
	}

	views := make([]messageView, 0, len(messages))
	for _, m := range messages {
		v := messageView{Message: m}
		if m.AttachmentRef != "" && h.Attachments != nil {
			if url, err := h.Attachments.PresignGet(c.Request.Context(), m.AttachmentRef, presignExpiry); err == nil {
				v.AttachmentURL = url
			}
		}
		views = append(views, v)
	}
	c.JSON(http.StatusOK, gin.H{"question_id": questionID, "messages": views})
}

// UploadFileMessage stores the uploaded file and posts a file or image
// message through the same path the socket handler uses, so the thread's
// members see it as a live event.
func (h *Handler) UploadFileMessage(c *gin.Context) {
	questionID := c.Param("id")
	ident := identity(c)

	if h.Attachments == nil {
		fail(c, fmt.Errorf("attachment storage unavailable: %w", apperr.ErrInternal))
		return
	}

	kind := models.MessageKind(c.DefaultPostForm("kind", string(models.MessageFile)))
	if kind != models.MessageFile && kind != models.MessageImage {
		fail(c, fmt.Errorf("kind must be file or image: %w", apperr.ErrInvalidRequest))
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		fail(c, fmt.Errorf("file field required: %w", apperr.ErrInvalidRequest))
		return
	}
	if fileHeader.Size > maxUploadBytes {
		fail(c, fmt.Errorf("file exceeds %d bytes: %w", maxUploadBytes, apperr.ErrInvalidRequest))
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		fail(c, err)
		return
	}
	defer f.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	ref, err := h.Attachments.Put(c.Request.Context(), questionID, fileHeader.Filename, f, fileHeader.Size, contentType)
	if err != nil {
		fail(c, err)
		return
	}

	msg, err := h.Hub.PostMessage(ident.UserID, models.ClientEvent{
		Event:         models.EvSendMessage,
		QuestionID:    questionID,
		Content:       c.PostForm("description"),
		Kind:          kind,
		AttachmentRef: ref,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// GetUnreadCounts returns per-thread unread message counts for the caller.
func (h *Handler) GetUnreadCounts(c *gin.Context) {
	ident := identity(c)
	counts, err := h.Storage.UnreadCounts(ident.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": counts})
}
