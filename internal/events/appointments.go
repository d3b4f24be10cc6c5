// Package events consumes appointment lifecycle events from the platform's
// message broker and feeds them into the chat cleanup hook.
package events

import (
	"context"
	"encoding/json"
	"time"

	"carechat/backend/internal/logger"
	"carechat/backend/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// StatusHandler is what the consumer invokes per event; in production this
// is the cleanup service's on-demand hook.
type StatusHandler interface {
	HandleAppointmentStatus(questionID string, status models.AppointmentStatus) error
}

// statusEvent is the wire shape the appointment domain publishes.
type statusEvent struct {
	QuestionID string `json:"question_id"`
	Status     string `json:"status"`
}

// AppointmentConsumer subscribes to appointment status changes.
type AppointmentConsumer struct {
	URL     string
	Queue   string
	Handler StatusHandler
}

// NewAppointmentConsumer builds a consumer for the given broker queue.
func NewAppointmentConsumer(url, queue string, handler StatusHandler) *AppointmentConsumer {
	return &AppointmentConsumer{URL: url, Queue: queue, Handler: handler}
}

// Run consumes until the context is cancelled, redialing with backoff when
// the broker connection drops.
func (c *AppointmentConsumer) Run(ctx context.Context) {
	for {
		if err := c.consume(ctx); err != nil {
			logger.L().Warn("appointment consumer disconnected", zap.Error(err))
		}
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
			return
		}
	}
}

func (c *AppointmentConsumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.URL)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(c.Queue, true, false, false, false, nil); err != nil {
		return err
	}
	deliveries, err := ch.Consume(c.Queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	logger.L().Info("appointment consumer started", zap.String("queue", c.Queue))

	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return amqp.ErrClosed
			}
			c.handle(d)
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *AppointmentConsumer) handle(d amqp.Delivery) {
	var ev statusEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		logger.L().Warn("bad appointment event", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	if err := c.Handler.HandleAppointmentStatus(ev.QuestionID, models.AppointmentStatus(ev.Status)); err != nil {
		logger.L().Warn("appointment event handling failed",
			zap.String("question", ev.QuestionID), zap.String("status", ev.Status), zap.Error(err))
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}
