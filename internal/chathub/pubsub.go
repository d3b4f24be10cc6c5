package chathub

import (
	"encoding/json"

	"carechat/backend/internal/ephemeral"
	"carechat/backend/internal/logger"
	"carechat/backend/internal/models"

	"go.uber.org/zap"
)

// publish fans an event out through the shared store so it reaches every
// server process holding members of the room, including this one.
func (m *ManagerService) publish(ev models.ServerEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.L().Error("event marshal failed", zap.String("event", ev.Event), zap.Error(err))
		return
	}
	if err := m.State.Store.Publish(ephemeral.RoomChannel(ev.QuestionID), payload); err != nil {
		logger.L().Error("event publish failed",
			zap.String("event", ev.Event), zap.String("question", ev.QuestionID), zap.Error(err))
	}
}

// startPubSubListener subscribes to every room channel and feeds incoming
// events into the hub loop for local delivery.
func (m *ManagerService) startPubSubListener() {
	pubsub := m.State.Store.Subscribe(ephemeral.RoomChannelPattern)

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev models.ServerEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.L().Warn("bad pubsub payload", zap.Error(err))
					continue
				}
				select {
				case m.PubSubCh <- ev:
				case <-m.done:
					return
				}
			case <-m.done:
				return
			}
		}
	}()
}
