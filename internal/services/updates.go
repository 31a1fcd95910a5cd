package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"chat-backend/internal/models"
)

// UpdatesChannel is the pub/sub channel carrying a user's chat updates.
func UpdatesChannel(userID uuid.UUID) string {
	return "chat_updates:" + userID.String()
}

// UpdatePublisher sends chat updates to the websocket hub via Redis pub/sub.
type UpdatePublisher struct {
	redis *redis.Client
}

func NewUpdatePublisher(redisClient *redis.Client) *UpdatePublisher {
	return &UpdatePublisher{redis: redisClient}
}

func (p *UpdatePublisher) Publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Msg("failed to encode chat update")
		return
	}
	if err := p.redis.Publish(ctx, UpdatesChannel(userID), string(data)).Err(); err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Msg("failed to publish chat update")
	}
}
