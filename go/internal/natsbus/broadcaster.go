package natsbus

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/capturezone/go/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// DefaultPushPrefix is the subject root of mirrored client pushes.
const DefaultPushPrefix = "match.push"

// Broadcaster mirrors client pushes onto core NATS, one subject per match and channel, so other
// gateway processes can relay them to their own sockets. Delivery is fire-and-forget.
type Broadcaster struct {
	nc     *nats.Conn
	prefix string
}

func NewBroadcaster(nc *nats.Conn, prefix string) *Broadcaster {
	if prefix == "" {
		prefix = DefaultPushPrefix
	}
	return &Broadcaster{nc: nc, prefix: prefix}
}

func pushSubject(prefix string, matchID uuid.UUID, channel models.Channel) string {
	return fmt.Sprintf("%s.%s.%s", prefix, matchID, channel)
}

func (b *Broadcaster) Broadcast(matchID uuid.UUID, channel models.Channel, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("channel", string(channel)).Msg("failed to marshal push payload")
		return
	}
	if err := b.nc.Publish(pushSubject(b.prefix, matchID, channel), data); err != nil {
		log.Warn().
			Err(err).
			Str("match_id", matchID.String()).
			Str("channel", string(channel)).
			Msg("failed to mirror push to NATS")
	}
}
