package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-station/internal/config"
	"github.com/stemsi/exstem-station/internal/exam"
)

const (
	hubBuffer      = 256
	publishTimeout = time.Second
)

// Hub relays session events to Redis pub/sub, where every renderer stream
// subscribes. Publish never blocks the caller: events go through a buffered
// queue drained in order by Run, and are dropped when the queue is full.
type Hub struct {
	rdb     *redis.Client
	channel string
	queue   chan []byte
	log     zerolog.Logger
}

// NewHub creates a Hub. Call Run in a goroutine.
func NewHub(rdb *redis.Client, log zerolog.Logger) *Hub {
	return &Hub{
		rdb:     rdb,
		channel: config.CacheKey.StationEventsChannel(),
		queue:   make(chan []byte, hubBuffer),
		log:     log.With().Str("component", "event_hub").Logger(),
	}
}

// Publish implements exam.Publisher.
func (h *Hub) Publish(ev exam.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Str("event", string(ev.Type)).Msg("Marshal event failed")
		return
	}
	select {
	case h.queue <- payload:
	default:
		h.log.Warn().Str("event", string(ev.Type)).Msg("Event queue full, dropping event")
	}
}

// Run forwards queued events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-h.queue:
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			if err := h.rdb.Publish(pctx, h.channel, payload).Err(); err != nil && ctx.Err() == nil {
				h.log.Warn().Err(err).Msg("Publish event failed")
			}
			cancel()
		}
	}
}

// Subscribe opens a subscription to the event channel.
func (h *Hub) Subscribe(ctx context.Context) *redis.PubSub {
	return h.rdb.Subscribe(ctx, h.channel)
}
