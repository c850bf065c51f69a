package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RedisPublisher forwards bus events to a Redis channel for the notification
// pipeline. Delivery is best effort: events are queued in memory and dropped
// with a log line when the queue is full, so a slow or absent Redis never
// blocks a booking operation.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	limiter *rate.Limiter
	logger  *zerolog.Logger
	queue   chan Event
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewRedisPublisher creates a publisher writing to the given channel.
// perSecond bounds the outbound publish rate.
func NewRedisPublisher(client *redis.Client, channel string, perSecond float64, burst int, logger *zerolog.Logger) *RedisPublisher {
	if perSecond <= 0 {
		perSecond = 50
	}
	if burst <= 0 {
		burst = 100
	}
	return &RedisPublisher{
		client:  client,
		channel: channel,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:  logger,
		queue:   make(chan Event, 1024),
		stopCh:  make(chan struct{}),
	}
}

// Attach subscribes the publisher to every event on the bus.
func (p *RedisPublisher) Attach(bus *Bus) {
	bus.SubscribeAll(func(event Event) {
		select {
		case p.queue <- event:
		default:
			p.logger.Warn().
				Str("event_id", event.ID).
				Str("type", event.Type).
				Msg("event queue full, dropping event")
		}
	})
}

// Start begins draining the queue until the context is cancelled.
func (p *RedisPublisher) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.loop(ctx)
}

// Stop stops the drain loop and waits for it to exit.
func (p *RedisPublisher) Stop() {
	p.mu.Lock()
	if p.running {
		p.running = false
		close(p.stopCh)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *RedisPublisher) loop(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case event := <-p.queue:
			p.publish(ctx, event)
		}
	}
}

func (p *RedisPublisher) publish(ctx context.Context, event Event) {
	if err := p.limiter.Wait(ctx); err != nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Str("event_id", event.ID).Msg("marshal event")
		return
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		p.logger.Error().Err(err).
			Str("event_id", event.ID).
			Str("type", event.Type).
			Msg("publish event to redis")
	}
}
