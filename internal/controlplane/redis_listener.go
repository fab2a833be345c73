package controlplane

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RedisListener subscribes to a single Redis Pub/Sub channel and decodes
// every message it receives into a Message.
type RedisListener struct {
	client  *redis.Client
	channel string
	log     *logrus.Entry

	sub *redis.PubSub
}

// NewRedisListener builds a listener against addr, subscribing to channel
// once Listen is called.
func NewRedisListener(addr, channel string, log *logrus.Entry) *RedisListener {
	client := redis.NewClient(&redis.Options{Addr: addr})
	return &RedisListener{client: client, channel: channel, log: log}
}

// Listen subscribes to the channel and decodes each message asynchronously.
// Malformed payloads are logged and dropped; they never close the returned
// channel.
func (l *RedisListener) Listen(ctx context.Context) (<-chan Message, error) {
	l.sub = l.client.Subscribe(ctx, l.channel)
	if _, err := l.sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", l.channel, err)
	}

	out := make(chan Message, 16)
	raw := l.sub.Channel()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-raw:
				if !ok {
					return
				}
				msg, err := Decode([]byte(m.Payload))
				if err != nil {
					l.log.WithError(err).Warn("dropping malformed control-plane message")
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close releases the subscription and the underlying client.
func (l *RedisListener) Close() error {
	if l.sub != nil {
		_ = l.sub.Close()
	}
	return l.client.Close()
}
