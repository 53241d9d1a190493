// Copyright 2026 The Flowmesh Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bus is the message bus between the orchestrator and the
// processors, backed by Redis streams via goa.design/pulse. Commands go
// out on the command stream; executed events come back on the event
// stream through a consumer group, so multiple orchestrator replicas
// share the load without duplicating work.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/flowmesh/flowmesh/internal/log"
	flowmesherrors "github.com/flowmesh/flowmesh/pkg/errors"
)

// Publisher publishes named events onto a stream. It returns the
// Redis-assigned entry ID.
type Publisher interface {
	Publish(ctx context.Context, stream, event string, payload []byte) (string, error)
}

// Consumer subscribes to a stream through the bus's consumer group.
// The returned stop function closes the sink and the channel.
type Consumer interface {
	Subscribe(ctx context.Context, stream string) (<-chan Event, func(), error)
}

// Event is a single message read from a stream. The consumer must Ack it
// once processing is complete; unacked events are redelivered.
type Event struct {
	ID      string
	Name    string
	Payload []byte

	ack func(ctx context.Context) error
}

// Ack acknowledges the event with the consumer group.
func (e *Event) Ack(ctx context.Context) error {
	if e.ack == nil {
		return nil
	}
	return e.ack(ctx)
}

// Config configures the bus.
type Config struct {
	// ConsumerGroup names the sink used by Subscribe.
	ConsumerGroup string

	// MaxLen bounds stream length. Zero uses pulse defaults.
	MaxLen int

	// PublishTimeout bounds a single Publish call. Zero means no timeout.
	PublishTimeout time.Duration

	// Buffer is the subscription channel capacity. Defaults to 64.
	Buffer int
}

// Bus is the pulse-backed implementation of Publisher and Consumer.
// Stream handles are created lazily and cached per name.
type Bus struct {
	rdb    *redis.Client
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	streams map[string]*streaming.Stream
}

var _ Publisher = (*Bus)(nil)
var _ Consumer = (*Bus)(nil)

// New creates a Bus over the given Redis connection. The caller owns the
// connection lifecycle.
func New(rdb *redis.Client, cfg Config, logger *slog.Logger) *Bus {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	return &Bus{
		rdb:     rdb,
		cfg:     cfg,
		logger:  log.WithComponent(logger, "bus"),
		streams: make(map[string]*streaming.Stream),
	}
}

func (b *Bus) stream(name string) (*streaming.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.streams[name]; ok {
		return s, nil
	}

	var opts []streamopts.Stream
	if b.cfg.MaxLen > 0 {
		opts = append(opts, streamopts.WithStreamMaxLen(b.cfg.MaxLen))
	}
	s, err := streaming.NewStream(name, b.rdb, opts...)
	if err != nil {
		return nil, err
	}
	b.streams[name] = s
	return s, nil
}

// Publish adds an event to the named stream and returns its entry ID.
func (b *Bus) Publish(ctx context.Context, stream, event string, payload []byte) (string, error) {
	s, err := b.stream(stream)
	if err != nil {
		return "", &flowmesherrors.BusError{Stream: stream, Op: "open", Cause: err}
	}

	if b.cfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.PublishTimeout)
		defer cancel()
	}

	id, err := s.Add(ctx, event, payload)
	if err != nil {
		return "", &flowmesherrors.BusError{Stream: stream, Op: "publish", Cause: err}
	}
	return id, nil
}

// Subscribe opens a sink on the named stream under the bus's consumer
// group and forwards events onto the returned channel. Events carry an
// ack closure bound to the sink; the channel closes when the context is
// canceled or stop is called.
func (b *Bus) Subscribe(ctx context.Context, stream string) (<-chan Event, func(), error) {
	s, err := b.stream(stream)
	if err != nil {
		return nil, nil, &flowmesherrors.BusError{Stream: stream, Op: "open", Cause: err}
	}

	sink, err := s.NewSink(ctx, b.cfg.ConsumerGroup)
	if err != nil {
		return nil, nil, &flowmesherrors.BusError{Stream: stream, Op: "sink", Cause: err}
	}

	out := make(chan Event, b.cfg.Buffer)
	runCtx, cancel := context.WithCancel(ctx)

	go b.forward(runCtx, stream, sink, out)

	stop := func() {
		cancel()
		sink.Close(context.Background())
	}
	return out, stop, nil
}

func (b *Bus) forward(ctx context.Context, stream string, sink *streaming.Sink, out chan<- Event) {
	defer close(out)

	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			wrapped := Event{
				ID:      evt.ID,
				Name:    evt.EventName,
				Payload: evt.Payload,
				ack: func(ackCtx context.Context) error {
					if err := sink.Ack(ackCtx, evt); err != nil {
						return &flowmesherrors.BusError{Stream: stream, Op: "ack", Cause: err}
					}
					return nil
				},
			}
			select {
			case out <- wrapped:
			case <-ctx.Done():
				return
			}
		}
	}
}
