// Package relay forwards engine events to external brokers.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/lox/wingo/internal/engine"
	"github.com/lox/wingo/internal/round"
)

// Envelope is the JSON document written to every sink.
type Envelope struct {
	Type    engine.EventType `json:"type"`
	Mode    round.Mode       `json:"mode"`
	RoundID string           `json:"roundId"`
	Seq     uint64           `json:"seq"`
	UserID  string           `json:"userId,omitempty"`
	Time    time.Time        `json:"time"`
	Event   json.RawMessage  `json:"event"`
}

// Sink delivers encoded envelopes to a broker.
type Sink interface {
	Name() string
	Send(ctx context.Context, env Envelope, payload []byte) error
	Close() error
}

// Source is the part of the engine the relay reads from.
type Source interface {
	Modes() []round.ModeConfig
	Subscribe(mode round.Mode, opts engine.SubscribeOptions) (*engine.Subscription, error)
}

// Relay copies every event of every mode, including events targeted at a
// single user, to its sinks. A failing sink is logged and skipped.
type Relay struct {
	source      Source
	sinks       []Sink
	logger      *log.Logger
	sendTimeout time.Duration
}

// New creates a relay. With no sinks Run returns immediately.
func New(source Source, logger *log.Logger, sinks ...Sink) *Relay {
	return &Relay{
		source:      source,
		sinks:       sinks,
		logger:      logger.WithPrefix("relay"),
		sendTimeout: 5 * time.Second,
	}
}

// Encode wraps ev in an envelope and marshals it.
func Encode(ev engine.Event) (Envelope, []byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, nil, fmt.Errorf("marshal %s: %w", ev.EventType(), err)
	}
	meta := ev.Meta()
	env := Envelope{
		Type:    ev.EventType(),
		Mode:    meta.Mode,
		RoundID: meta.RoundID,
		Seq:     meta.Seq,
		UserID:  meta.UserID,
		Time:    meta.Time,
		Event:   body,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return env, payload, nil
}

// Run relays until ctx is done, then closes the sinks.
func (r *Relay) Run(ctx context.Context) error {
	if len(r.sinks) == 0 {
		return nil
	}
	defer r.closeSinks()

	g, ctx := errgroup.WithContext(ctx)
	for _, m := range r.source.Modes() {
		g.Go(func() error {
			return r.follow(ctx, m.Name)
		})
	}
	return g.Wait()
}

// follow relays one mode, resubscribing whenever the relay falls behind.
func (r *Relay) follow(ctx context.Context, mode round.Mode) error {
	logger := r.logger.With("mode", mode)
	for {
		sub, err := r.source.Subscribe(mode, engine.SubscribeOptions{AllUsers: true})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", mode, err)
		}

		r.drain(ctx, sub)
		sub.Close()

		if ctx.Err() != nil {
			return nil
		}
		logger.Warn("Relay fell behind, resubscribing")
	}
}

func (r *Relay) drain(ctx context.Context, sub *engine.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			r.deliver(ctx, ev)
		}
	}
}

func (r *Relay) deliver(ctx context.Context, ev engine.Event) {
	env, payload, err := Encode(ev)
	if err != nil {
		r.logger.Error("Failed to encode event", "event", ev.EventType(), "error", err)
		return
	}
	for _, s := range r.sinks {
		sctx, cancel := context.WithTimeout(ctx, r.sendTimeout)
		err := s.Send(sctx, env, payload)
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("Sink failed", "sink", s.Name(), "event", env.Type, "round", env.RoundID, "error", err)
		}
	}
}

func (r *Relay) closeSinks() {
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			r.logger.Warn("Failed to close sink", "sink", s.Name(), "error", err)
		}
	}
}
