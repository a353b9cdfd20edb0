package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/rickgao/kis-stream/internal/connection"
	"github.com/rickgao/kis-stream/internal/model"
	"github.com/rickgao/kis-stream/internal/router"
)

// channelSubscriber subscribes targets on one channel. Subscribe returns a
// nil source when the channel's loop was already running.
type channelSubscriber interface {
	Subscribe(ctx context.Context, target string) (router.Source, error)
	Current() router.Source
}

// managerChannel adapts a connection.Manager to one channel.
type managerChannel struct {
	m  connection.Manager
	ch model.Channel
}

func (c managerChannel) Subscribe(ctx context.Context, target string) (router.Source, error) {
	stream, _, err := c.m.Subscribe(ctx, c.ch, target)
	if err != nil || stream == nil {
		return nil, err
	}
	return stream, nil
}

func (c managerChannel) Current() router.Source {
	if stream := c.m.Stream(c.ch); stream != nil {
		return stream
	}
	return nil
}

// supervisor keeps one channel subscribed. When the receive loop dies with
// a connection error it resubscribes every target with backoff.
type supervisor struct {
	ch        model.Channel
	targets   []string
	sub       channelSubscriber
	rt        router.Router
	baseDelay time.Duration
	maxDelay  time.Duration
	logger    *slog.Logger
}

func newSupervisor(ch model.Channel, targets []string, sub channelSubscriber, rt router.Router, baseDelay, maxDelay time.Duration, logger *slog.Logger) *supervisor {
	return &supervisor{
		ch:        ch,
		targets:   targets,
		sub:       sub,
		rt:        rt,
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		logger:    logger.With("channel", ch.String()),
	}
}

// Run subscribes and routes until ctx is canceled. Any other exit is an
// error: a permanent subscribe failure or a stream that ended on its own.
func (s *supervisor) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.baseDelay
	bo.MaxInterval = s.maxDelay

	for attempt := 1; ; attempt++ {
		src, err := s.subscribeAll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !retryable(err) {
				return fmt.Errorf("subscribe %s: %w", s.ch, err)
			}
			if werr := s.wait(ctx, bo.NextBackOff(), attempt, err); werr != nil {
				return nil
			}
			continue
		}

		bo.Reset()
		attempt = 0
		s.logger.Info("channel subscribed", "targets", len(s.targets))

		err = s.rt.Route(ctx, s.ch.String(), src)
		if ctx.Err() != nil {
			return nil
		}
		var ce *connection.ConnectionError
		if !errors.As(err, &ce) {
			s.logger.Warn("channel stream ended", "error", err)
			if err == nil {
				err = errStreamEnded
			}
			return fmt.Errorf("%s: %w", s.ch, err)
		}
		s.logger.Warn("connection lost, resubscribing", "error", err)
	}
}

// subscribeAll subscribes every target. A rejected target is skipped; the
// channel is up as long as its receive loop is running.
func (s *supervisor) subscribeAll(ctx context.Context) (router.Source, error) {
	var src router.Source
	for _, target := range s.targets {
		got, err := s.sub.Subscribe(ctx, target)
		if err != nil {
			var rej *connection.SubscriptionRejectedError
			if errors.As(err, &rej) {
				s.logger.Warn("subscription rejected", "target", target, "message", rej.Message)
				continue
			}
			return nil, err
		}
		if got != nil {
			src = got
		}
	}
	if src == nil {
		src = s.sub.Current()
	}
	if src == nil {
		return nil, errNothingSubscribed
	}
	return src, nil
}

func (s *supervisor) wait(ctx context.Context, d time.Duration, attempt int, cause error) error {
	s.logger.Warn("subscribe failed, retrying",
		"attempt", attempt,
		"wait", d,
		"error", cause,
	)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

var (
	errNothingSubscribed = errors.New("no target accepted")
	errStreamEnded       = errors.New("stream ended")
)

// retryable reports whether a subscribe failure is worth another attempt.
func retryable(err error) bool {
	var ce *connection.ConnectionError
	return errors.As(err, &ce) || errors.Is(err, connection.ErrTimeout)
}
