package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ava-labs/alert-republisher/pkg/metrics"
)

// FlowPublisher submits messages to a Producer without letting the number of
// unacknowledged messages grow past Config.Ceiling.
//
// The in-flight count is an estimate kept on the Session: it is incremented
// on every submission and re-derived from Producer.Outstanding every
// RecountInterval submissions, whenever it reaches the ceiling, and after a
// flush timeout. The ceiling is a soft admission limit; it only delays the
// next submission and never drops a message.
type FlowPublisher struct {
	cfg     Config
	loader  Loader
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
}

// NewFlowPublisher creates a FlowPublisher. Defaults are applied to cfg before
// it is validated. m may be nil.
func NewFlowPublisher(cfg Config, loader Loader, log *zap.SugaredLogger, m *metrics.Metrics) (*FlowPublisher, error) {
	if loader == nil {
		return nil, errors.New("loader is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid publish config: %w", err)
	}
	return &FlowPublisher{
		cfg:     cfg,
		loader:  loader,
		log:     log,
		metrics: m,
	}, nil
}

// Run opens a session, publishes sources through it and closes it. The
// producer is closed exactly once on every path, including fatal errors and
// cancellation.
func (p *FlowPublisher) Run(ctx context.Context, open OpenFunc, sources []string) (Stats, error) {
	s, err := OpenSession(ctx, open, p.log, p.metrics)
	if err != nil {
		return Stats{}, err
	}
	defer s.Close()

	pubErr := p.Publish(ctx, s, sources)
	s.Close()
	return s.Stats(), pubErr
}

// Publish submits every source in order and then drains the session until
// nothing is in flight. It does not close the session.
//
// Flush timeouts are absorbed by re-probing Outstanding. Any other producer
// error is returned immediately and leaves the session in StateError. When
// ctx is canceled, submission stops and at most CancelDrainAttempts flushes
// are made before ctx.Err() is returned.
func (p *FlowPublisher) Publish(ctx context.Context, s *Session, sources []string) error {
	if err := s.transition(StatePublishing); err != nil {
		return err
	}

	p.log.Infow("publishing messages to stream",
		"sources", len(sources),
		"ceiling", p.cfg.Ceiling,
	)

	for _, source := range sources {
		if ctx.Err() != nil {
			return p.abort(ctx, s)
		}

		msg, err := p.loader.Load(ctx, source)
		if err != nil {
			if ctx.Err() != nil {
				return p.abort(ctx, s)
			}
			if !p.cfg.SkipLoadErrors {
				s.fail()
				return fmt.Errorf("failed to load message %s: %w", source, err)
			}
			s.skipped++
			p.metrics.IncSkipped()
			p.log.Warnw("skipping message that failed to load", "source", source, "error", err)
			continue
		}

		if err := s.producer.Submit(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return p.abort(ctx, s)
			}
			s.fail()
			return fmt.Errorf("failed to submit message %s: %w", source, err)
		}
		s.inFlight++
		s.totalQueued++
		p.metrics.IncQueued()

		if err := sleepCtx(ctx, *p.cfg.PacingDelay); err != nil {
			return p.abort(ctx, s)
		}

		if s.totalQueued%p.cfg.RecountInterval == 0 || s.inFlight >= p.cfg.Ceiling {
			s.inFlight = s.producer.Outstanding()
		}
		p.metrics.SetInFlight(s.inFlight)

		if s.totalQueued%p.cfg.ReportInterval == 0 {
			p.log.Infof("%d messages queued, %d in queue", s.totalQueued, s.inFlight)
		}

		for s.inFlight >= p.cfg.Ceiling {
			if ctx.Err() != nil {
				return p.abort(ctx, s)
			}
			p.log.Infof("Queued %d messages, %d in queue", s.totalQueued, s.inFlight)
			if err := p.flushOrProbe(s, *p.cfg.SessionTimeout); err != nil {
				s.fail()
				return err
			}
			p.log.Infof("  Now %d in queue", s.inFlight)
		}
	}

	return p.drain(ctx, s)
}

// drain waits for every submitted message to be acknowledged.
func (p *FlowPublisher) drain(ctx context.Context, s *Session) error {
	if err := s.transition(StateDraining); err != nil {
		return err
	}

	for s.inFlight > 0 {
		if ctx.Err() != nil {
			return p.abort(ctx, s)
		}
		p.metrics.IncDrainIteration()
		if err := p.flushOrProbe(s, *p.cfg.SessionTimeout); err != nil {
			s.fail()
			return err
		}
		p.log.Infof("  Now %d in queue", s.inFlight)
		if s.inFlight > 0 {
			if err := sleepCtx(ctx, *p.cfg.DrainPollInterval); err != nil {
				return p.abort(ctx, s)
			}
		}
	}

	p.log.Infow("all messages acknowledged",
		"queued", s.totalQueued,
		"skipped", s.skipped,
	)
	return nil
}

// abort is the cancellation path: no more submissions, a bounded number of
// flushes, then ctx.Err().
func (p *FlowPublisher) abort(ctx context.Context, s *Session) error {
	cause := ctx.Err()
	if err := s.transition(StateDraining); err != nil {
		return errors.Join(cause, err)
	}

	s.inFlight = s.producer.Outstanding()
	p.metrics.SetInFlight(s.inFlight)
	p.log.Warnw("publish canceled, draining before close",
		"queued", s.totalQueued,
		"inFlight", s.inFlight,
		"attempts", p.cfg.CancelDrainAttempts,
	)

	for attempt := 0; attempt < p.cfg.CancelDrainAttempts && s.inFlight > 0; attempt++ {
		if err := p.flushOrProbe(s, *p.cfg.CancelFlushTimeout); err != nil {
			s.fail()
			return errors.Join(cause, err)
		}
		p.log.Infof("  Now %d in queue", s.inFlight)
	}
	if s.inFlight > 0 {
		p.log.Warnw("closing with messages still in queue, they may be lost", "inFlight", s.inFlight)
	}

	s.fail()
	return fmt.Errorf("publish canceled after %d messages queued, %d in queue: %w", s.totalQueued, s.inFlight, cause)
}

// flushOrProbe flushes once and updates the in-flight count. A timeout is not
// an error: the count is re-read from the producer instead.
func (p *FlowPublisher) flushOrProbe(s *Session, timeout time.Duration) error {
	start := time.Now()
	n, err := s.producer.Flush(timeout)
	elapsed := time.Since(start).Seconds()

	switch {
	case err == nil:
		p.metrics.RecordFlush(metrics.StatusSuccess, elapsed)
		s.inFlight = n
	case IsTimeout(err):
		p.metrics.RecordFlush(metrics.StatusTimeout, elapsed)
		s.inFlight = s.producer.Outstanding()
		p.log.Warnw("flush timed out, re-probing outstanding messages",
			"error", err,
			"inFlight", s.inFlight,
		)
	default:
		p.metrics.RecordFlush(metrics.StatusError, elapsed)
		return fmt.Errorf("failed to flush producer: %w", err)
	}

	p.metrics.SetInFlight(s.inFlight)
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
