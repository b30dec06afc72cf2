package distribution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"syndicate/internal/connector"
	"syndicate/internal/eventbus"
	"syndicate/internal/platform"
	"syndicate/internal/resilience"
	"syndicate/internal/storage"
	logx "syndicate/pkg/logx"
)

type outcome int

const (
	// outcomeDeferred means the attempt never started and the record is
	// unchanged. PENDING and SCHEDULED records are picked up by the sweep.
	outcomeDeferred outcome = iota
	outcomeSent
	outcomeFailed
	outcomeRateLimited
)

var errClaimed = errors.New("record already claimed")

// resolveChannel returns the record's channel when it is still usable,
// otherwise the first enabled channel for the platform.
func (s *Service) resolveChannel(ctx context.Context, p platform.Platform, channelID *string) (Channel, error) {
	if channelID != nil {
		c, err := s.store.GetChannel(ctx, *channelID)
		switch {
		case err == nil && c.Enabled && c.Platform == p:
			return c, nil
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			return Channel{}, err
		}
	}
	enabled := true
	chs, err := s.store.ListChannels(ctx, storage.ChannelFilter{Platform: p, Enabled: &enabled})
	if err != nil {
		return Channel{}, err
	}
	if len(chs) == 0 {
		return Channel{}, fmt.Errorf("%w configured for %s", ErrNoChannel, p)
	}
	return chs[0], nil
}

// dispatch drives one PENDING or SCHEDULED record to PUBLISHED, FAILED or
// RATE_LIMITED. retries is the retry executor budget for the connector call.
// A non-nil error is a store failure; connector problems land in the record.
func (s *Service) dispatch(ctx context.Context, rec Record, retries int) (Record, outcome, error) {
	p := rec.Platform
	log := s.log.With(logx.String("record", rec.ID), logx.String("platform", string(p)))

	if err := ctx.Err(); err != nil {
		return rec, outcomeDeferred, nil
	}
	if s.guards.Breaker.IsOpen(p) {
		log.Debug("dispatch deferred: circuit open")
		return rec, outcomeDeferred, nil
	}
	if s.guards.Cooldowns.Active(p) {
		log.Debug("dispatch deferred: cooling down", logx.Time("until", s.guards.Cooldowns.Until(p)))
		return rec, outcomeDeferred, nil
	}

	ch, chErr := s.resolveChannel(ctx, p, rec.ChannelID)
	var conn connector.Connector
	connErr := chErr
	if connErr == nil {
		conn, connErr = s.connectors.Get(p)
	}

	claimed, err := s.store.UpdateRecord(ctx, rec.ID, func(r *Record) error {
		if r.Status != StatusPending && r.Status != StatusScheduled {
			return errClaimed
		}
		if chErr == nil {
			id := ch.ID
			r.ChannelID = &id
		}
		r.UpdatedAt = s.now()
		return transition(r, StatusPublishing)
	})
	if errors.Is(err, errClaimed) {
		// Someone else owns it now; report what they left behind.
		if cur, gerr := s.store.GetRecord(ctx, rec.ID); gerr == nil {
			rec = cur
		}
		return rec, outcomeDeferred, nil
	}
	if err != nil {
		return rec, outcomeDeferred, err
	}

	// Finalize even when the caller gives up mid-call; a record must not be
	// left in PUBLISHING.
	fin := context.WithoutCancel(ctx)

	if connErr != nil {
		log.Warn("dispatch failed before connector call", logx.Err(connErr))
		out, err := s.finishFailed(fin, claimed, connErr.Error())
		return out, outcomeFailed, err
	}

	res, postErr := s.post(ctx, conn, ch, claimed, retries)
	if postErr == nil {
		out, err := s.finishPublished(fin, claimed, ch, res)
		return out, outcomeSent, err
	}

	var ce *ConnectorError
	if errors.As(postErr, &ce) && ce.RateLimited {
		until := s.guards.Cooldowns.SetFor(p, ce.RetryAfter)
		log.Warn("platform rate limited", logx.Time("until", until), logx.String("error", ce.Message))
		out, err := s.finishRateLimited(fin, claimed, ce.Error())
		return out, outcomeRateLimited, err
	}
	if ce != nil {
		if s.guards.Breaker.RecordFailure(p) {
			log.Warn("circuit opened", logx.Int("failures", s.guards.Breaker.State(p).Failures))
		}
	}
	log.Warn("dispatch failed", logx.Err(postErr))
	out, err := s.finishFailed(fin, claimed, postErr.Error())
	return out, outcomeFailed, err
}

func (s *Service) post(ctx context.Context, conn connector.Connector, ch Channel, rec Record, retries int) (connector.Result, error) {
	set := s.Settings()
	pol := resilience.Policy{
		MaxRetries: retries,
		BaseDelay:  set.RetryDelay(),
		Multiplier: set.RetryBackoffMultiplier,
		Jitter:     0.3,
	}
	payload := connector.Payload{Text: rec.Content, URL: rec.Link, Title: rec.Title, ImageURL: rec.ImageURL}
	log := s.log.With(logx.String("record", rec.ID), logx.String("platform", string(rec.Platform)))

	var last connector.Result
	err := resilience.Retry(ctx, pol, log, func(ctx context.Context, attempt int) error {
		if err := s.guards.Pacer.Wait(ctx, rec.Platform); err != nil {
			return resilience.NoRetry(err)
		}
		release, err := s.acquire(ctx)
		if err != nil {
			return resilience.NoRetry(err)
		}
		defer release()

		cctx, cancel := context.WithTimeout(ctx, set.ConnectorTimeout())
		defer cancel()
		last = conn.Post(cctx, payload, ch.Credentials)
		switch {
		case last.Success:
			return nil
		case last.RateLimited:
			return resilience.NoRetry(&ConnectorError{
				Platform:    rec.Platform,
				Message:     last.Error,
				RateLimited: true,
				RetryAfter:  last.RetryAfter,
			})
		default:
			return &ConnectorError{Platform: rec.Platform, Message: last.Error}
		}
	})
	return last, err
}

func (s *Service) finishPublished(ctx context.Context, rec Record, ch Channel, res connector.Result) (Record, error) {
	now := s.now()
	out, err := s.store.UpdateRecord(ctx, rec.ID, func(r *Record) error {
		if err := transition(r, StatusPublished); err != nil {
			return err
		}
		r.ExternalID = res.ExternalID
		r.ExternalURL = res.ExternalURL
		r.PublishedAt = &now
		r.Error = ""
		r.UpdatedAt = now
		return nil
	})
	if err != nil {
		return rec, err
	}
	s.guards.Breaker.RecordSuccess(rec.Platform)

	if _, err := s.store.UpdateChannel(ctx, ch.ID, func(c *Channel) error {
		c.LastPublishedAt = &now
		c.UpdatedAt = now
		return nil
	}); err != nil {
		s.log.Warn("channel stamp failed", logx.String("channel", ch.ID), logx.Err(err))
	}

	s.log.Info("distribution published",
		logx.String("record", out.ID),
		logx.String("platform", string(out.Platform)),
		logx.String("external_id", out.ExternalID),
	)
	s.emit(eventbus.DistributionPublished, recordEvent(out))
	return out, nil
}

func (s *Service) finishFailed(ctx context.Context, rec Record, msg string) (Record, error) {
	out, err := s.store.UpdateRecord(ctx, rec.ID, func(r *Record) error {
		if err := transition(r, StatusFailed); err != nil {
			return err
		}
		r.Error = msg
		r.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return rec, err
	}
	s.emit(eventbus.DistributionFailed, recordEvent(out))
	return out, nil
}

func (s *Service) finishRateLimited(ctx context.Context, rec Record, msg string) (Record, error) {
	out, err := s.store.UpdateRecord(ctx, rec.ID, func(r *Record) error {
		if err := transition(r, StatusRateLimited); err != nil {
			return err
		}
		r.Error = msg
		r.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return rec, err
	}
	s.emit(eventbus.DistributionRateLimited, recordEvent(out))
	return out, nil
}

func cooldownMessage(p platform.Platform, until time.Time) string {
	return fmt.Sprintf("%s: %v until %s", p, ErrRateLimited, until.UTC().Format(time.RFC3339))
}

func breakerMessage(p platform.Platform, until time.Time) string {
	return fmt.Sprintf("%s: %v until %s", p, ErrBreakerOpen, until.UTC().Format(time.RFC3339))
}
