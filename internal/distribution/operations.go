package distribution

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"syndicate/internal/content"
	"syndicate/internal/eventbus"
	"syndicate/internal/message"
	"syndicate/internal/platform"
	"syndicate/internal/storage"
	logx "syndicate/pkg/logx"
)

func normalizePlatforms(in []platform.Platform, limit int) ([]platform.Platform, error) {
	if len(in) == 0 {
		return nil, invalid("platforms", "at least one platform is required")
	}
	out := make([]platform.Platform, 0, len(in))
	seen := make(map[platform.Platform]bool, len(in))
	for _, raw := range in {
		p, err := platform.Parse(string(raw))
		if err != nil {
			return nil, invalid("platforms", "%v", err)
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	if limit > 0 && len(out) > limit {
		return nil, invalid("platforms", "at most %d platforms per call", limit)
	}
	return out, nil
}

func (s *Service) loadContent(ctx context.Context, id string) (content.Item, error) {
	item, err := s.content.GetContent(ctx, id)
	if errors.Is(err, content.ErrNotFound) {
		return content.Item{}, &NotFoundError{Kind: "content", ID: id}
	}
	if err != nil {
		return content.Item{}, fmt.Errorf("load content %s: %w", id, err)
	}
	return item, nil
}

// DistributePost creates one record per requested platform, in order, and
// dispatches immediately unless ScheduledFor is set. Connector failures end
// up in the returned records; the error is reserved for invalid input,
// unknown content and store failures.
func (s *Service) DistributePost(ctx context.Context, req DistributeRequest) ([]Record, error) {
	req.ContentID = strings.TrimSpace(req.ContentID)
	if req.ContentID == "" {
		return nil, invalid("content_id", "is required")
	}
	plats, err := normalizePlatforms(req.Platforms, 0)
	if err != nil {
		return nil, err
	}
	item, err := s.loadContent(ctx, req.ContentID)
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(plats))
	for _, p := range plats {
		rec, err := s.distributeOne(ctx, req, item, p)
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}

	evs := make([]RecordEvent, 0, len(out))
	for _, r := range out {
		evs = append(evs, recordEvent(r))
	}
	s.emit(eventbus.DistributionDistributed, DistributedEvent{ContentID: req.ContentID, Records: evs})
	return out, nil
}

func (s *Service) distributeOne(ctx context.Context, req DistributeRequest, item content.Item, p platform.Platform) (Record, error) {
	set := s.Settings()
	now := s.now()
	rec := Record{
		ID:         s.newID(),
		ContentID:  req.ContentID,
		Platform:   p,
		Title:      item.Title,
		ImageURL:   item.ImageURL,
		MaxRetries: set.MaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	log := s.log.With(logx.String("content", req.ContentID), logx.String("platform", string(p)))

	if s.guards.Breaker.IsOpen(p) {
		rec.Status = StatusFailed
		rec.Error = breakerMessage(p, s.guards.Breaker.State(p).OpenUntil)
		if err := s.store.CreateRecord(ctx, rec); err != nil {
			return Record{}, err
		}
		log.Info("dispatch skipped: circuit open")
		s.emit(eventbus.DistributionFailed, recordEvent(rec))
		return rec, nil
	}
	if s.guards.Cooldowns.Active(p) {
		rec.Status = StatusRateLimited
		rec.Error = cooldownMessage(p, s.guards.Cooldowns.Until(p))
		if err := s.store.CreateRecord(ctx, rec); err != nil {
			return Record{}, err
		}
		log.Info("dispatch skipped: cooling down")
		s.emit(eventbus.DistributionRateLimited, recordEvent(rec))
		return rec, nil
	}

	var rule *platform.RuleOverride
	ch, err := s.resolveChannel(ctx, p, nil)
	switch {
	case err == nil:
		id := ch.ID
		rec.ChannelID = &id
		rule = ch.PlatformRules
	case errors.Is(err, ErrNoChannel):
		// Created anyway; dispatch fails it with the reason.
	default:
		return Record{}, err
	}

	style := string(req.Style)
	if style == "" && (rule == nil || rule.Style == "") {
		style = string(set.DefaultMessageStyle)
	}
	msg := message.Build(message.Input{
		Item:        item,
		Platform:    p,
		Style:       style,
		Override:    req.MessageOverride,
		Hashtags:    req.Hashtags,
		SiteBaseURL: set.SiteBaseURL,
		UTMSource:   set.UTMSource,
		Rule:        rule,
	})
	rec.Content = msg.Text
	rec.Link = msg.URL

	if req.ScheduledFor != nil {
		at := req.ScheduledFor.UTC()
		rec.ScheduledFor = &at
		rec.Status = StatusScheduled
	} else {
		rec.Status = StatusPending
	}
	if err := s.store.CreateRecord(ctx, rec); err != nil {
		return Record{}, err
	}
	s.emit(eventbus.DistributionCreated, recordEvent(rec))
	if rec.Status == StatusScheduled {
		log.Info("distribution scheduled", logx.String("record", rec.ID), logx.Time("at", *rec.ScheduledFor))
		return rec, nil
	}

	out, _, err := s.dispatch(ctx, rec, set.MaxRetries)
	return out, err
}

// BulkDistribute runs DistributePost for each content id in turn. One
// item's failure is collected and the batch continues.
func (s *Service) BulkDistribute(ctx context.Context, req BulkRequest) (BulkResult, error) {
	ids := make([]string, 0, len(req.ContentIDs))
	seen := make(map[string]bool, len(req.ContentIDs))
	for _, id := range req.ContentIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	switch {
	case len(ids) == 0:
		return BulkResult{}, invalid("content_ids", "at least one content id is required")
	case len(ids) > MaxBulkContent:
		return BulkResult{}, invalid("content_ids", "at most %d content ids per call", MaxBulkContent)
	}
	plats, err := normalizePlatforms(req.Platforms, MaxBulkPlatforms)
	if err != nil {
		return BulkResult{}, err
	}

	res := BulkResult{Total: len(ids), Errors: []ItemError{}}
	for _, id := range ids {
		recs, err := s.DistributePost(ctx, DistributeRequest{
			ContentID:       id,
			Platforms:       plats,
			ScheduledFor:    req.ScheduledFor,
			MessageOverride: req.MessageOverride,
			Style:           req.Style,
			Hashtags:        req.Hashtags,
		})
		res.Created += len(recs)
		if err != nil {
			res.Errors = append(res.Errors, ItemError{ID: id, Error: err.Error()})
			s.log.Warn("bulk item failed", logx.String("content", id), logx.Err(err))
		}
	}

	s.log.Info("bulk distribution done",
		logx.Int("total", res.Total),
		logx.Int("created", res.Created),
		logx.Int("errors", len(res.Errors)),
	)
	s.emit(eventbus.DistributionBulkDistributed, BulkDistributedEvent{Total: res.Total, Created: res.Created, Errors: len(res.Errors)})
	return res, nil
}

// RetryDistribution moves a FAILED or RATE_LIMITED record back to PENDING
// and tries it once inline. When the inline attempt cannot start or the
// store write after it fails, the record stays PENDING for the sweep.
func (s *Service) RetryDistribution(ctx context.Context, id string) (Record, error) {
	now := s.now()
	rec, err := s.store.UpdateRecord(ctx, id, func(r *Record) error {
		if err := transition(r, StatusPending); err != nil {
			return err
		}
		if r.RetryCount >= r.MaxRetries {
			return fmt.Errorf("%w: record %s has used %d of %d retries (max_retries=%d)",
				ErrRetryLimit, r.ID, r.RetryCount, r.MaxRetries, r.MaxRetries)
		}
		r.RetryCount++
		r.Error = ""
		r.UpdatedAt = now
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return Record{}, &NotFoundError{Kind: "record", ID: id}
	}
	if err != nil {
		return Record{}, err
	}
	s.emit(eventbus.DistributionRetried, recordEvent(rec))

	out, oc, err := s.dispatch(ctx, rec, 0)
	if err != nil {
		s.log.Warn("inline retry failed; left for sweep", logx.String("record", id), logx.Err(err))
		return rec, nil
	}
	if oc == outcomeDeferred {
		s.log.Info("inline retry deferred to sweep", logx.String("record", id))
	}
	return out, nil
}

func (s *Service) CancelDistribution(ctx context.Context, id string) (Record, error) {
	now := s.now()
	rec, err := s.store.UpdateRecord(ctx, id, func(r *Record) error {
		if err := transition(r, StatusCancelled); err != nil {
			return err
		}
		r.UpdatedAt = now
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return Record{}, &NotFoundError{Kind: "record", ID: id}
	}
	if err != nil {
		return Record{}, err
	}
	s.log.Info("distribution cancelled", logx.String("record", id))
	s.emit(eventbus.DistributionCancelled, recordEvent(rec))
	return rec, nil
}

// ProcessScheduledDistributions dispatches due SCHEDULED records, then
// PENDING ones left behind by a deferred attempt, up to the batch size. A
// PENDING record updated within PendingSweepAge is still owned by the call
// that wrote it and is not picked up. Records whose platform is open or
// cooling down are skipped and stay due.
func (s *Service) ProcessScheduledDistributions(ctx context.Context) (SweepResult, error) {
	set := s.Settings()
	now := s.now()

	due, err := s.store.ListRecords(ctx, storage.RecordFilter{
		Statuses:        []Status{StatusScheduled},
		ScheduledBefore: &now,
		Limit:           set.ScheduledBatchSize,
	})
	if err != nil {
		return SweepResult{}, err
	}
	if room := set.ScheduledBatchSize - len(due); room > 0 {
		idle := now.Add(-PendingSweepAge)
		pending, err := s.store.ListRecords(ctx, storage.RecordFilter{
			Statuses:      []Status{StatusPending},
			UpdatedBefore: &idle,
			Limit:         room,
		})
		if err != nil {
			return SweepResult{}, err
		}
		due = append(due, pending...)
	}

	res := SweepResult{Errors: []ItemError{}}
	for _, rec := range due {
		if ctx.Err() != nil {
			break
		}
		out, oc, err := s.dispatch(ctx, rec, SweepRetryBudget)
		if err != nil {
			res.Processed++
			res.Errors = append(res.Errors, ItemError{ID: rec.ID, Error: err.Error()})
			continue
		}
		switch oc {
		case outcomeDeferred:
			res.Skipped++
		case outcomeSent:
			res.Processed++
			res.Sent++
		default:
			res.Processed++
			res.Errors = append(res.Errors, ItemError{ID: out.ID, Error: out.Error})
		}
	}

	if len(due) > 0 {
		s.log.Info("scheduled sweep done",
			logx.Int("processed", res.Processed),
			logx.Int("sent", res.Sent),
			logx.Int("skipped", res.Skipped),
			logx.Int("errors", len(res.Errors)),
		)
	}
	return res, nil
}

// CleanupOldRecords deletes PUBLISHED and CANCELLED records created before
// the retention window. Unresolved records are never deleted.
func (s *Service) CleanupOldRecords(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.Settings().Retention())
	n, err := s.store.DeleteRecords(ctx, storage.RecordFilter{
		Statuses:      []Status{StatusPublished, StatusCancelled},
		CreatedBefore: &cutoff,
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("old records removed", logx.Int("deleted", n), logx.Time("before", cutoff))
	}
	return n, nil
}

// OnContentPublished dispatches freshly published content to every
// auto-publish channel's platform, once per content id.
func (s *Service) OnContentPublished(ctx context.Context, contentID string) (AutoPublishResult, error) {
	contentID = strings.TrimSpace(contentID)
	if contentID == "" {
		return AutoPublishResult{}, invalid("content_id", "is required")
	}
	skip := func(reason string) (AutoPublishResult, error) {
		s.log.Debug("auto-publish skipped", logx.String("content", contentID), logx.String("reason", reason))
		return AutoPublishResult{Skipped: true, Reason: reason, Records: []Record{}}, nil
	}

	if !s.Settings().DistributionEnabled {
		return skip(ErrDisabled.Error())
	}
	yes := true
	chs, err := s.store.ListChannels(ctx, storage.ChannelFilter{Enabled: &yes, AutoPublish: &yes})
	if err != nil {
		return AutoPublishResult{}, err
	}
	if len(chs) == 0 {
		return skip("no auto-publish channels")
	}
	n, err := s.store.CountRecords(ctx, storage.RecordFilter{ContentID: contentID, Statuses: []Status{StatusPublished}})
	if err != nil {
		return AutoPublishResult{}, err
	}
	if n > 0 {
		return skip("already published")
	}

	plats := make([]platform.Platform, 0, len(chs))
	seen := map[platform.Platform]bool{}
	for _, c := range chs {
		if !seen[c.Platform] {
			seen[c.Platform] = true
			plats = append(plats, c.Platform)
		}
	}
	// The publish hook means the CMS copy changed; never build from a stale
	// cached draft.
	if inv, ok := s.content.(content.Invalidator); ok {
		if err := inv.Invalidate(ctx, contentID); err != nil {
			s.log.Warn("content cache invalidate failed", logx.String("content", contentID), logx.Err(err))
		}
	}
	recs, err := s.DistributePost(ctx, DistributeRequest{ContentID: contentID, Platforms: plats})
	if err != nil {
		return AutoPublishResult{}, err
	}
	return AutoPublishResult{Records: recs}, nil
}
