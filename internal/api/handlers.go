package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"syndicate/internal/channel"
	"syndicate/internal/distribution"
	"syndicate/internal/platform"
)

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest{errors.New("request body is empty")}
		}
		return badRequest{fmt.Errorf("decode body: %w", err)}
	}
	return nil
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, badRequest{fmt.Errorf("%s: not an integer", key)}
	}
	return n, nil
}

func queryBool(r *http.Request, key string) (*bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, badRequest{fmt.Errorf("%s: not a boolean", key)}
	}
	return &b, nil
}

// ---- distributions ----

func (h *handlers) distribute(w http.ResponseWriter, r *http.Request) {
	var req distribution.DistributeRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	recs, err := h.dist.DistributePost(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"records": recs})
}

func (h *handlers) bulk(w http.ResponseWriter, r *http.Request) {
	var req distribution.BulkRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.dist.BulkDistribute(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) listRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.dist.ListRecords(r.Context(), distribution.ListQuery{
		ContentID: q.Get("content_id"),
		Platform:  platform.Platform(q.Get("platform")),
		Status:    distribution.Status(q.Get("status")),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handlers) getRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.dist.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) retry(w http.ResponseWriter, r *http.Request) {
	rec, err := h.dist.RetryDistribution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	rec, err := h.dist.CancelDistribution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) processScheduled(w http.ResponseWriter, r *http.Request) {
	res, err := h.dist.ProcessScheduledDistributions(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) cleanup(w http.ResponseWriter, r *http.Request) {
	n, err := h.dist.CleanupOldRecords(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (h *handlers) contentPublished(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ContentID string `json:"content_id"`
	}
	if err := decode(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.dist.OnContentPublished(r.Context(), body.ContentID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.dist.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	hc := h.dist.HealthCheck(r.Context())
	code := http.StatusOK
	if hc.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, hc)
}

func (h *handlers) getSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dist.Settings())
}

// putSettings replaces the settings row. Omitted fields keep their current
// value.
func (h *handlers) putSettings(w http.ResponseWriter, r *http.Request) {
	next := h.dist.Settings()
	if err := decode(w, r, &next); err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.dist.ApplySettings(r.Context(), next)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- channels ----

type channelView struct {
	channel.Channel
	HasCredentials bool `json:"has_credentials"`
}

func viewOf(c channel.Channel) channelView {
	return channelView{Channel: c, HasCredentials: c.Credentials != nil}
}

type channelBody struct {
	Name              *string                `json:"name"`
	Platform          platform.Platform      `json:"platform"`
	URL               *string                `json:"url"`
	Enabled           *bool                  `json:"enabled"`
	IsCustom          *bool                  `json:"is_custom"`
	AutoPublish       *bool                  `json:"auto_publish"`
	Credentials       json.RawMessage        `json:"credentials"`
	PlatformRules     *platform.RuleOverride `json:"platform_rules"`
	ClearRules        bool                   `json:"clear_rules"`
	RenewIntervalDays *int                   `json:"renew_interval_days"`
}

func credentials(p platform.Platform, raw json.RawMessage) (platform.Credentials, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	c, err := platform.DecodeCredentials(p, raw)
	if err != nil {
		return nil, &distribution.ValidationError{Field: "credentials", Message: err.Error()}
	}
	return c, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func (h *handlers) createChannel(w http.ResponseWriter, r *http.Request) {
	var body channelBody
	if err := decode(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := platform.Parse(string(body.Platform))
	if err != nil {
		h.fail(w, r, &distribution.ValidationError{Field: "platform", Message: err.Error()})
		return
	}
	creds, err := credentials(p, body.Credentials)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.channels.Create(r.Context(), channel.CreateInput{
		Name:              deref(body.Name),
		Platform:          p,
		URL:               body.URL,
		Enabled:           body.Enabled,
		IsCustom:          deref(body.IsCustom),
		AutoPublish:       deref(body.AutoPublish),
		Credentials:       creds,
		PlatformRules:     body.PlatformRules,
		RenewIntervalDays: deref(body.RenewIntervalDays),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(c))
}

func (h *handlers) updateChannel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body channelBody
	if err := decode(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	cur, err := h.channels.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if body.Platform != "" && body.Platform != cur.Platform {
		h.fail(w, r, &distribution.ValidationError{Field: "platform", Message: "cannot be changed"})
		return
	}
	creds, err := credentials(cur.Platform, body.Credentials)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.channels.Update(r.Context(), id, channel.UpdateInput{
		Name:              body.Name,
		URL:               body.URL,
		Enabled:           body.Enabled,
		IsCustom:          body.IsCustom,
		AutoPublish:       body.AutoPublish,
		Credentials:       creds,
		PlatformRules:     body.PlatformRules,
		ClearRules:        body.ClearRules,
		RenewIntervalDays: body.RenewIntervalDays,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(c))
}

func (h *handlers) getChannel(w http.ResponseWriter, r *http.Request) {
	c, err := h.channels.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(c))
}

func (h *handlers) listChannels(w http.ResponseWriter, r *http.Request) {
	enabled, err := queryBool(r, "enabled")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	auto, err := queryBool(r, "auto_publish")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.channels.List(r.Context(), channel.Filter{
		Platform:    platform.Platform(r.URL.Query().Get("platform")),
		Enabled:     enabled,
		AutoPublish: auto,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]channelView, 0, len(list))
	for _, c := range list {
		out = append(out, viewOf(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *handlers) deleteChannel(w http.ResponseWriter, r *http.Request) {
	if err := h.channels.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) validateChannel(w http.ResponseWriter, r *http.Request) {
	res, err := h.channels.ValidateCredentials(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
