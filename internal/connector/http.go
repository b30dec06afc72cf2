package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	logx "syndicate/pkg/logx"
)

const maxBody = 1 << 20

// httpCaller is the plumbing shared by the HTTP connectors.
type httpCaller struct {
	client    *http.Client
	userAgent string
	log       logx.Logger
}

func newHTTPCaller(opt Options, comp string) httpCaller {
	return httpCaller{
		client:    &http.Client{Transport: opt.Transport},
		userAgent: opt.UserAgent,
		log:       opt.Log.With(logx.String("comp", comp)),
	}
}

type request struct {
	method string
	url    string
	header http.Header
	// Exactly one of json or form is used.
	json any
	form url.Values
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (r response) ok() bool { return r.status >= 200 && r.status < 300 }

func (r response) decode(v any) error {
	if len(r.body) == 0 {
		return fmt.Errorf("empty response body")
	}
	return json.Unmarshal(r.body, v)
}

func (r response) snippet() string {
	s := strings.TrimSpace(string(r.body))
	if len(s) > 300 {
		s = s[:300] + "..."
	}
	return s
}

// do runs one request bounded by timeout. Only transport failures return an
// error; HTTP status handling is up to the caller.
func (h httpCaller) do(ctx context.Context, timeout time.Duration, req request) (response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var body io.Reader = http.NoBody
	contentType := ""
	switch {
	case req.json != nil:
		b, err := json.Marshal(req.json)
		if err != nil {
			return response{}, err
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	case req.form != nil:
		body = strings.NewReader(req.form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	hr, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return response{}, err
	}
	for k, vs := range req.header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}
	if contentType != "" {
		hr.Header.Set("Content-Type", contentType)
	}
	hr.Header.Set("Accept", "application/json")
	if h.userAgent != "" {
		hr.Header.Set("User-Agent", h.userAgent)
	}

	start := time.Now()
	resp, err := h.client.Do(hr)
	if err != nil {
		h.log.Debug("request failed", logx.String("method", req.method), logx.String("url", redact(req.url)), logx.Err(err))
		return response{}, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return response{}, err
	}
	h.log.Debug("request done",
		logx.String("method", req.method),
		logx.String("url", redact(req.url)),
		logx.Int("status", resp.StatusCode),
		logx.Duration("dur", time.Since(start)),
	)
	return response{status: resp.StatusCode, header: resp.Header, body: b}, nil
}

func bearer(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

// retryAfter reads a Retry-After header given in seconds or as an HTTP date.
func retryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

// transportFailure folds a transport error into a Result.
func transportFailure(p string, err error) Result {
	if errors.Is(err, context.DeadlineExceeded) {
		return failed("%s: request timed out", p)
	}
	return failed("%s: %v", p, err)
}

// redact drops the query string, which may carry tokens.
func redact(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}
