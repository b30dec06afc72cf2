package connector

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dghubble/oauth1"

	"syndicate/internal/platform"
)

const twitterBaseURL = "https://api.twitter.com"

// Twitter posts with the v2 API using OAuth 1.0a user context.
type Twitter struct {
	base            string
	http            httpCaller
	postTimeout     time.Duration
	validateTimeout time.Duration
}

func NewTwitter(opt Options) *Twitter {
	opt = opt.withDefaults()
	return &Twitter{
		base:            opt.baseURL(platform.Twitter, twitterBaseURL),
		http:            newHTTPCaller(opt, "connector.twitter"),
		postTimeout:     opt.PostTimeout,
		validateTimeout: opt.ValidateTimeout,
	}
}

func (t *Twitter) Platform() platform.Platform { return platform.Twitter }

// signing returns a caller whose client adds the OAuth1 Authorization header
// for c on top of the shared transport. JSON bodies are not part of the
// signature.
func (t *Twitter) signing(c platform.TwitterCredentials) httpCaller {
	cfg := oauth1.NewConfig(c.APIKey, c.APISecret)
	base := context.WithValue(context.Background(), oauth1.HTTPClient, t.http.client)
	h := t.http
	h.client = cfg.Client(base, oauth1.NewToken(c.AccessToken, c.AccessSecret))
	return h
}

func (t *Twitter) Post(ctx context.Context, p Payload, creds platform.Credentials) Result {
	c, err := credsAs[platform.TwitterCredentials](creds)
	if err != nil {
		return failed("%v", err)
	}
	resp, err := t.signing(c).do(ctx, t.postTimeout, request{
		method: http.MethodPost,
		url:    t.base + "/2/tweets",
		json:   map[string]string{"text": p.Text},
	})
	if err != nil {
		return transportFailure("twitter", err)
	}
	if resp.status == http.StatusTooManyRequests {
		return rateLimited(twitterReset(resp.header, time.Now()), "twitter: rate limited")
	}
	if !resp.ok() {
		return failed("twitter: http %d: %s", resp.status, twitterError(resp))
	}

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := resp.decode(&out); err != nil || out.Data.ID == "" {
		return failed("twitter: unexpected response: %s", resp.snippet())
	}
	return posted(out.Data.ID, "https://x.com/i/web/status/"+out.Data.ID)
}

// twitterReset prefers Retry-After, then the x-rate-limit-reset epoch.
func twitterReset(h http.Header, now time.Time) time.Duration {
	if d := retryAfter(h, now); d > 0 {
		return d
	}
	if v := strings.TrimSpace(h.Get("x-rate-limit-reset")); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Unix(epoch, 0).Sub(now); d > 0 {
				return d
			}
		}
	}
	return 0
}

func twitterError(r response) string {
	var e struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := r.decode(&e); err == nil {
		switch {
		case e.Detail != "":
			return e.Detail
		case len(e.Errors) > 0 && e.Errors[0].Message != "":
			return e.Errors[0].Message
		case e.Title != "":
			return e.Title
		}
	}
	return r.snippet()
}

func (t *Twitter) ValidateCredentials(ctx context.Context, creds platform.Credentials) bool {
	c, err := credsAs[platform.TwitterCredentials](creds)
	if err != nil {
		return false
	}
	resp, err := t.signing(c).do(ctx, t.validateTimeout, request{method: http.MethodGet, url: t.base + "/2/users/me"})
	return err == nil && resp.ok()
}
