package connector

import (
	"context"
	"net/http"
	"time"

	"syndicate/internal/platform"
)

const (
	pinterestBaseURL   = "https://api.pinterest.com"
	pinterestTitleMax  = 100
	pinterestDescLimit = 500
)

// Pinterest creates a pin on a board. A pin needs an image.
type Pinterest struct {
	base            string
	http            httpCaller
	postTimeout     time.Duration
	validateTimeout time.Duration
}

func NewPinterest(opt Options) *Pinterest {
	opt = opt.withDefaults()
	return &Pinterest{
		base:            opt.baseURL(platform.Pinterest, pinterestBaseURL),
		http:            newHTTPCaller(opt, "connector.pinterest"),
		postTimeout:     opt.PostTimeout,
		validateTimeout: opt.ValidateTimeout,
	}
}

func (p *Pinterest) Platform() platform.Platform { return platform.Pinterest }

type pinMediaSource struct {
	SourceType string `json:"source_type"`
	URL        string `json:"url"`
}

type pinRequest struct {
	BoardID     string         `json:"board_id"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description"`
	Link        string         `json:"link,omitempty"`
	MediaSource pinMediaSource `json:"media_source"`
}

func cutRunes(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}

func (p *Pinterest) Post(ctx context.Context, pl Payload, creds platform.Credentials) Result {
	c, err := credsAs[platform.PinterestCredentials](creds)
	if err != nil {
		return failed("%v", err)
	}
	if pl.ImageURL == "" {
		return failed("pinterest: a pin requires an image")
	}
	resp, err := p.http.do(ctx, p.postTimeout, request{
		method: http.MethodPost,
		url:    p.base + "/v5/pins",
		header: bearer(c.AccessToken),
		json: pinRequest{
			BoardID:     c.BoardID,
			Title:       cutRunes(pl.Title, pinterestTitleMax),
			Description: cutRunes(pl.Text, pinterestDescLimit),
			Link:        pl.URL,
			MediaSource: pinMediaSource{SourceType: "image_url", URL: pl.ImageURL},
		},
	})
	if err != nil {
		return transportFailure("pinterest", err)
	}
	if resp.status == http.StatusTooManyRequests {
		return rateLimited(retryAfter(resp.header, time.Now()), "pinterest: rate limited")
	}
	if !resp.ok() {
		var e struct {
			Message string `json:"message"`
		}
		msg := resp.snippet()
		if err := resp.decode(&e); err == nil && e.Message != "" {
			msg = e.Message
		}
		return failed("pinterest: http %d: %s", resp.status, msg)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := resp.decode(&out); err != nil || out.ID == "" {
		return failed("pinterest: unexpected response: %s", resp.snippet())
	}
	return posted(out.ID, "https://www.pinterest.com/pin/"+out.ID+"/")
}

func (p *Pinterest) ValidateCredentials(ctx context.Context, creds platform.Credentials) bool {
	c, err := credsAs[platform.PinterestCredentials](creds)
	if err != nil {
		return false
	}
	resp, err := p.http.do(ctx, p.validateTimeout, request{
		method: http.MethodGet,
		url:    p.base + "/v5/user_account",
		header: bearer(c.AccessToken),
	})
	return err == nil && resp.ok()
}
