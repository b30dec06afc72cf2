package connector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"syndicate/internal/platform"
)

const (
	redditBaseURL  = "https://oauth.reddit.com"
	redditTitleMax = 300
)

// Reddit submits a link post, or a self post when there is no URL.
type Reddit struct {
	base            string
	http            httpCaller
	postTimeout     time.Duration
	validateTimeout time.Duration
}

func NewReddit(opt Options) *Reddit {
	opt = opt.withDefaults()
	return &Reddit{
		base:            opt.baseURL(platform.Reddit, redditBaseURL),
		http:            newHTTPCaller(opt, "connector.reddit"),
		postTimeout:     opt.PostTimeout,
		validateTimeout: opt.ValidateTimeout,
	}
}

func (r *Reddit) Platform() platform.Platform { return platform.Reddit }

type redditSubmitResponse struct {
	JSON struct {
		// Each entry is [code, message, field].
		Errors [][]string `json:"errors"`
		Data   struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			URL  string `json:"url"`
		} `json:"data"`
	} `json:"json"`
}

func (r *Reddit) Post(ctx context.Context, p Payload, creds platform.Credentials) Result {
	c, err := credsAs[platform.RedditCredentials](creds)
	if err != nil {
		return failed("%v", err)
	}
	title := p.Title
	if title == "" {
		title = p.Text
	}
	form := url.Values{}
	form.Set("api_type", "json")
	form.Set("sr", strings.TrimPrefix(c.Subreddit, "r/"))
	form.Set("title", cutRunes(title, redditTitleMax))
	if p.URL != "" {
		form.Set("kind", "link")
		form.Set("url", p.URL)
		form.Set("resubmit", "true")
	} else {
		form.Set("kind", "self")
		form.Set("text", p.Text)
	}

	resp, err := r.http.do(ctx, r.postTimeout, request{
		method: http.MethodPost,
		url:    r.base + "/api/submit",
		header: bearer(c.AccessToken),
		form:   form,
	})
	if err != nil {
		return transportFailure("reddit", err)
	}
	if resp.status == http.StatusTooManyRequests {
		return rateLimited(retryAfter(resp.header, time.Now()), "reddit: rate limited")
	}
	if !resp.ok() {
		return failed("reddit: http %d: %s", resp.status, resp.snippet())
	}

	var out redditSubmitResponse
	if err := resp.decode(&out); err != nil {
		return failed("reddit: unexpected response: %s", resp.snippet())
	}
	if len(out.JSON.Errors) > 0 {
		e := out.JSON.Errors[0]
		msg := strings.Join(e, ": ")
		if len(e) > 0 && e[0] == "RATELIMIT" {
			return rateLimited(0, "reddit: "+msg)
		}
		return failed("reddit: %s", msg)
	}
	id := out.JSON.Data.Name
	if id == "" {
		id = out.JSON.Data.ID
	}
	if id == "" {
		return failed("reddit: response carried no post id")
	}
	link := out.JSON.Data.URL
	if link == "" {
		link = fmt.Sprintf("https://www.reddit.com/comments/%s", strings.TrimPrefix(id, "t3_"))
	}
	return posted(id, link)
}

func (r *Reddit) ValidateCredentials(ctx context.Context, creds platform.Credentials) bool {
	c, err := credsAs[platform.RedditCredentials](creds)
	if err != nil {
		return false
	}
	resp, err := r.http.do(ctx, r.validateTimeout, request{
		method: http.MethodGet,
		url:    r.base + "/api/v1/me",
		header: bearer(c.AccessToken),
	})
	return err == nil && resp.ok()
}
