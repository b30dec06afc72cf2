package connector

import (
	"context"
	"net/http"
	"strings"
	"time"

	"syndicate/internal/platform"
)

const linkedinBaseURL = "https://api.linkedin.com"

// LinkedIn shares through the UGC posts API.
type LinkedIn struct {
	base            string
	http            httpCaller
	postTimeout     time.Duration
	validateTimeout time.Duration
}

func NewLinkedIn(opt Options) *LinkedIn {
	opt = opt.withDefaults()
	return &LinkedIn{
		base:            opt.baseURL(platform.LinkedIn, linkedinBaseURL),
		http:            newHTTPCaller(opt, "connector.linkedin"),
		postTimeout:     opt.PostTimeout,
		validateTimeout: opt.ValidateTimeout,
	}
}

func (l *LinkedIn) Platform() platform.Platform { return platform.LinkedIn }

type linkedinText struct {
	Text string `json:"text"`
}

type linkedinMedia struct {
	Status      string        `json:"status"`
	OriginalURL string        `json:"originalUrl"`
	Title       *linkedinText `json:"title,omitempty"`
}

type linkedinShare struct {
	ShareCommentary    linkedinText    `json:"shareCommentary"`
	ShareMediaCategory string          `json:"shareMediaCategory"`
	Media              []linkedinMedia `json:"media,omitempty"`
}

type linkedinPost struct {
	Author          string                   `json:"author"`
	LifecycleState  string                   `json:"lifecycleState"`
	SpecificContent map[string]linkedinShare `json:"specificContent"`
	Visibility      map[string]string        `json:"visibility"`
}

func linkedinBody(author string, p Payload) linkedinPost {
	share := linkedinShare{ShareCommentary: linkedinText{Text: p.Text}, ShareMediaCategory: "NONE"}
	if p.URL != "" {
		m := linkedinMedia{Status: "READY", OriginalURL: p.URL}
		if p.Title != "" {
			m.Title = &linkedinText{Text: p.Title}
		}
		share.ShareMediaCategory = "ARTICLE"
		share.Media = []linkedinMedia{m}
	}
	return linkedinPost{
		Author:          author,
		LifecycleState:  "PUBLISHED",
		SpecificContent: map[string]linkedinShare{"com.linkedin.ugc.ShareContent": share},
		Visibility:      map[string]string{"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC"},
	}
}

func (l *LinkedIn) Post(ctx context.Context, p Payload, creds platform.Credentials) Result {
	c, err := credsAs[platform.LinkedInCredentials](creds)
	if err != nil {
		return failed("%v", err)
	}
	h := bearer(c.AccessToken)
	h.Set("X-Restli-Protocol-Version", "2.0.0")
	resp, err := l.http.do(ctx, l.postTimeout, request{
		method: http.MethodPost,
		url:    l.base + "/v2/ugcPosts",
		header: h,
		json:   linkedinBody(c.AuthorURN, p),
	})
	if err != nil {
		return transportFailure("linkedin", err)
	}
	if resp.status == http.StatusTooManyRequests {
		return rateLimited(retryAfter(resp.header, time.Now()), "linkedin: rate limited")
	}
	if !resp.ok() {
		return failed("linkedin: http %d: %s", resp.status, resp.snippet())
	}

	id := strings.TrimSpace(resp.header.Get("X-Restli-Id"))
	if id == "" {
		var out struct {
			ID string `json:"id"`
		}
		if err := resp.decode(&out); err == nil {
			id = out.ID
		}
	}
	if id == "" {
		return failed("linkedin: response carried no post id")
	}
	return posted(id, "https://www.linkedin.com/feed/update/"+id)
}

func (l *LinkedIn) ValidateCredentials(ctx context.Context, creds platform.Credentials) bool {
	c, err := credsAs[platform.LinkedInCredentials](creds)
	if err != nil {
		return false
	}
	resp, err := l.http.do(ctx, l.validateTimeout, request{
		method: http.MethodGet,
		url:    l.base + "/v2/userinfo",
		header: bearer(c.AccessToken),
	})
	return err == nil && resp.ok()
}
