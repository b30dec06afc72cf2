package connector

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"syndicate/internal/platform"
)

// Facebook publishes to a page feed through the Graph API.
type Facebook struct {
	base            string
	http            httpCaller
	postTimeout     time.Duration
	validateTimeout time.Duration
}

func NewFacebook(opt Options) *Facebook {
	opt = opt.withDefaults()
	return &Facebook{
		base:            opt.baseURL(platform.Facebook, graphBaseURL),
		http:            newHTTPCaller(opt, "connector.facebook"),
		postTimeout:     opt.PostTimeout,
		validateTimeout: opt.ValidateTimeout,
	}
}

func (f *Facebook) Platform() platform.Platform { return platform.Facebook }

func (f *Facebook) Post(ctx context.Context, p Payload, creds platform.Credentials) Result {
	c, err := credsAs[platform.FacebookCredentials](creds)
	if err != nil {
		return failed("%v", err)
	}
	body := map[string]string{"message": p.Text}
	if p.URL != "" {
		body["link"] = p.URL
	}
	resp, err := f.http.do(ctx, f.postTimeout, request{
		method: http.MethodPost,
		url:    f.base + "/" + url.PathEscape(c.PageID) + "/feed",
		header: bearer(c.PageAccessToken),
		json:   body,
	})
	if err != nil {
		return transportFailure("facebook", err)
	}
	if !resp.ok() {
		return graphResult("facebook", resp, time.Now())
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := resp.decode(&out); err != nil || out.ID == "" {
		return failed("facebook: unexpected response: %s", resp.snippet())
	}
	return posted(out.ID, facebookPostURL(c.PageID, out.ID))
}

// facebookPostURL turns a "<page>_<post>" id into a permalink.
func facebookPostURL(pageID, id string) string {
	post := id
	if i := strings.IndexByte(id, '_'); i >= 0 {
		post = id[i+1:]
	}
	return "https://www.facebook.com/" + pageID + "/posts/" + post
}

func (f *Facebook) ValidateCredentials(ctx context.Context, creds platform.Credentials) bool {
	c, err := credsAs[platform.FacebookCredentials](creds)
	if err != nil {
		return false
	}
	resp, err := f.http.do(ctx, f.validateTimeout, request{
		method: http.MethodGet,
		url:    f.base + "/" + url.PathEscape(c.PageID) + "?fields=id",
		header: bearer(c.PageAccessToken),
	})
	return err == nil && resp.ok()
}
