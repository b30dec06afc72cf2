package connector

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"syndicate/internal/platform"
)

// WhatsApp sends a text message through the WhatsApp Business Cloud API.
// Messages have no public URL.
type WhatsApp struct {
	base            string
	http            httpCaller
	postTimeout     time.Duration
	validateTimeout time.Duration
}

func NewWhatsApp(opt Options) *WhatsApp {
	opt = opt.withDefaults()
	return &WhatsApp{
		base:            opt.baseURL(platform.WhatsApp, graphBaseURL),
		http:            newHTTPCaller(opt, "connector.whatsapp"),
		postTimeout:     opt.PostTimeout,
		validateTimeout: opt.ValidateTimeout,
	}
}

func (w *WhatsApp) Platform() platform.Platform { return platform.WhatsApp }

type whatsappText struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type whatsappMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             whatsappText `json:"text"`
}

func (w *WhatsApp) Post(ctx context.Context, p Payload, creds platform.Credentials) Result {
	c, err := credsAs[platform.WhatsAppCredentials](creds)
	if err != nil {
		return failed("%v", err)
	}
	resp, err := w.http.do(ctx, w.postTimeout, request{
		method: http.MethodPost,
		url:    w.base + "/" + url.PathEscape(c.PhoneNumberID) + "/messages",
		header: bearer(c.AccessToken),
		json: whatsappMessage{
			MessagingProduct: "whatsapp",
			RecipientType:    "individual",
			To:               c.RecipientPhone,
			Type:             "text",
			Text:             whatsappText{PreviewURL: p.URL != "", Body: p.Text},
		},
	})
	if err != nil {
		return transportFailure("whatsapp", err)
	}
	if !resp.ok() {
		return graphResult("whatsapp", resp, time.Now())
	}

	var out struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := resp.decode(&out); err != nil || len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return failed("whatsapp: unexpected response: %s", resp.snippet())
	}
	return posted(out.Messages[0].ID, "")
}

func (w *WhatsApp) ValidateCredentials(ctx context.Context, creds platform.Credentials) bool {
	c, err := credsAs[platform.WhatsAppCredentials](creds)
	if err != nil {
		return false
	}
	resp, err := w.http.do(ctx, w.validateTimeout, request{
		method: http.MethodGet,
		url:    w.base + "/" + url.PathEscape(c.PhoneNumberID),
		header: bearer(c.AccessToken),
	})
	return err == nil && resp.ok()
}
