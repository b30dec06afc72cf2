package platform

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrMissingCredential = errors.New("missing credential field")

// Credentials is the per-platform secret bag attached to a channel.
//
// Each platform has exactly one concrete type; connectors type-assert to the
// type they need and Validate catches missing fields before any network call.
type Credentials interface {
	Platform() Platform
	Validate() error
}

type TelegramCredentials struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

type TwitterCredentials struct {
	APIKey       string `json:"api_key"`
	APISecret    string `json:"api_secret"`
	AccessToken  string `json:"access_token"`
	AccessSecret string `json:"access_secret"`
}

type FacebookCredentials struct {
	PageID          string `json:"page_id"`
	PageAccessToken string `json:"page_access_token"`
}

type WhatsAppCredentials struct {
	PhoneNumberID  string `json:"phone_number_id"`
	AccessToken    string `json:"access_token"`
	RecipientPhone string `json:"recipient_phone"`
}

type LinkedInCredentials struct {
	AccessToken string `json:"access_token"`
	AuthorURN   string `json:"author_urn"`
}

type PinterestCredentials struct {
	AccessToken string `json:"access_token"`
	BoardID     string `json:"board_id"`
}

type RedditCredentials struct {
	AccessToken string `json:"access_token"`
	Subreddit   string `json:"subreddit"`
}

func (TelegramCredentials) Platform() Platform  { return Telegram }
func (TwitterCredentials) Platform() Platform   { return Twitter }
func (FacebookCredentials) Platform() Platform  { return Facebook }
func (WhatsAppCredentials) Platform() Platform  { return WhatsApp }
func (LinkedInCredentials) Platform() Platform  { return LinkedIn }
func (PinterestCredentials) Platform() Platform { return Pinterest }
func (RedditCredentials) Platform() Platform    { return Reddit }

func (c TelegramCredentials) Validate() error {
	return requireFields(Telegram, "bot_token", c.BotToken, "chat_id", c.ChatID)
}

func (c TwitterCredentials) Validate() error {
	return requireFields(Twitter, "api_key", c.APIKey, "api_secret", c.APISecret,
		"access_token", c.AccessToken, "access_secret", c.AccessSecret)
}

func (c FacebookCredentials) Validate() error {
	return requireFields(Facebook, "page_id", c.PageID, "page_access_token", c.PageAccessToken)
}

func (c WhatsAppCredentials) Validate() error {
	return requireFields(WhatsApp, "phone_number_id", c.PhoneNumberID, "access_token", c.AccessToken,
		"recipient_phone", c.RecipientPhone)
}

func (c LinkedInCredentials) Validate() error {
	return requireFields(LinkedIn, "access_token", c.AccessToken, "author_urn", c.AuthorURN)
}

func (c PinterestCredentials) Validate() error {
	return requireFields(Pinterest, "access_token", c.AccessToken, "board_id", c.BoardID)
}

func (c RedditCredentials) Validate() error {
	return requireFields(Reddit, "access_token", c.AccessToken, "subreddit", c.Subreddit)
}

// requireFields takes alternating name/value pairs.
func requireFields(p Platform, kv ...string) error {
	var missing []string
	for i := 0; i+1 < len(kv); i += 2 {
		if strings.TrimSpace(kv[i+1]) == "" {
			missing = append(missing, kv[i])
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%s: %w: %s", p, ErrMissingCredential, strings.Join(missing, ", "))
}

// DecodeCredentials parses the stored JSON bag for platform p into its
// concrete credential type. An empty bag decodes to a zero value, which will
// fail Validate.
func DecodeCredentials(p Platform, raw []byte) (Credentials, error) {
	var c Credentials
	switch p {
	case Telegram:
		c = &TelegramCredentials{}
	case Twitter:
		c = &TwitterCredentials{}
	case Facebook:
		c = &FacebookCredentials{}
	case WhatsApp:
		c = &WhatsAppCredentials{}
	case LinkedIn:
		c = &LinkedInCredentials{}
	case Pinterest:
		c = &PinterestCredentials{}
	case Reddit:
		c = &RedditCredentials{}
	default:
		return nil, fmt.Errorf("unknown platform %q", p)
	}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, c); err != nil {
			return nil, fmt.Errorf("%s credentials: %w", p, err)
		}
	}
	return deref(c), nil
}

// EncodeCredentials is the inverse of DecodeCredentials.
func EncodeCredentials(c Credentials) ([]byte, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c)
}

// deref returns value types so callers can type-assert on the plain struct.
func deref(c Credentials) Credentials {
	switch v := c.(type) {
	case *TelegramCredentials:
		return *v
	case *TwitterCredentials:
		return *v
	case *FacebookCredentials:
		return *v
	case *WhatsAppCredentials:
		return *v
	case *LinkedInCredentials:
		return *v
	case *PinterestCredentials:
		return *v
	case *RedditCredentials:
		return *v
	}
	return c
}
