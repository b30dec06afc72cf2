package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"syndicate/internal/platform"
	logx "syndicate/pkg/logx"
)

const telegramTextLimit = 4096

// Telegram posts through the Bot API with telebot.
type Telegram struct {
	apiURL          string
	transport       http.RoundTripper
	postTimeout     time.Duration
	validateTimeout time.Duration
	log             logx.Logger
}

func NewTelegram(opt Options) *Telegram {
	opt = opt.withDefaults()
	return &Telegram{
		apiURL:          opt.baseURL(platform.Telegram, tele.DefaultApiURL),
		transport:       opt.Transport,
		postTimeout:     opt.PostTimeout,
		validateTimeout: opt.ValidateTimeout,
		log:             opt.Log.With(logx.String("comp", "connector.telegram")),
	}
}

func (t *Telegram) Platform() platform.Platform { return platform.Telegram }

// bot builds a client for one token. Offline skips the getMe round trip that
// telebot otherwise makes on construction.
func (t *Telegram) bot(token string, timeout time.Duration, offline bool) (*tele.Bot, error) {
	return tele.NewBot(tele.Settings{
		URL:     t.apiURL,
		Token:   token,
		Client:  &http.Client{Transport: t.transport, Timeout: timeout},
		Offline: offline,
	})
}

// chatRef addresses a chat by numeric id or @username.
type chatRef string

func (c chatRef) Recipient() string { return string(c) }

func (t *Telegram) Post(ctx context.Context, p Payload, creds platform.Credentials) Result {
	c, err := credsAs[platform.TelegramCredentials](creds)
	if err != nil {
		return failed("%v", err)
	}
	if err := ctx.Err(); err != nil {
		return failed("telegram: %v", err)
	}
	b, err := t.bot(c.BotToken, t.postTimeout, true)
	if err != nil {
		return failed("telegram: %v", err)
	}

	text := p.Text
	if r := []rune(text); len(r) > telegramTextLimit {
		text = string(r[:telegramTextLimit])
	}

	type sent struct {
		msg *tele.Message
		err error
	}
	done := make(chan sent, 1)
	go func() {
		m, err := b.Send(chatRef(c.ChatID), text, &tele.SendOptions{DisableWebPagePreview: p.URL == ""})
		done <- sent{m, err}
	}()

	var out sent
	select {
	case <-ctx.Done():
		return failed("telegram: %v", ctx.Err())
	case out = <-done:
	}
	if out.err != nil {
		return t.mapError(out.err)
	}
	if out.msg == nil {
		return failed("telegram: empty response")
	}
	id := strconv.Itoa(out.msg.ID)
	return posted(id, telegramMessageURL(out.msg, c.ChatID))
}

var floodRx = regexp.MustCompile(`(?i)retry after (\d+)`)

func (t *Telegram) mapError(err error) Result {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return rateLimited(time.Duration(flood.RetryAfter)*time.Second, "telegram: "+err.Error())
	}
	// Without retry_after parameters telebot reports a plain 429.
	msg := err.Error()
	if strings.Contains(msg, "Too Many Requests") || strings.Contains(msg, "(429)") {
		var after time.Duration
		if m := floodRx.FindStringSubmatch(msg); m != nil {
			n, _ := strconv.Atoi(m[1])
			after = time.Duration(n) * time.Second
		}
		return rateLimited(after, "telegram: "+msg)
	}
	t.log.Debug("send failed", logx.Err(err))
	return failed("telegram: %v", err)
}

// telegramMessageURL links public channels and groups. Private chats have no
// shareable URL.
func telegramMessageURL(m *tele.Message, chatID string) string {
	user := ""
	if m.Chat != nil {
		user = m.Chat.Username
	}
	if user == "" && strings.HasPrefix(chatID, "@") {
		user = strings.TrimPrefix(chatID, "@")
	}
	if user == "" {
		return ""
	}
	return fmt.Sprintf("https://t.me/%s/%d", user, m.ID)
}

func (t *Telegram) ValidateCredentials(ctx context.Context, creds platform.Credentials) bool {
	c, err := credsAs[platform.TelegramCredentials](creds)
	if err != nil {
		return false
	}
	done := make(chan error, 1)
	go func() {
		// Online construction calls getMe and fails on a bad token.
		_, err := t.bot(c.BotToken, t.validateTimeout, false)
		done <- err
	}()
	select {
	case <-ctx.Done():
		return false
	case err := <-done:
		if err != nil {
			t.log.Debug("getMe failed", logx.Err(err))
		}
		return err == nil
	}
}
