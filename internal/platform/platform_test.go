package platform

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()
	p, err := Parse(" Telegram ")
	require.NoError(t, err)
	require.Equal(t, Telegram, p)

	p, err = Parse("x")
	require.NoError(t, err)
	require.Equal(t, Twitter, p)

	_, err = Parse("myspace")
	require.Error(t, err)
}

func TestEffectiveRule(t *testing.T) {
	t.Parallel()
	r := Effective(Twitter, nil)
	require.Equal(t, 280, r.MaxChars)
	require.Equal(t, StyleConcise, r.Style)

	off := false
	r = Effective(Twitter, &RuleOverride{MaxChars: 100, Style: "casual", IncludeHashtags: &off})
	require.Equal(t, 100, r.MaxChars)
	require.Equal(t, StyleCasual, r.Style)
	require.False(t, r.IncludeHashtags)
	require.Equal(t, 3, r.HashtagLimit)
	require.True(t, r.SupportsImages)
	require.True(t, r.SupportsScheduling)

	// A partial override leaves the default capabilities alone.
	r = Effective(Facebook, &RuleOverride{MaxChars: 500})
	require.Equal(t, 500, r.MaxChars)
	require.True(t, r.IncludeHashtags)
	require.True(t, r.SupportsLinkPreview)
	require.True(t, r.SupportsScheduling)
}

func TestRuleOverrideClone(t *testing.T) {
	t.Parallel()
	on := true
	o := &RuleOverride{IncludeHashtags: &on}
	c := o.Clone()
	*c.IncludeHashtags = false
	require.True(t, *o.IncludeHashtags)
	require.Nil(t, (*RuleOverride)(nil).Clone())
}

func TestParseStyleFallback(t *testing.T) {
	t.Parallel()
	require.Equal(t, StyleThread, ParseStyle("thread"))
	require.Equal(t, StyleProfessional, ParseStyle(""))
	require.Equal(t, StyleProfessional, ParseStyle("shouty"))
}

func TestCredentialsRoundTripPerPlatform(t *testing.T) {
	t.Parallel()
	raw := []byte(`{"bot_token":"123:abc","chat_id":"-100"}`)
	c, err := DecodeCredentials(Telegram, raw)
	require.NoError(t, err)
	tc, ok := c.(TelegramCredentials)
	require.True(t, ok)
	require.Equal(t, "123:abc", tc.BotToken)
	require.NoError(t, c.Validate())

	b, err := EncodeCredentials(c)
	require.NoError(t, err)
	require.JSONEq(t, string(raw), string(b))
}

func TestCredentialsValidateNamesMissingFields(t *testing.T) {
	t.Parallel()
	c, err := DecodeCredentials(Twitter, []byte(`{"api_key":"k"}`))
	require.NoError(t, err)

	err = c.Validate()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrMissingCredential))
	require.Contains(t, err.Error(), "api_secret")
	require.Contains(t, err.Error(), "access_secret")
	require.NotContains(t, err.Error(), "api_key,")
}

func TestDecodeUnknownPlatform(t *testing.T) {
	t.Parallel()
	_, err := DecodeCredentials("myspace", nil)
	require.Error(t, err)
}
