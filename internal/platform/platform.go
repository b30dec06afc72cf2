// Package platform holds the identifiers, publishing rules and credential
// shapes of every social platform syndicate can publish to.
package platform

import (
	"fmt"
	"strings"
)

// Platform identifies a destination network.
type Platform string

const (
	Twitter   Platform = "twitter"
	Facebook  Platform = "facebook"
	LinkedIn  Platform = "linkedin"
	Telegram  Platform = "telegram"
	WhatsApp  Platform = "whatsapp"
	Pinterest Platform = "pinterest"
	Reddit    Platform = "reddit"
)

// All lists the supported platforms in display order.
var All = []Platform{Twitter, Facebook, LinkedIn, Telegram, WhatsApp, Pinterest, Reddit}

// Parse normalizes s and reports whether it names a supported platform.
// "x" is accepted as an alias of twitter.
func Parse(s string) (Platform, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "x" {
		v = string(Twitter)
	}
	p := Platform(v)
	if !p.Valid() {
		return "", fmt.Errorf("unknown platform %q", s)
	}
	return p, nil
}

func (p Platform) Valid() bool {
	for _, v := range All {
		if v == p {
			return true
		}
	}
	return false
}

func (p Platform) String() string { return string(p) }
