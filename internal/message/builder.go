// Package message turns a content item into the text posted to one platform.
//
// Build is pure: same input, same output, no I/O.
package message

import (
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"syndicate/internal/content"
	"syndicate/internal/platform"
)

// Ellipsis marks truncated text. It counts as one character.
const Ellipsis = "…"

type Input struct {
	Item     content.Item
	Platform platform.Platform
	// Style overrides the rule's style. Empty means the rule decides.
	Style    string
	Override string
	// Hashtags take precedence over the item's tag names.
	Hashtags    []string
	SiteBaseURL string
	UTMSource   string
	// Rule is the channel's override of the platform default, if any.
	Rule *platform.RuleOverride
}

type Result struct {
	Text      string   `json:"text"`
	URL       string   `json:"url"`
	Hashtags  []string `json:"hashtags"`
	Truncated bool     `json:"truncated"`
}

func Build(in Input) Result {
	rule := platform.Effective(in.Platform, in.Rule)
	link := CanonicalURL(in.Item, in.SiteBaseURL, in.UTMSource, in.Platform)

	var tags []string
	if rule.IncludeHashtags {
		src := in.Hashtags
		if len(src) == 0 {
			src = in.Item.TagNames()
		}
		tags = Hashtags(src, rule.HashtagLimit)
	}

	if strings.TrimSpace(in.Override) != "" {
		text := Sanitize(in.Override)
		out, cut := Truncate(text, rule.MaxChars)
		return Result{Text: out, URL: link, Hashtags: tags, Truncated: cut}
	}

	style := rule.Style
	if in.Style != "" {
		style = platform.ParseStyle(in.Style)
	}
	if style == "" {
		style = platform.StyleProfessional
	}

	p := parts{
		title:   Sanitize(in.Item.Title),
		excerpt: Sanitize(in.Item.Excerpt),
		url:     link,
		tags:    strings.Join(tags, " "),
	}
	full := render(style, p)
	if rule.MaxChars <= 0 || utf8.RuneCountInString(full) <= rule.MaxChars {
		return Result{Text: full, URL: link, Hashtags: tags}
	}

	// Shorten the excerpt first so the link and hashtags survive.
	if p.excerpt != "" {
		budget := rule.MaxChars - utf8.RuneCountInString(render(style, parts{title: p.title, url: p.url, tags: p.tags, excerpt: Ellipsis}))
		if budget > 0 {
			ex, _ := Truncate(p.excerpt, budget+1)
			p.excerpt = ex
			if text := render(style, p); utf8.RuneCountInString(text) <= rule.MaxChars {
				return Result{Text: text, URL: link, Hashtags: tags, Truncated: true}
			}
		}
	}
	text, _ := Truncate(full, rule.MaxChars)
	return Result{Text: text, URL: link, Hashtags: tags, Truncated: true}
}

// CanonicalURL returns the item's published URL, or base/slug when it has
// none. A non-empty utmSource appends utm_source, utm_medium=social and
// utm_campaign=<platform>.
func CanonicalURL(it content.Item, siteBaseURL, utmSource string, p platform.Platform) string {
	link := strings.TrimSpace(it.PublishedURL)
	if link == "" {
		base := strings.TrimRight(strings.TrimSpace(siteBaseURL), "/")
		slug := strings.TrimLeft(strings.TrimSpace(it.Slug), "/")
		switch {
		case base == "" && slug == "":
			return ""
		case base == "":
			link = "/" + slug
		default:
			link = base + "/" + slug
		}
	}
	if utmSource == "" {
		return link
	}
	sep := "?"
	if strings.Contains(link, "?") {
		sep = "&"
	}
	return link + sep + "utm_source=" + url.QueryEscape(utmSource) +
		"&utm_medium=social&utm_campaign=" + url.QueryEscape(string(p))
}

// Hashtags sanitizes raw tag names into "#tag" form, dropping empties and
// duplicates, and keeps at most limit of them. Only ASCII letters, digits and
// '_' survive; platforms disagree on where a non-ASCII tag ends.
func Hashtags(raw []string, limit int) []string {
	if limit <= 0 {
		return nil
	}
	out := make([]string, 0, limit)
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		var b strings.Builder
		for _, c := range r {
			if isTagRune(c) {
				b.WriteRune(c)
			}
		}
		tag := b.String()
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, "#"+tag)
		if len(out) == limit {
			break
		}
	}
	return out
}

func isTagRune(c rune) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// Sanitize strips control characters except newlines and tabs, and trims
// surrounding whitespace.
func Sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// Truncate cuts s to at most limit runes, ending in Ellipsis when it had to cut.
func Truncate(s string, limit int) (string, bool) {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	if limit == 1 {
		return Ellipsis, true
	}
	rs := []rune(s)
	head := strings.TrimRightFunc(string(rs[:limit-1]), unicode.IsSpace)
	return head + Ellipsis, true
}
