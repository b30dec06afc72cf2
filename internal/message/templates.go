package message

import (
	"strings"

	"syndicate/internal/platform"
)

type parts struct {
	title   string
	excerpt string
	url     string
	tags    string
}

// render lays out one template. Empty parts drop out together with the
// separator that would have preceded them.
func render(style platform.Style, p parts) string {
	switch style {
	case platform.StyleConcise:
		return join(" ", p.title, p.url, p.tags)
	case platform.StyleCasual:
		head := p.title
		if head != "" {
			head += " 👀"
		}
		return join("\n\n", head, p.excerpt, join(" ", p.url, p.tags))
	case platform.StylePromotional:
		return join("\n\n", prefix("🔥 ", p.title), p.excerpt, prefix("👉 ", p.url), p.tags)
	case platform.StyleThread:
		return join("\n\n", "🧵 "+p.title, p.excerpt, prefix("Read the full post: ", p.url), p.tags)
	default:
		return join("\n\n", p.title, p.excerpt, prefix("Read more: ", p.url), p.tags)
	}
}

func prefix(pre, s string) string {
	if s == "" {
		return ""
	}
	return pre + s
}

func join(sep string, xs ...string) string {
	out := make([]string, 0, len(xs))
	for _, x := range xs {
		if x = strings.TrimSpace(x); x != "" {
			out = append(out, x)
		}
	}
	return strings.Join(out, sep)
}
