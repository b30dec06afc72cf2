package platform

// Style selects a message template.
type Style string

const (
	StyleConcise      Style = "concise"
	StyleProfessional Style = "professional"
	StyleCasual       Style = "casual"
	StylePromotional  Style = "promotional"
	StyleThread       Style = "thread"
)

// ParseStyle returns the style named by s, or StyleProfessional when s is
// empty or unknown.
func ParseStyle(s string) Style {
	switch Style(s) {
	case StyleConcise, StyleProfessional, StyleCasual, StylePromotional, StyleThread:
		return Style(s)
	default:
		return StyleProfessional
	}
}

// Rule describes what a platform accepts.
type Rule struct {
	MaxChars            int   `json:"max_chars"`
	Style               Style `json:"style"`
	IncludeHashtags     bool  `json:"include_hashtags"`
	HashtagLimit        int   `json:"hashtag_limit"`
	SupportsImages      bool  `json:"supports_images"`
	SupportsLinkPreview bool  `json:"supports_link_preview"`
	SupportsScheduling  bool  `json:"supports_scheduling"`
}

var defaultRules = map[Platform]Rule{
	Twitter:   {MaxChars: 280, Style: StyleConcise, IncludeHashtags: true, HashtagLimit: 3, SupportsImages: true, SupportsLinkPreview: true, SupportsScheduling: true},
	Facebook:  {MaxChars: 63206, Style: StyleProfessional, IncludeHashtags: true, HashtagLimit: 5, SupportsImages: true, SupportsLinkPreview: true, SupportsScheduling: true},
	LinkedIn:  {MaxChars: 3000, Style: StyleProfessional, IncludeHashtags: true, HashtagLimit: 5, SupportsImages: true, SupportsLinkPreview: true, SupportsScheduling: true},
	Telegram:  {MaxChars: 4096, Style: StyleCasual, IncludeHashtags: true, HashtagLimit: 5, SupportsImages: true, SupportsLinkPreview: true},
	WhatsApp:  {MaxChars: 4096, Style: StyleCasual, SupportsImages: true, SupportsLinkPreview: true},
	Pinterest: {MaxChars: 500, Style: StylePromotional, IncludeHashtags: true, HashtagLimit: 5, SupportsImages: true, SupportsScheduling: true},
	Reddit:    {MaxChars: 40000, Style: StyleProfessional, SupportsImages: true, SupportsLinkPreview: true},
}

// DefaultRule returns the built-in rule for p. Unknown platforms get a
// conservative 280-character rule without hashtags.
func DefaultRule(p Platform) Rule {
	if r, ok := defaultRules[p]; ok {
		return r
	}
	return Rule{MaxChars: 280, Style: StyleConcise}
}

// RuleOverride is a channel's change to its platform's default Rule. Zero
// numbers, an empty style and nil flags keep the default.
type RuleOverride struct {
	MaxChars            int   `json:"max_chars,omitempty"`
	Style               Style `json:"style,omitempty"`
	IncludeHashtags     *bool `json:"include_hashtags,omitempty"`
	HashtagLimit        int   `json:"hashtag_limit,omitempty"`
	SupportsImages      *bool `json:"supports_images,omitempty"`
	SupportsLinkPreview *bool `json:"supports_link_preview,omitempty"`
	SupportsScheduling  *bool `json:"supports_scheduling,omitempty"`
}

// Clone returns a deep copy of o.
func (o *RuleOverride) Clone() *RuleOverride {
	if o == nil {
		return nil
	}
	out := *o
	for _, f := range []**bool{&out.IncludeHashtags, &out.SupportsImages, &out.SupportsLinkPreview, &out.SupportsScheduling} {
		if *f != nil {
			v := **f
			*f = &v
		}
	}
	return &out
}

// Effective merges a channel override over the default rule.
func Effective(p Platform, o *RuleOverride) Rule {
	r := DefaultRule(p)
	if o == nil {
		return r
	}
	if o.MaxChars > 0 {
		r.MaxChars = o.MaxChars
	}
	if o.Style != "" {
		r.Style = ParseStyle(string(o.Style))
	}
	if o.HashtagLimit > 0 {
		r.HashtagLimit = o.HashtagLimit
	}
	setFlag(&r.IncludeHashtags, o.IncludeHashtags)
	setFlag(&r.SupportsImages, o.SupportsImages)
	setFlag(&r.SupportsLinkPreview, o.SupportsLinkPreview)
	setFlag(&r.SupportsScheduling, o.SupportsScheduling)
	return r
}

func setFlag(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
