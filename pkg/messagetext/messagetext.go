// Package messagetext splits chat message text into segments a client can
// render directly: plain text with emoji and links already wrapped in
// inline markup, and user mentions tagged with the user they refer to.
//
// Tokenizing never fails. Absent text yields an empty result and mentions
// that cannot be located are skipped.
package messagetext

import (
	"regexp"
	"strings"
)

// Kind identifies what a Segment holds.
type Kind string

const (
	// KindText is plain message text, possibly with inline markup.
	KindText Kind = "text"
	// KindMention is a user mention token such as "@Jack".
	KindMention Kind = "mention"
)

// UserRef identifies a mentioned user.
type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// MentionToken returns the literal text that mentions u: "@" followed by
// the display name, or the id when there is no name.
func (u UserRef) MentionToken() string {
	if u.Name != "" {
		return "@" + u.Name
	}
	return "@" + u.ID
}

// Segment is one typed span of message content.
type Segment struct {
	Content string   `json:"content"`
	Kind    Kind     `json:"kind"`
	User    *UserRef `json:"user,omitempty"`
}

// Result is either a plain string (Parts is nil) or a list of segments.
type Result struct {
	Parts     []Segment `json:"parts,omitempty"`
	PlainText string    `json:"plain_text,omitempty"`
}

// IsPlain reports whether the result took the unchanged-text path.
func (r Result) IsPlain() bool {
	return r.Parts == nil
}

// Message is the tokenizer input.
type Message struct {
	Text           string
	Translations   map[string]string
	MentionedUsers []UserRef
}

// LinkRenderer builds the markup for a detected URL token.
type LinkRenderer func(url string) string

// Options control how content is selected and decorated.
type Options struct {
	// TranslateTo selects Message.Translations[TranslateTo] when present.
	TranslateTo string
	// DisplayAsHTML marks content as pre-rendered HTML; links are left alone.
	DisplayAsHTML bool
	// IsChromeLike adds EmojiFixClass to emoji spans.
	IsChromeLike bool
	// LinkRenderer replaces the default anchor markup when set.
	LinkRenderer LinkRenderer
	// EmojiClass and EmojiFixClass override the default span classes.
	EmojiClass    string
	EmojiFixClass string
}

// Default classes of the emoji span.
const (
	DefaultEmojiClass    = "chat__emoji"
	DefaultEmojiFixClass = "chat__emoji-display-fix"
)

var defaultTokenizer = NewTokenizer()

// Tokenize runs the shared default Tokenizer.
func Tokenize(msg Message, opts Options) Result {
	return defaultTokenizer.Tokenize(msg, opts)
}

// Tokenizer holds the compiled link patterns. It is safe for concurrent use.
type Tokenizer struct {
	links    linkMatcher
	fallback linkMatcher
}

// NewTokenizer compiles the URL pattern, degrading to a scheme-only pattern
// when the lookaround pattern is unavailable.
func NewTokenizer() *Tokenizer {
	return newTokenizer(urlPattern)
}

func newTokenizer(pattern string) *Tokenizer {
	fallback := newSchemeMatcher()
	primary, err := newLookaroundMatcher(pattern)
	if err != nil {
		return &Tokenizer{links: fallback, fallback: fallback}
	}
	return &Tokenizer{links: primary, fallback: fallback}
}

// Tokenize splits the effective content of msg into segments.
func (t *Tokenizer) Tokenize(msg Message, opts Options) Result {
	content := EffectiveText(msg, opts.TranslateTo)
	if content == "" {
		return Result{}
	}

	if len(msg.MentionedUsers) == 0 && !containsEmoji(content) && len(t.findLinks(content)) == 0 {
		return Result{PlainText: content}
	}

	if len(msg.MentionedUsers) == 0 {
		return Result{Parts: []Segment{{Content: t.decorate(content, opts), Kind: KindText}}}
	}

	parts := make([]Segment, 0, 2*len(msg.MentionedUsers)+1)
	cursor := 0
	for i := range msg.MentionedUsers {
		user := msg.MentionedUsers[i]
		token := user.MentionToken()
		idx := strings.Index(content[cursor:], token)
		if idx < 0 {
			continue
		}
		if idx > 0 {
			parts = append(parts, Segment{
				Content: t.decorate(content[cursor:cursor+idx], opts),
				Kind:    KindText,
			})
		}
		parts = append(parts, Segment{Content: token, Kind: KindMention, User: &user})
		cursor += idx + len(token)
	}
	if cursor < len(content) {
		parts = append(parts, Segment{Content: t.decorate(content[cursor:], opts), Kind: KindText})
	}
	return Result{Parts: parts}
}

// EffectiveText returns the translation for lang when present, otherwise
// the original text.
func EffectiveText(msg Message, lang string) string {
	if lang != "" {
		if translated, ok := msg.Translations[lang]; ok && translated != "" {
			return translated
		}
	}
	return msg.Text
}

// decorate wraps emoji and, unless the content is pre-rendered HTML, links.
func (t *Tokenizer) decorate(text string, opts Options) string {
	var links []span
	if !opts.DisplayAsHTML {
		links = t.findLinks(text)
	}
	if len(links) == 0 {
		return wrapEmoji(text, opts)
	}

	var b strings.Builder
	b.Grow(len(text) + 64*len(links))
	last := 0
	for _, l := range links {
		b.WriteString(wrapEmoji(text[last:l.start], opts))
		b.WriteString(renderLink(text[l.start:l.end], opts.LinkRenderer))
		last = l.end
	}
	b.WriteString(wrapEmoji(text[last:], opts))
	return b.String()
}

func (t *Tokenizer) findLinks(text string) []span {
	spans, err := t.links.find(text)
	if err != nil {
		spans, _ = t.fallback.find(text)
	}
	return spans
}

var markupTag = regexp.MustCompile(`</?(?:span|a)(?:\s[^>]*)?>`)

// StripMarkup concatenates segment contents with emoji spans and anchors
// removed, giving back the effective content.
func StripMarkup(parts []Segment) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Kind == KindMention {
			b.WriteString(p.Content)
			continue
		}
		b.WriteString(markupTag.ReplaceAllString(p.Content, ""))
	}
	return b.String()
}
