// Package render turns stored messages into the payload clients draw:
// tokenized content, calendar labels, author initials and voice message
// waveforms sized for the viewer.
package render

import (
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rivo/uniseg"
	appconfig "github.com/saker-ai/chatkit-server/internal/config"
	"github.com/saker-ai/chatkit-server/internal/roster"
	"github.com/saker-ai/chatkit-server/internal/store"
	"github.com/saker-ai/chatkit-server/pkg/messagetext"
	"github.com/saker-ai/chatkit-server/pkg/msgtime"
	"github.com/saker-ai/chatkit-server/pkg/waveform"
)

// View holds per-viewer rendering preferences.
type View struct {
	TranslateTo   string `json:"translate_to,omitempty"`
	DisplayAsHTML bool   `json:"display_as_html,omitempty"`
	ChromeLike    bool   `json:"chrome_like,omitempty"`
	BarCount      int    `json:"bar_count,omitempty"`
}

// Author is the rendered sender of a message.
type Author struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Image    string `json:"image,omitempty"`
	Initials string `json:"initials"`
}

// Rendered is a message ready for display.
type Rendered struct {
	ID            string                `json:"id"`
	Channel       string                `json:"channel"`
	Author        Author                `json:"author"`
	Parts         []messagetext.Segment `json:"parts,omitempty"`
	PlainText     string                `json:"plain_text,omitempty"`
	Timestamp     string                `json:"timestamp"`
	DateSeparator string                `json:"date_separator,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	Attachments   []store.Attachment    `json:"attachments,omitempty"`
}

// Options configure a Renderer.
type Options struct {
	EmojiClass      string
	EmojiFixClass   string
	SanitizeHTML    bool
	DefaultBarCount int
	Formatter       msgtime.Formatter
}

// OptionsFromConfig maps the render section of the server config.
func OptionsFromConfig(cfg appconfig.RenderConfig) Options {
	return Options{
		EmojiClass:      cfg.EmojiClass,
		EmojiFixClass:   cfg.EmojiFixClass,
		SanitizeHTML:    cfg.SanitizeHTML,
		DefaultBarCount: cfg.DefaultBarCount,
		Formatter:       msgtime.NewFormatter(cfg.TimeZone, cfg.DateLayout),
	}
}

// Renderer renders messages. It is safe for concurrent use.
type Renderer struct {
	opts      Options
	users     *roster.Roster
	tokenizer *messagetext.Tokenizer
	policy    *bluemonday.Policy
	now       func() time.Time
}

// New creates a Renderer. A nil roster renders every user by id.
func New(opts Options, users *roster.Roster) *Renderer {
	if users == nil {
		users = roster.New(nil)
	}
	if opts.DefaultBarCount <= 0 {
		opts.DefaultBarCount = 40
	}
	return &Renderer{
		opts:      opts,
		users:     users,
		tokenizer: messagetext.NewTokenizer(),
		policy:    newPolicy(),
		now:       time.Now,
	}
}

var classPattern = regexp.MustCompile(`^[A-Za-z0-9_\- ]+$`)

// newPolicy allows user-generated markup plus the emoji spans and anchors
// the tokenizer emits.
func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Matching(classPattern).OnElements("span")
	p.AllowAttrs("target").Matching(regexp.MustCompile(`^_blank$`)).OnElements("a")
	p.AllowURLSchemes("ftp", "file")
	p.RequireNoFollowOnLinks(true)
	return p
}

// Tokenize runs the tokenizer with the renderer's emoji classes.
func (r *Renderer) Tokenize(msg messagetext.Message, view View) messagetext.Result {
	return r.sanitize(r.tokenizer.Tokenize(msg, r.tokenOptions(view)))
}

func (r *Renderer) tokenOptions(view View) messagetext.Options {
	return messagetext.Options{
		TranslateTo:   view.TranslateTo,
		DisplayAsHTML: view.DisplayAsHTML,
		IsChromeLike:  view.ChromeLike,
		EmojiClass:    r.opts.EmojiClass,
		EmojiFixClass: r.opts.EmojiFixClass,
	}
}

// Render renders one message for view.
func (r *Renderer) Render(msg store.Message, view View) Rendered {
	return r.render(msg, view, r.now())
}

// RenderAll renders a chronological list and marks the first message of
// each calendar day with a date separator.
func (r *Renderer) RenderAll(msgs []store.Message, view View) []Rendered {
	now := r.now()
	out := make([]Rendered, 0, len(msgs))
	for i, msg := range msgs {
		rendered := r.render(msg, view, now)
		if i == 0 || !r.opts.Formatter.SameDay(msgs[i-1].CreatedAt, msg.CreatedAt) {
			rendered.DateSeparator = r.opts.Formatter.DateSeparator(msg.CreatedAt, now)
		}
		out = append(out, rendered)
	}
	return out
}

func (r *Renderer) render(msg store.Message, view View, now time.Time) Rendered {
	input := messagetext.Message{
		Text:           msg.Text,
		Translations:   msg.Translations,
		MentionedUsers: r.users.Resolve(msg.MentionedUsers),
	}
	if msg.HTML != "" {
		input.Text = msg.HTML
		view.DisplayAsHTML = true
	}
	content := r.Tokenize(input, view)

	author := r.users.Lookup(msg.User)
	return Rendered{
		ID:      msg.ID,
		Channel: msg.Channel,
		Author: Author{
			ID:       author.ID,
			Name:     author.DisplayName(),
			Image:    author.Image,
			Initials: Initials(author.DisplayName()),
		},
		Parts:       content.Parts,
		PlainText:   content.PlainText,
		Timestamp:   r.opts.Formatter.Calendar(msg.CreatedAt, now),
		CreatedAt:   msg.CreatedAt,
		Attachments: r.attachments(msg.Attachments, view),
	}
}

// attachments resizes voice waveforms to the viewer's bar count.
func (r *Renderer) attachments(in []store.Attachment, view View) []store.Attachment {
	if len(in) == 0 {
		return nil
	}
	bars := view.BarCount
	if bars <= 0 {
		bars = r.opts.DefaultBarCount
	}
	out := make([]store.Attachment, len(in))
	for i, att := range in {
		out[i] = att
		if att.Type == store.AttachmentVoiceRecording {
			out[i].Waveform = waveform.Resample(att.Waveform, bars)
		}
	}
	return out
}

func (r *Renderer) sanitize(res messagetext.Result) messagetext.Result {
	if !r.opts.SanitizeHTML {
		return res
	}
	if res.IsPlain() {
		res.PlainText = r.policy.Sanitize(res.PlainText)
		return res
	}
	// Mentions carry no markup; their content stays equal to the @ token.
	for i := range res.Parts {
		if res.Parts[i].Kind == messagetext.KindMention {
			continue
		}
		res.Parts[i].Content = r.policy.Sanitize(res.Parts[i].Content)
	}
	return res
}

// Initials returns the upper-cased first grapheme of up to two words of
// name.
func Initials(name string) string {
	var b strings.Builder
	for i, word := range strings.Fields(name) {
		if i == 2 {
			break
		}
		first, _, _, _ := uniseg.FirstGraphemeClusterInString(word, -1)
		b.WriteString(strings.ToUpper(first))
	}
	return b.String()
}

// IsChromeLike reports whether a User-Agent belongs to a Chromium based
// browser, which needs the emoji display fix class.
func IsChromeLike(userAgent string) bool {
	if strings.Contains(userAgent, "Firefox/") {
		return false
	}
	return strings.Contains(userAgent, "Chrome/") ||
		strings.Contains(userAgent, "Chromium/") ||
		strings.Contains(userAgent, "CriOS/")
}
