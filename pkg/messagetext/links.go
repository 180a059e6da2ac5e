package messagetext

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// urlPattern matches explicit http(s)/ftp/file URLs, www. hosts and bare
// domains. The lookbehind keeps matches from starting inside a word or
// after "@", and the trailing lookahead rejects the local part of e-mail
// addresses such as "john.doe@example.com".
const urlPattern = `(?<![\w@.\-/:])` +
	`(?:` +
	`(?:https?|ftp|file)://[^\s<>"']*[^\s<>"'.,;:!?)\]}]` +
	`|` +
	`(?:www\.)?(?:[a-z0-9](?:[a-z0-9\-]*[a-z0-9])?\.)+[a-z]{2,}(?::\d{2,5})?` +
	`(?:[/?#][^\s<>"']*[^\s<>"'.,;:!?)\]}])?(?![\w@\-])` +
	`)`

const schemePattern = `(?i)\b(?:(?:https?|ftp|file)://|www\.)[^\s<>"']*[^\s<>"'.,;:!?)\]}]`

const matchTimeout = 250 * time.Millisecond

// span is a half-open byte range of a match.
type span struct {
	start int
	end   int
}

type linkMatcher interface {
	find(text string) ([]span, error)
}

type lookaroundMatcher struct {
	re *regexp2.Regexp
}

func newLookaroundMatcher(pattern string) (*lookaroundMatcher, error) {
	re, err := regexp2.Compile(pattern, regexp2.IgnoreCase)
	if err != nil {
		return nil, fmt.Errorf("compile url pattern: %w", err)
	}
	re.MatchTimeout = matchTimeout
	return &lookaroundMatcher{re: re}, nil
}

// find converts regexp2's rune offsets into byte offsets of text.
func (m *lookaroundMatcher) find(text string) ([]span, error) {
	match, err := m.re.FindStringMatch(text)
	if err != nil || match == nil {
		return nil, err
	}

	offsets := runeOffsets(text)
	var spans []span
	for match != nil {
		spans = append(spans, span{
			start: offsets[match.Index],
			end:   offsets[match.Index+match.Length],
		})
		match, err = m.re.FindNextMatch(match)
		if err != nil {
			return nil, err
		}
	}
	return spans, nil
}

// runeOffsets maps rune index i to its byte offset; the extra final entry
// is len(text).
func runeOffsets(text string) []int {
	offsets := make([]int, 0, len(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	return append(offsets, len(text))
}

type schemeMatcher struct {
	re *regexp.Regexp
}

func newSchemeMatcher() *schemeMatcher {
	return &schemeMatcher{re: regexp.MustCompile(schemePattern)}
}

func (m *schemeMatcher) find(text string) ([]span, error) {
	locs := m.re.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return nil, nil
	}
	spans := make([]span, 0, len(locs))
	for _, loc := range locs {
		spans = append(spans, span{start: loc[0], end: loc[1]})
	}
	return spans, nil
}

// LinkHref returns the href for a detected URL token. Tokens without an
// http, https, ftp or file scheme are prefixed with https://.
func LinkHref(token string) string {
	lower := strings.ToLower(token)
	for _, scheme := range []string{"http://", "https://", "ftp://", "file://"} {
		if strings.HasPrefix(lower, scheme) {
			return token
		}
	}
	return "https://" + token
}

// DefaultLinkRenderer renders an anchor that opens in a new tab.
func DefaultLinkRenderer(url string) string {
	return fmt.Sprintf(`<a href="%s" target="_blank" rel="nofollow">%s</a>`, LinkHref(url), url)
}

func renderLink(url string, renderer LinkRenderer) string {
	if renderer != nil {
		return renderer(url)
	}
	return DefaultLinkRenderer(url)
}
