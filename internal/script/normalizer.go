// Package script cleans generated story text before it is sent to the
// synthesis service.
package script

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxBytes is the input ceiling of the long-audio synthesis API.
const DefaultMaxBytes = 1_000_000

// Regex patterns for markdown that should not be read aloud.
const (
	codeFencePattern  = "(?m)^\\s*```[a-zA-Z0-9_-]*\\s*$"
	headingPattern    = `(?m)^\s{0,3}#{1,6}\s+`
	listBulletPattern = `(?m)^\s*(?:[-*+]|\d+[.)])\s+`
	linkPattern       = `!?\[([^\]]*)\]\([^)]*\)`
	emphasisPattern   = `(\*{1,3}|_{2,3})([^*_\n]+)(\*{1,3}|_{2,3})`
	whitespacePattern = `\s+`
	repeatedPattern   = `([!?,;:])[!?,;:]+`
)

// Punctuation and formatting constants.
const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisChar = "…"
)

const errFmtTooLong = "%w: %d bytes exceeds limit of %d"

// Static errors.
var (
	ErrEmptyScript   = errors.New("script is empty after normalization")
	ErrScriptTooLong = errors.New("script too long for synthesis")
)

// Normalizer turns LLM output into plain narration text.
type Normalizer struct {
	maxBytes int

	codeFence  *regexp.Regexp
	heading    *regexp.Regexp
	listBullet *regexp.Regexp
	link       *regexp.Regexp
	emphasis   *regexp.Regexp
	whitespace *regexp.Regexp
	repeated   *regexp.Regexp

	punctuation *strings.Replacer
}

// NewNormalizer creates a Normalizer enforcing maxBytes; a non-positive value
// selects DefaultMaxBytes.
func NewNormalizer(maxBytes int) *Normalizer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	return &Normalizer{
		maxBytes:   maxBytes,
		codeFence:  regexp.MustCompile(codeFencePattern),
		heading:    regexp.MustCompile(headingPattern),
		listBullet: regexp.MustCompile(listBulletPattern),
		link:       regexp.MustCompile(linkPattern),
		emphasis:   regexp.MustCompile(emphasisPattern),
		whitespace: regexp.MustCompile(whitespacePattern),
		repeated:   regexp.MustCompile(repeatedPattern),
		punctuation: strings.NewReplacer(
			emDash, " - ",
			enDash, "-",
			figureDash, "-",
			ellipsisChar, ellipsis,
			"“", `"`, "”", `"`, "„", `"`, "«", `"`, "»", `"`,
			"‘", "'", "’", "'", "‚", "'",
		),
	}
}

// Prepare normalizes text and checks it against the size ceiling.
func (n *Normalizer) Prepare(text string) (string, error) {
	normalized := n.Normalize(text)
	if normalized == "" {
		return "", ErrEmptyScript
	}

	if len(normalized) > n.maxBytes {
		return "", fmt.Errorf(errFmtTooLong, ErrScriptTooLong, len(normalized), n.maxBytes)
	}

	return normalized, nil
}

// Normalize strips markdown, unifies quotes and dashes, collapses
// whitespace and makes sure the text ends like a sentence.
func (n *Normalizer) Normalize(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	text = n.stripMarkdown(text)
	text = n.punctuation.Replace(text)
	text = n.repeated.ReplaceAllString(text, "$1")
	text = n.whitespace.ReplaceAllString(text, " ")

	return ensureSentenceEnding(strings.TrimSpace(text))
}

func (n *Normalizer) stripMarkdown(text string) string {
	text = n.codeFence.ReplaceAllString(text, "")
	text = n.heading.ReplaceAllString(text, "")
	text = n.listBullet.ReplaceAllString(text, "")
	text = n.link.ReplaceAllString(text, "$1")

	return n.emphasis.ReplaceAllString(text, "$2")
}

func ensureSentenceEnding(text string) string {
	if text == "" {
		return ""
	}

	lastChar, _ := utf8.DecodeLastRuneInString(text)

	switch lastChar {
	case '.', '!', '?':
		return text
	case '"', '\'':
		// Closing quote after finished dialogue.
		beforeQuote, _ := utf8.DecodeLastRuneInString(text[:len(text)-1])
		if beforeQuote == '.' || beforeQuote == '!' || beforeQuote == '?' {
			return text
		}

		return text + "."
	case ',', ';', ':', '-':
		return strings.TrimRightFunc(text, func(r rune) bool {
			return r == ',' || r == ';' || r == ':' || r == '-' || unicode.IsSpace(r)
		}) + "."
	default:
		return text + "."
	}
}
