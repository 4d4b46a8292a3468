// Package directive parses the @-mention prefixes that reroute a message to a
// bot instead of plain broadcast.
package directive

import (
	"regexp"
	"strings"
)

type Kind int

const (
	KindNone Kind = iota
	KindBot
	KindPoem
)

type Directive struct {
	Kind  Kind
	Query string
}

var (
	botPrefixRegex  = regexp.MustCompile(`(?i)^@bot\s*`)
	poemPrefixRegex = regexp.MustCompile(`(?i)^@poem\s*`)
)

// DefaultPoemQuery is substituted when "@poem" carries no trailing text, so an
// empty directive yields an unbiased random recommendation.
const DefaultPoemQuery = "随机"

// Detect reports which bot, if any, a composed message addresses. The test is
// a case-insensitive substring match, "@bot" taking precedence over "@poem".
func Detect(content string) Kind {
	lower := strings.ToLower(content)
	switch {
	case strings.Contains(lower, "@bot"):
		return KindBot
	case strings.Contains(lower, "@poem"):
		return KindPoem
	default:
		return KindNone
	}
}

// Parse detects the directive and strips its prefix from the query text.
func Parse(content string) Directive {
	switch Detect(content) {
	case KindBot:
		return Directive{
			Kind:  KindBot,
			Query: strings.TrimSpace(botPrefixRegex.ReplaceAllString(content, "")),
		}
	case KindPoem:
		query := strings.TrimSpace(poemPrefixRegex.ReplaceAllString(content, ""))
		if query == "" {
			query = DefaultPoemQuery
		}
		return Directive{Kind: KindPoem, Query: query}
	default:
		return Directive{Kind: KindNone, Query: content}
	}
}
