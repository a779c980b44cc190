package router

import (
	"strings"

	"github.com/romiteld/eva-assistant-sub007/messages"
)

// Directive is one inline action the assistant asked the host to run,
// embedded in a reply as [[action:name {"param":"value"}]].
type Directive struct {
	Name   string
	Params map[string]interface{}
}

const (
	directiveOpen  = "[[action:"
	directiveClose = "]]"
)

// ParseDirectives scans a reply for inline action directives. Malformed
// directives are skipped; the surrounding text is not their concern.
func ParseDirectives(text string) []Directive {
	var directives []Directive

	for {
		start := strings.Index(text, directiveOpen)
		if start < 0 {
			return directives
		}
		rest := text[start+len(directiveOpen):]
		end := strings.Index(rest, directiveClose)
		if end < 0 {
			return directives
		}
		body := strings.TrimSpace(rest[:end])
		text = rest[end+len(directiveClose):]

		name := body
		params := map[string]interface{}{}
		if sp := strings.IndexAny(body, " \t"); sp >= 0 {
			name = body[:sp]
			raw := strings.TrimSpace(body[sp+1:])
			if raw != "" {
				if err := messages.Unmarshal([]byte(raw), &params); err != nil {
					continue
				}
			}
		}
		if name == "" || strings.HasPrefix(name, "{") {
			continue
		}
		directives = append(directives, Directive{Name: name, Params: params})
	}
}
