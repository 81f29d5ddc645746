// Package lenientjson decodes JSON objects written by language models.
//
// Model output is usually JSON, but often wrapped in a markdown fence,
// typed with smart quotes, left with trailing commas, or cut off
// mid-array when the output budget runs out. Decode tries a strict parse
// first and then a fixed sequence of repairs. It is best-effort: when
// nothing works the strict parser's error is returned.
package lenientjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotObject is returned when the payload parses but is not an object.
var ErrNotObject = errors.New("payload must be a JSON object")

// maxTruncations bounds how many cut points are tried when salvaging a
// truncated payload.
const maxTruncations = 64

var (
	fenceRe         = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")
	openFenceRe     = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*")
	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
	unquotedKeyRe   = regexp.MustCompile(`([{,]\s*)([A-Za-z_$][A-Za-z0-9_$-]*)(\s*:)`)

	smartQuotes = strings.NewReplacer(
		"“", `"`, "”", `"`, "„", `"`,
		"‘", "'", "’", "'",
	)
)

// Decode parses raw into an object.
func Decode(raw string) (map[string]any, error) {
	s := strings.TrimSpace(raw)
	obj, strictErr := parseStrict(s)
	if strictErr == nil {
		return obj, nil
	}
	if errors.Is(strictErr, ErrNotObject) {
		return nil, strictErr
	}

	fixed := repairText(s)
	stack, inString, _ := scan(fixed)
	truncated := len(stack) > 0 || inString
	repaired := closeOpen(fixed)

	if obj, err := parseStrict(repaired); err == nil {
		return obj, nil
	}
	// A flow mapping accepts keys without values, so it would read a
	// half-written pair as null. Only untruncated input goes through it.
	if !truncated {
		if obj, err := parseFlow(repaired); err == nil {
			return obj, nil
		}
	}
	if obj, err := salvage(repaired); err == nil {
		return obj, nil
	}
	return nil, fmt.Errorf("invalid JSON: %w", strictErr)
}

func parseStrict(s string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return obj, nil
}

// parseFlow reads s as a YAML flow mapping, which accepts unquoted
// values that the textual repairs cannot fix.
func parseFlow(s string) (map[string]any, error) {
	if !strings.HasPrefix(s, "{") {
		return nil, ErrNotObject
	}
	var obj map[string]any
	if err := yaml.Unmarshal([]byte(s), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, ErrNotObject
	}
	return obj, nil
}

// Repair applies the textual fixes in order: fence stripping, smart quotes,
// surrounding prose, single-quoted strings, trailing commas, unquoted keys
// and missing closers.
func Repair(s string) string {
	return closeOpen(repairText(s))
}

func repairText(s string) string {
	s = stripFence(s)
	s = smartQuotes.Replace(s)
	s = extractObject(s)
	s = requoteSingle(s)
	s = outsideStrings(s, func(seg string) string {
		seg = trailingCommaRe.ReplaceAllString(seg, "$1")
		return unquotedKeyRe.ReplaceAllString(seg, `$1"$2"$3`)
	})
	return s
}

func stripFence(s string) string {
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(openFenceRe.ReplaceAllString(s, ""))
}

// extractObject drops prose before the first '{' and after the last '}'.
func extractObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return s
	}
	if end := strings.LastIndexByte(s, '}'); end > start {
		return s[start : end+1]
	}
	return s[start:]
}

// requoteSingle rewrites single-quoted strings that appear outside
// double-quoted strings as JSON strings.
func requoteSingle(s string) string {
	var b strings.Builder
	inDouble, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inDouble {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inDouble = false
			}
			continue
		}
		switch c {
		case '"':
			inDouble = true
			b.WriteByte(c)
		case '\'':
			end := closingSingle(s, i+1)
			if end < 0 {
				b.WriteString(s[i:])
				return b.String()
			}
			inner := strings.ReplaceAll(s[i+1:end], `\'`, `'`)
			b.WriteString(strconv.Quote(inner))
			i = end
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func closingSingle(s string, from int) int {
	for j := from; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case '\'':
			return j
		}
	}
	return -1
}

// outsideStrings applies fn to every run of s that is not inside a
// double-quoted string.
func outsideStrings(s string, fn func(string) string) string {
	var b strings.Builder
	segStart := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
				b.WriteString(s[segStart : i+1])
				segStart = i + 1
			}
			continue
		}
		if c == '"' {
			b.WriteString(fn(s[segStart:i]))
			segStart = i
			inString = true
		}
	}
	if inString {
		b.WriteString(s[segStart:])
	} else {
		b.WriteString(fn(s[segStart:]))
	}
	return b.String()
}

// cut is a comma position where s can be truncated, with the brackets
// open at that point.
type cut struct {
	pos   int
	stack string
}

// scan walks s and reports the unclosed brackets at the end, whether it
// ends inside a string, and every comma inside a container.
func scan(s string) (stack []byte, inString bool, cuts []cut) {
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case ',':
			if len(stack) > 0 {
				cuts = append(cuts, cut{pos: i, stack: string(stack)})
			}
		}
	}
	return stack, inString, cuts
}

func closers(stack string) string {
	var b strings.Builder
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// closeOpen terminates an unfinished string and appends missing closers.
func closeOpen(s string) string {
	stack, inString, _ := scan(s)
	if inString {
		s += `"`
	}
	if len(stack) == 0 {
		return s
	}
	s = strings.TrimRight(s, " \t\r\n")
	s = strings.TrimRight(s, ",:")
	return s + closers(string(stack))
}

// salvage cuts s back to the last complete element and closes it.
func salvage(s string) (map[string]any, error) {
	_, _, cuts := scan(s)
	tried := 0
	for i := len(cuts) - 1; i >= 0 && tried < maxTruncations; i-- {
		tried++
		c := cuts[i]
		if obj, err := parseStrict(s[:c.pos] + closers(c.stack)); err == nil {
			return obj, nil
		}
	}
	return nil, errors.New("no complete element to salvage")
}
