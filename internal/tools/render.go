package tools

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/HendryAvila/sentinel/internal/workflow"
)

// renderFields pretty-prints a submitted payload: keys sorted, arrays
// numbered, nested objects indented, null and empty values as (empty).
func renderFields(fields map[string]any) string {
	if len(fields) == 0 {
		return "(empty)\n"
	}
	var b strings.Builder
	writeMap(&b, fields, 0)
	return b.String()
}

func writeMap(b *strings.Builder, m map[string]any, depth int) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pad := strings.Repeat("  ", depth)
	for _, k := range keys {
		label := k
		if depth == 0 {
			if canonical, ok := workflow.CanonicalField(k); ok {
				label = canonical
			}
		}
		fmt.Fprintf(b, "%s- **%s**:", pad, label)
		writeValue(b, m[k], depth)
	}
}

// writeValue writes v after a "label:" prefix already on the line.
func writeValue(b *strings.Builder, v any, depth int) {
	pad := strings.Repeat("  ", depth+1)
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			b.WriteString(" (empty)\n")
			return
		}
		b.WriteString("\n")
		writeMap(b, t, depth+1)
	case []any:
		if len(t) == 0 {
			b.WriteString(" (empty)\n")
			return
		}
		b.WriteString("\n")
		for i, item := range t {
			fmt.Fprintf(b, "%s%d.", pad, i+1)
			writeValue(b, item, depth+1)
		}
	case string:
		s := strings.TrimSpace(t)
		switch {
		case s == "":
			b.WriteString(" (empty)\n")
		case strings.Contains(s, "\n"):
			b.WriteString("\n")
			for _, line := range strings.Split(s, "\n") {
				fmt.Fprintf(b, "%s%s\n", pad, line)
			}
		default:
			fmt.Fprintf(b, " %s\n", s)
		}
	case nil:
		b.WriteString(" (empty)\n")
	default:
		fmt.Fprintf(b, " %s\n", scalar(t))
	}
}

func scalar(v any) string {
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
