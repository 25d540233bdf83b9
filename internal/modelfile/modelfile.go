// Package modelfile reads and writes the daemon's line-oriented modelfile format
// (FROM, SYSTEM, TEMPLATE and PARAMETER directives).
//
// Parsing never fails. Lines that cannot be interpreted are skipped and reported
// as warnings on the returned Document.
package modelfile

import (
	"maps"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"modelconsole/pkg/types"
)

const tripleQuote = `"""`

// Warning describes a line the parser skipped.
type Warning struct {
	Line   int    // 1-based line number
	Text   string // raw line
	Reason string
}

// Document is the result of decoding a modelfile.
type Document struct {
	types.ModelConfig
	Warnings []Warning
}

// Parse extracts the configuration fields of a modelfile.
func Parse(text string) types.ModelConfig {
	return Decode(text).ModelConfig
}

// Decode is Parse plus the list of skipped lines.
func Decode(text string) Document {
	doc := Document{ModelConfig: types.ModelConfig{Parameters: map[string]string{}}}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	for i := 0; i < len(lines); i++ {
		raw := strings.TrimLeft(lines[i], " \t")
		if strings.TrimSpace(raw) == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		directive, rest := splitDirective(raw)
		lineNo, rawLine := i+1, lines[i]

		// Any directive may open a triple-quoted block; consume it whole so that
		// block contents are never mistaken for directives.
		if strings.HasPrefix(strings.TrimLeft(rest, " \t"), tripleQuote) {
			body, end, closed := readBlock(lines, i, strings.TrimLeft(rest, " \t")[len(tripleQuote):])
			if !closed {
				doc.warn(lineNo, rawLine, "unterminated triple-quoted block")
			}
			i = end
			switch directive {
			case "SYSTEM":
				doc.System = body
			case "TEMPLATE":
				doc.Template = body
			case "PARAMETER", "FROM":
				doc.warn(lineNo, rawLine, "block value not allowed for "+directive)
			}
			continue
		}

		switch directive {
		case "FROM":
			doc.From = strings.TrimSpace(rest)
		case "SYSTEM":
			doc.System = strings.TrimSpace(rest)
		case "TEMPLATE":
			doc.Template = firstQuoted(rest)
		case "PARAMETER":
			key, value, ok := parseParameter(rest)
			if !ok {
				doc.warn(lineNo, rawLine, "PARAMETER needs a key and a single value")
				continue
			}
			doc.Parameters[key] = value
		case "ADAPTER", "LICENSE", "MESSAGE", "REQUIRES":
			// recognized but not part of the editable configuration
		default:
			doc.warn(lineNo, rawLine, "unknown directive "+directive)
		}
	}
	return doc
}

func (d *Document) warn(line int, text, reason string) {
	d.Warnings = append(d.Warnings, Warning{Line: line, Text: text, Reason: reason})
}

// splitDirective returns the upper-cased first word and everything after it.
func splitDirective(line string) (string, string) {
	idx := strings.IndexAny(line, " \t")
	if idx < 0 {
		return strings.ToUpper(line), ""
	}
	return strings.ToUpper(line[:idx]), line[idx+1:]
}

// readBlock collects a triple-quoted value starting on lines[start] with first
// being the text right after the opening quotes. The block closes on the first
// line containing triple quotes, at the last occurrence on that line. It returns
// the value, the index of the closing line, and whether it was found.
func readBlock(lines []string, start int, first string) (string, int, bool) {
	if idx := strings.LastIndex(first, tripleQuote); idx >= 0 {
		return first[:idx], start, true
	}
	parts := []string{first}
	for j := start + 1; j < len(lines); j++ {
		if idx := strings.LastIndex(lines[j], tripleQuote); idx >= 0 {
			parts = append(parts, lines[j][:idx])
			return strings.Join(parts, "\n"), j, true
		}
		parts = append(parts, lines[j])
	}
	return strings.Join(parts, "\n"), len(lines) - 1, false
}

// firstQuoted returns the first double-quoted substring of s, or "".
func firstQuoted(s string) string {
	open := strings.IndexByte(s, '"')
	if open < 0 {
		return ""
	}
	end := strings.IndexByte(s[open+1:], '"')
	if end < 0 {
		return ""
	}
	return s[open+1 : open+1+end]
}

// parseParameter splits "key value" where value is a single bare token or a
// single quoted string.
func parseParameter(rest string) (string, string, bool) {
	rest = strings.TrimSpace(rest)
	idx := strings.IndexAny(rest, " \t")
	if idx <= 0 {
		return "", "", false
	}
	key := rest[:idx]
	tail := strings.TrimSpace(rest[idx+1:])
	if tail == "" {
		return "", "", false
	}
	if tail[0] == '"' {
		if v, err := strconv.Unquote(tail); err == nil {
			return key, v, true
		}
	}
	if len(strings.Fields(tail)) != 1 {
		return "", "", false
	}
	return key, strings.Trim(tail, `"'`), true
}

// Generate renders cfg as a modelfile based on modelName. Empty System and
// Template are omitted. Parameters are written in key order; keys that are
// empty or contain whitespace cannot be represented and are dropped.
func Generate(modelName string, cfg types.ModelConfig) string {
	var b strings.Builder
	b.WriteString("FROM ")
	b.WriteString(modelName)
	b.WriteByte('\n')

	if cfg.System != "" {
		b.WriteString("SYSTEM ")
		if needsBlock(cfg.System) {
			b.WriteString(tripleQuote + cfg.System + tripleQuote)
		} else {
			b.WriteString(cfg.System)
		}
		b.WriteByte('\n')
	}
	if cfg.Template != "" {
		b.WriteString("TEMPLATE ")
		if needsBlock(cfg.Template) || strings.ContainsRune(cfg.Template, '"') {
			b.WriteString(tripleQuote + cfg.Template + tripleQuote)
		} else {
			b.WriteString(`"` + cfg.Template + `"`)
		}
		b.WriteByte('\n')
	}
	for _, key := range slices.Sorted(maps.Keys(cfg.Parameters)) {
		if key == "" || strings.IndexFunc(key, unicode.IsSpace) >= 0 {
			continue
		}
		b.WriteString("PARAMETER ")
		b.WriteString(key)
		b.WriteByte(' ')
		b.WriteString(formatValue(cfg.Parameters[key]))
		b.WriteByte('\n')
	}
	return b.String()
}

// needsBlock reports whether s would be altered by the single-line forms.
func needsBlock(s string) bool {
	return strings.ContainsAny(s, "\r\n") || s != strings.TrimSpace(s) || strings.HasPrefix(s, tripleQuote)
}

// formatValue quotes anything the parser would split, trim or strip.
func formatValue(v string) string {
	if v == "" || strings.ContainsAny(v, `"'\`) || strings.IndexFunc(v, bareUnsafe) >= 0 {
		return strconv.Quote(v)
	}
	return v
}

func bareUnsafe(r rune) bool {
	return unicode.IsSpace(r) || !unicode.IsPrint(r)
}
