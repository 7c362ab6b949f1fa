package email

import (
	"sort"
	"strings"
)

// Headers holds raw message headers, either as one block of newline-separated
// "Name: Value" lines or as a list of lines.
type Headers struct {
	text       string
	lines      []string
	structured bool
}

// Field is a single parsed header.
type Field struct {
	Name  string
	Value string
}

// HeaderText wraps a header block. CRLF and LF line endings are both accepted.
func HeaderText(block string) Headers {
	return Headers{text: block}
}

// HeaderLines wraps a list of "Name: Value" lines.
func HeaderLines(lines ...string) Headers {
	l := make([]string, len(lines))
	copy(l, lines)
	return Headers{lines: l, structured: true}
}

// HeaderMap converts a name to value mapping into header lines, ordered by
// name so the result is stable.
func HeaderMap(m map[string]string) Headers {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, name+": "+m[name])
	}
	return Headers{lines: lines, structured: true}
}

// Lines returns the individual header lines.
func (h Headers) Lines() []string {
	if h.structured {
		return h.lines
	}
	if h.text == "" {
		return nil
	}
	return strings.Split(strings.ReplaceAll(h.text, "\r\n", "\n"), "\n")
}

// Empty reports whether there are no header lines at all.
func (h Headers) Empty() bool {
	if h.structured {
		return len(h.lines) == 0
	}
	return h.text == ""
}

// Fields parses the header lines. Lines without a ':' separator are skipped;
// the rest are split on the first ':' with name and value trimmed.
func (h Headers) Fields() []Field {
	lines := h.Lines()
	fields := make([]Field, 0, len(lines))
	for _, line := range lines {
		name, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		fields = append(fields, Field{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}
	return fields
}

// IsHTML reports whether a Content-Type header value selects an HTML body.
func IsHTML(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/html")
}
