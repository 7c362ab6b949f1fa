package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitAddresses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "single", in: "a@example.com", want: []string{"a@example.com"}},
		{name: "trimmed", in: " a@example.com ,  b@example.com", want: []string{"a@example.com", "b@example.com"}},
		{name: "empty entries dropped", in: "a@example.com,, ,b@example.com,", want: []string{"a@example.com", "b@example.com"}},
		{name: "empty", in: "", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SplitAddresses(tt.in))
		})
	}
}

func TestRecipients(t *testing.T) {
	t.Parallel()

	raw := RawRecipients("a@example.com, b@example.com")
	assert.False(t, raw.Structured())
	assert.Equal(t, "a@example.com, b@example.com", raw.Raw())
	assert.Nil(t, raw.List())
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, raw.Addresses())

	list := RecipientList(
		Recipient{Email: "c@example.com", Name: "Carol"},
		Recipient{Email: " "},
		Recipient{Email: "d@example.com"},
	)
	assert.True(t, list.Structured())
	assert.Empty(t, list.Raw())
	assert.Len(t, list.List(), 3)
	assert.Equal(t, []string{"c@example.com", "d@example.com"}, list.Addresses())
}

func TestRecipientList_CopiesInput(t *testing.T) {
	t.Parallel()

	in := []Recipient{{Email: "a@example.com"}}
	r := RecipientList(in...)
	in[0].Email = "changed@example.com"

	assert.Equal(t, "a@example.com", r.List()[0].Email)
}

func TestHeaders_Lines(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers Headers
		want    []string
		empty   bool
	}{
		{
			name:    "text with CRLF",
			headers: HeaderText("Cc: a@example.com\r\nX-Tag: one"),
			want:    []string{"Cc: a@example.com", "X-Tag: one"},
		},
		{
			name:    "text with LF",
			headers: HeaderText("Cc: a@example.com\nX-Tag: one"),
			want:    []string{"Cc: a@example.com", "X-Tag: one"},
		},
		{
			name:    "empty text",
			headers: HeaderText(""),
			want:    nil,
			empty:   true,
		},
		{
			name:    "lines",
			headers: HeaderLines("Cc: a@example.com", "x-tag: one"),
			want:    []string{"Cc: a@example.com", "x-tag: one"},
		},
		{
			name:    "no lines",
			headers: HeaderLines(),
			want:    []string{},
			empty:   true,
		},
		{
			name:    "map sorted by name",
			headers: HeaderMap(map[string]string{"x-b": "2", "Cc": "a@example.com", "x-a": "1"}),
			want:    []string{"Cc: a@example.com", "x-a: 1", "x-b: 2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.headers.Lines())
			assert.Equal(t, tt.empty, tt.headers.Empty())
		})
	}
}

func TestHeaders_Fields(t *testing.T) {
	t.Parallel()

	h := HeaderText("  Subject :  Hello  \nno separator here\nX-Url: https://example.com:8080/path\n\n")

	assert.Equal(t, []Field{
		{Name: "Subject", Value: "Hello"},
		{Name: "X-Url", Value: "https://example.com:8080/path"},
	}, h.Fields())
}

func TestIsHTML(t *testing.T) {
	t.Parallel()

	assert.True(t, IsHTML("text/html"))
	assert.True(t, IsHTML("text/html; charset=UTF-8"))
	assert.True(t, IsHTML("Text/HTML"))
	assert.False(t, IsHTML("text/plain"))
	assert.False(t, IsHTML(""))
}
