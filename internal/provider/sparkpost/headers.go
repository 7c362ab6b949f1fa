package sparkpost

import (
	"strings"

	"github.com/shineum/sparkpost-relay/internal/email"
)

// applyHeaders maps raw message headers onto the transmission.
//
// Subject, From, To and Reply-To are dropped since the API takes them from
// dedicated fields. Cc and Bcc addresses are merged into content.headers,
// Content-Type is kept as x-content-type, and any other header is kept only
// if its name starts with a lower-case "x-". The Headers hook runs last.
func (a *Adapter) applyHeaders(headers email.Headers, t *Transmission) *Transmission {
	if t == nil || headers.Empty() {
		return t
	}

	for _, f := range headers.Fields() {
		switch strings.ToLower(f.Name) {
		case "subject", "from", "to", "reply-to":
			continue
		case "cc":
			t.Content.Headers.CC = append(t.Content.Headers.CC, headerAddresses(f.Value, headerCC)...)
		case "bcc":
			t.Content.Headers.BCC = append(t.Content.Headers.BCC, headerAddresses(f.Value, headerBCC)...)
		case "content-type":
			t.Content.Headers.Set(headerContentType, f.Value)
		default:
			if strings.HasPrefix(f.Name, "x-") {
				t.Content.Headers.Set(f.Name, f.Value)
			}
		}
	}

	return a.hooks.Headers.Apply(t)
}

func headerAddresses(value, typ string) []HeaderAddress {
	addrs := email.SplitAddresses(value)
	out := make([]HeaderAddress, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, HeaderAddress{Email: addr, Type: typ})
	}
	return out
}
