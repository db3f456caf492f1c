package backup

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
)

// MarshalFile renders r in the downloadable backup format: a pretty-printed UTF-8 JSON
// object with exactly the four record fields.
func (c *Codec) MarshalFile(r Record) ([]byte, error) {
	return c.marshal(r, "  ")
}

// UnmarshalFile restores a record from a downloaded backup file, applying the same
// validation as Decode.
func (c *Codec) UnmarshalFile(data []byte) (Record, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Record{}, decodeError(KindMissing, nil)
	}
	if len(data) > c.maxTokenLength {
		return Record{}, decodeError(KindMalformed, fmt.Errorf("file exceeds %d bytes", c.maxTokenLength))
	}
	return c.parse(data)
}

// Link builds the share URL for token under baseURL, using the client's hash route.
func Link(baseURL, token string) string {
	if i := strings.IndexByte(baseURL, '#'); i >= 0 {
		baseURL = baseURL[:i]
	}
	return baseURL + "#/backup?data=" + token
}

// TokenFromLink extracts the data parameter from a share URL. A link with an empty data
// parameter yields "". Input that is not a URL carrying a data parameter is returned
// unchanged.
func TokenFromLink(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "data=") {
		return s
	}
	u, err := url.Parse(s)
	if err != nil {
		return s
	}
	if query := u.Query(); query.Has("data") {
		return query.Get("data")
	}
	if i := strings.IndexByte(u.Fragment, '?'); i >= 0 {
		if values, err := url.ParseQuery(u.Fragment[i+1:]); err == nil && values.Has("data") {
			return values.Get("data")
		}
	}
	return s
}
