package packet

import (
	"fmt"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// Charset converts wire strings to and from UTF-8.
type Charset struct {
	name string
	enc  encoding.Encoding
}

// UTF8 is the default wire charset.
var UTF8 = &Charset{name: "utf-8", enc: unicode.UTF8}

// LookupCharset resolves a WHATWG encoding label such as "utf-8", "big5"
// or "shift_jis".
func LookupCharset(label string) (*Charset, error) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unknown charset %q: %w", label, err)
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		name = label
	}
	return &Charset{name: name, enc: enc}, nil
}

func (c *Charset) Name() string { return c.name }

// decode converts wire bytes to UTF-8. Pure ASCII passes through unchanged.
func (c *Charset) decode(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	if isASCII(raw) {
		return string(raw)
	}
	decoded, err := c.enc.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw) // fallback to raw bytes
	}
	return string(decoded)
}

func (c *Charset) encode(s string) []byte {
	if isASCII([]byte(s)) {
		return []byte(s)
	}
	encoded, err := c.enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return encoded
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 {
			return false
		}
	}
	return true
}
