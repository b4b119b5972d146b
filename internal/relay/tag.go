package relay

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

const (
	tagAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	tagLength   = 8
)

var tagPattern = regexp.MustCompile(`^\[UID:([A-Z0-9]{4,32})\]$`)

// NewTag returns 8 random characters from A-Z0-9.
func NewTag() (string, error) {
	buf := make([]byte, tagLength)
	max := big.NewInt(int64(len(tagAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate tag: %w", err)
		}
		buf[i] = tagAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// Marker renders the wire form of a tag.
func Marker(tag string) string {
	return "[UID:" + tag + "]"
}

// AppendTag puts the marker on its own line after the trimmed text.
func AppendTag(text, tag string) string {
	base := strings.TrimSpace(text)
	if base == "" {
		return Marker(tag)
	}
	return base + "\n" + Marker(tag)
}

// ExtractTag finds the last whitespace-separated marker in text.
func ExtractTag(text string) (string, bool) {
	fields := strings.Fields(text)
	for i := len(fields) - 1; i >= 0; i-- {
		if m := tagPattern.FindStringSubmatch(fields[i]); m != nil {
			return m[1], true
		}
	}
	return "", false
}
