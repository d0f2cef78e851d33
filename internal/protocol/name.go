package protocol

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	xunicode "golang.org/x/text/encoding/unicode"
)

// Name salvage. Entity names arrive in several server builds' encodings:
// usually a one-byte prefix followed by UTF-8, but older builds ship bare
// UTF-8 at other offsets, UTF-16, or a nested attribute blob. Candidates
// are tried in a fixed priority order; the first one passing ValidName
// wins and invalid candidates are never kept.

func utf16Decoders() []*encoding.Decoder {
	return []*encoding.Decoder{
		xunicode.UTF16(xunicode.LittleEndian, xunicode.IgnoreBOM).NewDecoder(),
		xunicode.UTF16(xunicode.BigEndian, xunicode.IgnoreBOM).NewDecoder(),
	}
}

// SalvageName extracts a plausible entity name from a raw name attribute.
func SalvageName(raw []byte) (string, bool) {
	return salvageName(raw, 0)
}

func salvageName(raw []byte, depth int) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	// Common case: skip the one-byte prefix, decode UTF-8.
	if len(raw) > 1 {
		if s, ok := utf8Candidate(raw[1:]); ok {
			return s, true
		}
	}
	// Fallback offsets 0..4, UTF-8 first, then UTF-16 both orders.
	for off := 0; off <= 4 && off < len(raw); off++ {
		b := raw[off:]
		if s, ok := utf8Candidate(b); ok {
			return s, true
		}
		for _, dec := range utf16Decoders() {
			if decoded, err := dec.Bytes(b); err == nil {
				if name, ok := candidate(string(decoded)); ok {
					return name, true
				}
			}
		}
	}
	// Last resort: treat the blob as a nested message and recurse into its
	// length-delimited fields.
	if depth < 3 {
		w := NewWireReader(raw)
		for w.More() {
			field, wt := w.ReadTag()
			if field == 0 {
				break
			}
			if wt == WireBytes {
				if b, ok := w.ReadBytes(); ok {
					if name, found := salvageName(b, depth+1); found {
						return name, true
					}
					continue
				}
			}
			w.SkipLastField()
		}
	}
	return "", false
}

func utf8Candidate(b []byte) (string, bool) {
	if !utf8.Valid(b) {
		return "", false
	}
	return candidate(string(b))
}

// candidate trims trailing padding and rejects anything with an interior
// NUL: those are half-decoded multi-byte strings, not names.
func candidate(s string) (string, bool) {
	s = strings.TrimRight(s, "\x00")
	if strings.ContainsRune(s, 0) || !ValidName(s) {
		return "", false
	}
	return s, true
}

// ValidName filters out placeholder and garbage names: non-blank, at most
// 64 characters, at least half letters/digits/whitespace/-_.', at least
// one letter, and never anything containing "Unknown" (case-insensitive).
func ValidName(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	runes := []rune(s)
	if len(runes) > 64 {
		return false
	}
	if strings.Contains(strings.ToLower(s), "unknown") {
		return false
	}
	plausible := 0
	hasLetter := false
	for _, r := range runes {
		switch {
		case unicode.IsLetter(r):
			plausible++
			hasLetter = true
		case unicode.IsDigit(r) || unicode.IsSpace(r):
			plausible++
		case r == '-' || r == '_' || r == '.' || r == '\'':
			plausible++
		}
	}
	return hasLetter && plausible*2 >= len(runes)
}
