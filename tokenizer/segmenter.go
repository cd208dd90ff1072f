package tokenizer

import (
	"strings"

	"github.com/dlclark/regexp2"
)

// Segmenter carves the next pretokenizer piece out of s starting at byte
// offset i. Next returns the end index (exclusive) of that piece; bpe.go
// walks the string piece by piece, feeding each piece to the BPE merge loop.
type Segmenter interface{ Next(s string, i int) int }

// o200kPattern is the real o200k_harmony pretokenizer regex: an optional
// single non-letter/non-number prefix glued to a run of letters, a 1-3 digit
// number run, a punctuation run (with a possible leading space and trailing
// newline), a run of newlines, trailing whitespace not followed by a
// non-space, or any other whitespace run. The possessive quantifiers (?+, ++)
// are written as atomic groups (?>...), the form regexp2 accepts. Atomic
// groups and the negative lookahead in the fifth alternative aren't
// expressible with RE2 (Go's stdlib regexp), which is why this package
// reaches for regexp2.
const o200kPattern = `(?>[^\r\n\p{L}\p{N}]?)(?>\p{L}+)|\p{N}{1,3}| ?(?>[^\s\p{L}\p{N}]+)[\r\n]*|\s*[\r\n]|\s+(?!\S)|(?>\s+)`

type o200kSegmenter struct {
	re *regexp2.Regexp
}

// NewO200kSegmenter compiles the o200k_harmony pretokenizer regex. The
// pattern is fixed, so compilation only fails if regexp2 itself rejects
// atomic groups or lookahead, which would indicate a broken build.
func NewO200kSegmenter() (Segmenter, error) {
	re, err := regexp2.Compile(o200kPattern, regexp2.Unicode)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = 0
	return &o200kSegmenter{re: re}, nil
}

// Next finds the next pretokenizer piece starting at byte offset i. Every
// alternative in o200kPattern matches at least one byte regardless of what
// kind of rune it starts with, so the leftmost match regexp2 finds in s[i:]
// always starts at offset 0 of that substring — there's no byte position
// this pattern can fail to make progress from.
func (o *o200kSegmenter) Next(s string, i int) int {
	if i >= len(s) {
		return i
	}
	rest := s[i:]
	m, err := o.re.FindStringMatch(rest)
	if err != nil || m == nil {
		// Regexp2 ran into its own wall (timeout, or a true non-match, which
		// shouldn't happen for this pattern); fall back to single-byte
		// progress so the caller's scan never stalls.
		return i + 1
	}
	matched := m.String()
	if matched == "" || !strings.HasPrefix(rest, matched) {
		// The pattern is built so the leftmost match always starts at
		// offset 0; if regexp2 ever disagrees, don't trust its index
		// arithmetic (rune-based, not byte-based) and just step forward.
		return i + 1
	}
	return i + len(matched)
}
