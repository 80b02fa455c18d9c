package bm25

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Casers keep transform state and are not safe for concurrent use.
var foldPool = sync.Pool{
	New: func() any {
		c := cases.Fold()
		return &c
	},
}

// Tokenize splits text into normalized terms: NFKC, Unicode case folding,
// then runs of letters and digits.
func Tokenize(text string) []string {
	text = norm.NFKC.String(text)

	c := foldPool.Get().(*cases.Caser)
	text = c.String(text)
	foldPool.Put(c)

	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
