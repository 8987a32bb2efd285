package detectors

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/rivo/uniseg"
	"github.com/spaolacci/murmur3"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonTokenChars = regexp.MustCompile(`[^\pL\pN\s]+`)
	customEmoji   = regexp.MustCompile(`<a?:[A-Za-z0-9_~]{2,32}:\d{15,21}>`)
)

// Tokenize lower-cases text, folds accents away and splits it on anything
// that is not a letter or digit.
func Tokenize(text string) []string {
	// transformers are stateful, build one per call
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	bare := strings.ToLower(nonTokenChars.ReplaceAllString(text, " "))
	folded, _, err := transform.String(fold, bare)
	if err != nil {
		folded = bare
	}
	return strings.Fields(folded)
}

// Fingerprint hashes the normalized token stream of a message, so trivial
// variations in case, punctuation or spacing collide.
func Fingerprint(content string) uint64 {
	toks := Tokenize(content)
	if len(toks) == 0 {
		return murmur3.Sum64([]byte(strings.TrimSpace(content)))
	}
	return murmur3.Sum64([]byte(strings.Join(toks, " ")))
}

// CountEmoji counts unicode emoji grapheme clusters plus custom guild emoji.
func CountEmoji(content string) int {
	n := len(customEmoji.FindAllStringIndex(content, -1))
	gr := uniseg.NewGraphemes(customEmoji.ReplaceAllString(content, ""))
	for gr.Next() {
		r := gr.Runes()[0]
		if (r >= 0x1F000 && r <= 0x1FFFF) || (r >= 0x2600 && r <= 0x27BF) {
			n++
		}
	}
	return n
}

func containsPhrase(tokens []string, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(tokens) {
		return false
	}
outer:
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		for j, p := range phrase {
			if tokens[i+j] != p {
				continue outer
			}
		}
		return true
	}
	return false
}
