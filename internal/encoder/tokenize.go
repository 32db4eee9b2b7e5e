package encoder

import (
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// English and Spanish stop words; catalog descriptions are mixed-language
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true, "from": true,
	"as": true, "is": true, "was": true, "are": true, "were": true,
	"be": true, "been": true, "has": true, "have": true, "had": true,
	"it": true, "its": true, "this": true, "that": true, "these": true,
	"those": true, "will": true, "can": true,
	"el": true, "la": true, "los": true, "las": true, "un": true,
	"una": true, "unos": true, "unas": true, "de": true, "del": true,
	"al": true, "en": true, "con": true, "para": true, "por": true,
	"que": true, "se": true, "su": true, "sus": true, "es": true,
	"son": true, "lo": true, "le": true, "les": true,
}

// foldDiacritics strips combining marks, so "gimnasio" matches "gimnásio"
func foldDiacritics(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return folded
}

// tokenize converts text to lowercase, diacritic-free tokens without stop words
func tokenize(text string) []string {
	text = strings.ToLower(foldDiacritics(text))

	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	filtered := make([]string, 0, len(words))
	for _, word := range words {
		if len(word) > 1 && !stopWords[word] {
			filtered = append(filtered, word)
		}
	}

	return filtered
}

// normalize performs L2 normalization in place; zero vectors are returned unchanged
func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}

	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
