package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Owner name standardisation removes common inconsistencies between title
// ownership records for the same legal owner (punctuation drift, abbreviation
// variants, stray unicode). It is a middle road between exact comparison,
// which fails on minor typos, and fuzzy string matching, which needs a
// similarity threshold and far more computation.

// asciiFolder strips diacritics: decompose to NFD, drop combining marks,
// recompose.
var asciiFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// substitution is one ordered rewrite step of the corporate name pipeline.
type substitution struct {
	re          *regexp.Regexp
	replacement string
}

// corporateSubstitutions are applied in order after folding and lowercasing.
// The order matters: punctuation and space squashing must run before the
// word-boundary abbreviation rules.
var corporateSubstitutions = []substitution{
	// Quotes, commas, hashes, dots and brackets become spaces
	{regexp.MustCompile(`[',+#"\.\(\)\[\]]`), " "},
	// Squash runs of spaces
	{regexp.MustCompile(` +`), " "},
	// Ampersand spelled out
	{regexp.MustCompile(` ?& ?`), " and "},
	// En dash to hyphen-minus
	{regexp.MustCompile(`\x{2013}`), "-"},
	// Hyphens with optional surrounding space become a single space
	{regexp.MustCompile(` ?- ?`), " "},
	// `no1` to `no 1`
	{regexp.MustCompile(`no ?(\d)`), "no ${1}"},
	// Spell limited, incorporated and company in full
	{regexp.MustCompile(` ltd(?:$| )`), " limited "},
	{regexp.MustCompile(` inc(?:$| )`), " incorporated "},
	{regexp.MustCompile(` co(?:$| )`), " company "},
	// Abbreviate road, street and avenue
	{regexp.MustCompile(` road(?:$| )`), " rd "},
	{regexp.MustCompile(` street(?:$| )`), " st "},
	{regexp.MustCompile(` avenue(?:$| )`), " ave "},
	// Space between letters and digits in both directions
	{regexp.MustCompile(`([a-z])(\d)`), "${1} ${2}"},
	{regexp.MustCompile(`(\d)([a-z])`), "${1} ${2}"},
}

// CorporateName standardises a corporate owner name (trusts, companies,
// government entities).
func CorporateName(name string) string {
	s := foldASCII(name)
	s = strings.ToLower(s)
	for _, sub := range corporateSubstitutions {
		s = sub.re.ReplaceAllString(s, sub.replacement)
	}
	return strings.TrimSpace(s)
}

// IndividualName standardises a natural person's name. Individual names get
// no abbreviation expansion, only folding, lowercasing and trimming.
func IndividualName(name string) string {
	s := foldASCII(name)
	return strings.TrimSpace(strings.ToLower(s))
}

var reColumnSeparators = regexp.MustCompile(`[\s/]`)
var reColumnBrackets = regexp.MustCompile(`[\(\)]`)

// ColumnName standardises a source column header to lowercase with
// underscores between words: diacritics folded, CamelCase split, brackets
// removed. Used to match spreadsheet headers independent of cosmetic
// formatting changes between releases.
func ColumnName(name string) string {
	s := foldASCII(name)

	var b strings.Builder
	rs := []rune(s)
	for i, r := range rs {
		if i > 0 && unicode.IsUpper(r) && unicode.IsLower(rs[i-1]) {
			b.WriteRune(' ')
		}
		b.WriteRune(r)
	}
	s = strings.ToLower(strings.TrimSpace(b.String()))
	s = reColumnSeparators.ReplaceAllString(s, "_")
	s = reColumnBrackets.ReplaceAllString(s, "")
	return s
}

// foldASCII converts non-ASCII characters to their closest ASCII equivalent
// and drops anything which has none.
func foldASCII(s string) string {
	folded, _, err := transform.String(asciiFolder, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	for _, r := range folded {
		if r < 128 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
