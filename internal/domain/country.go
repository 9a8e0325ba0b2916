package domain

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// defaultAliases covers name variants that recur across OCHA, FTS and CBPF
// exports and that token matching cannot reach.
var defaultAliases = map[string]string{
	"drc":                            "COD",
	"dr congo":                       "COD",
	"congo drc":                      "COD",
	"congo kinshasa":                 "COD",
	"congo brazzaville":              "COG",
	"car":                            "CAF",
	"syria":                          "SYR",
	"opt":                            "PSE",
	"occupied palestinian territory": "PSE",
	"palestine":                      "PSE",
	"turkey":                         "TUR",
	"turkiye":                        "TUR",
	"ivory coast":                    "CIV",
	"burma":                          "MMR",
	"laos":                           "LAO",
	"iran":                           "IRN",
	"north korea":                    "PRK",
	"dprk":                           "PRK",
	"venezuela":                      "VEN",
	"bolivia":                        "BOL",
	"tanzania":                       "TZA",
	"moldova":                        "MDA",
	"russia":                         "RUS",
	"vietnam":                        "VNM",
}

var nameStopwords = map[string]bool{"the": true, "of": true, "and": true}

// CountryIndex is the canonical ISO3 <-> name reference used to reconcile the
// severity, funding and pooled-fund sources.
type CountryIndex struct {
	byISO3 map[string]Country
	byISO2 map[string]string
	byName map[string]string
	tokens []nameTokens
}

type nameTokens struct {
	iso3   string
	tokens map[string]bool
}

// NewCountryIndex builds an index from reference rows plus alias overrides.
// Aliases map a free-text name to an ISO3 code and take precedence over the
// built-in alias table.
func NewCountryIndex(countries []Country, aliases map[string]string) *CountryIndex {
	ix := &CountryIndex{
		byISO3: make(map[string]Country, len(countries)),
		byISO2: make(map[string]string, len(countries)),
		byName: make(map[string]string, len(countries)+len(defaultAliases)+len(aliases)),
	}
	for _, c := range countries {
		ix.byISO3[c.ISO3] = c
		if c.ISO2 != "" {
			ix.byISO2[c.ISO2] = c.ISO3
		}
		n := NormalizeCountryName(c.Name)
		if n != "" {
			ix.byName[n] = c.ISO3
			ix.tokens = append(ix.tokens, nameTokens{iso3: c.ISO3, tokens: tokenSet(n)})
		}
	}
	sort.Slice(ix.tokens, func(i, j int) bool { return ix.tokens[i].iso3 < ix.tokens[j].iso3 })

	ix.addAliases(defaultAliases)
	ix.addAliases(aliases)
	return ix
}

// addAliases applies aliases in sorted key order so names that normalize
// alike resolve the same way on every build.
func (ix *CountryIndex) addAliases(aliases map[string]string) {
	names := make([]string, 0, len(aliases))
	for name := range aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ix.addAlias(name, aliases[name])
	}
}

func (ix *CountryIndex) addAlias(name, code string) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if n := NormalizeCountryName(name); n != "" && IsISO3(code) {
		ix.byName[n] = code
	}
}

// Len returns the number of reference countries.
func (ix *CountryIndex) Len() int { return len(ix.byISO3) }

// Lookup returns the reference entry for an ISO3 code.
func (ix *CountryIndex) Lookup(iso3 string) (Country, bool) {
	c, ok := ix.byISO3[iso3]
	return c, ok
}

// Name returns the display name for an ISO3 code, or the code itself.
func (ix *CountryIndex) Name(iso3 string) string {
	if c, ok := ix.byISO3[iso3]; ok {
		return c.Name
	}
	return iso3
}

// ISO3ForISO2 maps a two-letter code to its ISO3 code.
func (ix *CountryIndex) ISO3ForISO2(iso2 string) (string, bool) {
	code, ok := ix.byISO2[strings.ToUpper(strings.TrimSpace(iso2))]
	return code, ok
}

// Resolve maps a free-text country identifier to an ISO3 code. It tries, in
// order: a literal ISO3 code, an exact normalized name or alias, then a unique
// token-subset match against reference names.
func (ix *CountryIndex) Resolve(name string) (string, bool) {
	if code := strings.ToUpper(strings.TrimSpace(name)); IsISO3(code) {
		if _, ok := ix.byISO3[code]; ok {
			return code, true
		}
	}

	n := NormalizeCountryName(name)
	if n == "" {
		return "", false
	}
	if code, ok := ix.byName[n]; ok {
		return code, true
	}

	query := tokenSet(n)
	if len(query) == 0 {
		return "", false
	}
	match := ""
	for _, cand := range ix.tokens {
		if !subset(query, cand.tokens) {
			continue
		}
		if match != "" && match != cand.iso3 {
			return "", false
		}
		match = cand.iso3
	}
	return match, match != ""
}

// NormalizeCountryName folds accents and case and collapses punctuation so
// "Côte d'Ivoire" and "COTE D IVOIRE" compare equal.
func NormalizeCountryName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(strings.ReplaceAll(folded, "&", " and "))
	folded = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, folded)
	return strings.Join(strings.Fields(folded), " ")
}

func tokenSet(normalized string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(normalized) {
		if !nameStopwords[tok] {
			set[tok] = true
		}
	}
	return set
}

func subset(a, b map[string]bool) bool {
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
