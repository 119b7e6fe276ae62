package ocr

import (
	"sort"
	"strings"

	"golang.org/x/text/language"
)

// NormalizeLanguages canonicalizes, deduplicates and sorts language codes.
// Codes that do not parse as BCP 47 are kept lowercased.
func NormalizeLanguages(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, raw := range codes {
		code := canonical(raw)
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

func canonical(raw string) string {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, "_", "-"))
	if raw == "" {
		return ""
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return strings.ToLower(raw)
	}
	return tag.String()
}

// LanguageKey is the canonical key of a language set.
func LanguageKey(codes []string) string {
	return strings.Join(NormalizeLanguages(codes), " ")
}

// ParseLanguageKey splits a stored key (or any space/comma separated list)
// back into canonical codes.
func ParseLanguageKey(key string) []string {
	return NormalizeLanguages(strings.FieldsFunc(key, func(r rune) bool {
		return r == ' ' || r == ','
	}))
}

// SameSet reports whether two stored language strings describe the same set.
func SameSet(a, b string) bool {
	return LanguageKey(ParseLanguageKey(a)) == LanguageKey(ParseLanguageKey(b))
}

// tesseractCode maps a canonical tag to the traineddata name tesseract uses.
func tesseractCode(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	base, _ := tag.Base()
	if base.String() == "zh" {
		if script, _ := tag.Script(); script.String() == "Hant" {
			return "chi_tra"
		}
		return "chi_sim"
	}
	return base.ISO3()
}
