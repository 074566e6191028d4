// Package geo turns school mailing addresses into coordinates.
//
// Addresses in the school workbooks are written for the post office, not for
// a geocoder: PO boxes, rural routes and abbreviations make Nominatim miss.
// NormalizeAddress strips those, and QueryVariants produces progressively
// looser queries for Resolve to try in order.
package geo

import (
	"regexp"
	"strings"
)

const (
	province = "Nova Scotia"
	country  = "Canada"
)

var (
	poBoxPat   = regexp.MustCompile(`(?i)\b(?:P\.?\s*O\.?\s*Box|PO\s*Box|Box\s+\d+)\b`)
	ruralPat   = regexp.MustCompile(`(?i)\bRR\s*\d+\b`)
	stationPat = regexp.MustCompile(`(?i)\bStn\.?\b`)
	nsWordPat  = regexp.MustCompile(`\bNS\b`)
	spacePat   = regexp.MustCompile(`\s+`)
	commasPat  = regexp.MustCompile(`\s*,(?:\s*,)+`)
	spaceComma = regexp.MustCompile(`\s+,`)
	postalPat  = regexp.MustCompile(`(?i)\b[ABCEGHJ-NPRSTVXY]\d[ABCEGHJ-NPRSTV-Z]\s?\d[ABCEGHJ-NPRSTV-Z]\d\b`)
	shortPat   = regexp.MustCompile(`,\s*` + province + `.*`)
)

// NormalizeAddress cleans a mailing address into a geocoder query anchored to
// Nova Scotia, Canada. The result is also the geocode cache key, so it must
// stay byte-compatible with existing geocode_cache.csv files: a box number
// left behind by the PO Box strip, a doubled comma before the province and
// "Station." are all part of the key. QueryVariants tidies them for lookups.
func NormalizeAddress(addr string) string {
	s := strings.TrimSpace(addr)
	if s == "" {
		return ""
	}
	s = poBoxPat.ReplaceAllString(s, "")
	s = ruralPat.ReplaceAllString(s, "")
	s = stationPat.ReplaceAllString(s, "Station")
	s = strings.TrimSpace(strings.Trim(spacePat.ReplaceAllString(s, " "), ", "))
	if s == "" {
		return ""
	}

	if !strings.Contains(s, province) && nsWordPat.MatchString(s) {
		s = strings.ReplaceAll(s, " NS", ", "+province)
	}
	if !strings.Contains(s, province) {
		s += ", " + province
	}
	if !strings.Contains(s, country) {
		s += ", " + country
	}
	return s
}

// QueryVariants returns the queries to try for a normalized address, most
// specific first: as given, with stray commas tidied, without the postal
// code, and town-less "..., Nova Scotia, Canada" when the province appears
// mid-string.
func QueryVariants(addr string) []string {
	variants := []string{addr}
	add := func(v string) {
		if v == "" {
			return
		}
		for _, have := range variants {
			if have == v {
				return
			}
		}
		variants = append(variants, v)
	}

	clean := tidy(addr)
	add(clean)
	add(tidy(postalPat.ReplaceAllString(clean, "")))
	add(shortPat.ReplaceAllString(clean, ", "+province+", "+country))
	return variants
}

// tidy collapses whitespace and stray commas left behind by removals.
func tidy(s string) string {
	s = spacePat.ReplaceAllString(s, " ")
	s = commasPat.ReplaceAllString(s, ",")
	s = spaceComma.ReplaceAllString(s, ",")
	return strings.Trim(s, ", ")
}
