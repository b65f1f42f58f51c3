package models

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// RegionFromLocation returns the second-to-last comma-delimited segment of a
// location such as "Koramangala, Bengaluru, Karnataka, India". Locations with
// fewer than two non-empty segments have no region.
func RegionFromLocation(location string) string {
	parts := make([]string, 0, 4)
	for _, part := range strings.Split(location, ",") {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}

// LocationKey is the searchable form of a location: every non-empty segment
// lowercased with its whitespace collapsed, wrapped in commas, so that
// "Udupi,\tKarnataka ,  India" becomes ",udupi,karnataka,india,".
func LocationKey(location string) string {
	var b strings.Builder
	for _, part := range strings.Split(location, ",") {
		seg := normalizeSegment(part)
		if seg == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteByte(',')
		}
		b.WriteString(seg)
		b.WriteByte(',')
	}
	return b.String()
}

func normalizeSegment(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// NormalizeRegion applies the LocationKey segment rules to a region name.
func NormalizeRegion(region string) string {
	return normalizeSegment(region)
}

// RegionFromSlug turns "tamil-nadu" into "Tamil Nadu".
func RegionFromSlug(slug string) string {
	words := strings.Split(strings.TrimSpace(slug), "-")
	out := words[:0]
	for _, w := range words {
		if w == "" {
			continue
		}
		r, size := utf8.DecodeRuneInString(w)
		out = append(out, string(unicode.ToUpper(r))+w[size:])
	}
	return strings.Join(out, " ")
}

// RegionSlug is the inverse of RegionFromSlug for display names.
func RegionSlug(region string) string {
	return strings.ToLower(strings.Join(strings.Fields(region), "-"))
}
