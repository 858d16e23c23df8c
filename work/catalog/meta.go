package catalog

import (
	"sort"
	"strings"

	"github.com/grafana/regexp"

	"deltatv-proxy/work/types"
)

// DefaultCountry is assigned to entries whose group carries no country part
const DefaultCountry = "default"

// groupSeparators split "Country ➾ Genre" style group labels, checked in order
var groupSeparators = []string{"➾", "⟾", "->", "→", "»", "›"}

var genreSuffixes = map[string]string{
	"c":   "Câble",
	"s":   "Satellite",
	"b":   "Basic",
	"b+":  "Basic+",
	"a":   "Adulte",
	"hd":  "HD",
	"fhd": "Full HD",
	"4k":  "4K",
	"vod": "VOD",
	"r":   "Radio",
	"d":   "Documentaire",
	"f":   "Films",
	"sp":  "Sport",
	"n":   "News",
	"e":   "Enfants",
	"m":   "Musique",
	"g":   "Généraliste",
	"i":   "Info",
	"c+":  "Canal+",
	"pp":  "Pay Per View",
}

// countryAliases maps native country names to the names used for filtering
var countryAliases = map[string]string{
	"italia":         "Italy",
	"deutschland":    "Germany",
	"nederland":      "Netherlands",
	"españa":         "Spain",
	"frança":         "France",
	"türkiye":        "Turkey",
	"united kingdom": "UK",
}

var (
	suffixTag   = regexp.MustCompile(`\s\.([a-zA-Z0-9+]+)$`)
	cleanSuffix = regexp.MustCompile(`\s+\.[a-zA-Z0-9+]+\s*$`)
	quality4K   = regexp.MustCompile(`(?i)\b(4K|UHD|2160p)\b`)
	qualityFHD  = regexp.MustCompile(`(?i)\b(FHD|1080[pi]|Full.?HD)\b`)
	qualityHD   = regexp.MustCompile(`(?i)\bHD\b`)
	qualitySD   = regexp.MustCompile(`(?i)\bSD\b`)
)

// SplitGroup splits a group label into country and genre on the first
// separator found. Without a separator the whole label is the country.
func SplitGroup(group string) (country, genre string) {
	country = strings.TrimSpace(group)
	for _, sep := range groupSeparators {
		if strings.Contains(group, sep) {
			parts := strings.SplitN(group, sep, 3)
			country = strings.TrimSpace(parts[0])
			if len(parts) > 1 {
				genre = strings.TrimSpace(parts[1])
			}
			break
		}
	}
	if country == "" {
		country = DefaultCountry
	}
	return CanonicalCountry(country), genre
}

// CanonicalCountry maps native spellings to their English names
func CanonicalCountry(country string) string {
	if alias, ok := countryAliases[strings.ToLower(strings.TrimSpace(country))]; ok {
		return alias
	}
	return country
}

// SuffixGenre derives a genre from a trailing " .xx" tag on the channel name
func SuffixGenre(name string) string {
	m := suffixTag.FindStringSubmatch(name)
	if m == nil {
		return ""
	}
	if genre, ok := genreSuffixes[strings.ToLower(m[1])]; ok {
		return genre
	}
	return strings.ToUpper(m[1])
}

// ExtractMeta returns the quality tag found in name and the name without its
// trailing " .xx" tag
func ExtractMeta(name string) (quality, cleanName string) {
	switch {
	case quality4K.MatchString(name):
		quality = "4K"
	case qualityFHD.MatchString(name):
		quality = "FHD"
	case qualityHD.MatchString(name):
		quality = "HD"
	case qualitySD.MatchString(name):
		quality = "SD"
	}
	cleanName = strings.TrimSpace(cleanSuffix.ReplaceAllString(name, ""))
	return quality, cleanName
}

// Countries lists the distinct countries in entries, sorted, without DefaultCountry
func Countries(entries []types.CatalogEntry) []string {
	seen := make(map[string]struct{})
	for _, e := range entries {
		if e.Country != "" && e.Country != DefaultCountry {
			seen[e.Country] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// ByCountry keeps entries whose country matches case-insensitively
func ByCountry(entries []types.CatalogEntry, country string) []types.CatalogEntry {
	var out []types.CatalogEntry
	for _, e := range entries {
		if strings.EqualFold(e.Country, country) {
			out = append(out, e)
		}
	}
	return out
}

// FindByID returns the entry with the given id
func FindByID(entries []types.CatalogEntry, id string) (types.CatalogEntry, bool) {
	for _, e := range entries {
		if e.ID == id {
			return e, true
		}
	}
	return types.CatalogEntry{}, false
}
