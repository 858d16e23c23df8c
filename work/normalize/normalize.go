// Package normalize collapses near-duplicate channel names into display groups.
//
// Everything here is pure: no I/O and no errors. Degenerate names normalize to
// the empty key and form their own group.
package normalize

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/grafana/regexp"

	"deltatv-proxy/work/types"
)

// UnknownCountry is used for entries without a country tag
const UnknownCountry = "Unknown"

// NoNumber is the sort position of a source without a "(N)" suffix
const NoNumber = 999

var (
	trailingNumber  = regexp.MustCompile(`\s*\(\d+\)\s*$`)
	anyNumber       = regexp.MustCompile(`\s*\(\d+\)\s*`)
	extractNumber   = regexp.MustCompile(`\((\d+)\)`)
	qualityTokens   = regexp.MustCompile(`(?i)\s*(FHD|HD\+|HD|4K|UHD|SD|HEVC|H\.?265|LIVE\s*DURING.*|MULTI.*|VF|VO|VOSTFR)\s*`)
	trailingBracket = regexp.MustCompile(`\s*[\[\]{}|\\/]+\s*$`)
	trailingPunct   = regexp.MustCompile(`\s*[+\-_.:;,!?]+\s*$`)
	trailingPlus    = regexp.MustCompile(`\s*\+\s*$`)
	endsDirty       = regexp.MustCompile(`[\[\]{}|\\/+\-_.:;,!?]$`)
	whitespace      = regexp.MustCompile(`\s+`)
)

// Key returns the grouping key for a raw channel name: uppercased, numeric
// parentheticals, quality tokens and trailing bracket or punctuation clusters
// removed, and no whitespace at all.
//
// Stripping can expose a new strippable suffix (e.g. "A]+"), so the pass is
// repeated until the result stops changing. That keeps Key idempotent.
func Key(raw string) string {
	cur := keyPass(raw)
	for {
		next := keyPass(cur)
		if next == cur {
			return cur
		}
		cur = next
	}
}

func keyPass(s string) string {
	s = strings.TrimSpace(strings.ToUpper(s))
	s = anyNumber.ReplaceAllString(s, " ")
	s = qualityTokens.ReplaceAllString(s, " ")
	s = trailingBracket.ReplaceAllString(s, "")
	s = trailingPunct.ReplaceAllString(s, "")
	s = trailingPlus.ReplaceAllString(s, "")
	return whitespace.ReplaceAllString(s, "")
}

// DisplayName strips a trailing "(N)", then a trailing bracket cluster, then a
// trailing punctuation cluster. Quality tokens are kept.
func DisplayName(raw string) string {
	clean := strings.TrimSpace(raw)
	clean = strings.TrimSpace(trailingNumber.ReplaceAllString(clean, ""))
	clean = strings.TrimSpace(trailingBracket.ReplaceAllString(clean, ""))
	clean = strings.TrimSpace(trailingPunct.ReplaceAllString(clean, ""))
	return clean
}

func score(candidate string) int {
	s := 100 - utf8.RuneCountInString(candidate)
	if strings.Contains(candidate, " ") {
		s += 10
	}
	if !endsDirty.MatchString(candidate) {
		s += 5
	}
	return s
}

// BestDisplayName picks the highest scoring cleaned name. Ties keep the first seen.
func BestDisplayName(rawNames []string) string {
	if len(rawNames) == 0 {
		return ""
	}
	best := DisplayName(rawNames[0])
	bestScore := score(best)
	for _, raw := range rawNames[1:] {
		candidate := DisplayName(raw)
		if s := score(candidate); s > bestScore {
			best, bestScore = candidate, s
		}
	}
	return best
}

// SourceNumber extracts the first parenthesized integer, or NoNumber
func SourceNumber(raw string) int {
	m := extractNumber.FindStringSubmatch(raw)
	if m == nil {
		return NoNumber
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return NoNumber
	}
	return n
}

// GroupKey is Key(name) + "__" + country
func GroupKey(name, country string) string {
	if country == "" {
		country = UnknownCountry
	}
	return Key(name) + "__" + country
}

// Group merges entries by GroupKey. Groups come back in first-seen order,
// sources within a group by (number, raw name).
func Group(entries []types.CatalogEntry) []types.GroupedChannel {
	index := make(map[string]int)
	var groups []types.GroupedChannel
	var names [][]string

	for _, e := range entries {
		country := e.Country
		if country == "" {
			country = UnknownCountry
		}
		key := GroupKey(e.Name, country)

		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, types.GroupedChannel{
				Key:            key,
				NormalizedName: Key(e.Name),
				Country:        country,
			})
			names = append(names, nil)
		}

		g := &groups[i]
		if g.Logo == "" {
			g.Logo = e.Logo
		}
		src := types.Source{
			ID:           e.ID,
			OriginalName: e.Name,
			Quality:      e.Quality,
		}
		if n := SourceNumber(e.Name); n != NoNumber {
			src.Number = n
		}
		g.Sources = append(g.Sources, src)
		names[i] = append(names[i], e.Name)
	}

	for i := range groups {
		groups[i].DisplayName = BestDisplayName(names[i])
		SortSources(groups[i].Sources)
	}

	return groups
}

// SortSources orders by number ascending (missing numbers last), then raw name
func SortSources(sources []types.Source) {
	sort.SliceStable(sources, func(a, b int) bool {
		na, nb := SourceNumber(sources[a].OriginalName), SourceNumber(sources[b].OriginalName)
		if na != nb {
			return na < nb
		}
		return sources[a].OriginalName < sources[b].OriginalName
	})
}
