package types

import (
	"net/http"
	"time"
)

// Token is an upstream credential. It is valid while now-ObtainedAt < TTL.
type Token struct {
	Value      string
	ObtainedAt time.Time
	TTL        time.Duration
}

// Expired reports whether the token must be refetched at now
func (t Token) Expired(now time.Time) bool {
	return t.ObtainedAt.IsZero() || now.Sub(t.ObtainedAt) >= t.TTL
}

// CatalogEntry is one channel as listed by an upstream directory.
type CatalogEntry struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	Name      string `json:"name"`
	CleanName string `json:"cleanName"`
	Logo      string `json:"logo,omitempty"`
	Group     string `json:"group,omitempty"`
	Genre     string `json:"genre,omitempty"`
	Quality   string `json:"quality,omitempty"`
	Country   string `json:"country"`
	PlayRef   string `json:"-"` // opaque reference handed to the resolver
}

// Source is one upstream variant inside a grouped channel
type Source struct {
	ID           string `json:"id"`
	OriginalName string `json:"originalName"`
	Number       int    `json:"number"`
	Quality      string `json:"quality,omitempty"`
}

// GroupedChannel is the user-facing channel built from entries that share a
// normalized name and a country.
type GroupedChannel struct {
	Key            string   `json:"key"`
	DisplayName    string   `json:"displayName"`
	NormalizedName string   `json:"normalizedName"`
	Country        string   `json:"country"`
	Logo           string   `json:"logo,omitempty"`
	Sources        []Source `json:"sources"`
}

// ResolvedStream is a playable URL plus the headers the upstream expects.
// It is short-lived and never cached.
type ResolvedStream struct {
	Provider string
	URL      string
	Headers  http.Header
}

// Override replaces the display name and logo of a single channel id
type Override struct {
	Provider  string    `json:"provider"`
	ChannelID string    `json:"channelId"`
	Name      string    `json:"name,omitempty"`
	Logo      string    `json:"logo,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DisabledChannel marks a channel id as hidden and unresolvable
type DisabledChannel struct {
	Provider  string    `json:"provider"`
	ChannelID string    `json:"channelId"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// SyncRun records the outcome of one forced catalog refresh
type SyncRun struct {
	ID         int64     `json:"id"`
	Provider   string    `json:"provider"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Entries    int       `json:"entries"`
	Countries  int       `json:"countries"`
	Error      string    `json:"error,omitempty"`
}
