package catalog

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"deltatv-proxy/work/client"
	"deltatv-proxy/work/parser"
	"deltatv-proxy/work/types"
)

// M3UFetcher reads a provider that publishes a plain extended M3U playlist.
// The playlist has no pagination so there is a single scope.
type M3UFetcher struct {
	client     *client.HeaderSettingClient
	provider   string
	catalogURL string
	timeout    time.Duration
}

// NewM3UFetcher builds an M3UFetcher
func NewM3UFetcher(c *client.HeaderSettingClient, provider, catalogURL string, timeout time.Duration) *M3UFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &M3UFetcher{
		client:     c,
		provider:   provider,
		catalogURL: catalogURL,
		timeout:    timeout,
	}
}

// Scopes implements Fetcher
func (f *M3UFetcher) Scopes() []string {
	return []string{ScopeAll}
}

// FetchScope implements Fetcher. The token, when present, is sent as a bearer
// credential.
func (f *M3UFetcher) FetchScope(ctx context.Context, tok types.Token, _ string) ([]types.CatalogEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	header := make(http.Header)
	if tok.Value != "" {
		header.Set("Authorization", "Bearer "+tok.Value)
	}

	resp, err := f.client.Follow(ctx, f.catalogURL, header)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := client.DecodeBody(resp)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	items, err := parser.ParseM3U(body)
	if err != nil {
		return nil, err
	}

	entries := make([]types.CatalogEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, f.toEntry(item))
	}
	return entries, nil
}

// EntryID derives a stable id from the stream URL. tvg-id is not used because
// playlists routinely repeat it across variants of one channel.
func EntryID(streamURL string) string {
	sum := sha1.Sum([]byte(streamURL))
	return hex.EncodeToString(sum[:6])
}

func (f *M3UFetcher) toEntry(item parser.M3UItem) types.CatalogEntry {
	id := EntryID(item.URL)

	country, genre := SplitGroup(item.Attributes["group-title"])
	if genre == "" {
		genre = SuffixGenre(item.Name)
	}
	quality, cleanName := ExtractMeta(item.Name)

	return types.CatalogEntry{
		ID:        id,
		Provider:  f.provider,
		Name:      item.Name,
		CleanName: cleanName,
		Logo:      item.Attributes["tvg-logo"],
		Group:     item.Attributes["group-title"],
		Genre:     genre,
		Quality:   quality,
		Country:   country,
		PlayRef:   item.URL,
	}
}
