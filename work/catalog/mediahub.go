package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/ratelimit"

	"deltatv-proxy/work/client"
	"deltatv-proxy/work/logger"
	"deltatv-proxy/work/types"
)

// maxPages bounds one paginated fetch in case the upstream keeps handing out cursors
const maxPages = 500

// flexibleID accepts both string and numeric ids
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

type mediaHubItem struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Group string `json:"group"`
	URL   string `json:"url"`
	Logo  string `json:"logo"`
	IDs   struct {
		ID flexibleID `json:"id"`
	} `json:"ids"`
}

type mediaHubPage struct {
	Items      []mediaHubItem `json:"items"`
	NextCursor *string        `json:"nextCursor"`
}

type mediaHubRequest struct {
	Language      string         `json:"language"`
	Region        string         `json:"region"`
	CatalogID     string         `json:"catalogId"`
	ID            string         `json:"id"`
	Adult         bool           `json:"adult"`
	Search        string         `json:"search"`
	Sort          string         `json:"sort"`
	Filter        map[string]any `json:"filter"`
	Cursor        *string        `json:"cursor"`
	ClientVersion string         `json:"clientVersion"`
}

// MediaHubFetcher pages through a signed mediahub catalog endpoint.
// When groups are configured each group is fetched as its own scope.
type MediaHubFetcher struct {
	client        *client.HeaderSettingClient
	provider      string
	catalogURL    string
	language      string
	region        string
	clientVersion string
	groups        []string
	timeout       time.Duration
	limiter       ratelimit.Limiter
}

// MediaHubOptions configures a MediaHubFetcher
type MediaHubOptions struct {
	Provider       string
	CatalogURL     string
	Language       string
	Region         string
	ClientVersion  string
	Groups         []string
	Timeout        time.Duration
	PagesPerSecond int
}

// NewMediaHubFetcher builds a fetcher. Page requests are paced by a
// per-provider rate limiter.
func NewMediaHubFetcher(c *client.HeaderSettingClient, opts MediaHubOptions) *MediaHubFetcher {
	rate := opts.PagesPerSecond
	if rate <= 0 {
		rate = 4
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MediaHubFetcher{
		client:        c,
		provider:      opts.Provider,
		catalogURL:    opts.CatalogURL,
		language:      opts.Language,
		region:        opts.Region,
		clientVersion: opts.ClientVersion,
		groups:        opts.Groups,
		timeout:       timeout,
		limiter:       ratelimit.New(rate),
	}
}

// Scopes implements Fetcher
func (f *MediaHubFetcher) Scopes() []string {
	if len(f.groups) == 0 {
		return []string{ScopeAll}
	}
	return f.groups
}

// FetchScope implements Fetcher
func (f *MediaHubFetcher) FetchScope(ctx context.Context, tok types.Token, scope string) ([]types.CatalogEntry, error) {
	header := make(http.Header)
	header.Set("mediahubmx-signature", tok.Value)
	header.Set("Accept-Language", f.language)

	filter := map[string]any{}
	if scope != ScopeAll {
		filter["group"] = scope
	}

	var entries []types.CatalogEntry
	var cursor *string

	for page := 1; page <= maxPages; page++ {
		f.limiter.Take()

		req := mediaHubRequest{
			Language:      f.language,
			Region:        f.region,
			CatalogID:     "iptv",
			ID:            "iptv",
			Filter:        filter,
			Cursor:        cursor,
			ClientVersion: f.clientVersion,
		}

		var resp mediaHubPage
		pageCtx, cancel := context.WithTimeout(ctx, f.timeout)
		status, err := f.client.PostJSON(pageCtx, f.catalogURL, req, header, &resp)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("page %d (status %d): %w", page, status, err)
		}

		logger.Debug("{catalog/mediahub - FetchScope} %s scope %q page %d: %d items", f.provider, scope, page, len(resp.Items))
		if len(resp.Items) == 0 {
			break
		}

		for _, item := range resp.Items {
			if e, ok := f.toEntry(item); ok {
				entries = append(entries, e)
			}
		}

		if resp.NextCursor == nil || *resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
		if page == maxPages {
			logger.Warn("{catalog/mediahub - FetchScope} %s scope %q stopped after %d pages", f.provider, scope, maxPages)
		}
	}

	return entries, nil
}

func (f *MediaHubFetcher) toEntry(item mediaHubItem) (types.CatalogEntry, bool) {
	if item.Type != "iptv" {
		return types.CatalogEntry{}, false
	}

	id := strings.TrimSpace(string(item.IDs.ID))
	if id == "" || item.URL == "" {
		return types.CatalogEntry{}, false
	}

	country, genre := SplitGroup(item.Group)
	if genre == "" {
		genre = SuffixGenre(item.Name)
	}
	quality, cleanName := ExtractMeta(item.Name)

	return types.CatalogEntry{
		ID:        id,
		Provider:  f.provider,
		Name:      item.Name,
		CleanName: cleanName,
		Logo:      item.Logo,
		Group:     item.Group,
		Genre:     genre,
		Quality:   quality,
		Country:   country,
		PlayRef:   item.URL,
	}, true
}
