package filter

import (
	"testing"

	"deltatv-proxy/work/config"
	"deltatv-proxy/work/types"
)

func names(entries []types.CatalogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func TestFilterEntries(t *testing.T) {
	entries := []types.CatalogEntry{
		{ID: "1", Name: "RMC SPORT 1"},
		{ID: "2", Name: "Canal+ Sport"},
		{ID: "3", Name: "TF1"},
		{ID: "4", Name: "SPORT XXX"},
	}

	tests := []struct {
		name    string
		include string
		exclude string
		want    []string
	}{
		{"no filters", "", "", []string{"RMC SPORT 1", "Canal+ Sport", "TF1", "SPORT XXX"}},
		{"include only", "sport", "", []string{"RMC SPORT 1", "Canal+ Sport", "SPORT XXX"}},
		{"exclude only", "", "xxx", []string{"RMC SPORT 1", "Canal+ Sport", "TF1"}},
		{"both", "sport", "xxx|canal", []string{"RMC SPORT 1"}},
		{"invalid include ignored", "(", "", []string{"RMC SPORT 1", "Canal+ Sport", "TF1", "SPORT XXX"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fm := NewFilterManager()
			f := fm.GetOrCreateFilter(&config.ProviderConfig{Name: "p", IncludeRegex: tt.include, ExcludeRegex: tt.exclude})
			got := names(FilterEntries(entries, f))
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestGetOrCreateFilterCaches(t *testing.T) {
	fm := NewFilterManager()
	p := &config.ProviderConfig{Name: "p", IncludeRegex: "a"}
	first := fm.GetOrCreateFilter(p)
	p.IncludeRegex = "b"
	if fm.GetOrCreateFilter(p) != first {
		t.Fatal("expected the cached filter for a known provider")
	}
}
