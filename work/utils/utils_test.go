package utils

import "testing"

func TestObfuscateURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"https://cdn.example/live/index.m3u8?token=abc", "https://cdn.example/***?***"},
		{"http://cdn.example/", "http://cdn.example"},
		{"http://cdn.example", "http://cdn.example"},
		{"https://cdn.example/a#frag", "https://cdn.example/***#***"},
	}
	for _, tt := range tests {
		if got := ObfuscateURL(tt.in); got != tt.want {
			t.Errorf("ObfuscateURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLogURL(t *testing.T) {
	raw := "https://cdn.example/x?sig=1"
	if LogURL(false, raw) != raw {
		t.Error("LogURL without obfuscation should return input")
	}
	if LogURL(true, raw) == raw {
		t.Error("LogURL with obfuscation should mask input")
	}
}

func TestIsHTTPURL(t *testing.T) {
	tests := map[string]bool{
		"https://a.example/x":  true,
		"http://a.example":     true,
		"ftp://a.example/file": false,
		"/relative/path.ts":    false,
		"javascript:alert(1)":  false,
		"":                     false,
	}
	for in, want := range tests {
		if got := IsHTTPURL(in); got != want {
			t.Errorf("IsHTTPURL(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		512:     "512 B",
		2048:    "2.0 KiB",
		5 << 20: "5.0 MiB",
	}
	for in, want := range tests {
		if got := FormatBytes(in); got != want {
			t.Errorf("FormatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
