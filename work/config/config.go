package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider kinds
const (
	KindMediaHub = "mediahub"
	KindM3U      = "m3u"
)

// Resolve modes
const (
	ResolveAPI      = "api"
	ResolveRedirect = "redirect"
	ResolveDirect   = "direct"
)

// DefaultPath is used when DELTATV_CONFIG is not set
const DefaultPath = "/settings/config.json"

// Config holds all application configuration for the directory service.
type Config struct {
	ListenAddr     string           // Address the HTTP server binds to
	BaseURL        string           // Public base URL, used to build proxy links in rewritten playlists
	Debug          bool             // Forces DEBUG logging
	LogLevel       string           // DEBUG, INFO, WARN or ERROR
	ObfuscateUrls  bool             // Obfuscate URLs in logs
	DatabasePath   string           // SQLite file for overrides and the disabled list
	WorkerThreads  int              // Size of the shared ants pool
	SyncInterval   time.Duration    // 0 disables the background sync loop
	ProxyTimeout   time.Duration    // Timeout for playlist fetches through the proxy
	SegmentTimeout time.Duration    // Response header timeout for segment fetches
	MaxRedirects   int              // Upper bound on manually followed redirects
	AdminKeys      []AdminKey       // API keys allowed on protected routes
	Providers      []ProviderConfig // Configured upstream directories
}

// AdminKey is a bcrypt hashed API key with a role
type AdminKey struct {
	Name string `json:"name" yaml:"name"`
	Hash string `json:"hash" yaml:"hash"`
	Role string `json:"role" yaml:"role"`
}

// ProviderConfig describes one upstream channel directory.
type ProviderConfig struct {
	Name            string
	Kind            string   // mediahub or m3u
	PingURLs        []string // token endpoints, tried in order
	CatalogURL      string
	ResolveURL      string
	PlayURLTemplate string // used by the redirect resolve mode, {ref} is replaced by the channel ref
	ResolveMode     string // api, redirect or direct
	Groups          []string
	TokenTTL        time.Duration
	CatalogTTL      time.Duration
	PingTimeout     time.Duration
	CatalogTimeout  time.Duration
	ResolveTimeout  time.Duration
	UserAgent       string // used for token, catalog and resolve calls
	StreamUserAgent string // used when fetching playlists and segments
	Referer         string
	Origin          string
	Language        string
	Region          string
	ClientVersion   string
	AppVersion      string
	PagesPerSecond  int
	IncludeRegex    string
	ExcludeRegex    string
}

// ConfigFile is the on-disk structure. Durations are strings like "8m".
type ConfigFile struct {
	ListenAddr     string               `json:"listenAddr" yaml:"listenAddr"`
	BaseURL        string               `json:"baseURL" yaml:"baseURL"`
	Debug          bool                 `json:"debug" yaml:"debug"`
	LogLevel       string               `json:"logLevel" yaml:"logLevel"`
	ObfuscateUrls  bool                 `json:"obfuscateUrls" yaml:"obfuscateUrls"`
	DatabasePath   string               `json:"databasePath" yaml:"databasePath"`
	WorkerThreads  int                  `json:"workerThreads" yaml:"workerThreads"`
	SyncInterval   string               `json:"syncInterval" yaml:"syncInterval"`
	ProxyTimeout   string               `json:"proxyTimeout" yaml:"proxyTimeout"`
	SegmentTimeout string               `json:"segmentTimeout" yaml:"segmentTimeout"`
	MaxRedirects   int                  `json:"maxRedirects" yaml:"maxRedirects"`
	AdminKeys      []AdminKey           `json:"adminKeys" yaml:"adminKeys"`
	Providers      []ProviderConfigFile `json:"providers" yaml:"providers"`
}

// ProviderConfigFile is the on-disk provider structure
type ProviderConfigFile struct {
	Name            string   `json:"name" yaml:"name"`
	Kind            string   `json:"kind" yaml:"kind"`
	PingURLs        []string `json:"pingURLs" yaml:"pingURLs"`
	CatalogURL      string   `json:"catalogURL" yaml:"catalogURL"`
	ResolveURL      string   `json:"resolveURL" yaml:"resolveURL"`
	PlayURLTemplate string   `json:"playURLTemplate" yaml:"playURLTemplate"`
	ResolveMode     string   `json:"resolveMode" yaml:"resolveMode"`
	Groups          []string `json:"groups,omitempty" yaml:"groups,omitempty"`
	TokenTTL        string   `json:"tokenTTL" yaml:"tokenTTL"`
	CatalogTTL      string   `json:"catalogTTL" yaml:"catalogTTL"`
	PingTimeout     string   `json:"pingTimeout" yaml:"pingTimeout"`
	CatalogTimeout  string   `json:"catalogTimeout" yaml:"catalogTimeout"`
	ResolveTimeout  string   `json:"resolveTimeout" yaml:"resolveTimeout"`
	UserAgent       string   `json:"userAgent" yaml:"userAgent"`
	StreamUserAgent string   `json:"streamUserAgent" yaml:"streamUserAgent"`
	Referer         string   `json:"referer" yaml:"referer"`
	Origin          string   `json:"origin" yaml:"origin"`
	Language        string   `json:"language" yaml:"language"`
	Region          string   `json:"region" yaml:"region"`
	ClientVersion   string   `json:"clientVersion" yaml:"clientVersion"`
	AppVersion      string   `json:"appVersion" yaml:"appVersion"`
	PagesPerSecond  int      `json:"pagesPerSecond" yaml:"pagesPerSecond"`
	IncludeRegex    string   `json:"includeRegex,omitempty" yaml:"includeRegex,omitempty"`
	ExcludeRegex    string   `json:"excludeRegex,omitempty" yaml:"excludeRegex,omitempty"`
}

var (
	configCache *Config
	configMutex sync.RWMutex
)

// LoadConfig loads the configuration once and returns the cached instance.
//
// The file path comes from DELTATV_CONFIG, falling back to /settings/config.json.
// A missing or invalid file falls back to the default configuration.
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	if configCache != nil {
		return configCache
	}

	configPath := os.Getenv("DELTATV_CONFIG")
	if configPath == "" {
		configPath = DefaultPath
	}

	cfg, err := Load(configPath)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", configPath, err)
		log.Printf("Falling back to default configuration...")
		cfg = getDefaultConfig()
		validateAndSetDefaults(cfg)
	}

	configCache = cfg
	return configCache
}

// Load reads, converts and validates a config file. JSON is the default, files
// ending in .yaml or .yml are parsed as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cf ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	cfg, err := convertFromFile(&cf)
	if err != nil {
		return nil, err
	}
	validateAndSetDefaults(cfg)
	return cfg, nil
}

// parseDuration treats an empty string as zero so defaults can fill it in
func parseDuration(field, value string) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}
	return d, nil
}

func convertFromFile(cf *ConfigFile) (*Config, error) {
	cfg := &Config{
		ListenAddr:    cf.ListenAddr,
		BaseURL:       strings.TrimRight(cf.BaseURL, "/"),
		Debug:         cf.Debug,
		LogLevel:      cf.LogLevel,
		ObfuscateUrls: cf.ObfuscateUrls,
		DatabasePath:  cf.DatabasePath,
		WorkerThreads: cf.WorkerThreads,
		MaxRedirects:  cf.MaxRedirects,
		AdminKeys:     cf.AdminKeys,
	}

	var err error
	if cfg.SyncInterval, err = parseDuration("syncInterval", cf.SyncInterval); err != nil {
		return nil, err
	}
	if cfg.ProxyTimeout, err = parseDuration("proxyTimeout", cf.ProxyTimeout); err != nil {
		return nil, err
	}
	if cfg.SegmentTimeout, err = parseDuration("segmentTimeout", cf.SegmentTimeout); err != nil {
		return nil, err
	}

	cfg.Providers = make([]ProviderConfig, len(cf.Providers))
	for i, pf := range cf.Providers {
		p := &cfg.Providers[i]
		p.Name = pf.Name
		p.Kind = strings.ToLower(pf.Kind)
		p.PingURLs = pf.PingURLs
		p.CatalogURL = pf.CatalogURL
		p.ResolveURL = pf.ResolveURL
		p.PlayURLTemplate = pf.PlayURLTemplate
		p.ResolveMode = strings.ToLower(pf.ResolveMode)
		p.Groups = pf.Groups
		p.UserAgent = pf.UserAgent
		p.StreamUserAgent = pf.StreamUserAgent
		p.Referer = pf.Referer
		p.Origin = pf.Origin
		p.Language = pf.Language
		p.Region = pf.Region
		p.ClientVersion = pf.ClientVersion
		p.AppVersion = pf.AppVersion
		p.PagesPerSecond = pf.PagesPerSecond
		p.IncludeRegex = pf.IncludeRegex
		p.ExcludeRegex = pf.ExcludeRegex

		label := fmt.Sprintf(" for provider %s", pf.Name)
		if p.TokenTTL, err = parseDuration("tokenTTL"+label, pf.TokenTTL); err != nil {
			return nil, err
		}
		if p.CatalogTTL, err = parseDuration("catalogTTL"+label, pf.CatalogTTL); err != nil {
			return nil, err
		}
		if p.PingTimeout, err = parseDuration("pingTimeout"+label, pf.PingTimeout); err != nil {
			return nil, err
		}
		if p.CatalogTimeout, err = parseDuration("catalogTimeout"+label, pf.CatalogTimeout); err != nil {
			return nil, err
		}
		if p.ResolveTimeout, err = parseDuration("resolveTimeout"+label, pf.ResolveTimeout); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// DeltaProvider returns the built-in mediahub provider definition
func DeltaProvider() ProviderConfig {
	return ProviderConfig{
		Name:            "delta",
		Kind:            KindMediaHub,
		PingURLs:        []string{"https://www.lokke.app/api/app/ping", "https://www.vavoo.tv/api/app/ping"},
		CatalogURL:      "https://vavoo.to/mediahubmx-catalog.json",
		ResolveURL:      "https://vavoo.to/mediahubmx-resolve.json",
		PlayURLTemplate: "https://vavoo.to/play/{ref}/index.m3u8",
		ResolveMode:     ResolveAPI,
	}
}

func getDefaultConfig() *Config {
	return &Config{
		ListenAddr:    ":8080",
		BaseURL:       "http://localhost:8080",
		LogLevel:      "INFO",
		DatabasePath:  "/settings/deltatv.db",
		WorkerThreads: 8,
		MaxRedirects:  5,
		Providers:     []ProviderConfig{DeltaProvider()},
	}
}

// validateAndSetDefaults fills in defaults for missing or invalid values
func validateAndSetDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}
	if cfg.Debug {
		cfg.LogLevel = "DEBUG"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "/settings/deltatv.db"
	}
	if cfg.WorkerThreads <= 0 {
		cfg.WorkerThreads = 8
	}
	if cfg.SyncInterval < 0 {
		cfg.SyncInterval = 0
	}
	if cfg.ProxyTimeout <= 0 {
		cfg.ProxyTimeout = 20 * time.Second
	}
	if cfg.SegmentTimeout <= 0 {
		cfg.SegmentTimeout = 30 * time.Second
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 5
	}
	for i := range cfg.AdminKeys {
		if cfg.AdminKeys[i].Role == "" {
			cfg.AdminKeys[i].Role = "admin"
		}
	}

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.Name == "" {
			p.Name = fmt.Sprintf("provider_%d", i+1)
		}
		if p.Kind == "" {
			p.Kind = KindMediaHub
		}
		if p.ResolveMode == "" {
			if p.Kind == KindM3U {
				p.ResolveMode = ResolveDirect
			} else {
				p.ResolveMode = ResolveAPI
			}
		}
		if p.TokenTTL <= 0 {
			p.TokenTTL = 480 * time.Second
		}
		if p.CatalogTTL <= 0 {
			p.CatalogTTL = time.Hour
		}
		if p.PingTimeout <= 0 {
			p.PingTimeout = 15 * time.Second
		}
		if p.CatalogTimeout <= 0 {
			p.CatalogTimeout = 30 * time.Second
		}
		if p.ResolveTimeout <= 0 {
			p.ResolveTimeout = 15 * time.Second
		}
		if p.UserAgent == "" {
			p.UserAgent = "MediaHubMX/2"
		}
		if p.StreamUserAgent == "" {
			p.StreamUserAgent = "VAVOO/3.1.8"
		}
		if p.Referer == "" && p.Kind == KindMediaHub {
			p.Referer = "https://vavoo.to/"
		}
		if p.Language == "" {
			p.Language = "en"
		}
		if p.Region == "" {
			p.Region = "US"
		}
		if p.ClientVersion == "" {
			p.ClientVersion = "3.0.2"
		}
		if p.AppVersion == "" {
			p.AppVersion = "3.1.8"
		}
		if p.PagesPerSecond <= 0 {
			p.PagesPerSecond = 4
		}
	}
}

