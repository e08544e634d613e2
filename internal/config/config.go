package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Watcher holds the pipeline sizing knobs.
type Watcher struct {
	Enabled bool

	NumDataFetchers     int
	NumMediaDownloaders int
	NumMediaUploaders   int

	// MaxReadyForUpload gates metadata intake while the media stages drain.
	MaxReadyForUpload int
	// FetchRefreshLimit caps how often one submission may be re-fetched
	// before it is finalised without media.
	FetchRefreshLimit int

	PollInterval time.Duration
}

// Config holds site, platform and pipeline settings.
// Layering: defaults, then the JSON config file, then SUBWATCH_* env vars.
// Call LoadEnvFile(".env") before Load to use a .env file.
type Config struct {
	// Paths
	StorePath  string // subscription store JSON, e.g. ./subwatch-store.json
	CachePath  string // submission cache sqlite db
	SandboxDir string // staging dir for downloaded media

	// Art site
	SiteBaseURL   string  // e.g. https://faexport.spangle.org.uk
	SiteAPIKey    string  // optional bearer for the site API
	SiteRateLimit float64 // requests per second against the site; 0 = unlimited

	// Chat platform
	PlatformURL   string // platform bot API base URL
	PlatformToken string

	MetricsAddr string // prometheus exposition listen address; "" = disabled

	Watcher Watcher
}

func defaults() *Config {
	return &Config{
		StorePath:     "./subwatch-store.json",
		CachePath:     "./subwatch-cache.db",
		SandboxDir:    os.TempDir(),
		SiteRateLimit: 2,
		MetricsAddr:   ":9090",
		Watcher: Watcher{
			Enabled:             true,
			NumDataFetchers:     2,
			NumMediaDownloaders: 2,
			NumMediaUploaders:   1,
			MaxReadyForUpload:   100,
			FetchRefreshLimit:   25,
			PollInterval:        20 * time.Second,
		},
	}
}

// Load reads config from environment over the defaults.
func Load() *Config {
	c := defaults()
	c.applyEnv()
	c.clamp()
	return c
}

// LoadFile reads a JSON config file over the defaults, then applies env
// overrides on top. A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	c := defaults()
	if err := c.applyFile(path); err != nil {
		return nil, err
	}
	c.applyEnv()
	c.clamp()
	return c, nil
}

// fileConfig is the JSON file shape. Pointers distinguish absent keys from
// zero values.
type fileConfig struct {
	StorePath     *string  `json:"store_path"`
	CachePath     *string  `json:"cache_path"`
	SandboxDir    *string  `json:"sandbox_dir"`
	SiteURL       *string  `json:"site_url"`
	SiteAPIKey    *string  `json:"site_api_key"`
	SiteRateLimit *float64 `json:"site_rate_limit"`
	PlatformURL   *string  `json:"platform_url"`
	PlatformToken *string  `json:"platform_token"`
	MetricsAddr   *string  `json:"metrics_addr"`

	Enabled             *bool   `json:"enabled"`
	NumDataFetchers     *int    `json:"num_data_fetchers"`
	NumMediaDownloaders *int    `json:"num_media_downloaders"`
	NumMediaUploaders   *int    `json:"num_media_uploaders"`
	MaxReadyForUpload   *int    `json:"max_ready_for_upload"`
	FetchRefreshLimit   *int    `json:"fetch_refresh_limit"`
	PollInterval        *string `json:"poll_interval"`
}

func (c *Config) applyFile(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	var fc fileConfig
	if err := dec.Decode(&fc); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	setStr := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	setStr(&c.StorePath, fc.StorePath)
	setStr(&c.CachePath, fc.CachePath)
	setStr(&c.SandboxDir, fc.SandboxDir)
	setStr(&c.SiteBaseURL, fc.SiteURL)
	setStr(&c.SiteAPIKey, fc.SiteAPIKey)
	setStr(&c.PlatformURL, fc.PlatformURL)
	setStr(&c.PlatformToken, fc.PlatformToken)
	setStr(&c.MetricsAddr, fc.MetricsAddr)
	if fc.SiteRateLimit != nil {
		c.SiteRateLimit = *fc.SiteRateLimit
	}
	if fc.Enabled != nil {
		c.Watcher.Enabled = *fc.Enabled
	}
	setInt := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	setInt(&c.Watcher.NumDataFetchers, fc.NumDataFetchers)
	setInt(&c.Watcher.NumMediaDownloaders, fc.NumMediaDownloaders)
	setInt(&c.Watcher.NumMediaUploaders, fc.NumMediaUploaders)
	setInt(&c.Watcher.MaxReadyForUpload, fc.MaxReadyForUpload)
	setInt(&c.Watcher.FetchRefreshLimit, fc.FetchRefreshLimit)
	if fc.PollInterval != nil {
		d, err := time.ParseDuration(*fc.PollInterval)
		if err != nil {
			return fmt.Errorf("config %s: poll_interval: %w", path, err)
		}
		c.Watcher.PollInterval = d
	}
	return nil
}

func (c *Config) applyEnv() {
	c.StorePath = getEnv("SUBWATCH_STORE_PATH", c.StorePath)
	c.CachePath = getEnv("SUBWATCH_CACHE_PATH", c.CachePath)
	c.SandboxDir = getEnv("SUBWATCH_SANDBOX_DIR", c.SandboxDir)
	c.SiteBaseURL = getEnv("SUBWATCH_SITE_URL", c.SiteBaseURL)
	c.SiteAPIKey = getEnv("SUBWATCH_SITE_API_KEY", c.SiteAPIKey)
	c.SiteRateLimit = getEnvFloat("SUBWATCH_SITE_RATE_LIMIT", c.SiteRateLimit)
	c.PlatformURL = getEnv("SUBWATCH_PLATFORM_URL", c.PlatformURL)
	c.PlatformToken = getEnv("SUBWATCH_PLATFORM_TOKEN", c.PlatformToken)
	c.MetricsAddr = getEnv("SUBWATCH_METRICS_ADDR", c.MetricsAddr)

	c.Watcher.Enabled = getEnvBool("SUBWATCH_ENABLED", c.Watcher.Enabled)
	c.Watcher.NumDataFetchers = getEnvInt("SUBWATCH_DATA_FETCHERS", c.Watcher.NumDataFetchers)
	c.Watcher.NumMediaDownloaders = getEnvInt("SUBWATCH_MEDIA_DOWNLOADERS", c.Watcher.NumMediaDownloaders)
	c.Watcher.NumMediaUploaders = getEnvInt("SUBWATCH_MEDIA_UPLOADERS", c.Watcher.NumMediaUploaders)
	c.Watcher.MaxReadyForUpload = getEnvInt("SUBWATCH_MAX_READY_FOR_UPLOAD", c.Watcher.MaxReadyForUpload)
	c.Watcher.FetchRefreshLimit = getEnvInt("SUBWATCH_FETCH_REFRESH_LIMIT", c.Watcher.FetchRefreshLimit)
	c.Watcher.PollInterval = getEnvDuration("SUBWATCH_POLL_INTERVAL", c.Watcher.PollInterval)
}

func (c *Config) clamp() {
	if c.Watcher.NumDataFetchers <= 0 {
		c.Watcher.NumDataFetchers = 2
	}
	if c.Watcher.NumMediaDownloaders <= 0 {
		c.Watcher.NumMediaDownloaders = 2
	}
	if c.Watcher.NumMediaUploaders <= 0 {
		c.Watcher.NumMediaUploaders = 1
	}
	if c.Watcher.MaxReadyForUpload <= 0 {
		c.Watcher.MaxReadyForUpload = 100
	}
	if c.Watcher.FetchRefreshLimit <= 0 {
		c.Watcher.FetchRefreshLimit = 25
	}
	if c.Watcher.PollInterval <= 0 {
		c.Watcher.PollInterval = 20 * time.Second
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, _ := strconv.Atoi(v)
		return n
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
