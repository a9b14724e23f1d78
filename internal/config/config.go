package config

import (
	"net/url"
	"path/filepath"
	"slices"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
// Network and page-size defaults follow what the remote search service
// tolerates in practice; crawl defaults keep a survey of a mid-sized city
// under a few thousand requests.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "kanpora"

	// DefaultSearchURL is the remote endpoint used for box searches.
	DefaultSearchURL = "https://www.airbnb.com/s/homes"

	// DefaultUserAgent is sent when no user agent pool is configured.
	DefaultUserAgent = "Mozilla/5.0"

	// DefaultLocale is sent as the locale query parameter.
	DefaultLocale = "en"

	// DefaultCurrency is sent as the currency query parameter.
	// Prices stored in the room table are in this currency.
	DefaultCurrency = "EUR"

	// DefaultTimeout bounds a single HTTP request, not the whole crawl.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxAttempts caps the attempts of one logical request.
	// Each attempt uses a fresh session.
	DefaultMaxAttempts = 5

	// DefaultRequestSleep is the upper bound of the randomized wait before
	// each request. Each worker waits on its own.
	DefaultRequestSleep = 2 * time.Second

	// DefaultReinitSleep is how long the proxy pool waits before refilling
	// itself once every proxy has been evicted.
	DefaultReinitSleep = 60 * time.Second

	// DefaultProxyEvictProbability is the chance that a proxy answering 403
	// is removed from the pool. Keeping some blocked proxies avoids draining
	// the pool on short bursts of blocking.
	DefaultProxyEvictProbability = 0.5

	// DefaultPageSize is the number of listings on a full result page.
	DefaultPageSize = 18

	// DefaultMaxPages is the page ceiling of one box search.
	// PageSize * MaxPages is the saturation threshold.
	DefaultMaxPages = 20

	// DefaultEnlarge is the overlap fraction applied to child boxes.
	DefaultEnlarge = 0.0

	// DefaultWorkers is the number of box searches run concurrently.
	DefaultWorkers = 4

	// DefaultMaxDepth stops splitting below this depth. At depth 12 a
	// city-sized box is a few meters wide.
	DefaultMaxDepth = 12

	// DefaultStallThreshold is the number of consecutive failed boxes after
	// which a crawl is considered stalled.
	DefaultStallThreshold = 10

	// DefaultCountCap is the value at which the remote service caps its
	// claimed listing count.
	DefaultCountCap = 1001

	// DefaultMaxCorrectionDepth bounds how deep the expected-count
	// correction looks for uncapped counts.
	DefaultMaxCorrectionDepth = 5

	// DefaultBatchSize is the number of surveys run concurrently by
	// "survey run --all".
	DefaultBatchSize = 2

	// DefaultDBDriver is the storage driver.
	DefaultDBDriver = DriverSQLite

	// DefaultLogFormat is the console log format.
	DefaultLogFormat = LogFormatText

	// DefaultTorStartupTimeout is the maximum time to wait for the embedded
	// Tor daemon to bootstrap.
	DefaultTorStartupTimeout = 3 * time.Minute
)

// Supported storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Supported console log formats.
const (
	LogFormatText  = "text"
	LogFormatColor = "color"
	LogFormatJSON  = "json"
)

// Config holds all configuration options for kanpora.
// It is populated from defaults, then the YAML file, then the environment,
// then CLI flags, and passed down explicitly.
type Config struct {
	// SearchURL is the remote search endpoint.
	SearchURL string

	// APIKey is sent as the "key" query parameter when set.
	APIKey string

	// ClientSessionID is sent as client_session_id. A random UUID is used
	// when empty.
	ClientSessionID string

	// Locale and Currency are sent with every search request.
	Locale   string
	Currency string

	// UserAgents is the pool user agents are drawn from for new sessions.
	// DefaultUserAgent is used when empty.
	UserAgents []string

	// Proxies is the pool proxies are drawn from for new sessions.
	// Entries are "host:port" (HTTP) or full URLs with http, https or
	// socks5 schemes. No proxy is used when empty.
	Proxies []string

	// Timeout is the timeout of a single HTTP request.
	Timeout time.Duration

	// MaxAttempts caps the attempts of one logical request.
	MaxAttempts int

	// RequestSleep is the upper bound of the random wait before a request.
	RequestSleep time.Duration

	// ReinitSleep is the wait before an exhausted proxy pool is refilled.
	ReinitSleep time.Duration

	// ProxyEvictProbability is the chance a blocked proxy leaves the pool.
	ProxyEvictProbability float64

	// UseTor starts an embedded Tor daemon and adds it to the proxy pool.
	UseTor bool

	// TorStartupTimeout bounds the embedded Tor bootstrap.
	TorStartupTimeout time.Duration

	// PageSize is the number of listings on a full page.
	PageSize int

	// MaxPages is the page ceiling of a box search.
	MaxPages int

	// Enlarge is the overlap fraction of child boxes.
	Enlarge float64

	// Workers is the number of concurrent box searches.
	Workers int

	// MaxDepth is the deepest quadtree level searched.
	MaxDepth int

	// StallThreshold is the number of consecutive failed boxes that stalls a crawl.
	StallThreshold int

	// CountCap is the capped value of the remote expected count.
	CountCap int

	// MaxCorrectionDepth bounds the expected-count correction.
	MaxCorrectionDepth int

	// RoomTypes, when set, runs one independent crawl per room type.
	RoomTypes []string

	// BatchSize is the number of surveys run concurrently.
	BatchSize int

	// DBDriver is "sqlite" or "postgres".
	DBDriver string

	// DBDSN is the postgres connection string, or an explicit sqlite file path.
	DBDSN string

	// DBDir is the directory of the sqlite database file.
	// Defaults to the XDG data directory (~/.local/share/kanpora on Linux).
	DBDir string

	// Verbose enables debug logging.
	Verbose bool

	// LogFormat is "text", "color" or "json".
	LogFormat string

	// LogFile, when set, also writes logs to a rotating file.
	LogFile string

	// MetricsAddr, when set, serves prometheus metrics on this address.
	MetricsAddr string

	// ConfigFilePath is the path of the YAML configuration file.
	ConfigFilePath string
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		SearchURL:             DefaultSearchURL,
		Locale:                DefaultLocale,
		Currency:              DefaultCurrency,
		Timeout:               DefaultTimeout,
		MaxAttempts:           DefaultMaxAttempts,
		RequestSleep:          DefaultRequestSleep,
		ReinitSleep:           DefaultReinitSleep,
		ProxyEvictProbability: DefaultProxyEvictProbability,
		TorStartupTimeout:     DefaultTorStartupTimeout,
		PageSize:              DefaultPageSize,
		MaxPages:              DefaultMaxPages,
		Enlarge:               DefaultEnlarge,
		Workers:               DefaultWorkers,
		MaxDepth:              DefaultMaxDepth,
		StallThreshold:        DefaultStallThreshold,
		CountCap:              DefaultCountCap,
		MaxCorrectionDepth:    DefaultMaxCorrectionDepth,
		BatchSize:             DefaultBatchSize,
		DBDriver:              DefaultDBDriver,
		DBDir:                 XDGDataDir(),
		LogFormat:             DefaultLogFormat,
	}
}

// SaturationThreshold returns the number of listings at which a box is
// considered saturated.
func (c *Config) SaturationThreshold() int {
	return c.PageSize * c.MaxPages
}

// XDGDataDir returns the XDG data directory for kanpora.
// On Linux: ~/.local/share/kanpora
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for kanpora.
// On Linux: ~/.config/kanpora
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGCacheDir returns the XDG cache directory for kanpora.
// Log files are written here by default.
// On Linux: ~/.cache/kanpora
func XDGCacheDir() string {
	return filepath.Join(xdg.CacheHome, AppName)
}

// Validate checks if the configuration is valid.
// It returns the first problem found as one of the sentinel errors.
func (c *Config) Validate() error {
	u, err := url.Parse(c.SearchURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidSearchURL
	}

	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}

	if c.RequestSleep < 0 || c.ReinitSleep < 0 {
		return ErrInvalidSleep
	}

	if c.ProxyEvictProbability < 0 || c.ProxyEvictProbability > 1 {
		return ErrInvalidEvictProbability
	}

	if c.PageSize <= 0 {
		return ErrInvalidPageSize
	}

	if c.MaxPages <= 0 {
		return ErrInvalidMaxPages
	}

	// an overlap of half the span or more would make siblings cover each other
	if c.Enlarge < 0 || c.Enlarge >= 0.5 {
		return ErrInvalidEnlarge
	}

	if c.Workers <= 0 {
		return ErrInvalidWorkers
	}

	if c.MaxDepth < 0 {
		return ErrInvalidMaxDepth
	}

	if c.StallThreshold <= 0 {
		return ErrInvalidStallThreshold
	}

	if c.CountCap <= 0 || c.MaxCorrectionDepth < 0 {
		return ErrInvalidCountCorrection
	}

	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}

	switch c.DBDriver {
	case DriverSQLite:
	case DriverPostgres:
		if c.DBDSN == "" {
			return ErrMissingDSN
		}
	default:
		return ErrUnknownDBDriver
	}

	if !slices.Contains([]string{LogFormatText, LogFormatColor, LogFormatJSON}, c.LogFormat) {
		return ErrInvalidLogFormat
	}

	return nil
}
