package config

import "time"

// File represents the structure of the kanpora.yaml configuration file.
// Zero values mean "not set" and leave the current configuration untouched.
type File struct {
	Network NetworkSection `yaml:"network,omitempty"`
	API     APISection     `yaml:"api,omitempty"`
	Crawl   CrawlSection   `yaml:"crawl,omitempty"`
	Storage StorageSection `yaml:"storage,omitempty"`
	Log     LogSection     `yaml:"log,omitempty"`

	// MetricsAddr serves prometheus metrics when set, e.g. "127.0.0.1:9101".
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// NetworkSection configures the request client.
type NetworkSection struct {
	ProxyList             []string      `yaml:"proxy_list,omitempty"`
	UserAgentList         []string      `yaml:"user_agent_list,omitempty"`
	MaxAttempts           int           `yaml:"max_attempts,omitempty"`
	RequestSleep          time.Duration `yaml:"request_sleep,omitempty"`
	HTTPTimeout           time.Duration `yaml:"http_timeout,omitempty"`
	ReinitSleep           time.Duration `yaml:"reinit_sleep,omitempty"`
	ProxyEvictProbability *float64      `yaml:"proxy_evict_probability,omitempty"`
	Tor                   bool          `yaml:"tor,omitempty"`
}

// APISection configures the remote search endpoint.
type APISection struct {
	SearchURL       string `yaml:"search_url,omitempty"`
	APIKey          string `yaml:"api_key,omitempty"`
	ClientSessionID string `yaml:"client_session_id,omitempty"`
	Locale          string `yaml:"locale,omitempty"`
	Currency        string `yaml:"currency,omitempty"`
}

// CrawlSection configures the quadtree crawl.
type CrawlSection struct {
	PageSize           int      `yaml:"page_size,omitempty"`
	MaxPages           int      `yaml:"max_pages,omitempty"`
	Enlarge            float64  `yaml:"enlarge,omitempty"`
	Workers            int      `yaml:"workers,omitempty"`
	MaxDepth           int      `yaml:"max_depth,omitempty"`
	StallThreshold     int      `yaml:"stall_threshold,omitempty"`
	CountCap           int      `yaml:"count_cap,omitempty"`
	MaxCorrectionDepth int      `yaml:"max_correction_depth,omitempty"`
	RoomTypes          []string `yaml:"room_types,omitempty"`
	BatchSize          int      `yaml:"batch_size,omitempty"`
}

// StorageSection configures the database.
type StorageSection struct {
	Driver string `yaml:"driver,omitempty"`
	DSN    string `yaml:"dsn,omitempty"`
	Dir    string `yaml:"dir,omitempty"`
}

// LogSection configures logging.
type LogSection struct {
	Format string `yaml:"format,omitempty"`
	File   string `yaml:"file,omitempty"`
}

// Apply overlays the values set in the file onto cfg.
func (f *File) Apply(cfg *Config) {
	setStrings(&cfg.Proxies, f.Network.ProxyList)
	setStrings(&cfg.UserAgents, f.Network.UserAgentList)
	setInt(&cfg.MaxAttempts, f.Network.MaxAttempts)
	setDuration(&cfg.RequestSleep, f.Network.RequestSleep)
	setDuration(&cfg.Timeout, f.Network.HTTPTimeout)
	setDuration(&cfg.ReinitSleep, f.Network.ReinitSleep)
	if f.Network.ProxyEvictProbability != nil {
		cfg.ProxyEvictProbability = *f.Network.ProxyEvictProbability
	}
	if f.Network.Tor {
		cfg.UseTor = true
	}

	setString(&cfg.SearchURL, f.API.SearchURL)
	setString(&cfg.APIKey, f.API.APIKey)
	setString(&cfg.ClientSessionID, f.API.ClientSessionID)
	setString(&cfg.Locale, f.API.Locale)
	setString(&cfg.Currency, f.API.Currency)

	setInt(&cfg.PageSize, f.Crawl.PageSize)
	setInt(&cfg.MaxPages, f.Crawl.MaxPages)
	if f.Crawl.Enlarge != 0 {
		cfg.Enlarge = f.Crawl.Enlarge
	}
	setInt(&cfg.Workers, f.Crawl.Workers)
	setInt(&cfg.MaxDepth, f.Crawl.MaxDepth)
	setInt(&cfg.StallThreshold, f.Crawl.StallThreshold)
	setInt(&cfg.CountCap, f.Crawl.CountCap)
	setInt(&cfg.MaxCorrectionDepth, f.Crawl.MaxCorrectionDepth)
	setStrings(&cfg.RoomTypes, f.Crawl.RoomTypes)
	setInt(&cfg.BatchSize, f.Crawl.BatchSize)

	setString(&cfg.DBDriver, f.Storage.Driver)
	setString(&cfg.DBDSN, f.Storage.DSN)
	setString(&cfg.DBDir, f.Storage.Dir)

	setString(&cfg.LogFormat, f.Log.Format)
	setString(&cfg.LogFile, f.Log.File)

	setString(&cfg.MetricsAddr, f.MetricsAddr)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

func setStrings(dst *[]string, v []string) {
	if len(v) > 0 {
		*dst = append([]string(nil), v...)
	}
}
