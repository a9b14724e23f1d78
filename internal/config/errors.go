package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() so that callers can use
// errors.Is() while users still get a readable message.
var (
	// ErrInvalidSearchURL is returned when the search URL is not an absolute http(s) URL.
	ErrInvalidSearchURL = errors.New("invalid search url: must be an absolute http or https url")

	// ErrInvalidTimeout is returned when the request timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidMaxAttempts is returned when the attempt ceiling is not positive.
	ErrInvalidMaxAttempts = errors.New("invalid max attempts: must be positive")

	// ErrInvalidSleep is returned when a request or re-init sleep is negative.
	ErrInvalidSleep = errors.New("invalid sleep duration: must be non-negative")

	// ErrInvalidEvictProbability is returned when the proxy eviction probability is outside [0, 1].
	ErrInvalidEvictProbability = errors.New("invalid proxy evict probability: must be between 0 and 1")

	// ErrInvalidPageSize is returned when the full page size is not positive.
	ErrInvalidPageSize = errors.New("invalid page size: must be positive")

	// ErrInvalidMaxPages is returned when the page ceiling is not positive.
	ErrInvalidMaxPages = errors.New("invalid max pages: must be positive")

	// ErrInvalidEnlarge is returned when the overlap fraction is outside [0, 0.5).
	ErrInvalidEnlarge = errors.New("invalid enlarge fraction: must be in [0, 0.5)")

	// ErrInvalidWorkers is returned when the worker count is not positive.
	ErrInvalidWorkers = errors.New("invalid workers: must be positive")

	// ErrInvalidMaxDepth is returned when the maximum depth is negative.
	ErrInvalidMaxDepth = errors.New("invalid max depth: must be non-negative")

	// ErrInvalidStallThreshold is returned when the stall threshold is not positive.
	ErrInvalidStallThreshold = errors.New("invalid stall threshold: must be positive")

	// ErrInvalidCountCorrection is returned when the count cap or correction depth is invalid.
	ErrInvalidCountCorrection = errors.New("invalid count correction: cap must be positive and depth non-negative")

	// ErrInvalidBatchSize is returned when the survey batch size is not positive.
	ErrInvalidBatchSize = errors.New("invalid batch size: must be positive")

	// ErrUnknownDBDriver is returned for a storage driver other than sqlite or postgres.
	ErrUnknownDBDriver = errors.New("unknown database driver: use sqlite or postgres")

	// ErrMissingDSN is returned when the postgres driver is selected without a DSN.
	ErrMissingDSN = errors.New("missing database dsn: required for postgres")

	// ErrInvalidLogFormat is returned for a log format other than text, color or json.
	ErrInvalidLogFormat = errors.New("invalid log format: use text, color or json")
)
