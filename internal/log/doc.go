// Package log builds the application's slog loggers.
//
// Every logger returned by this package wraps its handlers in a
// SecureHandler, which masks:
//   - API keys, session identifiers, cookies and database DSNs by key name
//   - credentials and key query parameters inside URLs, including URLs
//     embedded in error messages
//   - values that look like bearer tokens or long API keys
//
// Console output is plain text, colored text (tint) or JSON. An optional
// log file receives JSON records and is rotated by lumberjack.
//
// # Usage
//
//	logger, closer, err := log.New(log.Options{Verbose: true, File: path})
//	if err != nil {
//	    return err
//	}
//	defer closer.Close()
//	slog.SetDefault(logger)
package log
