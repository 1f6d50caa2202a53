// Package logging configures log/slog for the logger process.
//
// Every entry carries service=graylogger and the build version. Components
// get child loggers through Component, so entries from the executor, the
// API and the broker client can be told apart. Attributes whose key
// mentions a password, token, secret or authorization are masked.
//
//	logging:
//	  level: info      # debug, info, warn, error
//	  format: json     # json, text
//	  output: stdout   # stdout, stderr, file
//	  file:
//	    path: ./logs/graylogger.log
//
//	log := logging.New(cfg.Logging, version)
//	defer log.Close()
//	log.Component("engine").Info("cycle completed", "cycle", 12)
package logging
