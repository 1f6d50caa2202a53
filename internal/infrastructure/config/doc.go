// Package config handles loading and validating Gray Logic Logger configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (GRAYLOGGER_*)
//   - Validation of sources, outputs and scheduler settings
//   - Default value handling
//
// The engine.rename and engine.conversion trees are kept untyped here; the
// engine package parses and validates them against the bound sources and
// outputs.
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token) should be set via
//     environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Scheduler.Interval)
package config
