// Package config loads the twinflow service configuration.
//
// A configuration starts from Default, is overlaid by one or more JSON or YAML
// files (format chosen by extension), then by TWINFLOW_* environment variables,
// and is finally validated:
//
//	cfg, err := config.Load("/etc/twinflow/twinflow.yaml")
//
// or, with several layers:
//
//	loader := config.NewLoader()
//	loader.AddLayer("base.json")
//	loader.AddLayer("production.yaml") // overrides base
//	loader.EnableValidation(true)
//	cfg, err := loader.Load()
//
// Environment overrides:
//
//	TWINFLOW_NATS_URL        nats.url
//	TWINFLOW_NATS_TOKEN      nats.token
//	TWINFLOW_HTTP_ADDR       http.addr
//	TWINFLOW_LANES           dispatch.lanes
//	TWINFLOW_QUEUE_CAPACITY  dispatch.queue_capacity
//
// Durations are written as strings ("250ms", "5s"). Validation failures wrap
// errors.ErrInvalidConfig and are classified invalid.
//
// The config package only feeds constructors; every primitive still takes its
// own explicit parameters.
package config
