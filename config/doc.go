// Package config loads gcslink configuration.
//
// Loading starts from built-in defaults, merges each YAML layer in order,
// applies GCSLINK_* environment overrides and validates the result:
//
//	loader := config.NewLoader()
//	loader.AddLayer("gcslink.yaml")
//	loader.AddLayer("site.yaml") // overrides gcslink.yaml
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Every layer is checked against an embedded JSON schema before it is merged,
// so a mistyped key or a string where a number belongs is reported with the
// file it came from. Durations are written as Go duration strings ("10ms").
//
// Environment variables use the section as a second prefix, for example
// GCSLINK_TRANSPORT_BAUD_RATE=57600 or GCSLINK_REPLAY_SPEED=2.
package config
