// CLAUDE:SUMMARY Sentinel errors for the seeder service: invalid config, invalid sources, unhealthy store, unknown source.
package seeder

import "errors"

// ErrInvalidConfig is returned when configuration values are unusable.
var ErrInvalidConfig = errors.New("seeder: invalid configuration")

// ErrInvalidSources is returned when source files contain rejected entries.
var ErrInvalidSources = errors.New("seeder: invalid sources")

// ErrUnhealthy is returned when the knowledge store is unreachable or unhealthy.
var ErrUnhealthy = errors.New("seeder: knowledge store unhealthy")

// ErrUnknownSource is returned when a source id has no state row.
var ErrUnknownSource = errors.New("seeder: unknown source")
