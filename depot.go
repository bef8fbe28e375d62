// Package depot defines the domain model and service contracts of the depot
// platform: datasets, immutable dataset versions, the version status state
// machine, entries, and the durable action queue that coordinates background
// work between the orchestrator and the async workers.
//
// Concrete behavior lives in the subpackages: meta implements the metadata
// store, entries the entry store, queue the durable queue, coordinator the
// synchronous API-facing service, and worker the background loop.
package depot

import "regexp"

// webSafeName matches the names accepted for datasets, tables and entry
// keys. Kept deliberately small so names can travel in URLs and composite
// storage keys unescaped.
var webSafeName = regexp.MustCompile(`^[A-Za-z0-9._~-]+$`)

// ValidName reports whether s is a non-empty web-safe name.
func ValidName(s string) bool {
	return s != "" && webSafeName.MatchString(s)
}
