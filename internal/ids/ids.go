// Package ids centralizes identifier generation for nodes, edges, and
// embedding records. The teacher generates IDs on the TypeScript side and
// passes them in; NodeSpace's core now owns ID generation, so it adopts the
// UUID library the rest of the retrieved corpus uses for this (cuemby-warren).
package ids

import "github.com/google/uuid"

// New returns a fresh random (v4) identifier as a string.
func New() string {
	return uuid.NewString()
}
