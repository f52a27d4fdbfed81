// Package evroam registers the EVRoam entity definitions with the entity
// registry. Import this package to ensure all entities are registered.
package evroam

// This file exists to provide a single import point.
// Each entity file uses init() to register its definition.
