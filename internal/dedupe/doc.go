// Package dedupe tracks recently seen keys in a bounded window so callers
// can reject ids that collide with ones already accepted.
//
// The window is bounded by size and, optionally, by age. A zero TTL keeps
// keys until they are pushed out by newer ones.
package dedupe
