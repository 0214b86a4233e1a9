// Package internal holds small helpers shared by the securekit root package
// that must not become part of the public API surface.
package internal
