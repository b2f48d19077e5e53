// Package policy implements release version and API compatibility checks
// that gate a release pipeline before any stage runs.
package policy
