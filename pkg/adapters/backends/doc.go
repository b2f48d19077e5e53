// Package backends provides adapters for the external CI systems that
// actually execute stage work, reduced to the trigger/poll/cancel capability.
//
// Implementations:
//   - containerbuild: container image build service
//   - testgrid: remote test pipeline service
package backends
