// Package pipeline defines YAML pipeline declarations and the registry that
// holds them.
//
// A declaration names the stages, their dependencies, the backend that runs
// each stage, and an optional release policy block.
package pipeline
