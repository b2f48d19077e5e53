// Package graph implements the stage-dependency graph engine.
//
// A declaration is resolved into a validated DAG at submission time:
//   - cycles and references to undeclared stages are rejected up front
//   - Order gives a deterministic topological execution order
//   - NextReady drives scheduling: stages whose dependencies have all
//     succeeded and which have not started yet
package graph
