package orchestrator

import (
	"fmt"

	"github.com/forksnd/convey/internal/application/graph"
	"github.com/forksnd/convey/internal/domain"
	"github.com/forksnd/convey/internal/pipeline"
	"github.com/forksnd/convey/internal/ports"
)

// Validator validates pipeline declarations and trigger requests before a
// run is allowed to start.
type Validator struct {
	backends ports.BackendRegistry
}

// NewValidator creates a new validator over the known backends.
func NewValidator(backends ports.BackendRegistry) *Validator {
	return &Validator{backends: backends}
}

// Validate checks a declaration end to end and resolves its stage graph.
// Structural problems surface as *domain.ConfigError; graph problems as
// *domain.CycleError or *domain.UnknownDependencyError.
func (v *Validator) Validate(decl *pipeline.Declaration) (*graph.Graph, error) {
	if decl == nil {
		return nil, &domain.ConfigError{Reason: "declaration is nil"}
	}
	if err := decl.CheckStructure(); err != nil {
		return nil, err
	}

	for _, stage := range decl.Stages {
		if _, ok := v.backends.Backend(stage.Backend); !ok {
			return nil, &domain.ConfigError{
				Pipeline: decl.Name,
				Reason:   fmt.Sprintf("stage %s uses unknown backend %q", stage.Name, stage.Backend),
			}
		}
	}

	return graph.New(decl.Needs())
}

// ValidateTrigger applies the declaration's release policy, if any, to the
// trigger parameters. Policy failures surface as *domain.ValidationError
// wrapping the policy error, so both layers stay checkable.
func (v *Validator) ValidateTrigger(decl *pipeline.Declaration, params map[string]domain.ParamValue) error {
	if decl.Release == nil {
		return nil
	}

	proposed, ok := stringParam(params, "version")
	if !ok {
		return &domain.ValidationError{Reason: "release pipeline requires a 'version' trigger parameter"}
	}

	proposedAPI := decl.Release.LatestAPI
	if decl.Release.TrackAPI {
		n, ok := intParam(params, "api_version")
		if !ok {
			return &domain.ValidationError{Reason: "release pipeline requires an 'api_version' trigger parameter"}
		}
		proposedAPI = n
	}

	if err := decl.Release.Validate(proposed, proposedAPI); err != nil {
		return &domain.ValidationError{Reason: "release policy rejected trigger", Err: err}
	}
	return nil
}

func stringParam(params map[string]domain.ParamValue, key string) (string, bool) {
	raw, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}

func intParam(params map[string]domain.ParamValue, key string) (int, bool) {
	switch n := params[key].(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		// JSON numbers decode as float64.
		return int(n), true
	default:
		return 0, false
	}
}
