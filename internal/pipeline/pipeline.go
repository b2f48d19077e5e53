package pipeline

import (
	"os"

	"github.com/forksnd/convey/internal/domain"
	"github.com/forksnd/convey/internal/policy"
	"gopkg.in/yaml.v3"
)

// Declaration describes a pipeline: its stages, their dependencies and
// backends, and an optional release policy gate.
type Declaration struct {
	Name   string      `yaml:"name" json:"name"`
	Stages []StageDecl `yaml:"stages" json:"stages"`

	// Release, when present, gates every trigger of this pipeline behind
	// the version/API policy check.
	Release *policy.ReleasePolicy `yaml:"release,omitempty" json:"release,omitempty"`
}

// StageDecl declares one stage.
type StageDecl struct {
	Name    string   `yaml:"name" json:"name"`
	Needs   []string `yaml:"needs,omitempty" json:"needs,omitempty"`
	Backend string   `yaml:"backend" json:"backend"`

	// Params are opaque job parameters forwarded to the backend.
	Params map[string]interface{} `yaml:"params,omitempty" json:"params,omitempty"`

	// TargetEnv names the environment the backend should run the job in.
	TargetEnv string `yaml:"target_env,omitempty" json:"target_env,omitempty"`

	// Detach marks a fire-and-forget stage: it succeeds as soon as the
	// backend accepts the job, without waiting for completion.
	Detach bool `yaml:"detach,omitempty" json:"detach,omitempty"`

	// Timeout overrides the global per-stage timeout, in seconds.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// Parse parses a YAML declaration and checks its basic structure.
func Parse(data []byte) (*Declaration, error) {
	var decl Declaration
	if err := yaml.Unmarshal(data, &decl); err != nil {
		return nil, &domain.ConfigError{Reason: err.Error()}
	}
	if err := decl.CheckStructure(); err != nil {
		return nil, err
	}
	return &decl, nil
}

// Load reads and parses a declaration file.
func Load(path string) (*Declaration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// CheckStructure validates everything that does not require graph
// resolution: names, duplicates, backend kinds present. Dependency cycles
// and unknown dependencies are caught when the stage graph is built.
func (d *Declaration) CheckStructure() error {
	if d.Name == "" {
		return &domain.ConfigError{Reason: "pipeline name is required"}
	}
	if len(d.Stages) == 0 {
		return &domain.ConfigError{Pipeline: d.Name, Reason: "pipeline must declare at least one stage"}
	}

	seen := make(map[string]bool, len(d.Stages))
	for _, stage := range d.Stages {
		if stage.Name == "" {
			return &domain.ConfigError{Pipeline: d.Name, Reason: "stage name is required"}
		}
		if seen[stage.Name] {
			return &domain.ConfigError{Pipeline: d.Name, Reason: "duplicate stage name: " + stage.Name}
		}
		seen[stage.Name] = true
		if stage.Backend == "" {
			return &domain.ConfigError{Pipeline: d.Name, Reason: "stage " + stage.Name + " has no backend"}
		}
	}
	return nil
}

// Needs returns the stage -> dependencies map used to build the graph.
func (d *Declaration) Needs() map[string][]string {
	needs := make(map[string][]string, len(d.Stages))
	for _, stage := range d.Stages {
		needs[stage.Name] = append([]string(nil), stage.Needs...)
	}
	return needs
}

// Stage returns the declaration of a named stage.
func (d *Declaration) Stage(name string) (StageDecl, bool) {
	for _, stage := range d.Stages {
		if stage.Name == name {
			return stage, true
		}
	}
	return StageDecl{}, false
}
