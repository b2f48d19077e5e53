package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/forksnd/convey/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const releaseDecl = `
name: release
stages:
  - name: build-wheel
    backend: container-build
    params:
      image: builder:latest
  - name: smoke-test
    backend: test-pipeline
    needs: [build-wheel]
    target_env: staging
  - name: publish
    backend: container-build
    needs: [smoke-test]
    detach: true
release:
  latest_version: "1.4.2"
  latest_api: 3
  track_api: true
`

func TestParse(t *testing.T) {
	decl, err := Parse([]byte(releaseDecl))
	require.NoError(t, err)

	assert.Equal(t, "release", decl.Name)
	require.Len(t, decl.Stages, 3)

	smoke, ok := decl.Stage("smoke-test")
	require.True(t, ok)
	assert.Equal(t, []string{"build-wheel"}, smoke.Needs)
	assert.Equal(t, "test-pipeline", smoke.Backend)
	assert.Equal(t, "staging", smoke.TargetEnv)

	publish, ok := decl.Stage("publish")
	require.True(t, ok)
	assert.True(t, publish.Detach)

	require.NotNil(t, decl.Release)
	assert.Equal(t, "1.4.2", decl.Release.LatestVersion)
	assert.Equal(t, 3, decl.Release.LatestAPI)

	assert.Equal(t, map[string][]string{
		"build-wheel": nil,
		"smoke-test":  {"build-wheel"},
		"publish":     {"smoke-test"},
	}, decl.Needs())
}

func TestParseRejectsMalformedDeclarations(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"not yaml", "{{{"},
		{"missing name", "stages:\n  - name: build\n    backend: container-build\n"},
		{"no stages", "name: empty\n"},
		{"stage without backend", "name: p\nstages:\n  - name: build\n"},
		{"duplicate stage", "name: p\nstages:\n  - name: build\n    backend: b\n  - name: build\n    backend: b\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.in))
			require.Error(t, err)
			var cfgErr *domain.ConfigError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestRegistryLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "release.yaml"), []byte(releaseDecl), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	reg := NewRegistry()
	loaded, err := reg.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)

	_, ok := reg.Get("release")
	assert.True(t, ok)
	assert.Equal(t, []string{"release"}, reg.List())
}

func TestRegistryRejectsInvalid(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(&Declaration{Name: ""})
	require.Error(t, err)
	var cfgErr *domain.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}
