package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateVersionBump(t *testing.T) {
	cases := []struct {
		latest   string
		proposed string
		bump     Bump
		ok       bool
	}{
		{"1.4.2", "1.4.3", BumpPatch, true},
		{"1.4.2", "1.5.0", BumpMinor, true},
		{"1.4.2", "1.4.4", "", false},
		{"1.4.2", "1.5.1", "", false},
		{"1.4.2", "1.4.2", "", false},
		{"1.4.2", "1.4.1", "", false},
		{"1.4.2", "1.3.9", "", false},
		{"1.4.2", "2.0.0", "", false},
		{"1.4.2", "0.4.3", "", false},
		{"0.9.9", "0.10.0", BumpMinor, true},
		{"0.9.9", "0.9.10", BumpPatch, true},
	}

	for _, tc := range cases {
		t.Run(tc.latest+"->"+tc.proposed, func(t *testing.T) {
			bump, err := ValidateVersionBump(tc.latest, tc.proposed)
			if tc.ok {
				require.NoError(t, err)
				assert.Equal(t, tc.bump, bump)
				return
			}
			require.Error(t, err)
			var invalid *InvalidVersionBump
			require.ErrorAs(t, err, &invalid)
		})
	}
}

func TestValidateVersionBumpParseErrors(t *testing.T) {
	_, err := ValidateVersionBump("not-a-version", "1.0.0")
	require.Error(t, err)

	_, err = ValidateVersionBump("1.0.0", "also not a version")
	require.Error(t, err)
}

func TestValidateAPIVersion(t *testing.T) {
	t.Run("increase on patch-only bump is rejected", func(t *testing.T) {
		err := ValidateAPIVersion(3, 4, BumpPatch)
		require.Error(t, err)
		var apiErr *IncompatibleApiBump
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 3, apiErr.From)
		assert.Equal(t, 4, apiErr.To)
	})

	t.Run("increase on minor bump is accepted", func(t *testing.T) {
		assert.NoError(t, ValidateAPIVersion(3, 4, BumpMinor))
	})

	t.Run("unchanged api is always fine", func(t *testing.T) {
		assert.NoError(t, ValidateAPIVersion(3, 3, BumpPatch))
		assert.NoError(t, ValidateAPIVersion(3, 3, BumpMinor))
	})

	t.Run("decrease is rejected regardless of bump", func(t *testing.T) {
		var apiErr *IncompatibleApiBump
		require.ErrorAs(t, ValidateAPIVersion(4, 3, BumpMinor), &apiErr)
		require.ErrorAs(t, ValidateAPIVersion(4, 3, BumpPatch), &apiErr)
	})
}

func TestReleasePolicyValidate(t *testing.T) {
	p := &ReleasePolicy{LatestVersion: "1.4.2", LatestAPI: 3, TrackAPI: true}

	// API bump 3->4 needs a minor release.
	var apiErr *IncompatibleApiBump
	require.ErrorAs(t, p.Validate("1.4.3", 4), &apiErr)
	assert.NoError(t, p.Validate("1.5.0", 4))

	// Without API tracking only the version bump matters.
	loose := &ReleasePolicy{LatestVersion: "1.4.2"}
	assert.NoError(t, loose.Validate("1.4.3", 99))

	var invalid *InvalidVersionBump
	require.ErrorAs(t, loose.Validate("1.6.0", 0), &invalid)
}
