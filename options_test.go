package abfall

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultProfileIsValid(t *testing.T) {
	opts := DefaultProfile()
	assert.NoError(t, opts.validate())
}

func TestOffProfileNeverCollectsOnThreshold(t *testing.T) {
	opts := OffProfile()
	assert.Zero(t, opts.CollectionInterval)
	assert.Equal(t, ^uint64(0), opts.MinThresholdBytes)
}

func TestValidateRejectsBadShrinkPercent(t *testing.T) {
	opts := DefaultProfile()
	opts.ThresholdShrinkPercent = 150
	err := opts.validate()
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestValidateRejectsNegativeBudgets(t *testing.T) {
	opts := DefaultProfile()
	opts.AssistWorkBudget = -1
	assert.Error(t, opts.validate())
}

func TestWithDefaultsFillsZeroValue(t *testing.T) {
	var opts Options
	filled := opts.withDefaults()
	assert.NotZero(t, filled.IncrementalWorkBudget)
	assert.NotZero(t, filled.ThresholdPercent)
	assert.NotZero(t, filled.MinThresholdBytes)
}

func TestProfileFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "abfall.toml")
	contents := `
collection_interval = "50ms"
incremental_work_budget = 16
threshold_percent = 50
min_threshold_bytes = 2048
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	opts, err := ProfileFromTOML(path)
	require.NoError(t, err)
	assert.Equal(t, 16, opts.IncrementalWorkBudget)
	assert.Equal(t, 50, opts.ThresholdPercent)
	assert.EqualValues(t, 2048, opts.MinThresholdBytes)
}

func TestProfileFromTOMLMissingFile(t *testing.T) {
	_, err := ProfileFromTOML(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
