package samples

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sample_docs")
	paths, err := Write(dir)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "auto_policy.txt"), filepath.Join(dir, "health_policy.txt")}, paths)

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "AUTO INSURANCE POLICY")
	assert.Contains(t, string(data), "Deductible: $500")

	data, err = os.ReadFile(paths[1])
	require.NoError(t, err)
	assert.Contains(t, string(data), "HEALTH INSURANCE POLICY")
	assert.Contains(t, string(data), "Emergency room: $200 copay")
}
