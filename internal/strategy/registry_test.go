package strategy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const registryYAML = `
strategies:
  - name: rsi_reversal
    entry: "RSI < 30"
    exit: "RSI > 70"
`

const registryYAMLv2 = `
strategies:
  - name: rsi_reversal
    entry: "RSI < 25"
    exit: "RSI > 75"
  - name: macd_trend
    entry: "MACD.cross_up"
    exit: "MACD.cross_down"
`

func writeStrategies(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRegistry_InitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	writeStrategies(t, path, registryYAML)

	reg, err := NewRegistry(path)
	require.NoError(t, err)
	defer reg.Close()

	snap := reg.Snapshot()
	assert.Equal(t, int64(1), snap.Version)
	require.Len(t, snap.Definitions, 1)
	assert.Equal(t, "rsi_reversal", snap.Definitions[0].Name)
}

func TestRegistry_RejectsBadFileOnStartup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	writeStrategies(t, path, "strategies: []\n")

	_, err := NewRegistry(path)
	require.Error(t, err)

	_, err = NewRegistry("")
	require.Error(t, err)
}

func TestRegistry_ReloadOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	writeStrategies(t, path, registryYAML)

	reg, err := NewRegistry(path)
	require.NoError(t, err)
	defer reg.Close()

	changed := make(chan Snapshot, 1)
	reg.OnChange(func(s Snapshot) {
		select {
		case changed <- s:
		default:
		}
	})

	writeStrategies(t, path, registryYAMLv2)

	select {
	case snap := <-changed:
		assert.Equal(t, int64(2), snap.Version)
		assert.Len(t, snap.Definitions, 2)
	case <-time.After(3 * time.Second):
		t.Fatal("reload did not fire")
	}
}

func TestRegistry_FailedReloadKeepsPreviousSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	writeStrategies(t, path, registryYAML)

	reg, err := NewRegistry(path)
	require.NoError(t, err)
	defer reg.Close()

	writeStrategies(t, path, "strategies: [broken\n")

	// Give the debounce a moment to process the bad write.
	time.Sleep(600 * time.Millisecond)

	snap := reg.Snapshot()
	assert.Equal(t, int64(1), snap.Version)
	require.Len(t, snap.Definitions, 1)
	assert.Equal(t, "rsi_reversal", snap.Definitions[0].Name)
}
