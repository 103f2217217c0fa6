package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatchFileSignalsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/doc.json"
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	changed, stop, err := WatchFile(path)
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte(`{"margo":{}}`), 0o644))

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change notification")
	}
}

func TestWatchFileMissingPathFails(t *testing.T) {
	_, _, err := WatchFile("/nonexistent/path/doc.json")
	require.Error(t, err)
}
