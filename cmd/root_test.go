package cmd

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/nostrc/negsync/config"
	"github.com/nostrc/negsync/node"
	"github.com/nostrc/negsync/relay/relaytest"
)

func execute(t *testing.T, fs afero.Fs, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd(fs)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	Version, Commit, Branch = "v1.2.3", "abcdef", "main"
	t.Cleanup(func() { Version, Commit, Branch = "", "", "" })
	out, err := execute(t, afero.NewMemMapFs(), "version")
	require.NoError(t, err)
	require.Equal(t, "v1.2.3+abcdef (main)\n", out)
}

func TestConfigDump(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "negsync.yaml")
	_, err := execute(t, afero.NewOsFs(), "config", "dump", path,
		"--data-dir", dir,
		"--batch-size", "7",
		"--max-interval", "20m",
		"--relay", "wss://relay.example",
		"--kinds", "0,1",
	)
	require.NoError(t, err)

	cfg, err := config.Load(afero.NewOsFs(), path, nil)
	require.NoError(t, err)
	require.Equal(t, dir, cfg.DataDir)
	require.Equal(t, 7, cfg.Sync.BatchSize)
	require.Equal(t, 20*time.Minute, cfg.Scheduler.MaxInterval)
	require.Len(t, cfg.Sync.Targets, 1)
	require.Equal(t, "wss://relay.example", cfg.Sync.Targets[0].Relay)
	require.Equal(t, []int{0, 1}, cfg.Sync.Targets[0].Kinds)
}

func TestConfigDumpStdout(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/negsync.yaml", []byte("preset: fast\n"), 0o600))
	out, err := execute(t, fs, "config", "dump", "-c", "/negsync.yaml")
	require.NoError(t, err)
	require.Contains(t, out, "preset: fast")
	require.Contains(t, out, "batch-size:")
}

func TestConfigInvalid(t *testing.T) {
	_, err := execute(t, afero.NewMemMapFs(), "config", "dump", "--relay", "http://relay.example")
	require.ErrorContains(t, err, "not a websocket url")
}

func TestRunNoRelays(t *testing.T) {
	_, err := execute(t, afero.NewMemMapFs(), "run", "--data-dir", t.TempDir())
	require.ErrorContains(t, err, "no relays configured")
}

func TestSync(t *testing.T) {
	r := relaytest.New(t)
	r.Add(t, relaytest.MakeEvents(1, 5)...)
	dir := t.TempDir()
	out, err := execute(t, afero.NewOsFs(), "sync",
		"--data-dir", dir,
		"--relay", r.URL(),
		"--log-level", "error",
	)
	require.NoError(t, err)

	var results []node.Result
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	require.EqualValues(t, 5, results[0].Stats.EventsFetched)

	out, err = execute(t, afero.NewOsFs(), "sync",
		"--data-dir", dir,
		"--relay", r.URL(),
		"--log-level", "error",
	)
	require.NoError(t, err)
	results = nil
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.True(t, results[0].Stats.InSync)
	require.EqualValues(t, 5, results[0].Stats.LocalCount)
}
