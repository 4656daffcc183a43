package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bioscout/internal/domain"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "store:\n  type: sqlite\n  sqlite:\n    data_dir: " + filepath.Join(dir, "data") + "\n" +
		"index:\n  type: memory\nsynthesizer:\n  seed: 7\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestCLI_SeedAskHistory(t *testing.T) {
	cfgFile := writeConfig(t)

	out, err := execute(t, "--config", cfgFile, "seed")
	require.NoError(t, err, out)
	assert.Contains(t, out, "seeded species=5 observations=2 knowledge=2")

	out, err = execute(t, "--config", cfgFile, "ask", "--user", "u-cli", "Where", "do", "leopards", "live?")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Species: Panthera pardus")

	out, err = execute(t, "--config", cfgFile, "history", "u-cli")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Q: Where do leopards live?")

	out, err = execute(t, "--config", cfgFile, "match", "common", "leopard")
	require.NoError(t, err, out)
	assert.Contains(t, out, `"species_id": "sp-common-leopard"`)

	out, err = execute(t, "--config", cfgFile, "identify", "macaque=0.4", "Rhesus Macaque=0.9")
	require.NoError(t, err, out)
	assert.Contains(t, out, `"label": "Rhesus Macaque"`)

	_, err = execute(t, "--config", cfgFile, "identify", "nonsense")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestParseSourceRef(t *testing.T) {
	ref, err := parseSourceRef("species:sp-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceRef{Type: domain.SourceSpecies, ID: "sp-1"}, ref)

	for _, bad := range []string{"species", "species:", "plant:x"} {
		_, err := parseSourceRef(bad)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, bad)
	}
}
