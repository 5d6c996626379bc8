package snpeff

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestArchive(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dist.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestUnzip(t *testing.T) {
	archive := writeTestArchive(t, map[string]string{
		"snpEff/snpEff.jar":        "jar bytes",
		"snpEff/snpEff.config":     "config",
		"snpEff/scripts/helper.sh": "#!/bin/sh\n",
	})

	dest := t.TempDir()
	require.NoError(t, unzip(archive, dest))

	jar, err := os.ReadFile(filepath.Join(dest, "snpEff", "snpEff.jar"))
	require.NoError(t, err)
	assert.Equal(t, "jar bytes", string(jar))

	info, err := os.Stat(filepath.Join(dest, "snpEff", "scripts", "helper.sh"))
	require.NoError(t, err)
	assert.False(t, info.IsDir())
}

func TestUnzipRejectsEscapingEntries(t *testing.T) {
	archive := writeTestArchive(t, map[string]string{
		"../evil.txt": "nope",
	})
	err := unzip(archive, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes the workspace")
}
