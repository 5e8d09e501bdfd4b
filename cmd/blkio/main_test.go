package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func diskImage(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func run(t *testing.T, args ...string) error {
	t.Helper()
	base := []string{"--backend", "pool", "--direct=false", "--log-format", "json"}
	rootCmd.SetArgs(append(base, args...))
	return rootCmd.ExecuteContext(context.Background())
}

func TestCommands(t *testing.T) {
	img := diskImage(t, 4<<20)

	tests := []struct {
		name string
		args []string
	}{
		{"info", []string{"info", img}},
		{"info dump", []string{"info", "--dump", img}},
		{"demo", []string{"demo", img}},
		{"verify", []string{"verify", "--rounds", "3", "--seed", "42", img}},
		{"stress", []string{"stress", "--ops", "200", "--depth", "8", "--max-blocks", "16", "--seed", "7", img}},
		{"stress sequential", []string{"stress", "--mode", "seq", "--ops", "100", img}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, run(t, tt.args...))
		})
	}
}

func TestBadFlags(t *testing.T) {
	img := diskImage(t, 1<<20)

	require.Error(t, run(t, "--backend", "floppy", "info", img))
	require.Error(t, run(t, "--log-format", "xml", "info", img))
	require.Error(t, run(t, "stress", "--mode", "zigzag", img))
	require.Error(t, run(t, "info", filepath.Join(t.TempDir(), "missing")))
}
