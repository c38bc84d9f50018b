package mode

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const classicYAML = `
id: classic
name: "Classic"
description: "First to eleven."
win_score: 11
players: 2
`

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "classic.yaml")
	require.NoError(t, os.WriteFile(path, []byte(classicYAML), 0644))

	m, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "classic", m.ID)
	assert.Equal(t, 11, m.WinScore)
	assert.Equal(t, 2, m.Players)
}

func TestLoadFromFileInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("id: broken\nname: Broken\nwin_score: 0\nplayers: 2\n"), 0644))

	_, err := LoadFromFile(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "win_score")
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "classic.yaml"), []byte(classicYAML), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blitz.yaml"), []byte(`
id: blitz
name: "Blitz"
win_score: 5
players: 2
`), 0644))
	// Non-YAML files are skipped.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("notes"), 0644))

	reg, err := LoadDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Count())

	m, err := reg.Get("blitz")
	require.NoError(t, err)
	assert.Equal(t, 5, m.WinScore)
}

func TestLoadDirectoryEmpty(t *testing.T) {
	_, err := LoadDirectory(t.TempDir())
	assert.Error(t, err)
}

func TestRegistryDuplicateID(t *testing.T) {
	a := &Mode{ID: "dup", Name: "A", WinScore: 3, Players: 2}
	b := &Mode{ID: "dup", Name: "B", WinScore: 5, Players: 2}
	_, err := NewRegistry([]*Mode{a, b})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestRegistryGetNotFound(t *testing.T) {
	reg, err := NewRegistry([]*Mode{{ID: "classic", Name: "Classic", WinScore: 11, Players: 2}})
	require.NoError(t, err)

	_, err = reg.Get("missing")
	assert.ErrorIs(t, err, ErrModeNotFound)
}

func TestIsWin(t *testing.T) {
	m := &Mode{ID: "classic", Name: "Classic", WinScore: 11, Players: 2}
	assert.False(t, m.IsWin(10))
	assert.True(t, m.IsWin(11))
	assert.True(t, m.IsWin(12))
}
