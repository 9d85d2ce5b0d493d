package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftsim/internal/obs"
	"hftsim/internal/schema"
)

func TestGenerateWritesJSONLines(t *testing.T) {
	loaded, err := loadConfig("", 9)
	require.NoError(t, err)
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	metrics := obs.NewMetrics()
	n, err := generate(&buf, loaded, 5, time.Second, start, metrics)
	require.NoError(t, err)
	assert.Equal(t, 5*loaded.Registry.SymbolCount(), n)
	assert.Equal(t, uint64(5), metrics.Snapshot().Ticks)

	scanner := bufio.NewScanner(&buf)
	lines := 0
	for scanner.Scan() {
		var q schema.Quote
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &q))
		assert.True(t, q.Valid(), "invalid quote %+v", q)
		assert.True(t, q.Timestamp.After(start))
		lines++
	}
	assert.Equal(t, n, lines)
}

func TestGenerateIsSeeded(t *testing.T) {
	loaded, err := loadConfig("", 4)
	require.NoError(t, err)
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	var a, b bytes.Buffer
	_, err = generate(&a, loaded, 20, time.Second, start, nil)
	require.NoError(t, err)
	loaded, err = loadConfig("", 4)
	require.NoError(t, err)
	_, err = generate(&b, loaded, 20, time.Second, start, nil)
	require.NoError(t, err)
	assert.Equal(t, a.String(), b.String())
}

func TestRunMain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quotes.jsonl")
	require.NoError(t, runMain([]string{"-ticks", "3", "-seed", "2", "-out", path}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	loaded, err := loadConfig("", 2)
	require.NoError(t, err)
	assert.Equal(t, 3*loaded.Registry.SymbolCount(), bytes.Count(data, []byte("\n")))

	assert.Error(t, runMain([]string{"-ticks", "0"}))
	assert.Error(t, runMain([]string{"-out", filepath.Join(t.TempDir(), "missing", "quotes.jsonl")}))
}
