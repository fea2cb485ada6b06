package models

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pitchnet-go/internal/conf"
	_ "github.com/tphakala/pitchnet-go/internal/model/autocorr"
)

func modelDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("{}\n"), 0o600))
	}
	return dir
}

func TestListModelsTable(t *testing.T) {
	t.Parallel()

	s := &conf.Settings{}
	s.Model.Dir = modelDir(t, "pitch_sr48k_h512.acf", "pitch_sr48k_h1024.acf", "pitch_sr16k_h512.acf", "notes.txt")
	s.Stream.SampleRate = 48000

	var buf bytes.Buffer
	require.NoError(t, listModels(&buf, s, false))

	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "pitch_sr16k_h512.acf")
	assert.NotContains(t, out, "notes.txt")
	assert.Regexp(t, `\*\s+pitch_sr48k_h512\.acf\s+48000\s+512`, out)
}

func TestListModelsJSON(t *testing.T) {
	t.Parallel()

	s := &conf.Settings{}
	s.Model.Dir = modelDir(t, "pitch_sr48k_h512.acf", "pitch_sr48k_h1024.acf")
	s.Stream.SampleRate = 48000
	s.Stream.ChunkSize = 1024

	var buf bytes.Buffer
	require.NoError(t, listModels(&buf, s, true))

	var l listing
	require.NoError(t, json.Unmarshal(buf.Bytes(), &l))
	assert.Len(t, l.Candidates, 2)
	assert.Equal(t, filepath.Join(s.Model.Dir, "pitch_sr48k_h1024.acf"), l.Selected)
}

func TestListModelsEmpty(t *testing.T) {
	t.Parallel()

	s := &conf.Settings{}
	s.Model.Dir = t.TempDir()

	var buf bytes.Buffer
	require.NoError(t, listModels(&buf, s, false))
	assert.Contains(t, buf.String(), "no model files")
}
