package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_UnknownKey_InSection(t *testing.T) {
	path := writeTestConfig(t, "[network]\ntimout = \"10s\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "timout" in [network]`)
	assert.Contains(t, err.Error(), `did you mean "timeout"`)
}

func TestLoad_UnknownKey_NoSuggestion(t *testing.T) {
	path := writeTestConfig(t, "[cache]\ncompletely_different = 1\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "completely_different" in [cache]`)
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestLoad_UnknownSection(t *testing.T) {
	path := writeTestConfig(t, "[loging]\nlog_level = \"info\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "loging", did you mean [logging]?`)
}

func TestLoad_UnknownTopLevelKey(t *testing.T) {
	path := writeTestConfig(t, "verbose = true\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "verbose"`)
}

func TestLoad_MultipleUnknownKeysReported(t *testing.T) {
	path := writeTestConfig(t, "[listing]\npage_sise = 10\n\n[transfers]\ndownload_dri = \"x\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page_size")
	assert.Contains(t, err.Error(), "download_dir")
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("ttl", "ttl"))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.Equal(t, 3, levenshtein("abc", ""))
	assert.Equal(t, 1, levenshtein("timout", "timeout"))
	assert.Equal(t, 1, levenshtein("page_sise", "page_size"))
}

func TestClosestMatch(t *testing.T) {
	assert.Equal(t, "log_level", closestMatch("loglevel", []string{"log_level"}))
	assert.Empty(t, closestMatch("zzzzzzzz", []string{"ttl"}))
}
