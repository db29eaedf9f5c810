package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"snapfeed/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapfeed.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[hive]
nodes = ["https://hive.example.com"]

[feed]
community_tag = "hive-148441"
page_min_size = 20
max_rounds = 4

[server]
port = 8080
`)

	cfg, err := config.LoadConfig(path, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://hive.example.com"}, cfg.Hive.Nodes)
	assert.Equal(t, 30*time.Second, cfg.Hive.Timeout())
	assert.Equal(t, "hive-148441", cfg.Feed.CommunityTag)
	assert.Equal(t, 20, cfg.Feed.PageMinSize)
	assert.Equal(t, 4, cfg.Feed.MaxRounds)
	assert.Equal(t, "peak.snaps", cfg.Feed.ContainerAuthor)
	assert.Equal(t, 1, cfg.Feed.Concurrency)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Minute, cfg.Server.SessionTTL())
	assert.Equal(t, 90*24*time.Hour, cfg.Archive.Retention())
}

func TestLoadConfigMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.toml")

	cfg, err := config.LoadConfig(missing, true)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	_, err = config.LoadConfig(missing, false)
	assert.Error(t, err)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "malformed toml", content: `[feed`},
		{name: "empty nodes", content: "[hive]\nnodes = []"},
		{name: "zero page size", content: "[feed]\npage_min_size = 0"},
		{name: "negative concurrency", content: "[feed]\nconcurrency = -1"},
		{name: "empty author", content: "[feed]\ncontainer_author = \"\""},
		{name: "following page above node maximum", content: "[feed]\nfollowing_page_size = 1000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadConfig(writeConfig(t, tt.content), false)
			assert.Error(t, err)
		})
	}
}
