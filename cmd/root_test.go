package cmd_test

import (
	"path/filepath"
	"testing"

	"snapfeed/cmd"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootAppCommands(t *testing.T) {
	app := cmd.RootApp()

	names := []string{}
	for _, command := range app.Commands {
		names = append(names, command.Name)
	}
	assert.ElementsMatch(t, []string{"serve", "fetch", "history", "index", "migrate", "rollback", "tidy"}, names)
}

func TestDatabaseCommands(t *testing.T) {
	database := filepath.Join(t.TempDir(), "feed.db")

	require.NoError(t, cmd.RootApp().Run([]string{"snapfeed", "migrate", "--database", database}))
	require.NoError(t, cmd.RootApp().Run([]string{"snapfeed", "tidy", "--database", database, "--retention-days", "30"}))
	require.NoError(t, cmd.RootApp().Run([]string{"snapfeed", "rollback", "--database", database}))
}

func TestInvalidInvocations(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "history without account", args: []string{"snapfeed", "history"}},
		{name: "unknown log level", args: []string{"snapfeed", "--log-level", "loud", "migrate"}},
		{name: "explicit missing config", args: []string{"snapfeed", "--config", "missing.toml", "tidy", "--database", "unused.db"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, cmd.RootApp().Run(tt.args))
		})
	}
}
