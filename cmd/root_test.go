package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"extract", "login", "logout", "search", "property", "runs"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "costar-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestExtractCommand_Flags(t *testing.T) {
	for _, name := range []string{"name", "max-properties", "out", "format", "include-parcel", "require-email", "require-phone", "concurrency", "separate"} {
		assert.NotNil(t, extractCmd.Flags().Lookup(name), "extract should have --%s flag", name)
	}

	flag := extractCmd.Flags().Lookup("format")
	require.NotNil(t, flag)
	assert.Equal(t, "csv", flag.DefValue)

	flag = extractCmd.Flags().Lookup("require-email")
	require.NotNil(t, flag)
	assert.Equal(t, "true", flag.DefValue)
}

func TestExtractCommand_RequiresPayload(t *testing.T) {
	assert.Error(t, extractCmd.Args(extractCmd, nil))
	assert.NoError(t, extractCmd.Args(extractCmd, []string{"q.json"}))
}

func TestSearchCommand_Flags(t *testing.T) {
	assert.NotNil(t, searchCmd.Flags().Lookup("max-pages"))
	assert.NotNil(t, searchCmd.Flags().Lookup("json"))
	assert.Error(t, searchCmd.Args(searchCmd, nil))
}

func TestPropertyCommand_Flags(t *testing.T) {
	flag := propertyCmd.Flags().Lookup("parcel")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"list", "show", "stats", "health", "watch"} {
		assert.True(t, names[name], "runs should have subcommand %q", name)
	}
}
