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

	for _, name := range []string{"serve", "interpret", "datasets", "analyses"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "mapview", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestInterpretCommand_Flags(t *testing.T) {
	for _, name := range []string{"file", "provider", "format", "offline"} {
		assert.NotNil(t, interpretCmd.Flags().Lookup(name), "interpret should have --%s", name)
	}
	assert.Equal(t, "leaflet", interpretCmd.Flags().Lookup("provider").DefValue)
}

func TestAnalysesCommand_Flags(t *testing.T) {
	flag := analysesCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "20", flag.DefValue)

	var hasPrune bool
	for _, c := range analysesCmd.Commands() {
		if c.Name() == "prune" {
			hasPrune = true
		}
	}
	assert.True(t, hasPrune, "analyses should have a prune subcommand")
	assert.NotNil(t, analysesPruneCmd.Flags().Lookup("older-than"))
}
