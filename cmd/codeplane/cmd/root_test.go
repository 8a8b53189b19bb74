package cmd

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_SmartDefault_BuildsIndexAndPrintsStatus(t *testing.T) {
	tmpDir := t.TempDir()
	createTestProject(t, tmpDir)
	oldDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer func() { _ = os.Chdir(oldDir) }()

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--skip-check"})

	err := cmd.Execute()

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "running 'codeplane init'")
}

func TestRootCmd_ShowsHelp(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--help"})

	err := cmd.Execute()

	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "codeplane", "Help should mention program name")
	assert.Contains(t, output, "Usage:", "Help should show usage")
}

func TestRootCmd_ShowsVersion(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--version"})

	err := cmd.Execute()

	require.NoError(t, err)
	output := buf.String()
	hasVersion := strings.Contains(output, "0.1") || strings.Contains(output, "dev")
	assert.True(t, hasVersion, "Version output should contain version number (0.1.x) or 'dev'")
	assert.Contains(t, output, "codeplane", "Version output should mention program name")
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	subcommands := cmd.Commands()

	var commandNames []string
	for _, subcmd := range subcommands {
		commandNames = append(commandNames, subcmd.Name())
	}

	assert.Contains(t, commandNames, "init", "Should have init subcommand")
	assert.Contains(t, commandNames, "index", "Should have index subcommand")
	assert.Contains(t, commandNames, "up", "Should have up subcommand")
	assert.Contains(t, commandNames, "down", "Should have down subcommand")
	assert.Contains(t, commandNames, "status", "Should have status subcommand")
	assert.Contains(t, commandNames, "doctor", "Should have doctor subcommand")
	assert.Contains(t, commandNames, "config", "Should have config subcommand")
}

func TestRootCmd_HasSkipCheckFlag(t *testing.T) {
	cmd := NewRootCmd()

	flag := cmd.Flags().Lookup("skip-check")
	assert.NotNil(t, flag, "Should have --skip-check flag")
	assert.Equal(t, "false", flag.DefValue)
}

func TestRootCmd_HasDebugFlag(t *testing.T) {
	cmd := NewRootCmd()

	flag := cmd.PersistentFlags().Lookup("debug")
	assert.NotNil(t, flag, "Should have --debug flag")
	assert.Equal(t, "false", flag.DefValue)
}

func TestIndexCmd_ShowsHelp(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"index", "--help"})

	err := cmd.Execute()

	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "index", "Index help should mention index")
}

func TestUpCmd_ShowsHelp(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"up", "--help"})

	err := cmd.Execute()

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "up", "Up help should mention up")
}

func TestStatusCmd_ShowsHelp(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"status", "--help"})

	err := cmd.Execute()

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "status", "Status help should mention status")
}
