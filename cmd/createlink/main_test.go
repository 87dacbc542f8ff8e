package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "createlink dev\n", out.String())
}

func TestAnalogDemo(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"analog", "--demo", "--samples", "3",
		"--config", filepath.Join(t.TempDir(), "none.yaml"), "--log-level", "error"})
	require.NoError(t, rootCmd.Execute())
	assert.NotEmpty(t, strings.TrimSpace(out.String()))
}
