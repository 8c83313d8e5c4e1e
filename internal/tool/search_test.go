package tool

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func searchFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "main.go"), "package main\n\nfunc main() {\n\t// TODO: wire flags\n}\n")
	writeFile(t, filepath.Join(dir, "pkg", "util", "util.go"), "package util\n\nfunc Helper() string { return \"TODO\" }\n")
	writeFile(t, filepath.Join(dir, "pkg", "util", "util_test.go"), "package util\n")
	writeFile(t, filepath.Join(dir, "README.md"), "# readme\nTODO: docs\n")
	writeFile(t, filepath.Join(dir, ".git", "HEAD"), "ref: TODO\n")
	writeFile(t, filepath.Join(dir, "node_modules", "lib", "index.go"), "package lib // TODO\n")
	return dir
}

func TestGlobTool_Execute(t *testing.T) {
	dir := searchFixture(t)

	result, err := NewGlobTool(dir).Execute(context.Background(), json.RawMessage(`{"pattern":"**/*.go"}`), testContext())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Metadata["count"])
	assert.Contains(t, result.Output, filepath.Join(dir, "main.go"))
	assert.Contains(t, result.Output, filepath.Join(dir, "pkg", "util", "util_test.go"))
	assert.NotContains(t, result.Output, "node_modules")
}

func TestGlobTool_SubdirectoryAndOrdering(t *testing.T) {
	dir := searchFixture(t)
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "pkg", "util", "util_test.go"), old, old))

	result, err := NewGlobTool(dir).Execute(context.Background(), json.RawMessage(`{"pattern":"*.go","path":"pkg/util"}`), testContext())
	require.NoError(t, err)
	lines := strings.Split(result.Output, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, filepath.Join(dir, "pkg", "util", "util.go"), lines[0])
}

func TestGlobTool_NoMatchesAndInvalid(t *testing.T) {
	dir := searchFixture(t)

	result, err := NewGlobTool(dir).Execute(context.Background(), json.RawMessage(`{"pattern":"**/*.rs"}`), testContext())
	require.NoError(t, err)
	assert.Equal(t, "No files matched the pattern", result.Output)
	assert.Equal(t, 0, result.Metadata["count"])

	_, err = NewGlobTool(dir).Execute(context.Background(), json.RawMessage(`{"pattern":"[unclosed"}`), testContext())
	assert.ErrorContains(t, err, "invalid glob pattern")

	_, err = NewGlobTool(dir).Execute(context.Background(), json.RawMessage(`{}`), testContext())
	assert.ErrorContains(t, err, "pattern is required")
}

func TestGrepTool_Execute(t *testing.T) {
	dir := searchFixture(t)

	result, err := NewGrepTool(dir).Execute(context.Background(), json.RawMessage(`{"pattern":"TODO"}`), testContext())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Metadata["count"])
	assert.Contains(t, result.Output, filepath.Join(dir, "main.go")+":4: \t// TODO: wire flags")
	assert.Contains(t, result.Output, filepath.Join(dir, "README.md")+":2:")
	assert.NotContains(t, result.Output, ".git")
	assert.NotContains(t, result.Output, "node_modules")
}

func TestGrepTool_IncludeAndPath(t *testing.T) {
	dir := searchFixture(t)

	result, err := NewGrepTool(dir).Execute(context.Background(), json.RawMessage(`{"pattern":"TODO","include":"*.go"}`), testContext())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Metadata["count"])
	assert.NotContains(t, result.Output, "README.md")

	result, err = NewGrepTool(dir).Execute(context.Background(), json.RawMessage(`{"pattern":"func \\w+\\(","path":"pkg"}`), testContext())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Metadata["count"])
	assert.Contains(t, result.Output, "Helper")

	result, err = NewGrepTool(dir).Execute(context.Background(), json.RawMessage(`{"pattern":"package","include":"pkg/**/*_test.go"}`), testContext())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Metadata["count"])
}

func TestGrepTool_NoMatchesAndInvalid(t *testing.T) {
	dir := searchFixture(t)

	result, err := NewGrepTool(dir).Execute(context.Background(), json.RawMessage(`{"pattern":"nothing-here"}`), testContext())
	require.NoError(t, err)
	assert.Equal(t, "No matches found", result.Output)

	_, err = NewGrepTool(dir).Execute(context.Background(), json.RawMessage(`{"pattern":"(unclosed"}`), testContext())
	assert.ErrorContains(t, err, "invalid regex")
}

func TestGrepTool_Truncates(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "many.txt"), strings.Repeat("match\n", grepMaxMatches+20))

	result, err := NewGrepTool(dir).Execute(context.Background(), json.RawMessage(`{"pattern":"match"}`), testContext())
	require.NoError(t, err)
	assert.Equal(t, grepMaxMatches, result.Metadata["count"])
	assert.Equal(t, true, result.Metadata["truncated"])
}

func TestGrepTool_Cancelled(t *testing.T) {
	dir := searchFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewGrepTool(dir).Execute(ctx, json.RawMessage(`{"pattern":"TODO"}`), testContext())
	assert.ErrorIs(t, err, context.Canceled)
}
