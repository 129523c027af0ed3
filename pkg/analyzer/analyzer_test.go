package analyzer

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test relies on unix shell utilities")
	}
}

// analyze runs the analyzer against a shell script standing in for a
// server; scripts dispatch on method substrings in each request line.
func analyze(t *testing.T, script string, timeout time.Duration) (*ServerAnalysis, error) {
	t.Helper()
	return AnalyzeServer(context.Background(), Options{
		Command: "sh",
		Args:    []string{"-c", script},
		Timeout: timeout,
	})
}

func TestAnalyzeServer_ToolsOnly(t *testing.T) {
	skipOnWindows(t)

	script := `
while read line; do
  case "$line" in
    *'"method":"initialize"'*)
      printf '%s\n' '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2025-03-26","serverInfo":{"name":"fake-server","version":"0.1.0"},"capabilities":{"tools":{}}}}' ;;
    *'"method":"tools/list"'*)
      printf '%s\n' '{"jsonrpc":"2.0","id":2,"result":{"tools":[{"name":"read_file","description":"Reads a file from disk","inputSchema":{"type":"object","properties":{"path":{"type":"string"}}}},{"name":"write_file","inputSchema":{"type":"object"}}]}}' ;;
  esac
done`

	analysis, err := analyze(t, script, 10*time.Second)
	require.NoError(t, err)
	require.NotNil(t, analysis)

	assert.Equal(t, "fake-server", analysis.ServerName)
	assert.Equal(t, "0.1.0", analysis.ServerVersion)
	assert.Equal(t, "2025-03-26", analysis.ProtocolVersion)

	require.Equal(t, 2, analysis.Tools.Count)
	require.Len(t, analysis.Tools.Items, 2)
	assert.Equal(t, 0, analysis.Prompts.Count)
	assert.Equal(t, 0, analysis.Resources.Count)

	first := analysis.Tools.Items[0]
	assert.Equal(t, "read_file", first.Name)
	assert.Equal(t, "Reads a file from disk", first.Description)
	assert.Positive(t, first.SchemaTokens)
	assert.Greater(t, first.TotalTokens, first.SchemaTokens, "total includes name and description cost")

	var sum int64
	for _, item := range analysis.Tools.Items {
		sum += int64(item.TotalTokens)
	}
	assert.Equal(t, sum, analysis.Tools.TotalTokens)
	assert.Equal(t, analysis.Tools.TotalTokens, analysis.TotalContextTokens,
		"with no prompts or resources, context cost is the tools total")
}

func TestAnalyzeServer_Pagination(t *testing.T) {
	skipOnWindows(t)

	script := `
while read line; do
  case "$line" in
    *'"method":"initialize"'*)
      printf '%s\n' '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2025-03-26","serverInfo":{"name":"fake-server","version":"0.1.0"},"capabilities":{"tools":{}}}}' ;;
    *'"cursor":"p2"'*)
      printf '%s\n' '{"jsonrpc":"2.0","id":3,"result":{"tools":[{"name":"c"}]}}' ;;
    *'"method":"tools/list"'*)
      printf '%s\n' '{"jsonrpc":"2.0","id":2,"result":{"tools":[{"name":"a"},{"name":"b"}],"nextCursor":"p2"}}' ;;
  esac
done`

	analysis, err := analyze(t, script, 10*time.Second)
	require.NoError(t, err)
	require.Equal(t, 3, analysis.Tools.Count)
	assert.Equal(t, "c", analysis.Tools.Items[2].Name)
}

func TestAnalyzeServer_ExitMidHandshake(t *testing.T) {
	skipOnWindows(t)

	analysis, err := analyze(t, `read line; exit 0`, 10*time.Second)
	assert.Nil(t, analysis, "no partial analysis on failure")

	var aerr *AnalysisError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "handshaking", aerr.Stage)
	assert.ErrorIs(t, err, errServerExited)
}

func TestAnalyzeServer_Timeout(t *testing.T) {
	skipOnWindows(t)

	start := time.Now()
	analysis, err := analyze(t, `read line; sleep 30`, 300*time.Millisecond)
	assert.Nil(t, analysis)

	var aerr *AnalysisError
	require.ErrorAs(t, err, &aerr)
	assert.Contains(t, aerr.Error(), "timed out")
	assert.Less(t, time.Since(start), 10*time.Second, "teardown must not wait out the sleep")
}

func TestAnalyzeServer_SpawnFailure(t *testing.T) {
	_, err := AnalyzeServer(context.Background(), Options{
		Command: "definitely-not-a-real-command-xyz",
	})
	var aerr *AnalysisError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "spawning", aerr.Stage)
}

func TestAnalyzeServer_MalformedHandshake(t *testing.T) {
	skipOnWindows(t)

	// Result lacks serverInfo entirely.
	script := `read line; printf '%s\n' '{"jsonrpc":"2.0","id":1,"result":{}}'`
	analysis, err := analyze(t, script, 10*time.Second)
	assert.Nil(t, analysis)

	var aerr *AnalysisError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "handshaking", aerr.Stage)
}

func TestAnalyzeServer_ListErrorFailsRun(t *testing.T) {
	skipOnWindows(t)

	script := `
while read line; do
  case "$line" in
    *'"method":"initialize"'*)
      printf '%s\n' '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2025-03-26","serverInfo":{"name":"fake-server","version":"0.1.0"},"capabilities":{"tools":{}}}}' ;;
    *'"method":"tools/list"'*)
      printf '%s\n' '{"jsonrpc":"2.0","id":2,"error":{"code":-32603,"message":"boom"}}' ;;
  esac
done`

	analysis, err := analyze(t, script, 10*time.Second)
	assert.Nil(t, analysis)

	var aerr *AnalysisError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "listing tools", aerr.Stage)
	assert.Contains(t, aerr.Error(), "boom")
}

func TestAnalyzeServer_ContextCancel(t *testing.T) {
	skipOnWindows(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := AnalyzeServer(ctx, Options{
		Command: "sh",
		Args:    []string{"-c", `read line; sleep 30`},
		Timeout: time.Minute,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
