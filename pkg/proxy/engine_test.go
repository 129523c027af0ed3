package proxy

import (
	"context"
	"io"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcptap/mcptap/pkg/logstore"
	"github.com/mcptap/mcptap/pkg/session"
	"github.com/mcptap/mcptap/pkg/tokens"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test relies on unix shell utilities")
	}
}

// startEngine spawns a shell script server and runs the engine against a
// pipe standing in for the client.
func startEngine(t *testing.T, script string) (*Engine, *io.PipeWriter, logstore.Store, *tokens.Aggregator, *session.Tracker, chan error) {
	t.Helper()

	store := logstore.NewMemoryStore(0)
	sessions := session.NewTracker()
	agg := tokens.NewAggregator(tokens.NewEstimator())

	e, err := Start(Config{
		Command:    "sh",
		Args:       []string{"-c", script},
		Store:      store,
		Sessions:   sessions,
		Aggregator: agg,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background(), pr, nil, io.Discard) }()
	return e, pw, store, agg, sessions, done
}

func waitEntries(t *testing.T, sub logstore.Subscriber, n int) []*logstore.Entry {
	t.Helper()
	var entries []*logstore.Entry
	deadline := time.After(5 * time.Second)
	for len(entries) < n {
		select {
		case e := <-sub:
			entries = append(entries, e)
		case <-deadline:
			t.Fatalf("got %d entries, want %d", len(entries), n)
		}
	}
	return entries
}

func TestEngine_RequestResponseRoundTrip(t *testing.T) {
	skipOnWindows(t)

	script := `read l; printf '%s\n' '{"jsonrpc":"2.0","id":1,"result":{"ok":true}}'`
	e, pw, store, agg, _, done := startEngine(t, script)

	sub, unsubscribe := store.Subscribe()
	defer unsubscribe()

	_, err := pw.Write([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n"))
	require.NoError(t, err)

	entries := waitEntries(t, sub, 2)
	req, resp := entries[0], entries[1]

	assert.Equal(t, logstore.DirectionIn, req.Direction)
	assert.Equal(t, logstore.TypeJSONRPC, req.Type)
	assert.Equal(t, "ping", req.Method)
	assert.Nil(t, req.DurationMicros, "request entries never carry a duration")
	assert.Positive(t, req.Tokens)

	assert.Equal(t, logstore.DirectionOut, resp.Direction)
	assert.Equal(t, logstore.TypeJSONRPC, resp.Type)
	assert.Empty(t, resp.Method, "responses carry no method")
	require.NotNil(t, resp.DurationMicros, "correlated response must carry a duration")
	assert.GreaterOrEqual(t, *resp.DurationMicros, int64(0))

	pw.Close()
	require.NoError(t, <-done)

	stats, ok := agg.SessionStats(e.SessionID())
	require.True(t, ok)
	assert.Positive(t, stats.TokensToServer)
	assert.Positive(t, stats.TokensFromServer)
	assert.EqualValues(t, 1, stats.Methods["ping"].Calls)
	assert.Positive(t, stats.Methods["ping"].ResponseTokens)
}

func TestEngine_RawSandwichPreservesOrder(t *testing.T) {
	skipOnWindows(t)

	_, pw, store, _, _, done := startEngine(t, `cat >/dev/null`)

	sub, unsubscribe := store.Subscribe()
	defer unsubscribe()

	_, err := pw.Write([]byte(
		`{"jsonrpc":"2.0","id":1,"method":"a"}` + "\n" +
			"this is not json\n" +
			`{"jsonrpc":"2.0","id":2,"method":"b"}` + "\n"))
	require.NoError(t, err)

	entries := waitEntries(t, sub, 3)
	assert.Equal(t, logstore.TypeJSONRPC, entries[0].Type)
	assert.Equal(t, logstore.TypeRaw, entries[1].Type)
	assert.Equal(t, logstore.TypeJSONRPC, entries[2].Type)
	assert.Equal(t, "this is not json", entries[1].Raw)

	pw.Close()
	require.NoError(t, <-done)
}

func TestEngine_StderrCaptured(t *testing.T) {
	skipOnWindows(t)

	_, pw, store, _, _, done := startEngine(t, `echo oops >&2`)
	pw.Close()
	require.NoError(t, <-done)

	diag := store.Query(&logstore.Filter{Type: logstore.TypeStderr})
	require.Len(t, diag, 1)
	assert.Equal(t, "oops", diag[0].Raw)
	assert.Equal(t, logstore.DirectionOut, diag[0].Direction)
	assert.Nil(t, diag[0].DurationMicros)
}

func TestEngine_CapturesServerNameAndDefinitions(t *testing.T) {
	skipOnWindows(t)

	script := `read a; printf '%s\n' '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2025-03-26","serverInfo":{"name":"unit-server","version":"1.0.0"}}}'; ` +
		`read b; printf '%s\n' '{"jsonrpc":"2.0","id":2,"result":{"tools":[{"name":"read_file","inputSchema":{"type":"object"}},{"name":"write_file"}]}}'`
	e, pw, store, agg, sessions, done := startEngine(t, script)

	sub, unsubscribe := store.Subscribe()
	defer unsubscribe()

	_, err := io.WriteString(pw,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`+"\n"+
			`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`+"\n")
	require.NoError(t, err)

	waitEntries(t, sub, 4)
	pw.Close()
	require.NoError(t, <-done)

	sess := sessions.Get(e.SessionID())
	require.NotNil(t, sess)
	assert.Equal(t, "unit-server", sess.Snapshot().ServerName)

	stats, ok := agg.SessionStats(e.SessionID())
	require.True(t, ok)
	assert.Equal(t, 2, stats.Tools.Count)
	assert.Positive(t, stats.Tools.Tokens)
	assert.Equal(t, stats.DefinitionTokens, stats.Tools.Tokens)

	// Durations landed on both responses.
	responses := store.Query(&logstore.Filter{Direction: logstore.DirectionOut, Type: logstore.TypeJSONRPC})
	require.Len(t, responses, 2)
	for _, r := range responses {
		assert.NotNil(t, r.DurationMicros)
	}
}

func TestEngine_ContextCancelTearsDownChild(t *testing.T) {
	skipOnWindows(t)

	store := logstore.NewMemoryStore(0)
	e, err := Start(Config{
		Command: "cat",
		Store:   store,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	defer pw.Close()

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, pr, nil, nil) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestEngine_FlushesTruncatedFrameOnExit(t *testing.T) {
	skipOnWindows(t)

	// Server emits a partial line and exits without a newline.
	_, pw, store, _, _, done := startEngine(t, `printf '{"jsonrpc":"2.0","id":1,"res'`)
	pw.Close()
	require.NoError(t, <-done)

	raw := store.Query(&logstore.Filter{Type: logstore.TypeRaw})
	require.Len(t, raw, 1)
	assert.Equal(t, logstore.DirectionOut, raw[0].Direction)
	assert.True(t, strings.HasPrefix(raw[0].Raw, `{"jsonrpc"`))
}
