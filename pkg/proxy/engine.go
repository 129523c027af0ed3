package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/mcptap/mcptap/pkg/jsonrpc"
	"github.com/mcptap/mcptap/pkg/logging"
	"github.com/mcptap/mcptap/pkg/logstore"
	"github.com/mcptap/mcptap/pkg/session"
	"github.com/mcptap/mcptap/pkg/tokens"
	"github.com/mcptap/mcptap/pkg/transport"
)

const (
	readBufSize          = 32 * 1024
	defaultEvictInterval = 30 * time.Second
)

// Config describes one proxied server.
type Config struct {
	// Command, Args, Env are passed through to the spawned server
	// unmodified.
	Command string
	Args    []string
	Env     map[string]string

	// Store receives every intercepted entry. Defaults to an in-memory
	// store with the default capacity.
	Store logstore.Store

	// Sessions tracks connection identity. Defaults to a fresh tracker.
	Sessions *session.Tracker

	// Aggregator rolls up token usage. Defaults to a fresh aggregator.
	Aggregator *tokens.Aggregator

	// Logger receives engine diagnostics, never protocol bytes.
	Logger *slog.Logger

	// PendingTTL bounds correlation memory for unanswered requests.
	PendingTTL time.Duration

	// EvictInterval is how often expired pending requests are dropped.
	EvictInterval time.Duration
}

// Engine proxies one client-server connection through a spawned child,
// intercepting both directions. Shared state is scoped to the Engine, so
// multiple proxied connections can coexist in one process.
type Engine struct {
	cfg      Config
	log      *slog.Logger
	child    *transport.Child
	corr     *Correlator
	sess     *session.Session
	store    logstore.Store
	agg      *tokens.Aggregator
	sessions *session.Tracker

	stop      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Start spawns the server process and prepares interception. The caller
// must call Run to begin forwarding, and Close on every exit path.
func Start(cfg Config) (*Engine, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Store == nil {
		cfg.Store = logstore.NewMemoryStore(0)
	}
	if cfg.Sessions == nil {
		cfg.Sessions = session.NewTracker()
	}
	if cfg.Aggregator == nil {
		cfg.Aggregator = tokens.NewAggregator(tokens.NewEstimator())
	}
	if cfg.EvictInterval <= 0 {
		cfg.EvictInterval = defaultEvictInterval
	}

	child, err := transport.Spawn(cfg.Command, cfg.Args, cfg.Env)
	if err != nil {
		return nil, err
	}
	child.SetLogger(cfg.Logger)

	e := &Engine{
		cfg:      cfg,
		log:      cfg.Logger,
		child:    child,
		corr:     NewCorrelator(cfg.PendingTTL),
		store:    cfg.Store,
		agg:      cfg.Aggregator,
		sessions: cfg.Sessions,
		stop:     make(chan struct{}),
	}

	// Until the initialize response names the server, the command
	// basename stands in.
	e.sess = e.sessions.SetServerName(child.ID, filepath.Base(cfg.Command))

	e.log.Info("proxy started",
		"session", e.sess.ID,
		"command", cfg.Command,
		"pid", child.Pid())
	return e, nil
}

// SessionID returns the identity assigned to this connection.
func (e *Engine) SessionID() string { return e.sess.ID }

// Run forwards traffic until the child exits, the context is cancelled, or
// Close is called. The three streams are pumped by independent goroutines;
// a stalled read in one direction never blocks the other. Run tears the
// child down before returning.
func (e *Engine) Run(ctx context.Context, clientIn io.Reader, clientOut, clientErr io.Writer) error {
	serverDone := make(chan struct{})
	stderrDone := make(chan struct{})

	go e.pumpClient(clientIn)
	go func() { e.pumpServer(clientOut); close(serverDone) }()
	go func() { e.pumpStderr(clientErr); close(stderrDone) }()
	go e.evictLoop()

	select {
	case <-ctx.Done():
	case <-serverDone:
	case <-e.stop:
	}

	err := e.Close()
	<-serverDone
	<-stderrDone
	return err
}

// Close stops forwarding and tears down the child process. Idempotent.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.stop)
		e.closeErr = e.child.Close()
		e.log.Info("proxy stopped", "session", e.sess.ID)
	})
	return e.closeErr
}

// pumpClient forwards client bytes to the server, intercepting a copy.
// Forwarding happens before interception so a decode problem can never
// delay or drop traffic.
func (e *Engine) pumpClient(in io.Reader) {
	dec := transport.NewDecoder()
	buf := make([]byte, readBufSize)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			if werr := e.child.Write(buf[:n]); werr != nil {
				e.log.Warn("forward to server failed", "error", werr)
			}
			for _, f := range dec.Write(buf[:n]) {
				e.processFrame(logstore.DirectionIn, f)
			}
		}
		if err != nil {
			for _, f := range dec.Flush() {
				e.processFrame(logstore.DirectionIn, f)
			}
			// Client is done; give the server its EOF.
			_ = e.child.CloseStdin()
			return
		}
	}
}

// pumpServer forwards server stdout to the client, intercepting a copy.
func (e *Engine) pumpServer(out io.Writer) {
	dec := transport.NewDecoder()
	buf := make([]byte, readBufSize)
	for {
		n, err := e.child.Stdout().Read(buf)
		if n > 0 {
			if out != nil {
				if _, werr := out.Write(buf[:n]); werr != nil {
					e.log.Warn("forward to client failed", "error", werr)
				}
			}
			for _, f := range dec.Write(buf[:n]) {
				e.processFrame(logstore.DirectionOut, f)
			}
		}
		if err != nil {
			for _, f := range dec.Flush() {
				e.processFrame(logstore.DirectionOut, f)
			}
			return
		}
	}
}

// pumpStderr logs the server's diagnostic stream line by line and passes it
// through to the client's stderr.
func (e *Engine) pumpStderr(out io.Writer) {
	sc := bufio.NewScanner(e.child.Stderr())
	sc.Buffer(make([]byte, 0, 64*1024), transport.MaxFrameSize)
	for sc.Scan() {
		line := sc.Text()
		e.sessions.Observe(e.child.ID)
		e.store.Append(&logstore.Entry{
			SessionID: e.sess.ID,
			Direction: logstore.DirectionOut,
			Raw:       line,
			Type:      logstore.TypeStderr,
			Tokens:    e.agg.Estimator().Estimate(line),
		})
		messagesTotal.WithLabelValues(string(logstore.DirectionOut), string(logstore.TypeStderr)).Inc()
		if out != nil {
			_, _ = io.WriteString(out, line+"\n")
		}
	}
}

func (e *Engine) evictLoop() {
	ticker := time.NewTicker(e.cfg.EvictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			if n := e.corr.Evict(time.Now()); n > 0 {
				e.log.Debug("evicted stale pending requests", "count", n)
			}
		}
	}
}

// processFrame classifies one frame, correlates it, costs it, and appends
// the resulting entry. All failures downgrade to a raw entry.
func (e *Engine) processFrame(dir logstore.Direction, f transport.Frame) {
	e.sessions.Observe(e.child.ID)
	now := time.Now()
	entry := &logstore.Entry{
		SessionID: e.sess.ID,
		Timestamp: now,
		Direction: dir,
		Raw:       string(f.Data),
	}

	var msg *jsonrpc.Message
	var kind jsonrpc.Kind
	err := jsonrpc.ErrMalformed
	if !f.Raw {
		if msg, err = jsonrpc.Parse(f.Data); err == nil {
			kind, err = msg.Classify()
		}
	}
	if err != nil {
		entry.Type = logstore.TypeRaw
		entry.Tokens = e.agg.Estimator().Estimate(entry.Raw)
		e.store.Append(entry)
		messagesTotal.WithLabelValues(string(dir), string(logstore.TypeRaw)).Inc()
		return
	}

	entry.Type = logstore.TypeJSONRPC
	cost := e.agg.Estimator().EstimateJSON(f.Data)
	entry.Tokens = cost
	toServer := dir == logstore.DirectionIn

	switch kind {
	case jsonrpc.KindRequest:
		entry.Method = msg.Method
		entry.Anomaly = e.corr.TrackRequest(dir, msg.ID, msg.Method, now)
		e.agg.RecordRequest(e.sess.ID, msg.Method, toServer, cost)

	case jsonrpc.KindNotification:
		entry.Method = msg.Method
		e.agg.RecordRequest(e.sess.ID, msg.Method, toServer, cost)

	case jsonrpc.KindResponse:
		method, dur, ok, anomaly := e.corr.Resolve(dir, msg.ID, now)
		entry.Anomaly = anomaly
		if ok {
			d := dur
			entry.DurationMicros = &d
			responseLatency.Observe(float64(dur) / 1e6)
		}
		e.agg.RecordResponse(e.sess.ID, method, toServer, cost)
		if method != "" && dir == logstore.DirectionOut && msg.Error == nil {
			e.captureCapabilities(method, msg.Result)
		}
	}

	if entry.Anomaly != "" {
		anomaliesTotal.Inc()
		e.log.Warn("correlation anomaly", "session", e.sess.ID, "anomaly", entry.Anomaly)
	}
	e.store.Append(entry)
	messagesTotal.WithLabelValues(string(dir), string(logstore.TypeJSONRPC)).Inc()
	tokensTotal.WithLabelValues(string(dir)).Add(float64(cost))
}

// captureCapabilities watches responses for session metadata and
// definitional overhead: the initialize result names the server, and each
// list result carries schema definitions charged once per session.
func (e *Engine) captureCapabilities(method string, result json.RawMessage) {
	switch method {
	case "initialize":
		var res struct {
			ServerInfo struct {
				Name string `json:"name"`
			} `json:"serverInfo"`
		}
		if err := json.Unmarshal(result, &res); err == nil && res.ServerInfo.Name != "" {
			e.sessions.SetServerName(e.child.ID, res.ServerInfo.Name)
		}
	case "tools/list":
		e.recordDefinitions(tokens.DefTools, result)
	case "prompts/list":
		e.recordDefinitions(tokens.DefPrompts, result)
	case "resources/list":
		e.recordDefinitions(tokens.DefResources, result)
	}
}

func (e *Engine) recordDefinitions(kind tokens.DefinitionKind, result json.RawMessage) {
	var res map[string]json.RawMessage
	if err := json.Unmarshal(result, &res); err != nil {
		return
	}
	raw, ok := res[kind.String()]
	if !ok {
		return
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return
	}
	e.agg.RecordDefinitions(e.sess.ID, kind, raw, len(items))
}
