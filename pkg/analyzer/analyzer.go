package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mcptap/mcptap/pkg/jsonrpc"
	"github.com/mcptap/mcptap/pkg/logging"
	"github.com/mcptap/mcptap/pkg/tokens"
	"github.com/mcptap/mcptap/pkg/transport"
)

// DefaultTimeout bounds each handshake and list step.
const DefaultTimeout = 30 * time.Second

// Options configures one analysis run.
type Options struct {
	// Command, Args, Env are passed through to the spawned server
	// unmodified.
	Command string
	Args    []string
	Env     map[string]string

	// Timeout bounds each protocol step. Zero means DefaultTimeout.
	Timeout time.Duration

	// Estimator prices definitions. Defaults to a fresh estimator.
	Estimator *tokens.Estimator

	// Logger receives run diagnostics.
	Logger *slog.Logger
}

// errServerExited marks the child's stdout closing before the run finished.
var errServerExited = errors.New("server exited before completing")

// AnalyzeServer spawns the command, runs the handshake-and-list sequence,
// and returns the costed inventory. On any failure the child is torn down
// and a single *AnalysisError is returned with no partial result. The run
// is stateless: nothing persists between calls.
func AnalyzeServer(ctx context.Context, opts Options) (*ServerAnalysis, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Estimator == nil {
		opts.Estimator = tokens.NewEstimator()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	r := &run{opts: opts, log: opts.Logger, state: stateSpawning}
	analysis, err := r.execute(ctx)
	if err != nil {
		r.state = stateFailed
		return nil, &AnalysisError{Stage: r.failedIn.String(), Err: err}
	}
	r.state = stateDone
	return analysis, nil
}

type run struct {
	opts  Options
	log   *slog.Logger
	state state

	// failedIn remembers which state an error surfaced in, since state
	// itself moves to Failed.
	failedIn state

	child  *transport.Child
	frames chan transport.Frame
	nextID int64
}

func (r *run) advance(s state) {
	r.state = s
	r.failedIn = s
	r.log.Debug("analyzer state", "state", s.String())
}

func (r *run) execute(ctx context.Context) (*ServerAnalysis, error) {
	r.advance(stateSpawning)
	child, err := transport.Spawn(r.opts.Command, r.opts.Args, r.opts.Env)
	if err != nil {
		return nil, err
	}
	r.child = child
	child.SetLogger(r.log)

	// Scoped teardown: the child never outlives the run, whatever path
	// exits this function. Draining the frame channel afterwards lets the
	// read loop finish once the pipes die.
	defer func() {
		_ = child.Close()
		go func() {
			for range r.frames {
			}
		}()
	}()

	r.frames = make(chan transport.Frame, 16)
	go r.readLoop()

	r.advance(stateHandshaking)
	info, caps, err := r.handshake(ctx)
	if err != nil {
		return nil, err
	}

	analysis := &ServerAnalysis{
		ServerName:      info.Name,
		ServerVersion:   info.Version,
		ProtocolVersion: info.Protocol,
	}

	if caps.Tools {
		r.advance(stateListingTools)
		items, err := r.listAll(ctx, "tools/list", "tools")
		if err != nil {
			return nil, err
		}
		analysis.Tools = r.score(items)
	}
	if caps.Prompts {
		r.advance(stateListingPrompts)
		items, err := r.listAll(ctx, "prompts/list", "prompts")
		if err != nil {
			return nil, err
		}
		analysis.Prompts = r.score(items)
	}
	if caps.Resources {
		r.advance(stateListingResources)
		items, err := r.listAll(ctx, "resources/list", "resources")
		if err != nil {
			return nil, err
		}
		analysis.Resources = r.score(items)
	}

	r.advance(stateScoring)
	analysis.TotalContextTokens = analysis.Tools.TotalTokens +
		analysis.Prompts.TotalTokens +
		analysis.Resources.TotalTokens
	return analysis, nil
}

// readLoop decodes the child's stdout into frames. The channel closes when
// the stream ends, which every await treats as fatal.
func (r *run) readLoop() {
	dec := transport.NewDecoder()
	buf := make([]byte, 32*1024)
	for {
		n, err := r.child.Stdout().Read(buf)
		if n > 0 {
			for _, f := range dec.Write(buf[:n]) {
				r.frames <- f
			}
		}
		if err != nil {
			close(r.frames)
			return
		}
	}
}

type serverInfo struct {
	Name     string
	Version  string
	Protocol string
}

type serverCaps struct {
	Tools     bool
	Prompts   bool
	Resources bool
}

// handshake sends initialize, validates the reply, and acknowledges with
// the initialized notification.
func (r *run) handshake(ctx context.Context) (serverInfo, serverCaps, error) {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "mcptap",
			"version": "dev",
		},
	}
	result, err := r.call(ctx, "initialize", params)
	if err != nil {
		return serverInfo{}, serverCaps{}, err
	}

	var res struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
		Capabilities struct {
			Tools     json.RawMessage `json:"tools"`
			Prompts   json.RawMessage `json:"prompts"`
			Resources json.RawMessage `json:"resources"`
		} `json:"capabilities"`
	}
	if err := json.Unmarshal(result, &res); err != nil {
		return serverInfo{}, serverCaps{}, fmt.Errorf("malformed initialize result: %w", err)
	}
	if res.ServerInfo.Name == "" || res.ProtocolVersion == "" {
		return serverInfo{}, serverCaps{}, errors.New("initialize result missing server identity")
	}

	notif, err := jsonrpc.NewNotification("notifications/initialized", nil)
	if err != nil {
		return serverInfo{}, serverCaps{}, err
	}
	data, err := notif.Encode()
	if err != nil {
		return serverInfo{}, serverCaps{}, err
	}
	if err := r.child.Write(append(data, '\n')); err != nil {
		return serverInfo{}, serverCaps{}, err
	}

	return serverInfo{
			Name:     res.ServerInfo.Name,
			Version:  res.ServerInfo.Version,
			Protocol: res.ProtocolVersion,
		}, serverCaps{
			Tools:     res.Capabilities.Tools != nil,
			Prompts:   res.Capabilities.Prompts != nil,
			Resources: res.Capabilities.Resources != nil,
		}, nil
}

// listAll drains a paginated list method, following nextCursor until the
// server stops returning one.
func (r *run) listAll(ctx context.Context, method, field string) ([]json.RawMessage, error) {
	var items []json.RawMessage
	cursor := ""
	for {
		var params any
		if cursor != "" {
			params = map[string]any{"cursor": cursor}
		}
		result, err := r.call(ctx, method, params)
		if err != nil {
			return nil, err
		}

		var page struct {
			NextCursor string `json:"nextCursor"`
		}
		if err := json.Unmarshal(result, &page); err != nil {
			return nil, fmt.Errorf("malformed %s result: %w", method, err)
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(result, &fields); err != nil {
			return nil, fmt.Errorf("malformed %s result: %w", method, err)
		}
		var pageItems []json.RawMessage
		if raw, ok := fields[field]; ok {
			if err := json.Unmarshal(raw, &pageItems); err != nil {
				return nil, fmt.Errorf("malformed %s list in %s result: %w", field, method, err)
			}
		}
		items = append(items, pageItems...)

		if page.NextCursor == "" {
			return items, nil
		}
		cursor = page.NextCursor
	}
}

// call sends one request and awaits its response, skipping unrelated
// traffic. Each call gets the full step timeout.
func (r *run) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	r.nextID++
	id := jsonrpc.NumberID(r.nextID)

	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	data, err := req.Encode()
	if err != nil {
		return nil, err
	}
	if err := r.child.Write(append(data, '\n')); err != nil {
		return nil, err
	}

	timer := time.NewTimer(r.opts.Timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, fmt.Errorf("timed out after %s awaiting %s response", r.opts.Timeout, method)
		case f, open := <-r.frames:
			if !open {
				return nil, errServerExited
			}
			if f.Raw {
				continue
			}
			msg, err := jsonrpc.Parse(f.Data)
			if err != nil {
				continue
			}
			if !msg.IsResponse() || msg.ID.Key() != id.Key() {
				continue
			}
			if msg.Error != nil {
				return nil, fmt.Errorf("%s failed: %w", method, msg.Error)
			}
			return msg.Result, nil
		}
	}
}

// score prices each definition. Schema cost is the definition minus its
// name and description; the total adds those back, so a category's total
// is schema cost plus naming and description cost.
func (r *run) score(items []json.RawMessage) CategoryAnalysis {
	cat := CategoryAnalysis{Count: len(items)}
	for _, item := range items {
		cost := r.scoreItem(item)
		cat.Items = append(cat.Items, cost)
		cat.TotalTokens += int64(cost.TotalTokens)
	}
	return cat
}

func (r *run) scoreItem(item json.RawMessage) ItemCost {
	est := r.opts.Estimator

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil {
		// Not an object; price it as an opaque blob.
		n := est.EstimateJSON(item)
		return ItemCost{SchemaTokens: n, TotalTokens: n}
	}

	var cost ItemCost
	if raw, ok := fields["name"]; ok {
		_ = json.Unmarshal(raw, &cost.Name)
	}
	if cost.Name == "" {
		if raw, ok := fields["uri"]; ok {
			_ = json.Unmarshal(raw, &cost.Name)
		}
	}
	if raw, ok := fields["description"]; ok {
		_ = json.Unmarshal(raw, &cost.Description)
	}

	schema := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		if k == "name" || k == "description" {
			continue
		}
		schema[k] = v
	}
	if len(schema) > 0 {
		if data, err := json.Marshal(schema); err == nil {
			cost.SchemaTokens = est.EstimateJSON(data)
		}
	}

	cost.TotalTokens = cost.SchemaTokens + est.Estimate(cost.Name) + est.Estimate(cost.Description)
	return cost
}
