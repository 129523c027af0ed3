package analyzer

import "fmt"

// protocolVersion is the MCP revision offered during the handshake.
const protocolVersion = "2025-03-26"

// ItemCost prices one capability definition.
type ItemCost struct {
	// Name is the definition's name, or uri for resources without one.
	Name string `json:"name"`

	// Description is the human-readable description, if any.
	Description string `json:"description,omitempty"`

	// SchemaTokens is the cost of the definition minus name and
	// description: input schemas, argument lists, uris.
	SchemaTokens int `json:"schemaTokens"`

	// TotalTokens is the full cost of holding this definition in context.
	TotalTokens int `json:"totalTokens"`
}

// CategoryAnalysis is the rollup for one capability category.
type CategoryAnalysis struct {
	Count       int        `json:"count"`
	TotalTokens int64      `json:"totalTokens"`
	Items       []ItemCost `json:"items,omitempty"`
}

// ServerAnalysis is the complete costed inventory of a server.
type ServerAnalysis struct {
	ServerName      string `json:"serverName"`
	ServerVersion   string `json:"serverVersion,omitempty"`
	ProtocolVersion string `json:"protocolVersion"`

	Tools     CategoryAnalysis `json:"tools"`
	Prompts   CategoryAnalysis `json:"prompts"`
	Resources CategoryAnalysis `json:"resources"`

	// TotalContextTokens is the sum of the three category totals.
	TotalContextTokens int64 `json:"totalContextTokens"`
}

// state names the analyzer's progress. The machine is linear and terminal
// on Done or Failed.
type state int

const (
	stateSpawning state = iota
	stateHandshaking
	stateListingTools
	stateListingPrompts
	stateListingResources
	stateScoring
	stateDone
	stateFailed
)

func (s state) String() string {
	switch s {
	case stateSpawning:
		return "spawning"
	case stateHandshaking:
		return "handshaking"
	case stateListingTools:
		return "listing tools"
	case stateListingPrompts:
		return "listing prompts"
	case stateListingResources:
		return "listing resources"
	case stateScoring:
		return "scoring"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// AnalysisError is the single error reported for a failed run.
type AnalysisError struct {
	// Stage is the analyzer state in which the run failed.
	Stage string

	// Err is the underlying cause.
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analyze: %s: %v", e.Stage, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }
