package consensus

import (
	"time"
)

// RequestType identifies the kind of task a round is asked to perform.
type RequestType string

const (
	RequestGenerate RequestType = "generate"
	RequestAnalyze  RequestType = "analyze"
	RequestEnhance  RequestType = "enhance"
	RequestValidate RequestType = "validate"
)

// Valid reports whether t is one of the known request types.
func (t RequestType) Valid() bool {
	switch t {
	case RequestGenerate, RequestAnalyze, RequestEnhance, RequestValidate:
		return true
	default:
		return false
	}
}

// Specialty tags what a node is good at.
type Specialty string

const (
	SpecialtyCreative  Specialty = "creative"
	SpecialtyTechnical Specialty = "technical"
	SpecialtyAesthetic Specialty = "aesthetic"
	SpecialtyBalanced  Specialty = "balanced"
)

// EvaluatorNode is an independently callable evaluator with a trust weighting.
type EvaluatorNode struct {
	ID          string     `json:"id" yaml:"id"`
	Name        string     `json:"name" yaml:"name"`
	Specialty   Specialty  `json:"specialty" yaml:"specialty"`
	Weight      float64    `json:"weight" yaml:"weight"`
	Reliability float64    `json:"reliability" yaml:"reliability"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty" yaml:"-"`
}

// clone returns a copy that shares no pointers with n.
func (n EvaluatorNode) clone() EvaluatorNode {
	if n.LastUsedAt != nil {
		t := *n.LastUsedAt
		n.LastUsedAt = &t
	}
	return n
}

// NodeSeed is the static description of a node supplied at construction.
type NodeSeed struct {
	ID                 string    `json:"id" yaml:"id"`
	Name               string    `json:"name" yaml:"name"`
	Weight             float64   `json:"weight" yaml:"weight"`
	Specialty          Specialty `json:"specialty" yaml:"specialty"`
	InitialReliability float64   `json:"initial_reliability" yaml:"initial_reliability"`
}

// ConsensusRequest is one task submitted for a consensus round.
type ConsensusRequest struct {
	Type               RequestType `json:"type"`
	Payload            []byte      `json:"payload"`
	RequiredConfidence float64     `json:"required_confidence"`
	MaxNodes           int         `json:"max_nodes"`
	TimeoutMs          int64       `json:"timeout_ms"`
}

// Timeout returns the per-node timeout as a duration.
func (r ConsensusRequest) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// NodeResponse is the answer of a single node within a round.
type NodeResponse struct {
	NodeID            string            `json:"node_id"`
	RawResult         []byte            `json:"raw_result"`
	Confidence        float64           `json:"confidence"`
	LatencyMs         int64             `json:"latency_ms"`
	ReasoningText     string            `json:"reasoning_text,omitempty"`
	SpecialtyMetadata map[string]string `json:"specialty_metadata,omitempty"`
}

func (r NodeResponse) clone() NodeResponse {
	if r.RawResult != nil {
		r.RawResult = append([]byte(nil), r.RawResult...)
	}
	if r.SpecialtyMetadata != nil {
		md := make(map[string]string, len(r.SpecialtyMetadata))
		for k, v := range r.SpecialtyMetadata {
			md[k] = v
		}
		r.SpecialtyMetadata = md
	}
	return r
}

// Timing records when a round ran and how long it took.
type Timing struct {
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
}

// ConsensusResult is the reduced outcome of a round.
type ConsensusResult struct {
	RoundID                string         `json:"round_id"`
	Fingerprint            string         `json:"fingerprint"`
	FinalResult            []byte         `json:"final_result"`
	FinalNodeID            string         `json:"final_node_id"`
	Confidence             float64        `json:"confidence"`
	AgreementScore         float64        `json:"agreement_score"`
	AgreementLevel         string         `json:"agreement_level"`
	QualityScore           float64        `json:"quality_score"`
	ParticipatingNodeCount int            `json:"participating_node_count"`
	PerNodeResponses       []NodeResponse `json:"per_node_responses"`
	Explanation            string         `json:"explanation"`
	Fallback               bool           `json:"fallback"`
	Satisfied              bool           `json:"satisfied"`
	Timing                 Timing         `json:"timing"`
}

// Clone returns a deep copy of r.
func (r *ConsensusResult) Clone() ConsensusResult {
	cp := *r
	if r.FinalResult != nil {
		cp.FinalResult = append([]byte(nil), r.FinalResult...)
	}
	if r.PerNodeResponses != nil {
		cp.PerNodeResponses = make([]NodeResponse, len(r.PerNodeResponses))
		for i, resp := range r.PerNodeResponses {
			cp.PerNodeResponses[i] = resp.clone()
		}
	}
	return cp
}
