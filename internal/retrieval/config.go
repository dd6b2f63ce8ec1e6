// Package retrieval implements the Hybrid Retriever (spec.md §4.9): a
// fan-out across working state, semantic, and episodic memory that scores
// each candidate on relevance and recency, then merges, filters, sorts,
// and truncates into one ranked result list. Grounded on
// original_source/backend/retrieval/{hybrid_retriever,retrieval_types}.py
// for the per-source scoring shape and the config object; the exact
// formulas and default weights follow spec.md §4.9's literal wording
// where it differs from the original (per-source weight pairs rather
// than one global relevance/recency split).
package retrieval

import "github.com/bentman/JARVISv5/internal/jerr"

// Source identifies which memory tier a Result came from.
type Source string

const (
	SourceWorkingState Source = "working_state"
	SourceSemantic     Source = "semantic"
	SourceEpisodic     Source = "episodic"
)

// Weights is the (relevance, recency) split applied when computing one
// source's final_score.
type Weights struct {
	Relevance float64
	Recency   float64
}

// Config holds the tunables spec.md §4.9 calls out by name. Defaults
// mirror the spec's stated per-source weight pairs.
type Config struct {
	MaxTotalResults         int
	MinFinalScoreThreshold  float64
	MaxWorkingStateMessages int
	RecencyDecayHours       float64
	WorkingStateWeights     Weights
	SemanticWeights         Weights
	EpisodicWeights         Weights
}

// DefaultConfig returns spec.md §4.9's stated defaults.
func DefaultConfig() Config {
	return Config{
		MaxTotalResults:         10,
		MinFinalScoreThreshold:  0.0,
		MaxWorkingStateMessages: 50,
		RecencyDecayHours:       24.0,
		WorkingStateWeights:     Weights{Relevance: 0.3, Recency: 0.7},
		SemanticWeights:         Weights{Relevance: 0.9, Recency: 0.1},
		EpisodicWeights:         Weights{Relevance: 0.7, Recency: 0.3},
	}
}

func (c Config) validate() *jerr.Error {
	if c.MaxTotalResults < 1 {
		return jerr.New(jerr.CodeInvalidArgument, "max_total_results must be >= 1")
	}
	if c.MinFinalScoreThreshold < 0.0 || c.MinFinalScoreThreshold > 1.0 {
		return jerr.New(jerr.CodeInvalidArgument, "min_final_score_threshold must be within [0,1]")
	}
	if c.MaxWorkingStateMessages < 1 {
		return jerr.New(jerr.CodeInvalidArgument, "max_working_state_messages must be >= 1")
	}
	if c.RecencyDecayHours <= 0.0 {
		return jerr.New(jerr.CodeInvalidArgument, "recency_decay_hours must be > 0")
	}
	return nil
}
