package retrieval

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/bentman/JARVISv5/internal/jerr"
	"github.com/bentman/JARVISv5/internal/memmgr"
	"github.com/bentman/JARVISv5/internal/metrics"
)

// NowProvider supplies the current time; tests inject a fixed clock so
// recency scores are reproducible.
type NowProvider func() time.Time

// Result is one scored candidate from a single memory source.
type Result struct {
	Source    Source
	Content   string
	Relevance float64
	Recency   float64
	Final     float64
	TaskID    string
	Metadata  map[string]any
}

// Retriever fans a query out across the three memory tiers and returns
// one merged, ranked list (spec.md §4.9).
type Retriever struct {
	mem    *memmgr.Manager
	cfg    Config
	now    NowProvider
	logger *zap.Logger
}

// Option configures a Retriever at construction.
type Option func(*Retriever)

// WithNowProvider overrides the clock used for recency scoring.
func WithNowProvider(now NowProvider) Option {
	return func(r *Retriever) { r.now = now }
}

// WithLogger attaches a logger for per-source fail-safe warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Retriever) { r.logger = logger }
}

// New builds a Retriever over an already-wired memmgr.Manager. mem may
// have individual store handles left nil; that source then contributes
// zero results rather than erroring.
func New(mem *memmgr.Manager, cfg Config, opts ...Option) (*Retriever, *jerr.Error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	r := &Retriever{mem: mem, cfg: cfg, now: func() time.Time { return time.Now().UTC() }, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Retrieve runs the full fan-out/score/merge/filter/sort/truncate
// pipeline for one query. A failing or empty source contributes zero
// results, never an error; the only error this returns is an invalid
// query.
func (r *Retriever) Retrieve(ctx context.Context, query string, taskID string) ([]Result, *jerr.Error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, jerr.New(jerr.CodeInvalidArgument, "query must be non-empty")
	}
	queryStart := r.now()
	defer func() { metrics.RetrievalLatency.Observe(r.now().Sub(queryStart).Seconds()) }()

	results := make([]Result, 0)
	results = append(results, r.retrieveWorkingState(trimmed, taskID)...)
	results = append(results, r.retrieveSemantic(trimmed, taskID)...)
	results = append(results, r.retrieveEpisodic(ctx, trimmed, taskID)...)

	filtered := make([]Result, 0, len(results))
	for _, res := range results {
		if res.Final >= r.cfg.MinFinalScoreThreshold {
			filtered = append(filtered, res)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		a, b := filtered[i], filtered[j]
		if a.Final != b.Final {
			return a.Final > b.Final
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return contentHash(a.Content) < contentHash(b.Content)
	})

	if len(filtered) > r.cfg.MaxTotalResults {
		filtered = filtered[:r.cfg.MaxTotalResults]
	}
	return filtered, nil
}

func (r *Retriever) retrieveWorkingState(query, taskID string) []Result {
	if r.mem == nil || r.mem.Working == nil || taskID == "" {
		return nil
	}
	messages, err := r.mem.Working.ListRecentMessages(taskID, r.cfg.MaxWorkingStateMessages)
	if err != nil {
		r.logger.Warn("retrieval: working state source failed, contributing zero results", zap.Error(err))
		return nil
	}
	n := len(messages)
	if n == 0 {
		return nil
	}

	words := tokenize(query)
	if len(words) == 0 {
		return nil
	}

	out := make([]Result, 0, n)
	for i, msg := range messages {
		contentLower := strings.ToLower(msg.Content)
		matched := 0
		for _, w := range words {
			if strings.Contains(contentLower, w) {
				matched++
			}
		}
		relevance := clamp01(float64(matched) / float64(len(words)))

		var recency float64
		if n == 1 {
			recency = 1.0
		} else {
			recency = 0.1 + 0.9*(float64(i)/float64(n-1))
		}

		out = append(out, Result{
			Source:    SourceWorkingState,
			Content:   msg.Content,
			Relevance: relevance,
			Recency:   recency,
			Final:     computeFinal(relevance, recency, r.cfg.WorkingStateWeights),
			TaskID:    taskID,
			Metadata:  map[string]any{"role": string(msg.Role), "position": i},
		})
	}
	return out
}

func (r *Retriever) retrieveSemantic(query, taskID string) []Result {
	if r.mem == nil || r.mem.Semantic == nil {
		return nil
	}
	rows, err := r.mem.Semantic.SearchText(query, r.cfg.MaxTotalResults)
	if err != nil {
		r.logger.Warn("retrieval: semantic source failed, contributing zero results", zap.Error(err))
		return nil
	}

	out := make([]Result, 0, len(rows))
	for _, row := range rows {
		recency := r.timestampRecency(row.Metadata)
		metadata := map[string]any{"vector_id": row.VectorID, "distance": row.Distance}
		for k, v := range row.Metadata {
			metadata[k] = v
		}
		out = append(out, Result{
			Source:    SourceSemantic,
			Content:   row.Text,
			Relevance: clamp01(row.SimilarityScore),
			Recency:   recency,
			Final:     computeFinal(row.SimilarityScore, recency, r.cfg.SemanticWeights),
			TaskID:    taskID,
			Metadata:  metadata,
		})
	}
	return out
}

func (r *Retriever) retrieveEpisodic(ctx context.Context, query, taskID string) []Result {
	if r.mem == nil || r.mem.Episodic == nil {
		return nil
	}
	keywords := extractKeywords(query)
	if len(keywords) == 0 {
		return nil
	}

	type seenDecision struct {
		id         int64
		taskID     string
		content    string
		actionType string
		status     string
		timestamp  time.Time
	}
	seen := make(map[int64]seenDecision)

	for _, kw := range keywords {
		decisions, err := r.mem.Episodic.SearchDecisions(ctx, kw, taskID, r.cfg.MaxTotalResults)
		if err != nil {
			r.logger.Warn("retrieval: episodic keyword search failed, skipping keyword", zap.String("keyword", kw), zap.Error(err))
			continue
		}
		for _, d := range decisions {
			seen[d.ID] = seenDecision{
				id: d.ID, taskID: d.TaskID, content: d.Content,
				actionType: string(d.ActionType), status: string(d.Status), timestamp: d.Timestamp,
			}
		}
	}

	out := make([]Result, 0, len(seen))
	for _, d := range seen {
		contentLower := strings.ToLower(d.content)
		matched := 0
		for _, kw := range keywords {
			if strings.Contains(contentLower, kw) {
				matched++
			}
		}
		relevance := clamp01(float64(matched) / float64(len(keywords)))
		recency := r.ageRecency(d.timestamp)

		out = append(out, Result{
			Source:    SourceEpisodic,
			Content:   d.content,
			Relevance: relevance,
			Recency:   recency,
			Final:     computeFinal(relevance, recency, r.cfg.EpisodicWeights),
			TaskID:    d.taskID,
			Metadata:  map[string]any{"id": d.id, "action_type": d.actionType, "status": d.status},
		})
	}
	return out
}

// timestampRecency reads a "timestamp" key out of source metadata (RFC
// 3339 string) and scores its age; a missing or unparsable timestamp
// falls back to 0.5 per spec.md §4.9.
func (r *Retriever) timestampRecency(metadata map[string]any) float64 {
	raw, ok := metadata["timestamp"]
	if !ok {
		return 0.5
	}
	ts, ok := raw.(string)
	if !ok || strings.TrimSpace(ts) == "" {
		return 0.5
	}
	parsed, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return 0.5
	}
	return r.ageRecency(parsed)
}

func (r *Retriever) ageRecency(parsed time.Time) float64 {
	ageHours := r.now().Sub(parsed).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	score := math.Exp(-ageHours / r.cfg.RecencyDecayHours)
	if score < 0.1 {
		return 0.1
	}
	if score > 1.0 {
		return 1.0
	}
	return score
}

func computeFinal(relevance, recency float64, w Weights) float64 {
	sum := w.Relevance + w.Recency
	if sum <= 0 {
		return 0
	}
	weighted := clamp01(relevance)*w.Relevance + clamp01(recency)*w.Recency
	return clamp01(weighted / sum)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func contentHash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// tokenize lowercases and splits on anything that isn't a letter or
// digit, dropping empty fields.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return fields
}

// extractKeywords tokenizes the query and keeps words longer than 3
// runes, deduplicated in first-seen order (spec.md §4.9's episodic
// source).
func extractKeywords(query string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, w := range tokenize(query) {
		if len(w) <= 3 || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
