// Package matcher implements the Matcher component (§4.1): given a
// normalized ticket, pick or reject a runbook using a precomputed
// similarity index, returning a confidence that gates auto-execute. The
// Matcher never executes anything — it only decides which runbook, if
// any, fits.
package matcher

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/codeready-toolchain/orchestrator/pkg/config"
	"github.com/codeready-toolchain/orchestrator/pkg/models"
)

// confidence blend weights. Embedding similarity dominates since it is the
// only signal that actually reads the ticket's free text; token overlap
// and recency are corroborating signals, not primary ones.
const (
	weightEmbeddingSimilarity = 0.60
	weightTokenOverlap        = 0.25
	weightRecencyPrior        = 0.15

	// recencyHalfLife is how long it takes a successful-run's recency
	// contribution to decay to half its peak value.
	recencyHalfLife = 14 * 24 * time.Hour
)

// Candidate is one runbook as returned by an Index query: its identity,
// its precomputed embedding similarity to the ticket, and the metadata the
// Matcher needs for the token-overlap and recency components and the
// tie-break rule.
type Candidate struct {
	Runbook             models.RunbookRef
	EmbeddingSimilarity float64 // ∈ [0,1], precomputed by the index
	Service             string
	Environment         string
	Archived            bool
	SuccessCount        int
	RunCount            int
	LastSucceededAt     *time.Time
	ApprovedAt          *time.Time
}

// Index is the precomputed similarity index collaborator (§1: an external
// collaborator, not reimplemented here — vector search itself is out of
// scope). Query returns candidates already embedding-scored against the
// ticket's title+description.
type Index interface {
	Query(ctx context.Context, ticket models.Ticket, limit int) ([]Candidate, error)
}

// KeywordFallback is consulted when Index.Query fails (§4.1: "vector store
// unavailable → degrade to keyword-only matching"). It has no embedding
// signal at all; its candidates carry EmbeddingSimilarity == 0 and are
// ranked on token overlap and recency alone.
type KeywordFallback interface {
	Query(ctx context.Context, ticket models.Ticket, limit int) ([]Candidate, error)
}

// Match is one scored, explained candidate returned to the caller.
type Match struct {
	Runbook    models.RunbookRef
	Confidence float64
	Rationale  string
	Degraded   bool
}

// Matcher blends an Index's embedding similarity with token overlap and a
// recency prior, filters archived runbooks, and applies the spec's
// threshold and tie-break rules.
type Matcher struct {
	index                Index
	keywordFallback      KeywordFallback
	matchMinimum         float64
	autoExecuteThreshold float64
}

// New builds a Matcher. matchMinimum/autoExecuteThreshold are normally
// config.SystemConfig.MatchMinimum/AutoExecuteThreshold (§6 defaults 0.5/0.8).
func New(index Index, keywordFallback KeywordFallback, matchMinimum, autoExecuteThreshold float64) *Matcher {
	return &Matcher{
		index:                index,
		keywordFallback:      keywordFallback,
		matchMinimum:         matchMinimum,
		autoExecuteThreshold: autoExecuteThreshold,
	}
}

// Match returns up to k candidates for ticket, sorted by confidence
// descending, with archived runbooks filtered out and confidences below
// matchMinimum excluded entirely (§4.1).
func (m *Matcher) Match(ctx context.Context, ticket models.Ticket, k int) ([]Match, error) {
	candidates, degraded, err := m.query(ctx, ticket, k)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		if c.Archived {
			continue
		}
		confidence := m.blend(ticket, c, now)
		if confidence < m.matchMinimum {
			continue
		}
		matches = append(matches, Match{
			Runbook:    c.Runbook,
			Confidence: confidence,
			Rationale:  m.rationale(ticket, c, confidence, degraded),
			Degraded:   degraded,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return m.tieBreak(candidates, matches[i], matches[j])
	})

	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// ShouldAutoExecute reports whether match's confidence clears the
// auto-execute threshold and the global mode permits unattended creation
// (§4.1: "at or above auto_execute_threshold, and the global mode is
// auto, the Matcher asks the State Machine to create a Session").
func (m *Matcher) ShouldAutoExecute(match Match, mode config.ExecutionMode) bool {
	return mode == config.ModeAuto && match.Confidence >= m.autoExecuteThreshold && !match.Degraded
}

func (m *Matcher) query(ctx context.Context, ticket models.Ticket, k int) ([]Candidate, bool, error) {
	candidates, err := m.index.Query(ctx, ticket, k)
	if err == nil {
		return candidates, false, nil
	}
	if m.keywordFallback == nil {
		return nil, false, fmt.Errorf("matcher: index unavailable and no keyword fallback configured: %w", err)
	}
	candidates, fallbackErr := m.keywordFallback.Query(ctx, ticket, k)
	if fallbackErr != nil {
		return nil, false, fmt.Errorf("matcher: index unavailable (%v) and keyword fallback failed: %w", err, fallbackErr)
	}
	return candidates, true, nil
}

// blend combines the three confidence signals named in §4.1. A degraded
// (keyword-fallback) candidate carries EmbeddingSimilarity == 0 by
// construction, which naturally caps its confidence below what a healthy
// embedding match would reach — it is never inflated to compensate.
func (m *Matcher) blend(ticket models.Ticket, c Candidate, now time.Time) float64 {
	overlap := tokenOverlap(ticket, c)
	recency := recencyPrior(c, now)
	return weightEmbeddingSimilarity*c.EmbeddingSimilarity +
		weightTokenOverlap*overlap +
		weightRecencyPrior*recency
}

// tokenOverlap is exact token overlap on service/environment (§4.1): 1.0
// if both match, 0.5 if exactly one matches, 0 otherwise.
func tokenOverlap(ticket models.Ticket, c Candidate) float64 {
	score := 0.0
	if ticket.Service != "" && strings.EqualFold(ticket.Service, c.Service) {
		score += 0.5
	}
	if ticket.Environment != "" && strings.EqualFold(ticket.Environment, c.Environment) {
		score += 0.5
	}
	return score
}

// recencyPrior decays exponentially from the runbook's last successful run,
// giving recently-proven runbooks a small boost without ever dominating
// the embedding signal.
func recencyPrior(c Candidate, now time.Time) float64 {
	if c.LastSucceededAt == nil {
		return 0
	}
	age := now.Sub(*c.LastSucceededAt)
	if age < 0 {
		age = 0
	}
	halfLives := float64(age) / float64(recencyHalfLife)
	return math.Exp2(-halfLives)
}

func (m *Matcher) rationale(ticket models.Ticket, c Candidate, confidence float64, degraded bool) string {
	base := fmt.Sprintf("embedding_similarity=%.2f token_overlap=%.2f confidence=%.2f",
		c.EmbeddingSimilarity, tokenOverlap(ticket, c), confidence)
	if degraded {
		return base + " (degraded: vector store unavailable, keyword-only match)"
	}
	return base
}

// tieBreak resolves equal-confidence matches by higher historical success
// rate, then by more recent approval timestamp (§4.1).
func (m *Matcher) tieBreak(candidates []Candidate, a, b Match) bool {
	ca := findCandidate(candidates, a.Runbook)
	cb := findCandidate(candidates, b.Runbook)

	rateA := successRate(ca)
	rateB := successRate(cb)
	if rateA != rateB {
		return rateA > rateB
	}

	approvedA := approvedAtOrZero(ca)
	approvedB := approvedAtOrZero(cb)
	return approvedA.After(approvedB)
}

func successRate(c Candidate) float64 {
	if c.RunCount == 0 {
		return 0
	}
	return float64(c.SuccessCount) / float64(c.RunCount)
}

func approvedAtOrZero(c Candidate) time.Time {
	if c.ApprovedAt == nil {
		return time.Time{}
	}
	return *c.ApprovedAt
}

func findCandidate(candidates []Candidate, ref models.RunbookRef) Candidate {
	for _, c := range candidates {
		if c.Runbook == ref {
			return c
		}
	}
	return Candidate{}
}
