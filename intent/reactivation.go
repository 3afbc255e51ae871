package intent

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	reactivationThreshold = 0.1
	reactivationCacheTTL  = 5 * time.Minute
)

var technicalKeywords = []string{"feature", "bug", "api", "backend", "frontend", "database", "ui", "ux"}

// UpdateAnalysis is the reactivation detector's output: it does not produce
// an approve/reject verdict, only whether an update on a finished Task reads
// as a new instruction (spec §4.2.2).
type UpdateAnalysis struct {
	RequiresReactivation  bool
	Confidence            float64
	Reasoning             string
	ExtractedRequirements string
	IsFromAgent           bool
}

// ReactivationDetector is the lighter classifier gating whether an update on
// an already-terminal Task should reactivate it. It is safe for concurrent
// use.
type ReactivationDetector struct {
	patterns *Table

	mu    sync.Mutex
	cache map[string]time.Time // "taskID:textHash" -> last-seen
}

// NewReactivationDetector builds a detector sharing the same pattern table
// the comment-classification ladder uses.
func NewReactivationDetector(patterns *Table) *ReactivationDetector {
	return &ReactivationDetector{patterns: patterns, cache: make(map[string]time.Time)}
}

// Analyze decides whether updateText on taskID should reactivate the task,
// implementing spec §4.2.2's agent-signature rejection, two-group scoring,
// context bonus, and per-(task, text) 5-minute dedup cache.
func (d *ReactivationDetector) Analyze(taskID string, updateText string, now time.Time) UpdateAnalysis {
	cleanText := strings.ToLower(strings.TrimSpace(updateText))

	key := cacheKey(taskID, cleanText)
	d.mu.Lock()
	d.evictExpired(now)
	if last, seen := d.cache[key]; seen && now.Sub(last) < reactivationCacheTTL {
		d.mu.Unlock()
		return UpdateAnalysis{
			RequiresReactivation: false,
			Confidence:           0.95,
			Reasoning:            "recent update already analyzed - anti-spam protection",
		}
	}
	d.cache[key] = now
	d.mu.Unlock()

	if anyMatch(cleanText, d.patterns.AgentSignature) {
		return UpdateAnalysis{
			RequiresReactivation: false,
			Confidence:           0.9,
			Reasoning:            "message generated by the agent - no reactivation",
			IsFromAgent:          true,
		}
	}

	explicitScore := reactivationPatternScore(cleanText, d.patterns.ExplicitRequest)
	questionScore := reactivationPatternScore(cleanText, d.patterns.QuestionRequest)
	contextBonus := contextBonus(cleanText)

	total := explicitScore + questionScore + contextBonus
	requires := total >= reactivationThreshold
	confidence := minOf(total, 0.95)

	var requirements string
	if requires {
		requirements = extractRequirements(updateText)
	}

	return UpdateAnalysis{
		RequiresReactivation:  requires,
		Confidence:            confidence,
		Reasoning:             buildReactivationReasoning(explicitScore, questionScore, contextBonus, total),
		ExtractedRequirements: requirements,
	}
}

func cacheKey(taskID, cleanText string) string {
	sum := sha256.Sum256([]byte(cleanText))
	return taskID + ":" + hex.EncodeToString(sum[:])[:16]
}

func (d *ReactivationDetector) evictExpired(now time.Time) {
	for k, t := range d.cache {
		if now.Sub(t) > reactivationCacheTTL {
			delete(d.cache, k)
		}
	}
}

// reactivationPatternScore implements the 0.2-per-match, 0.4-cap scoring
// spec §4.2.2 assigns to explicit_request/question_request.
func reactivationPatternScore(text string, patterns []WeightedPattern) float64 {
	n := matchCount(text, patterns)
	return minOf(float64(n)*0.2, 0.4)
}

// contextBonus implements spec §4.2.2's bonus: length ≥10 chars plus
// technical keywords, capped at 0.2.
func contextBonus(text string) float64 {
	bonus := 0.0
	if len(strings.TrimSpace(text)) >= 10 {
		bonus += 0.1
	}
	for _, word := range technicalKeywords {
		if strings.Contains(text, word) {
			bonus += 0.05
		}
	}
	return minOf(bonus, 0.2)
}

// extractRequirements pulls up to 3 substantive lines out of the raw update
// text, matching the original's simple heuristic extractor.
func extractRequirements(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	var relevant []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) > 10 {
			relevant = append(relevant, trimmed)
		}
		if len(relevant) == 3 {
			break
		}
	}
	return strings.Join(relevant, "\n")
}

func buildReactivationReasoning(explicit, question, context, total float64) string {
	var parts []string
	if explicit > 0 {
		parts = append(parts, fmt.Sprintf("explicit request detected (score: %.2f)", explicit))
	}
	if question > 0 {
		parts = append(parts, fmt.Sprintf("question/implicit request (score: %.2f)", question))
	}
	if context > 0 {
		parts = append(parts, fmt.Sprintf("favorable context (score: %.2f)", context))
	}
	reasoning := "no reactivation pattern detected"
	if len(parts) > 0 {
		reasoning = strings.Join(parts, " + ")
	}
	return fmt.Sprintf("%s = total score: %.2f", reasoning, total)
}
