package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/taskreactor/orchestrator/external/llm"
	"github.com/taskreactor/orchestrator/internal/telemetry"
)

// Decision is one of the five outcomes the comment-classification pipeline
// can reach.
type Decision string

const (
	DecisionApprove              Decision = "approved"
	DecisionReject               Decision = "rejected"
	DecisionAbandon              Decision = "abandoned"
	DecisionQuestion             Decision = "question"
	DecisionUnclear              Decision = "unclear"
	DecisionClarificationNeeded  Decision = "clarification_needed"
)

const (
	highConfidence   = 0.8
	mediumConfidence = 0.5
)

// responseSchema is the JSON-schema response contract the LLM stage
// requires (spec §4.2.1 step 2).
const responseSchema = `{
  "type": "object",
  "required": ["decision", "confidence"],
  "properties": {
    "decision": {"type": "string", "enum": ["approve", "reject", "abandon", "question", "unclear"]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "reasoning": {"type": "string"},
    "concerns": {"type": "array", "items": {"type": "string"}},
    "urgent": {"type": "boolean"}
  }
}`

// Context carries the optional signals the pattern and LLM stages use to
// adjust their scores (spec §4.2.1's context adjustments).
type Context struct {
	TaskTitle     string
	TaskType      string
	TestsPassed   bool
	Urgent        bool
	RejectionCount int
}

// IntentDecision is the escalation ladder's output.
type IntentDecision struct {
	Decision              Decision
	Confidence            float64
	Reasoning             string
	Concerns              []string
	SuggestedAction       string
	RequiresClarification bool
	AnalysisMethod        string
}

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)
var boldPattern = regexp.MustCompile(`\*{1,2}([^*]+)\*{1,2}`)
var italicPattern = regexp.MustCompile(`_{1,2}([^_]+)_{1,2}`)
var whitespacePattern = regexp.MustCompile(`\s+`)

// CleanText strips HTML tags and markdown emphasis and collapses whitespace,
// matching the original's _clean_text.
func CleanText(text string) string {
	cleaned := htmlTagPattern.ReplaceAllString(text, "")
	cleaned = boldPattern.ReplaceAllString(cleaned, "$1")
	cleaned = italicPattern.ReplaceAllString(cleaned, "$1")
	cleaned = whitespacePattern.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}

// Analyzer runs the three-stage escalation ladder.
type Analyzer struct {
	patterns *Table
	llm      llm.Client // may be nil: LLM stage is skipped entirely
	logger   telemetry.Logger
}

// NewAnalyzer builds an Analyzer. llmClient may be nil when no LLM is
// configured, in which case the ladder never escalates past the pattern
// stage.
func NewAnalyzer(patterns *Table, llmClient llm.Client, logger telemetry.Logger) *Analyzer {
	if logger == nil {
		logger = telemetry.NewNoop().Logger
	}
	return &Analyzer{patterns: patterns, llm: llmClient, logger: logger}
}

// Analyze runs the escalation ladder against replyText, stopping as soon as
// a high-confidence answer is reached (spec §4.2.1).
func (a *Analyzer) Analyze(ctx context.Context, replyText string, tc Context) IntentDecision {
	cleaned := CleanText(replyText)

	simple := a.analyzeWithPatterns(cleaned, tc)

	if simple.Confidence >= highConfidence {
		return simple
	}

	decision := simple
	if a.llm != nil {
		llmDecision, err := a.analyzeWithLLM(ctx, cleaned, tc, simple)
		if err != nil {
			a.logger.Warn(ctx, "intent: LLM stage failed, using pattern result", "error", err)
		} else if llmDecision.Confidence >= mediumConfidence {
			decision = llmDecision
		}
	}

	if decision.Confidence < mediumConfidence {
		return IntentDecision{
			Decision:              DecisionClarificationNeeded,
			Confidence:            decision.Confidence,
			Reasoning:             "ambiguous reply - human clarification required",
			Concerns:              []string{"ambiguity", "unclear_intent"},
			SuggestedAction:       "request_clarification",
			RequiresClarification: true,
			AnalysisMethod:        "escalation_level_3",
		}
	}

	return decision
}

// analyzeWithPatterns is the ladder's level 1 (spec §4.2.1 step 1).
func (a *Analyzer) analyzeWithPatterns(text string, tc Context) IntentDecision {
	approval := score(text, a.patterns.Approval)
	rejection := score(text, a.patterns.Rejection)
	abandonment := score(text, a.patterns.Abandonment)
	question := score(text, a.patterns.Question)

	if !tc.TestsPassed {
		rejection = clamp01(rejection * 1.2)
	}
	if tc.Urgent {
		approval = clamp01(approval * 1.1)
	}
	if tc.RejectionCount >= 2 {
		abandonment = clamp01(abandonment * 1.15)
	}

	maxScore := maxOf(approval, rejection, abandonment, question)

	var decision Decision
	var confidence float64
	switch {
	case abandonment >= 0.7 && abandonment == maxScore:
		decision, confidence = DecisionAbandon, minOf(abandonment, 0.98)
	case approval == maxScore && approval > 0.3:
		decision, confidence = DecisionApprove, minOf(approval, 0.95)
	case rejection == maxScore && rejection > 0.3:
		decision, confidence = DecisionReject, minOf(rejection, 0.95)
	case question == maxScore && question > 0.4:
		decision, confidence = DecisionQuestion, minOf(question, 0.8)
	default:
		decision, confidence = DecisionUnclear, maxScore
	}

	concerns := identifyConcerns(text)

	return IntentDecision{
		Decision:   decision,
		Confidence: confidence,
		Reasoning: fmt.Sprintf("pattern analysis: approval=%.2f, reject=%.2f, abandon=%.2f, concerns=%d",
			approval, rejection, abandonment, len(concerns)),
		Concerns:              concerns,
		SuggestedAction:       suggestAction(decision, concerns, confidence),
		RequiresClarification: confidence < mediumConfidence,
		AnalysisMethod:        "pattern_based_level_1",
	}
}

type llmVerdict struct {
	Decision   string   `json:"decision"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Concerns   []string `json:"concerns"`
	Urgent     bool     `json:"urgent"`
}

// analyzeWithLLM is the ladder's level 2 (spec §4.2.1 step 2).
func (a *Analyzer) analyzeWithLLM(ctx context.Context, text string, tc Context, fallback IntentDecision) (IntentDecision, error) {
	prompt := buildLLMPrompt(text, tc, fallback)

	resp, err := a.llm.Complete(ctx, llm.Request{
		Prompt:      prompt,
		Schema:      []byte(responseSchema),
		MaxTokens:   300,
		Temperature: 0.1,
	})
	if err != nil {
		return IntentDecision{}, fmt.Errorf("intent: LLM completion: %w", err)
	}

	var verdict llmVerdict
	if err := json.Unmarshal([]byte(resp.Text), &verdict); err != nil {
		return IntentDecision{}, fmt.Errorf("intent: parse LLM response: %w", err)
	}

	return mergeAnalyses(fallback, verdict), nil
}

var decisionFromWire = map[string]Decision{
	"approve": DecisionApprove,
	"reject":  DecisionReject,
	"abandon": DecisionAbandon,
	"question": DecisionQuestion,
	"unclear": DecisionUnclear,
}

// mergeAnalyses combines the pattern-stage result with the LLM verdict per
// spec §4.2.1 step 2's merge rule.
func mergeAnalyses(pattern IntentDecision, v llmVerdict) IntentDecision {
	llmDecision, ok := decisionFromWire[v.Decision]
	if !ok {
		llmDecision = DecisionUnclear
	}

	var finalDecision Decision
	var finalConfidence float64
	if llmDecision == pattern.Decision {
		finalDecision = llmDecision
		finalConfidence = minOf((pattern.Confidence+v.Confidence)/1.5, 0.98)
	} else if v.Confidence > pattern.Confidence {
		finalDecision = llmDecision
		finalConfidence = v.Confidence * 0.9
	} else {
		finalDecision = pattern.Decision
		finalConfidence = pattern.Confidence * 0.9
	}

	concerns := unionConcerns(pattern.Concerns, v.Concerns)

	return IntentDecision{
		Decision:   finalDecision,
		Confidence: finalConfidence,
		Reasoning: fmt.Sprintf("hybrid: patterns(%.2f) + llm(%.2f) = %s",
			pattern.Confidence, v.Confidence, v.Reasoning),
		Concerns:              concerns,
		SuggestedAction:       suggestAction(finalDecision, concerns, finalConfidence),
		RequiresClarification: finalConfidence < mediumConfidence,
		AnalysisMethod:        "hybrid_patterns_plus_llm",
	}
}

func buildLLMPrompt(text string, tc Context, fallback IntentDecision) string {
	var ctxInfo string
	if tc.TaskTitle != "" || tc.TaskType != "" {
		testStatus := "failed"
		if tc.TestsPassed {
			testStatus = "passed"
		}
		ctxInfo = fmt.Sprintf("\nContext:\n- task: %s\n- type: %s\n- tests: %s\n", tc.TaskTitle, tc.TaskType, testStatus)
	}

	return fmt.Sprintf(`Analyze this human reply validating an automated code change.

Reply: %q
%s
Preliminary pattern analysis: decision=%s confidence=%.2f concerns=%v

Refine this analysis. Return a JSON object matching the provided schema.
Reminder: "reject" restarts the workflow with new instructions, "abandon" terminates it entirely.`,
		text, ctxInfo, fallback.Decision, fallback.Confidence, fallback.Concerns)
}

var concernPatterns = map[string]*regexp.Regexp{
	"tests":           regexp.MustCompile(`(?i)\b(test|testing|spec|unittest)\b`),
	"security":        regexp.MustCompile(`(?i)\b(security|secure|vulner|auth|permission)\b`),
	"performance":     regexp.MustCompile(`(?i)\b(performance|speed|slow|fast|optim)\b`),
	"documentation":   regexp.MustCompile(`(?i)\b(doc|documentation|comment|readme)\b`),
	"style":           regexp.MustCompile(`(?i)\b(style|format|lint|prettier|code style)\b`),
	"breaking_change": regexp.MustCompile(`(?i)\b(breaking|break|compat|version)\b`),
	"dependency":      regexp.MustCompile(`(?i)\b(depend|package|library|import)\b`),
}

// concernOrder fixes iteration order so Reasoning strings are stable.
var concernOrder = []string{"tests", "security", "performance", "documentation", "style", "breaking_change", "dependency"}

func identifyConcerns(text string) []string {
	var concerns []string
	for _, name := range concernOrder {
		if concernPatterns[name].MatchString(text) {
			concerns = append(concerns, name)
		}
	}
	return concerns
}

func hasConcern(concerns []string, name string) bool {
	for _, c := range concerns {
		if c == name {
			return true
		}
	}
	return false
}

func unionConcerns(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range append(append([]string{}, a...), b...) {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

func suggestAction(decision Decision, concerns []string, confidence float64) string {
	switch decision {
	case DecisionApprove:
		switch {
		case confidence > 0.9:
			return "merge_immediately"
		case hasConcern(concerns, "tests"):
			return "run_additional_tests_then_merge"
		default:
			return "merge_with_standard_checks"
		}
	case DecisionReject:
		switch {
		case hasConcern(concerns, "tests"):
			return "fix_tests_and_retry_workflow"
		case hasConcern(concerns, "security"):
			return "security_review_and_retry_workflow"
		case hasConcern(concerns, "performance"):
			return "performance_optimization_and_retry_workflow"
		default:
			return "apply_modifications_and_retry_workflow"
		}
	case DecisionAbandon:
		return "terminate_workflow_immediately"
	case DecisionQuestion:
		return "provide_clarification"
	default:
		if confidence < 0.3 {
			return "request_explicit_approval_or_rejection_or_abandon"
		}
		return "seek_additional_context"
	}
}

func maxOf(vals ...float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minOf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
