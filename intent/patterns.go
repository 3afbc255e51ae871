// Package intent implements the Event Classifier & Intent Analyzer: the
// comment-classification escalation ladder and the lighter reactivation
// detector, grounded on
// original_source/backend/services/intelligent_reply_analyzer.py and
// original_source/services/reactivation_service.py.
package intent

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// WeightedPattern is a single regular expression and the score it
// contributes when it matches.
type WeightedPattern struct {
	Pattern string  `yaml:"pattern"`
	Weight  float64 `yaml:"weight"`

	compiled *regexp.Regexp
}

// Table holds every pattern bucket the escalation ladder and the
// reactivation detector consult. It is loaded from YAML at startup and can
// be reloaded at runtime (e.g. by an operator tool), so callers must treat a
// *Table as read-mostly and obtain their view via LoadTable/Reload rather than
// constructing one by hand in production code.
type Table struct {
	Approval    []WeightedPattern `yaml:"approval"`
	Rejection   []WeightedPattern `yaml:"rejection"`
	Abandonment []WeightedPattern `yaml:"abandonment"`
	Question    []WeightedPattern `yaml:"question"`

	ExplicitRequest []WeightedPattern `yaml:"explicit_request"`
	QuestionRequest []WeightedPattern `yaml:"question_request"`
	AgentSignature  []WeightedPattern `yaml:"agent_signature"`
}

// LoadTable parses YAML into a Table and compiles every pattern, failing
// fast on a malformed regex rather than at first use.
func LoadTable(raw []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("intent: parse pattern table: %w", err)
	}
	for _, group := range t.groups() {
		for i := range *group {
			p := &(*group)[i]
			re, err := regexp.Compile("(?i)" + p.Pattern)
			if err != nil {
				return nil, fmt.Errorf("intent: compile pattern %q: %w", p.Pattern, err)
			}
			p.compiled = re
		}
	}
	return &t, nil
}

func (t *Table) groups() []*[]WeightedPattern {
	return []*[]WeightedPattern{
		&t.Approval, &t.Rejection, &t.Abandonment, &t.Question,
		&t.ExplicitRequest, &t.QuestionRequest, &t.AgentSignature,
	}
}

// Reload replaces the contents of t with a freshly parsed table, preserving
// the pointer identity callers hold (spec: "reloadable via an admin call").
func (t *Table) Reload(raw []byte) error {
	fresh, err := LoadTable(raw)
	if err != nil {
		return err
	}
	*t = *fresh
	return nil
}

// score implements spec §4.2.1's weighted scoring formula:
// clamp(Σ weight · (1 + 0.1·max(0, matches−1)), 0, 1).
func score(text string, patterns []WeightedPattern) float64 {
	total := 0.0
	for _, p := range patterns {
		matches := p.compiled.FindAllStringIndex(text, -1)
		n := len(matches)
		if n == 0 {
			continue
		}
		boost := 1 + 0.1*float64(max(0, n-1))
		total += p.Weight * boost
	}
	return clamp01(total)
}

// matchCount reports how many of the given patterns match text at least
// once; used by the reactivation detector's 0.2-per-match scoring.
func matchCount(text string, patterns []WeightedPattern) int {
	n := 0
	for _, p := range patterns {
		if p.compiled.MatchString(text) {
			n++
		}
	}
	return n
}

func anyMatch(text string, patterns []WeightedPattern) bool {
	for _, p := range patterns {
		if p.compiled.MatchString(text) {
			return true
		}
	}
	return false
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

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// DefaultTableYAML is the pattern table shipped with the orchestrator,
// transcribed from the original system's hardcoded Python tables
// (_load_quick_patterns and ReactivationService.reactivation_patterns) into
// the loadable YAML form this package expects. The orchestrator loads it at
// startup; Table.Reload swaps in a different table at runtime.
const DefaultTableYAML = `
approval:
  - { pattern: '\b(oui|yes|ok|go|ship)\b', weight: 0.9 }
  - { pattern: '\b(parfait|excellent|good|great|lgtm)\b', weight: 0.8 }
  - { pattern: '\b(valide|approve|accept|merge)\b', weight: 0.95 }
  - { pattern: '\b(deploy|release|publish)\b', weight: 0.85 }
  - { pattern: '[✅✓👍]', weight: 0.9 }
  - { pattern: '^(oui|yes|ok)[\s\.,!]*$', weight: 0.95 }
  - { pattern: '\b(continue|proceed|go ahead)\b', weight: 0.8 }
  - { pattern: '\+1', weight: 0.85 }

rejection:
  - { pattern: '\b(non|no)\b', weight: 0.9 }
  - { pattern: '\b(probleme|problem|issue|bug|erreur|error)\b', weight: 0.85 }
  - { pattern: '\b(refais|redo|fix|debug|correct)\b', weight: 0.9 }
  - { pattern: '\b(change|modify|update|revise|ajuste)\b', weight: 0.75 }
  - { pattern: '\b(trouve une autre|essaie|retente)\b', weight: 0.8 }
  - { pattern: '-1', weight: 0.85 }

abandonment:
  - { pattern: '\b(abandon|abandonne)\b', weight: 0.98 }
  - { pattern: '\b(stop|arrete|arret)\b', weight: 0.9 }
  - { pattern: '\b(laisse tomber|forget it|give up)\b', weight: 0.95 }
  - { pattern: '\b(termine|end|finish)\b.*\b(workflow|process|task)\b', weight: 0.9 }
  - { pattern: '\b(annule|cancel)\b.*\b(tout|everything|all)\b', weight: 0.9 }
  - { pattern: '^(abandon|stop)[\s\.,!]*$', weight: 0.98 }
  - { pattern: '⛔', weight: 0.95 }

question:
  - { pattern: '\?', weight: 0.8 }
  - { pattern: '\b(comment|how|pourquoi|why|what|quoi)\b', weight: 0.7 }
  - { pattern: '\b(peux-tu|can you|could you|pourrais-tu)\b', weight: 0.8 }
  - { pattern: '\b(expliquer|explain|clarify|preciser)\b', weight: 0.85 }
  - { pattern: '\b(que se passe|what happens|what about)\b', weight: 0.8 }

explicit_request:
  - { pattern: '\b(ajoute|ajout|add|nouveau|nouvelle|creer?|cree|create|faire|developper?|dev)\b', weight: 0.2 }
  - { pattern: '\b(modifier?|changer?|update|mettre a jour)\b', weight: 0.2 }
  - { pattern: '\b(implementer?|implement|developper?|dev|build|construire)\b', weight: 0.2 }
  - { pattern: '\b(corriger?|correction|fix|reparer?)\b', weight: 0.2 }
  - { pattern: '\b(ameliorer?|amelioration|improve|enhancement|optimiser?)\b', weight: 0.2 }
  - { pattern: '\b(api|rest|graphql|interface|service|module|systeme)\b', weight: 0.2 }

question_request:
  - { pattern: '\b(peux-tu|pouvez-vous|can you|pourrait-tu|pourrais-tu)\b', weight: 0.2 }
  - { pattern: '\b(il faut|il faudrait|we need|il serait bien|ajouter?)\b', weight: 0.2 }
  - { pattern: '\b(comment|how|que faire|what about)\b', weight: 0.2 }

agent_signature:
  - { pattern: '🤖\s*AI-AGENT\s*🤖', weight: 1 }
  - { pattern: '<!--\s*AI_AGENT_SIGNATURE', weight: 1 }
  - { pattern: '✅.*pull request.*creee', weight: 1 }
  - { pattern: '🎯.*workflow.*termine', weight: 1 }
  - { pattern: '📋.*mise a jour.*statut', weight: 1 }
  - { pattern: '🔧.*correction.*appliquee', weight: 1 }
  - { pattern: 'validation humaine', weight: 1 }
  - { pattern: 'human validation', weight: 1 }
  - { pattern: '🚀.*workflow.*complete', weight: 1 }
  - { pattern: '📊.*resultats.*tests', weight: 1 }
  - { pattern: '🔍.*analyse.*code', weight: 1 }
  - { pattern: '^[🎯📋✅❌🚀🔧📊🔍🤖]', weight: 1 }
  - { pattern: 'workflow\s+(completed|termine|finished)', weight: 1 }
  - { pattern: 'task\s+(completed|terminee|finished)', weight: 1 }
`
