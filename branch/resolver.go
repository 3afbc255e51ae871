// Package branch resolves the base branch for a new Run and validates
// proposed branch names, grounded on
// original_source/backend/services/base_branch_resolver.py's five-level
// priority chain (spec §4.4).
package branch

import (
	"regexp"
	"strings"
)

// DefaultTypeRules maps an inferred task type to its base branch, matching
// the original's hardcoded defaults (overridable via BASE_BRANCH_RULES).
var DefaultTypeRules = map[string]string{
	"hotfix":     "main",
	"bug":        "main",
	"bugfix":     "main",
	"feature":    "develop",
	"feat":       "develop",
	"experiment": "staging",
	"test":       "staging",
	"release":    "release",
}

// Resolver resolves a base branch from the priority chain spec §4.4
// describes: event-supplied, per-repo override, task-type inference,
// in-content cues, global default.
type Resolver struct {
	defaultBranch string
	repoBranches  map[string]string // "owner/repo" -> branch
	typeRules     map[string]string
}

// NewResolver builds a Resolver. A nil typeRules falls back to
// DefaultTypeRules; a nil repoBranches disables level 2 entirely.
func NewResolver(defaultBranch string, repoBranches, typeRules map[string]string) *Resolver {
	if typeRules == nil {
		typeRules = DefaultTypeRules
	}
	return &Resolver{defaultBranch: defaultBranch, repoBranches: repoBranches, typeRules: typeRules}
}

// Input carries the signals the resolver's priority chain consults.
type Input struct {
	EventBranch   string // base_branch supplied directly by the ticket event
	RepositoryURL string
	Title         string
	Description   string
	Priority      string
}

// Resolve walks the priority chain and returns the base branch to use.
func (r *Resolver) Resolve(in Input) string {
	if in.EventBranch != "" && IsValidBranchName(in.EventBranch) {
		return sanitizeBranchName(in.EventBranch, r.defaultBranch)
	}

	if in.RepositoryURL != "" && len(r.repoBranches) > 0 {
		if repo := extractRepoName(in.RepositoryURL); repo != "" {
			if b, ok := r.repoBranches[repo]; ok {
				return b
			}
		}
	}

	if t := inferTaskType(in.Title, in.Description, in.Priority); t != "" {
		if b, ok := r.typeRules[t]; ok {
			return b
		}
	}

	if b := advancedInference(in.Title, in.Description); b != "" {
		return b
	}

	return r.defaultBranch
}

var repoURLPattern = regexp.MustCompile(`github\.com[/:]([^/]+/[^/]+)`)

// extractRepoName pulls "owner/repo" out of a GitHub URL, tolerating a
// trailing ".git" and slash.
func extractRepoName(repositoryURL string) string {
	url := strings.TrimSuffix(strings.TrimRight(strings.TrimSpace(repositoryURL), "/"), ".git")
	url = strings.ReplaceAll(url, ".git", "")
	if m := repoURLPattern.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	parts := strings.Split(url, "/")
	if len(parts) >= 2 {
		return parts[len(parts)-2] + "/" + parts[len(parts)-1]
	}
	return ""
}

var taskTypePatterns = []struct {
	taskType string
	patterns []*regexp.Regexp
}{
	{"hotfix", compileAll(`\bhotfix\b`, `\bcritique\b`, `\burgent\b`, `\bproduction\b`, `\bprod\b`, `\bdown\b`, `\bbloquant\b`)},
	{"bug", compileAll(`\bbug\b`, `\berreur\b`, `\bfix\b`, `\bcorrection\b`, `\bprobleme\b`, `\bproblem\b`)},
	{"feature", compileAll(`\bfeature\b`, `\bfonctionnalit[ée]\b`, `\bajoute\b`, `\bnouveau\b`, `\badd\b`, `\bcr[ée]e\b`)},
	{"experiment", compileAll(`\btest\b`, `\bexp[ée]rimen\b`, `\bessai\b`, `\bpoc\b`, `\bproof.of.concept\b`)},
	{"release", compileAll(`\brelease\b`, `\bversion\b`, `\bv\d+\.\d+`, `\bd[ée]ploiement\b`)},
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// inferTaskType infers a task type from title/description/priority, used to
// look up the base branch in typeRules (spec §4.4 level 3).
func inferTaskType(title, description, priority string) string {
	content := strings.ToLower(title + " " + description)
	for _, tp := range taskTypePatterns {
		for _, re := range tp.patterns {
			if re.MatchString(content) {
				return tp.taskType
			}
		}
	}
	switch strings.ToLower(priority) {
	case "critical", "high", "urgent":
		return "hotfix"
	}
	return ""
}

var branchMentionPatterns = compileAll(
	`base[:\s]+(\w+)`,
	`vers[:\s]+(\w+)`,
	`into[:\s]+(\w+)`,
	`target[:\s]+(\w+)`,
	`sur[:\s]+(\w+)`,
)

// advancedInference looks for in-content cues like "base: staging" or
// "into develop" (spec §4.4 level 4).
func advancedInference(title, description string) string {
	content := strings.ToLower(title + " " + description)
	for _, re := range branchMentionPatterns {
		m := re.FindStringSubmatch(content)
		if m == nil {
			continue
		}
		candidate := m[1]
		if IsValidBranchName(candidate) {
			return candidate
		}
	}
	return ""
}

var validBranchPrefixes = map[string]bool{
	"main": true, "master": true, "develop": true, "development": true, "dev": true,
	"staging": true, "stage": true, "production": true, "prod": true,
	"release": true, "hotfix": true, "feature": true, "fix": true, "test": true,
}

// languageCodes are ISO 639-1 codes rejected so that a French stop-word
// like "fr" in a sentence is never mistaken for a branch name.
var languageCodes = map[string]bool{
	"fr": true, "en": true, "es": true, "de": true, "it": true, "pt": true, "zh": true, "ja": true, "ru": true, "ar": true,
	"nl": true, "pl": true, "tr": true, "ko": true, "hi": true, "sv": true, "no": true, "da": true, "fi": true, "cs": true,
	"el": true, "he": true, "id": true, "ms": true, "th": true, "vi": true, "uk": true, "ro": true, "bg": true, "sk": true,
}

var invalidWords = map[string]bool{
	"les": true, "des": true, "une": true, "the": true, "and": true, "or": true, "but": true, "for": true, "with": true,
	"sur": true, "dans": true, "pour": true, "avec": true, "par": true, "cette": true, "nouveau": true,
	"ajoute": true, "uniformisez": true, "états": true, "vides": true, "loaders": true, "messages": true,
}

var invalidBranchPatterns = compileAll(
	`^[\.\-]`,
	`[\.\-]$`,
	`\.\.`,
	`[\s~\^:\?*\[]`,
	`//`,
	`@\{`,
	`\\`,
)

// IsValidBranchName implements spec §4.4's validity rules and the exact
// boundary cases spec §8 names: "fr" rejected as a stop-word/language code,
// "feature/add-login" accepted, "..evil" rejected.
func IsValidBranchName(name string) bool {
	if name == "" {
		return false
	}
	lower := strings.ToLower(name)
	if validBranchPrefixes[lower] {
		return true
	}
	for prefix := range validBranchPrefixes {
		if strings.HasPrefix(lower, prefix+"/") {
			return true
		}
	}
	if languageCodes[lower] || invalidWords[lower] {
		return false
	}
	for _, re := range invalidBranchPatterns {
		if re.MatchString(name) {
			return false
		}
	}
	if len(name) > 255 {
		return false
	}
	return true
}

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	gitSpecials   = regexp.MustCompile(`[~^:?*\[\]\\]`)
	dotRun        = regexp.MustCompile(`\.\.+`)
	slashRun      = regexp.MustCompile(`//+`)
)

// sanitizeBranchName cleans a branch name accepted by IsValidBranchName,
// falling back to defaultBranch if cleaning empties it out.
func sanitizeBranchName(name, defaultBranch string) string {
	cleaned := strings.TrimSpace(name)
	cleaned = whitespaceRun.ReplaceAllString(cleaned, "-")
	cleaned = gitSpecials.ReplaceAllString(cleaned, "")
	cleaned = dotRun.ReplaceAllString(cleaned, ".")
	cleaned = slashRun.ReplaceAllString(cleaned, "/")
	cleaned = strings.Trim(cleaned, ".-")
	if cleaned == "" {
		return defaultBranch
	}
	return cleaned
}
