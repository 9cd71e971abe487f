package planloop

import "strings"

// personaKeywords maps each critic persona to the keywords that activate it
// for a given plan text. The spec leaves the exact table unspecified
// ("keyword-based but the keyword table is implicit", §9 Open Questions);
// this is Finch's explicit decision, grounded on
// original_source/src/patterns/matcher.rs's keyword-matching shape.
var personaKeywords = map[string][]string{
	"security":     {"auth", "token", "secret", "permission", "credential", "password"},
	"regression":   {"test", "existing", "breaking", "backwards", "migrate"},
	"performance":  {"latency", "query", "loop", "allocation", "throughput", "cache"},
	"architecture": {"interface", "package", "dependency", "layer", "module"},
	"simplicity":   {"complex", "abstraction", "generic", "indirection"},
	"testability":  {"mock", "coverage", "assert", "fixture"},
}

// alwaysActive personas are included regardless of keyword matches, so a
// plan always gets at least a baseline review.
var alwaysActive = []string{"architecture", "regression"}

// SelectPersonas scans planText for keywords and returns the set of critic
// personas that should review this iteration.
func SelectPersonas(planText string) []string {
	lower := strings.ToLower(planText)
	active := make(map[string]bool)
	for _, p := range alwaysActive {
		active[p] = true
	}
	for persona, keywords := range personaKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				active[persona] = true
				break
			}
		}
	}
	out := make([]string, 0, len(active))
	for p := range active {
		out = append(out, p)
	}
	return out
}
