package policy

import (
	"regexp"

	"github.com/dots-distro/dots-family-mode-sub003/internal/domain"
)

/**
 * CONTEXT:   Terminal command risk classification table for gate 5
 * INPUT:     A raw shell command line
 * OUTPUT:    A domain.RiskLevel and whether an explicit pattern matched
 * BUSINESS:  Any command matching no pattern is treated as Dangerous by
 *            default (fail closed) but reported as unmatched so the
 *            engine can route it to RequireApproval rather than an
 *            outright Block, per spec.md 4.C gate 5
 * CHANGE:    New package - pinned by tests rather than adapted from the
 *            teacher (which has no terminal-filtering concept)
 * RISK:      Medium - a too-narrow pattern table lets a risky command
 *            through as "safe"
 */
type rulePattern struct {
	re   *regexp.Regexp
	risk domain.RiskLevel
}

type TerminalRuleTable struct {
	patterns []rulePattern
}

// DefaultTerminalRuleTable returns the canonical pattern ordering: safe
// educational commands first, then explicitly risky, then explicitly
// dangerous. The first match wins.
func DefaultTerminalRuleTable() *TerminalRuleTable {
	return &TerminalRuleTable{
		patterns: []rulePattern{
			{regexp.MustCompile(`^\s*(ls|cd|pwd|cat|echo|man|help|python3?|node|git\s+(status|log|diff|show))\b`), domain.RiskSafe},
			{regexp.MustCompile(`^\s*(vim?|nano|emacs|mkdir|touch|cp|mv)\b`), domain.RiskEducational},
			{regexp.MustCompile(`^\s*(sudo|su|chmod\s+(777|a\+rwx)|curl\s+.*\|\s*sh|wget\s+.*\|\s*sh)\b`), domain.RiskRisky},
			{regexp.MustCompile(`^\s*(rm\s+-rf\s+/|mkfs|dd\s+if=.*of=/dev|:\(\)\{.*\};:|shutdown|reboot|passwd\s+root)(?:\b|\s|$)`), domain.RiskDangerous},
		},
	}
}

// Classify returns the risk level for cmd and whether an explicit
// pattern matched. An unmatched command is Dangerous, matched=false -
// fail closed, but distinguishable from an explicit dangerous match.
func (t *TerminalRuleTable) Classify(cmd string) (domain.RiskLevel, bool) {
	for _, p := range t.patterns {
		if p.re.MatchString(cmd) {
			return p.risk, true
		}
	}
	return domain.RiskDangerous, false
}
