package safety

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/askdb/askdb/internal/observability"
)

// Rejection reasons reported in Verdict.Reason and on the rejection counter.
const (
	ReasonEmptyQuery          = "empty_query"
	ReasonBlockedPattern      = "blocked_pattern"
	ReasonMissingSchemaPrefix = "missing_schema_prefix"
	ReasonDisallowedStatement = "disallowed_statement"
	ReasonTooExpensive        = "too_expensive"
)

// Estimated cost levels, ordered low < high < very high.
const (
	CostLow      = "low"
	CostHigh     = "high"
	CostVeryHigh = "very_high"
)

const maxJoinsThreshold = 8

// blockedPatterns are matched against the upper-cased, trimmed query. The
// gate is a deliberate heuristic, not a SQL parser; its known blind spots
// are part of the observable contract.
var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bINSERT\b`),
	regexp.MustCompile(`\bUPDATE\b`),
	regexp.MustCompile(`\bDELETE\b`),
	regexp.MustCompile(`\bDROP\b`),
	regexp.MustCompile(`\bTRUNCATE\b`),
	regexp.MustCompile(`\bALTER\b`),
	regexp.MustCompile(`\bCREATE\b`),
	regexp.MustCompile(`\bGRANT\b`),
	regexp.MustCompile(`\bREVOKE\b`),
	regexp.MustCompile(`\bEXEC\b`),
	regexp.MustCompile(`\bEXECUTE\b`),
	regexp.MustCompile(`\bDECLARE\b`),
	regexp.MustCompile(`\b;\s*--`),
	regexp.MustCompile(`\b;\s*#`),
	regexp.MustCompile(`\bSHUTDOWN\b`),
	regexp.MustCompile(`\bXP_\b`),
	regexp.MustCompile(`\bFROM\s+PG_`),
	regexp.MustCompile(`\bCOPY\s+`),
	regexp.MustCompile(`\bUNION\s+ALL\s+SELECT`),
}

var allowedPrefixPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\s*SELECT\s+`),
	regexp.MustCompile(`^\s*WITH\s+`),
	regexp.MustCompile(`^\s*EXPLAIN\s+`),
}

var (
	crossJoinPattern = regexp.MustCompile(`\bCROSS\s+JOIN\b`)
	// Counts every join keyword exactly once; the optional qualifier keeps a
	// LEFT JOIN from being counted both as LEFT JOIN and as bare JOIN.
	joinPattern       = regexp.MustCompile(`\b(?:INNER\s+|LEFT\s+|RIGHT\s+|FULL\s+|CROSS\s+)?JOIN\b`)
	parentheticals    = regexp.MustCompile(`\(.*?\)`)
	expensivePatterns = []*regexp.Regexp{
		regexp.MustCompile(`SELECT\s+\*.*FROM.*WHERE.*IN\s*\(\s*SELECT`),
		regexp.MustCompile(`EXISTS\s*\(\s*SELECT.*FROM.*WHERE`),
	}
)

// Report is the structured complexity estimate for a single query.
type Report struct {
	IsExpensive      bool     `json:"is_expensive"`
	JoinCount        int      `json:"join_count"`
	HasCrossJoin     bool     `json:"has_cross_join"`
	HasMultipleJoins bool     `json:"has_multiple_joins"`
	EstimatedCost    string   `json:"estimated_cost"`
	Warnings         []string `json:"warnings"`
}

// Verdict is the outcome of the safety gate for a single candidate query.
type Verdict struct {
	Safe    bool
	Reason  string
	Pattern string
}

// Classifier gates candidate SQL before execution. Every permitted query
// must reference the configured schema; everything else is rejected.
type Classifier struct {
	schemaPrefix       string
	quotedSchemaPrefix string
	logger             *slog.Logger
}

func NewClassifier(schemaName string, logger *slog.Logger) (*Classifier, error) {
	schemaName = strings.TrimSpace(schemaName)
	if schemaName == "" {
		return nil, fmt.Errorf("schema name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	upper := strings.ToUpper(schemaName)
	return &Classifier{
		schemaPrefix:       upper + ".",
		quotedSchemaPrefix: `"` + upper + `".`,
		logger:             logger,
	}, nil
}

// IsSafe reports whether the candidate may be executed.
func (c *Classifier) IsSafe(query string) bool {
	return c.Check(query).Safe
}

// Check runs the full gate: deny-list, mandatory schema qualification,
// allow-listed leading keyword, then the complexity estimate. Every
// rejection is logged with the triggering pattern or reason.
func (c *Classifier) Check(query string) Verdict {
	if strings.TrimSpace(query) == "" {
		return c.reject(query, Verdict{Reason: ReasonEmptyQuery})
	}

	normalized := strings.TrimSpace(strings.ToUpper(query))

	for _, pattern := range blockedPatterns {
		if pattern.MatchString(normalized) {
			return c.reject(query, Verdict{Reason: ReasonBlockedPattern, Pattern: pattern.String()})
		}
	}

	if !strings.Contains(normalized, c.schemaPrefix) && !strings.Contains(normalized, c.quotedSchemaPrefix) {
		return c.reject(query, Verdict{Reason: ReasonMissingSchemaPrefix})
	}

	allowed := false
	for _, pattern := range allowedPrefixPatterns {
		if pattern.MatchString(normalized) {
			allowed = true
			break
		}
	}
	if !allowed {
		return c.reject(query, Verdict{Reason: ReasonDisallowedStatement})
	}

	if report := Analyze(query); report.IsExpensive {
		c.logger.Warn("query blocked due to high complexity",
			slog.String("estimated_cost", report.EstimatedCost),
			slog.Int("join_count", report.JoinCount),
			slog.Any("warnings", report.Warnings),
		)
		observability.IncrementSafetyRejection(ReasonTooExpensive)
		return Verdict{Reason: ReasonTooExpensive}
	}

	return Verdict{Safe: true}
}

func (c *Classifier) reject(query string, verdict Verdict) Verdict {
	attrs := []any{slog.String("reason", verdict.Reason)}
	if verdict.Pattern != "" {
		attrs = append(attrs, slog.String("pattern", verdict.Pattern))
	}
	c.logger.Warn("blocked unsafe SQL", attrs...)
	observability.IncrementSafetyRejection(verdict.Reason)
	return verdict
}

// Analyze estimates the structural expense of a query. Parenthesized
// sub-expressions are stripped with a single non-recursive pass before
// joins are counted, so joins inside subqueries do not inflate the count.
// Pure function: no side effects, deterministic for identical input.
func Analyze(query string) Report {
	stripped := parentheticals.ReplaceAllString(strings.ToUpper(query), "")

	report := Report{
		EstimatedCost: CostLow,
		Warnings:      []string{},
	}

	if crossJoinPattern.MatchString(stripped) {
		report.HasCrossJoin = true
		report.IsExpensive = true
		report.EstimatedCost = CostVeryHigh
		report.Warnings = append(report.Warnings, "Cross join detected")
	}

	report.JoinCount = len(joinPattern.FindAllString(stripped, -1))
	if report.JoinCount > maxJoinsThreshold {
		report.HasMultipleJoins = true
		report.IsExpensive = true
		if report.EstimatedCost != CostVeryHigh {
			report.EstimatedCost = CostHigh
		}
		report.Warnings = append(report.Warnings, fmt.Sprintf("Multiple joins detected (%d)", report.JoinCount))
	}

	for _, pattern := range expensivePatterns {
		if pattern.MatchString(stripped) {
			report.IsExpensive = true
			if report.EstimatedCost == CostLow {
				report.EstimatedCost = CostHigh
			}
			report.Warnings = append(report.Warnings, "Expensive subquery pattern detected")
		}
	}

	return report
}
