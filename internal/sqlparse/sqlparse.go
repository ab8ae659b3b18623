// Package sqlparse extracts source→target table lineage edges from SQL
// write statements. There is no SQL-AST library in the dependency set this
// module draws from, so parsing is a hand-rolled tokenizer rather than a
// full parser — see DESIGN.md for why no third-party parser was wired in.
//
// Supported statement shapes: INSERT ... SELECT, CREATE TABLE ... AS SELECT,
// and MERGE ... USING. SELECT-only statements produce no edges. Parse
// failures never panic or return an error — callers get an empty slice.
package sqlparse

import (
	"regexp"
	"strings"
)

// Edge is a single source→target table relationship extracted from one SQL
// statement.
type Edge struct {
	Source     string
	Target     string
	Confidence float64
}

var tokenPattern = regexp.MustCompile(`'[^']*'|"[^"]*"|` + "`" + `[^` + "`" + `]*` + "`" + `|[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*|[(),;]|\S`)

var writeKeywords = map[string]bool{
	"insert": true,
	"create": true,
	"merge":  true,
}

// sourceIntroducers are the keywords after which the next identifier is a
// candidate source table reference.
var sourceIntroducers = map[string]bool{
	"from":  true,
	"join":  true,
	"using": true,
}

// ExtractEdges parses a single SQL statement and returns its source→target
// lineage edges. dialect is currently unused by the tokenizer (all dialects
// share enough syntax for this level of extraction) but is kept in the
// signature to match the contract other warehouse-dialect-aware components
// expect.
func ExtractEdges(sql, _ string) []Edge {
	tokens := tokenize(sql)
	if len(tokens) == 0 {
		return nil
	}

	target, targetEndIdx := extractTarget(tokens)
	if target == "" {
		return nil
	}

	sources := extractSources(tokens, targetEndIdx, target)

	edges := make([]Edge, 0, len(sources))
	for _, src := range sources {
		edges = append(edges, Edge{Source: src.name, Target: target, Confidence: src.confidence})
	}

	return edges
}

func tokenize(sql string) []string {
	return tokenPattern.FindAllString(sql, -1)
}

func isIdentifier(tok string) bool {
	if tok == "" {
		return false
	}

	switch tok[0] {
	case '(', ')', ',', ';':
		return false
	}

	return !isKeyword(tok) || isIdentifierLikeKeyword(tok)
}

// isIdentifierLikeKeyword excludes the narrow set of keywords this parser
// actively looks for; everything else is treated as a possible identifier so
// unrecognized dialect keywords don't silently swallow table names.
func isIdentifierLikeKeyword(tok string) bool {
	switch strings.ToLower(tok) {
	case "insert", "into", "select", "from", "join", "create", "table", "as",
		"merge", "using", "if", "not", "exists", "on", "inner", "left", "right",
		"outer", "full", "cross", "lateral", "where", "when", "matched", "then",
		"update", "set", "values", "and", "or":
		return false
	default:
		return true
	}
}

func isKeyword(tok string) bool {
	switch strings.ToLower(tok) {
	case "insert", "into", "select", "from", "join", "create", "table", "as",
		"merge", "using", "if", "not", "exists", "on", "inner", "left", "right",
		"outer", "full", "cross", "lateral", "where", "when", "matched", "then",
		"update", "set", "values", "and", "or":
		return true
	default:
		return false
	}
}

// extractTarget finds the single write target: the table immediately after
// INTO (INSERT, MERGE) or TABLE (CREATE, skipping IF NOT EXISTS). Returns the
// target name and the token index just past it, or ("", 0) if this isn't a
// recognized write statement.
func extractTarget(tokens []string) (string, int) {
	if len(tokens) == 0 {
		return "", 0
	}

	stmt := strings.ToLower(tokens[0])
	if !writeKeywords[stmt] {
		return "", 0
	}

	switch stmt {
	case "insert", "merge":
		for i, tok := range tokens {
			if strings.EqualFold(tok, "into") && i+1 < len(tokens) && isIdentifier(tokens[i+1]) {
				return tokens[i+1], i + 2
			}
		}
	case "create":
		for i, tok := range tokens {
			if strings.EqualFold(tok, "table") {
				j := i + 1
				for j < len(tokens) && (strings.EqualFold(tokens[j], "if") ||
					strings.EqualFold(tokens[j], "not") || strings.EqualFold(tokens[j], "exists")) {
					j++
				}

				if j < len(tokens) && isIdentifier(tokens[j]) {
					return tokens[j], j + 1
				}
			}
		}
	}

	return "", 0
}

type sourceRef struct {
	name       string
	confidence float64
}

// extractSources walks the tokens after the target, collecting every
// distinct table reference introduced by FROM/JOIN/USING, excluding the
// target itself and duplicates. Confidence is derived from paren depth at
// the point the reference appears, approximating the subquery-nesting
// ancestor count a full AST would give: 1.0 at depth 0, 0.8 at depth 1-2,
// 0.6 beyond that.
func extractSources(tokens []string, startIdx int, target string) []sourceRef {
	seen := map[string]bool{strings.ToLower(target): true}

	var sources []sourceRef

	depth := 0

	for i := startIdx; i < len(tokens); i++ {
		tok := tokens[i]

		switch tok {
		case "(":
			depth++

			continue
		case ")":
			if depth > 0 {
				depth--
			}

			continue
		}

		if !sourceIntroducers[strings.ToLower(tok)] {
			continue
		}

		if i+1 >= len(tokens) || !isIdentifier(tokens[i+1]) {
			continue
		}

		name := tokens[i+1]
		key := strings.ToLower(name)

		if seen[key] {
			continue
		}

		seen[key] = true
		sources = append(sources, sourceRef{name: name, confidence: confidenceForDepth(depth)})
	}

	return sources
}

func confidenceForDepth(depth int) float64 {
	switch {
	case depth == 0:
		return 1.0
	case depth <= 2:
		return 0.8
	default:
		return 0.6
	}
}
