package duckdb

import (
	"context"
	"fmt"
	"strings"
)

// maxQueryRows caps the rows ExecuteQuery returns.
const maxQueryRows = 1000

// queryTables are the only tables the SQL console may read.
var queryTables = map[string]bool{"logs": true, "settings": true}

// writeKeywords are statements or clauses with side effects.
var writeKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "DROP": true, "CREATE": true,
	"ALTER": true, "TRUNCATE": true, "COPY": true, "ATTACH": true, "DETACH": true,
	"LOAD": true, "EXPORT": true, "IMPORT": true, "INSTALL": true, "CALL": true,
	"EXECUTE": true, "PRAGMA": true, "SET": true, "CHECKPOINT": true,
}

// fileFunctions reach outside the database.
var fileFunctions = map[string]bool{
	"glob": true, "parquet_scan": true, "sniff_csv": true, "query": true, "query_table": true,
}

// subqueryOpeners precede a parenthesised query rather than a call.
var subqueryOpeners = map[string]bool{
	"IN": true, "AS": true, "FROM": true, "JOIN": true, "EXISTS": true,
	"ANY": true, "ALL": true, "SOME": true, "SELECT": true, "WHERE": true,
	"AND": true, "OR": true, "NOT": true, "ON": true, "UNION": true,
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokString
	tokPunct
)

type sqlToken struct {
	kind tokenKind
	text string
}

// lexSQL splits query into words, quoted literals and punctuation.
// Comments and whitespace are dropped.
func lexSQL(query string) ([]sqlToken, error) {
	var toks []sqlToken
	for i := 0; i < len(query); {
		c := query[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case strings.HasPrefix(query[i:], "--"):
			end := strings.IndexByte(query[i:], '\n')
			if end < 0 {
				return toks, nil
			}
			i += end + 1
		case strings.HasPrefix(query[i:], "/*"):
			end := strings.Index(query[i+2:], "*/")
			if end < 0 {
				return nil, fmt.Errorf("unterminated comment")
			}
			i += end + 4
		case c == '\'' || c == '"':
			j := i + 1
			for {
				k := strings.IndexByte(query[j:], c)
				if k < 0 {
					return nil, fmt.Errorf("unterminated quote")
				}
				j += k + 1
				// a doubled quote is an escaped quote
				if j < len(query) && query[j] == c {
					j++
					continue
				}
				break
			}
			kind := tokString
			text := query[i:j]
			if c == '"' {
				kind, text = tokWord, strings.ReplaceAll(query[i+1:j-1], `""`, `"`)
			}
			toks = append(toks, sqlToken{kind, text})
			i = j
		case isWordByte(c):
			j := i
			for j < len(query) && isWordByte(query[j]) {
				j++
			}
			toks = append(toks, sqlToken{tokWord, query[i:j]})
			i = j
		default:
			toks = append(toks, sqlToken{tokPunct, string(c)})
			i++
		}
	}
	return toks, nil
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}

// validateReadOnly accepts a single SELECT or WITH statement over the logs
// and settings tables (and its own CTEs). Keywords inside string literals
// are ignored.
func validateReadOnly(query string) error {
	toks, err := lexSQL(query)
	if err != nil {
		return err
	}
	if len(toks) == 0 {
		return fmt.Errorf("empty query")
	}
	first := strings.ToUpper(toks[0].text)
	if toks[0].kind != tokWord || first != "SELECT" && first != "WITH" {
		return fmt.Errorf("only SELECT/WITH queries are allowed")
	}

	ctes := make(map[string]bool)
	for i := 0; i+2 < len(toks); i++ {
		if toks[i].kind == tokWord && strings.EqualFold(toks[i+1].text, "AS") && toks[i+2].text == "(" {
			ctes[strings.ToLower(toks[i].text)] = true
		}
	}

	// inCall tracks, per open paren, whether it holds function arguments,
	// where FROM is part of the syntax (EXTRACT, TRIM) rather than a table.
	var inCall []bool
	for i, tok := range toks {
		if tok.kind == tokPunct {
			switch tok.text {
			case ";":
				return fmt.Errorf("query must not contain semicolons")
			case "(":
				call := i > 0 && toks[i-1].kind == tokWord && !subqueryOpeners[strings.ToUpper(toks[i-1].text)]
				inCall = append(inCall, call)
			case ")":
				if len(inCall) > 0 {
					inCall = inCall[:len(inCall)-1]
				}
			}
			continue
		}
		if tok.kind != tokWord {
			continue
		}
		upper := strings.ToUpper(tok.text)
		if writeKeywords[upper] {
			return fmt.Errorf("query contains disallowed keyword: %s", upper)
		}
		lower := strings.ToLower(tok.text)
		calls := i+1 < len(toks) && toks[i+1].text == "("
		if calls && (fileFunctions[lower] || strings.HasPrefix(lower, "read_")) {
			return fmt.Errorf("query calls disallowed function: %s", lower)
		}
		if len(inCall) > 0 && inCall[len(inCall)-1] {
			continue
		}
		if (upper == "FROM" || upper == "JOIN") && i+1 < len(toks) {
			next := toks[i+1]
			if next.kind == tokPunct && next.text == "(" {
				continue
			}
			name := strings.ToLower(next.text)
			if next.kind != tokWord || !queryTables[name] && !ctes[name] {
				return fmt.Errorf("unknown table %q (use logs or settings)", next.text)
			}
		}
	}
	return nil
}

// ExecuteQuery runs an ad-hoc read-only query for the dashboard's SQL
// console and returns up to maxQueryRows rows as column maps.
func (s *Store) ExecuteQuery(ctx context.Context, query string) ([]map[string]any, error) {
	if err := validateReadOnly(query); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, strings.TrimSpace(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	results := make([]map[string]any, 0)
	for rows.Next() && len(results) < maxQueryRows {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// SchemaDescription describes the queryable tables for the SQL console.
func (s *Store) SchemaDescription() string {
	return `Table 'logs': id (VARCHAR, UUID), seq (BIGINT, insertion order), ` +
		`timestamp (BIGINT, ms since epoch), ` +
		`type (VARCHAR: page_view/api_call/component_render/error/custom_event), ` +
		`payload (VARCHAR, JSON; use json_extract_string(payload, '$.path') etc). ` +
		`Table 'settings': key (VARCHAR), value (VARCHAR).`
}

// TableRowCounts returns the row count for each known table.
func (s *Store) TableRowCounts(ctx context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	allowedTables := []string{"logs", "settings"}
	counts := make(map[string]int64, len(allowedTables))
	for _, table := range allowedTables {
		var count int64
		// Table names are constants, not user input.
		if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			return nil, err
		}
		counts[table] = count
	}
	return counts, nil
}
