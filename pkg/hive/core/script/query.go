package script

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
)

// NormalizeQuery puts the query on one line and forces exactly one trailing
// semicolon. "--" comments are dropped and whitespace runs collapse to one space,
// except inside quoted text. The table must be referenced outside comments and
// string literals.
func NormalizeQuery(table, query string) (string, error) {
	text, code := scanQuery(query)
	for {
		trimmed := strings.TrimSpace(strings.TrimSuffix(text, ";"))
		if trimmed == text {
			break
		}
		text = trimmed
	}
	if text == "" {
		return "", exception.NewValidationErrorf(moduleName, "query must not be empty")
	}
	ref := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(table) + `\b`)
	if !ref.MatchString(code) {
		return "", exception.NewValidationErrorf(moduleName, "query does not contain a reference to the table %q", table)
	}
	return text + ";", nil
}

// scanQuery returns the query without comments and with whitespace collapsed
// outside quotes. code is the same text with string literal contents removed;
// backquoted identifiers are kept.
func scanQuery(query string) (text, code string) {
	var out, ids strings.Builder
	var quote rune
	pendingSpace := false
	rs := []rune(query)

	for i := 0; i < len(rs); i++ {
		c := rs[i]
		if quote != 0 {
			out.WriteRune(c)
			switch {
			case c == '\\' && quote != '`' && i+1 < len(rs):
				i++
				out.WriteRune(rs[i])
			case c == quote:
				quote = 0
				ids.WriteRune(c)
			case quote == '`':
				ids.WriteRune(c)
			}
			continue
		}

		switch {
		case c == '-' && i+1 < len(rs) && rs[i+1] == '-':
			for i < len(rs) && rs[i] != '\n' {
				i++
			}
			pendingSpace = true
			continue
		case unicode.IsSpace(c):
			pendingSpace = true
			continue
		}

		if pendingSpace && out.Len() > 0 {
			out.WriteByte(' ')
			ids.WriteByte(' ')
		}
		pendingSpace = false
		if c == '\'' || c == '"' || c == '`' {
			quote = c
		}
		out.WriteRune(c)
		ids.WriteRune(c)
	}
	return out.String(), ids.String()
}
