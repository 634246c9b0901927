package agilecentral

import (
	"fmt"
	"strings"
)

// Condition renders a single WSAPI condition, quoting string values.
func Condition(field, op, value string) string {
	return fmt.Sprintf(`(%s %s "%s")`, field, op, strings.ReplaceAll(value, `"`, `\"`))
}

// OrQuery joins one equality condition per value, nesting left to right:
// ((a OR b) OR c). An empty values list yields an empty query.
func OrQuery(field string, values []string) string {
	return combine("OR", field, values)
}

// AndQuery joins raw conditions with AND, nesting left to right.
func AndQuery(conditions ...string) string {
	var q string
	for _, c := range conditions {
		if c == "" {
			continue
		}
		if q == "" {
			q = c
			continue
		}
		q = fmt.Sprintf("(%s AND %s)", q, c)
	}
	return q
}

func combine(op, field string, values []string) string {
	var q string
	for _, v := range values {
		c := Condition(field, "=", v)
		if q == "" {
			q = c
			continue
		}
		q = fmt.Sprintf("(%s %s %s)", q, op, c)
	}
	return q
}
