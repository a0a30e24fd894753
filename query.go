package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

type queryKind int

const (
	queryTerm queryKind = iota
	queryRegexp
	queryMust
)

// Query is a structured predicate over named document fields.
type Query struct {
	kind  queryKind
	field string
	value string
	must  []Query
}

// Term matches documents whose field equals value exactly.
func Term(field, value string) Query {
	return Query{kind: queryTerm, field: field, value: value}
}

// Regexp matches documents whose field matches the pattern in full.
func Regexp(field, pattern string) Query {
	return Query{kind: queryRegexp, field: field, value: pattern}
}

// Must matches documents that match every one of qs.
func Must(qs ...Query) Query {
	return Query{kind: queryMust, must: qs}
}

func (q Query) clause() map[string]interface{} {
	switch q.kind {
	case queryTerm:
		return map[string]interface{}{"term": map[string]interface{}{q.field: q.value}}
	case queryRegexp:
		return map[string]interface{}{"regexp": map[string]interface{}{q.field: q.value}}
	default:
		must := make([]interface{}, 0, len(q.must))
		for _, m := range q.must {
			must = append(must, m.clause())
		}
		return map[string]interface{}{"bool": map[string]interface{}{"must": must}}
	}
}

// Body returns the request body for a count or search call.
func (q Query) Body() (io.Reader, error) {
	b, err := json.Marshal(map[string]interface{}{"query": q.clause()})
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}

func (q Query) String() string {
	switch q.kind {
	case queryTerm:
		return fmt.Sprintf("%s:%q", q.field, q.value)
	case queryRegexp:
		return fmt.Sprintf("%s:/%s/", q.field, q.value)
	default:
		parts := make([]string, 0, len(q.must))
		for _, m := range q.must {
			parts = append(parts, m.String())
		}
		return "(" + strings.Join(parts, " AND ") + ")"
	}
}
