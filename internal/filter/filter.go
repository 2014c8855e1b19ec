// Package filter implements the MongoDB-style metadata filter language used
// by search and listing. A filter tree is parsed once and can then be
// rendered as a SQL predicate over the documents table or evaluated in
// memory against a document. Evaluation never fails: a type mismatch makes
// the predicate false for that document.
package filter

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidFilter = errors.New("invalid filter")

// columnFields are first-class document attributes. Everything else is
// looked up in the user metadata JSON object.
var columnFields = map[string]string{
	"filename":    "filename",
	"file_type":   "file_type",
	"file_size":   "file_size",
	"uploaded_by": "uploaded_by",
	"uploaded_via": "uploaded_via",
	"uploaded_at": "uploaded_at",
	"created_at":  "created_at",
	"keywords":    "keywords",
	"token_count": "token_count",
	"chunk_count": "chunk_count",
}

// arrayColumns hold JSON arrays, compared by containment.
var arrayColumns = map[string]bool{"keywords": true}

type node interface {
	sql(alias string) (string, []any, error)
	match(doc Matchable) bool
}

// Matchable is the view of a document the in-memory evaluator needs.
type Matchable interface {
	Column(name string) (any, bool)
	Meta() map[string]any
}

// Filter is a parsed filter tree.
type Filter struct {
	root node
}

// Parse validates a raw filter document and builds the tree. Unknown
// operators are rejected here so that search never sees them.
func Parse(raw map[string]any) (*Filter, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	n, err := parseMap(raw)
	if err != nil {
		return nil, err
	}

	return &Filter{root: n}, nil
}

// SQL renders the filter as a predicate over the documents table with the
// given alias, using ? placeholders.
func (f *Filter) SQL(alias string) (string, []any, error) {
	if f == nil || f.root == nil {
		return "", nil, nil
	}
	return f.root.sql(alias)
}

// Match evaluates the filter in memory. It fails closed: any type mismatch
// yields false, never an error.
func (f *Filter) Match(doc Matchable) bool {
	if f == nil || f.root == nil {
		return true
	}
	return f.root.match(doc)
}

func parseMap(raw map[string]any) (node, error) {
	nodes := make([]node, 0, len(raw))
	for _, key := range sortedKeys(raw) {
		value := raw[key]
		switch key {
		case "$and", "$or", "$nor":
			children, err := parseList(value)
			if err != nil {
				return nil, fmt.Errorf("%w: %s expects an array of filters", ErrInvalidFilter, key)
			}
			nodes = append(nodes, &logicalNode{op: key, children: children})
		case "$not":
			inner, ok := value.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: $not expects a filter object", ErrInvalidFilter)
			}
			child, err := parseMap(inner)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, &notNode{child: child})
		default:
			if strings.HasPrefix(key, "$") {
				return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, key)
			}
			field, err := parseField(key, value)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, field...)
		}
	}
	if len(nodes) == 1 {
		return nodes[0], nil
	}

	// Sibling keys are an implicit $and.
	return &logicalNode{op: "$and", children: nodes}, nil
}

func parseList(value any) ([]node, error) {
	items, ok := value.([]any)
	if !ok || len(items) == 0 {
		return nil, ErrInvalidFilter
	}
	children := make([]node, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, ErrInvalidFilter
		}
		child, err := parseMap(m)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}

	return children, nil
}

func parseField(field string, value any) ([]node, error) {
	ops, isOps := value.(map[string]any)
	if !isOps || !hasOperatorKey(ops) {
		// {field: v} is shorthand for {field: {$eq: v}}.
		return []node{&compareNode{field: field, op: "$eq", value: value}}, nil
	}

	nodes := make([]node, 0, len(ops))
	for _, op := range sortedKeys(ops) {
		operand := ops[op]
		switch op {
		case "$eq", "$ne", "$gt", "$gte", "$lt", "$lte":
			nodes = append(nodes, &compareNode{field: field, op: op, value: operand})
		case "$in", "$nin", "$all":
			values, ok := operand.([]any)
			if !ok {
				return nil, fmt.Errorf("%w: %s expects an array", ErrInvalidFilter, op)
			}
			nodes = append(nodes, &membershipNode{field: field, op: op, values: values})
		case "$exists":
			want, ok := operand.(bool)
			if !ok {
				return nil, fmt.Errorf("%w: $exists expects a boolean", ErrInvalidFilter)
			}
			nodes = append(nodes, &existsNode{field: field, want: want})
		case "$not":
			inner, err := parseField(field, operand)
			if err != nil {
				return nil, err
			}
			for _, n := range inner {
				nodes = append(nodes, &notNode{child: n})
			}
		default:
			return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, op)
		}
	}

	return nodes, nil
}

func hasOperatorKey(m map[string]any) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}
