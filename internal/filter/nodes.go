package filter

import (
	"fmt"
	"strings"
)

type logicalNode struct {
	op       string
	children []node
}

func (n *logicalNode) sql(alias string) (string, []any, error) {
	parts := make([]string, 0, len(n.children))
	var args []any
	for _, child := range n.children {
		clause, childArgs, err := child.sql(alias)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+clause+")")
		args = append(args, childArgs...)
	}

	switch n.op {
	case "$and":
		return strings.Join(parts, " AND "), args, nil
	case "$or":
		return strings.Join(parts, " OR "), args, nil
	case "$nor":
		return "NOT (" + strings.Join(parts, " OR ") + ")", args, nil
	}
	return "", nil, fmt.Errorf("%w: %s", ErrInvalidFilter, n.op)
}

func (n *logicalNode) match(doc Matchable) bool {
	switch n.op {
	case "$and":
		for _, child := range n.children {
			if !child.match(doc) {
				return false
			}
		}
		return true
	case "$or", "$nor":
		matched := false
		for _, child := range n.children {
			if child.match(doc) {
				matched = true
				break
			}
		}
		if n.op == "$or" {
			return matched
		}
		return !matched
	}
	return false
}

type notNode struct {
	child node
}

func (n *notNode) sql(alias string) (string, []any, error) {
	clause, args, err := n.child.sql(alias)
	if err != nil {
		return "", nil, err
	}
	return "NOT (" + clause + ")", args, nil
}

func (n *notNode) match(doc Matchable) bool {
	return !n.child.match(doc)
}

type compareNode struct {
	field string
	op    string
	value any
}

var sqlComparators = map[string]string{
	"$gt": ">", "$gte": ">=", "$lt": "<", "$lte": "<=",
}

func (n *compareNode) sql(alias string) (string, []any, error) {
	if column, ok := columnFields[n.field]; ok {
		return n.columnSQL(alias, column)
	}

	path := fmt.Sprintf("%s.metadata -> ?", alias)
	text := fmt.Sprintf("%s.metadata ->> ?", alias)
	switch n.op {
	case "$eq":
		return path + " = ?::jsonb", []any{n.field, mustJSON(n.value)}, nil
	case "$ne":
		// A missing field also satisfies $ne.
		return "COALESCE(" + path + " <> ?::jsonb, TRUE)", []any{n.field, mustJSON(n.value)}, nil
	case "$gt", "$gte", "$lt", "$lte":
		cmp := sqlComparators[n.op]
		if isNumber(n.value) {
			return "(" + text + ")::numeric " + cmp + " ?", []any{n.field, n.value}, nil
		}
		return text + " " + cmp + " ?", []any{n.field, fmt.Sprint(n.value)}, nil
	}
	return "", nil, fmt.Errorf("%w: %s", ErrInvalidFilter, n.op)
}

func (n *compareNode) columnSQL(alias, column string) (string, []any, error) {
	ref := alias + "." + column
	if arrayColumns[column] {
		switch n.op {
		case "$eq":
			return ref + " @> ?::jsonb", []any{mustJSON(n.value)}, nil
		case "$ne":
			return "NOT (" + ref + " @> ?::jsonb)", []any{mustJSON(n.value)}, nil
		}
		return "", nil, fmt.Errorf("%w: %s on array field %s", ErrInvalidFilter, n.op, n.field)
	}

	switch n.op {
	case "$eq":
		return ref + " = ?", []any{n.value}, nil
	case "$ne":
		return ref + " <> ?", []any{n.value}, nil
	case "$gt", "$gte", "$lt", "$lte":
		return ref + " " + sqlComparators[n.op] + " ?", []any{n.value}, nil
	}
	return "", nil, fmt.Errorf("%w: %s", ErrInvalidFilter, n.op)
}

func (n *compareNode) match(doc Matchable) bool {
	value, present := lookup(doc, n.field)
	switch n.op {
	case "$eq":
		return present && equal(value, n.value)
	case "$ne":
		return !present || !equal(value, n.value)
	case "$gt", "$gte", "$lt", "$lte":
		if !present {
			return false
		}
		cmp, ok := compare(value, n.value)
		if !ok {
			return false
		}
		switch n.op {
		case "$gt":
			return cmp > 0
		case "$gte":
			return cmp >= 0
		case "$lt":
			return cmp < 0
		default:
			return cmp <= 0
		}
	}
	return false
}

type membershipNode struct {
	field  string
	op     string
	values []any
}

func (n *membershipNode) sql(alias string) (string, []any, error) {
	var ref string
	metaField := false
	if column, ok := columnFields[n.field]; ok {
		if !arrayColumns[column] {
			return n.scalarColumnSQL(alias, column)
		}
		ref = alias + "." + column
	} else {
		ref = fmt.Sprintf("(%s.metadata -> ?)", alias)
		metaField = true
	}

	// jsonb containment covers both scalar equality and array membership.
	parts := make([]string, 0, len(n.values))
	args := make([]any, 0, len(n.values))
	for _, v := range n.values {
		parts = append(parts, ref+" @> ?::jsonb")
		if metaField {
			args = append(args, n.field)
		}
		args = append(args, mustJSON(v))
	}

	switch n.op {
	case "$in":
		return strings.Join(parts, " OR "), args, nil
	case "$nin":
		return "NOT (" + strings.Join(parts, " OR ") + ")", args, nil
	case "$all":
		return strings.Join(parts, " AND "), args, nil
	}
	return "", nil, fmt.Errorf("%w: %s", ErrInvalidFilter, n.op)
}

func (n *membershipNode) scalarColumnSQL(alias, column string) (string, []any, error) {
	ref := alias + "." + column
	switch n.op {
	case "$in":
		return ref + " IN ?", []any{n.values}, nil
	case "$nin":
		return ref + " NOT IN ?", []any{n.values}, nil
	case "$all":
		return "", nil, fmt.Errorf("%w: $all on scalar field %s", ErrInvalidFilter, n.field)
	}
	return "", nil, fmt.Errorf("%w: %s", ErrInvalidFilter, n.op)
}

func (n *membershipNode) match(doc Matchable) bool {
	value, present := lookup(doc, n.field)
	contains := func(want any) bool {
		if !present {
			return false
		}
		if items, ok := value.([]any); ok {
			for _, item := range items {
				if equal(item, want) {
					return true
				}
			}
			return false
		}
		if items, ok := value.([]string); ok {
			for _, item := range items {
				if equal(item, want) {
					return true
				}
			}
			return false
		}
		return equal(value, want)
	}

	switch n.op {
	case "$in", "$nin":
		found := false
		for _, v := range n.values {
			if contains(v) {
				found = true
				break
			}
		}
		if n.op == "$in" {
			return found
		}
		return !found
	case "$all":
		for _, v := range n.values {
			if !contains(v) {
				return false
			}
		}
		return true
	}
	return false
}

type existsNode struct {
	field string
	want  bool
}

func (n *existsNode) sql(alias string) (string, []any, error) {
	if column, ok := columnFields[n.field]; ok {
		clause := alias + "." + column + " IS NOT NULL"
		if !n.want {
			return alias + "." + column + " IS NULL", nil, nil
		}
		return clause, nil, nil
	}

	clause := fmt.Sprintf("jsonb_exists(%s.metadata, ?)", alias)
	if !n.want {
		clause = "NOT " + clause
	}
	return clause, []any{n.field}, nil
}

func (n *existsNode) match(doc Matchable) bool {
	_, present := lookup(doc, n.field)
	return present == n.want
}

func lookup(doc Matchable, field string) (any, bool) {
	if _, ok := columnFields[field]; ok {
		return doc.Column(field)
	}
	meta := doc.Meta()
	v, ok := meta[field]
	return v, ok
}
