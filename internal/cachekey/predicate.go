package cachekey

import (
	"reflect"
	"strings"
)

// reservedSegments are path segments that never appear in a caller write
// payload because the server manages them. Any predicate that mentions one,
// at any depth, is skipped (treated as matching) rather than evaluated —
// evaluating it would produce false negatives that leak stale cache entries.
var reservedSegments = map[string]bool{
	"__rerum": true,
	"_id":     true,
}

// Node is a parsed predicate tree node. Parse builds a Node once per cached
// query; Match evaluates it against many candidate documents.
type Node interface {
	Match(doc interface{}) bool
}

// Condition tests a single resolved value (and whether it existed) at the
// end of a path walk.
type Condition interface {
	Match(value interface{}, exists bool) bool
}

// Parse builds a predicate tree from a MongoDB-subset query object. The
// top-level result matches when every (non-skipped) top-level condition
// matches — an implicit AND, per spec §4.A.
func Parse(query map[string]interface{}) Node {
	nodes := make(andNode, 0, len(query))
	for key, val := range query {
		switch key {
		case "$or":
			nodes = append(nodes, parseBoolGroup(val, false))
		case "$and":
			nodes = append(nodes, parseBoolGroup(val, true))
		default:
			segments := strings.Split(key, ".")
			if pathIsReserved(segments) {
				nodes = append(nodes, alwaysMatch{})
				continue
			}
			nodes = append(nodes, pathNode{segments: segments, cond: parseFieldValue(val)})
		}
	}
	return nodes
}

func parseBoolGroup(val interface{}, isAnd bool) Node {
	arr, _ := val.([]interface{})
	children := make([]Node, 0, len(arr))
	for _, sub := range arr {
		if sm, ok := sub.(map[string]interface{}); ok {
			children = append(children, Parse(sm))
		}
	}
	if isAnd {
		return andNode(children)
	}
	return orNode(children)
}

func parseFieldValue(val interface{}) Condition {
	m, ok := val.(map[string]interface{})
	if !ok {
		return eqCondition{target: val}
	}
	if isOperatorMap(m) {
		return parseOperators(m)
	}
	return subDocCondition{query: m}
}

func isOperatorMap(m map[string]interface{}) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

func parseOperators(m map[string]interface{}) Condition {
	conds := make(andConditions, 0, len(m))
	for op, v := range m {
		switch op {
		case "$eq":
			conds = append(conds, eqCondition{target: v})
		case "$ne":
			conds = append(conds, neCondition{eqCondition{target: v}})
		case "$gt":
			conds = append(conds, cmpCondition{target: v, op: opGT})
		case "$gte":
			conds = append(conds, cmpCondition{target: v, op: opGTE})
		case "$lt":
			conds = append(conds, cmpCondition{target: v, op: opLT})
		case "$lte":
			conds = append(conds, cmpCondition{target: v, op: opLTE})
		case "$in":
			conds = append(conds, inCondition{targets: toSlice(v)})
		case "$exists":
			want, _ := v.(bool)
			conds = append(conds, existsCondition{want: want})
		case "$size":
			conds = append(conds, sizeCondition{want: toInt(v)})
		}
	}
	return conds
}

func pathIsReserved(segments []string) bool {
	for _, s := range segments {
		if reservedSegments[s] {
			return true
		}
	}
	return false
}

// --- tree nodes ---

type andNode []Node

func (a andNode) Match(doc interface{}) bool {
	for _, n := range a {
		if !n.Match(doc) {
			return false
		}
	}
	return true
}

type orNode []Node

func (o orNode) Match(doc interface{}) bool {
	if len(o) == 0 {
		return false
	}
	for _, n := range o {
		if n.Match(doc) {
			return true
		}
	}
	return false
}

type alwaysMatch struct{}

func (alwaysMatch) Match(interface{}) bool { return true }

type pathNode struct {
	segments []string
	cond     Condition
}

func (p pathNode) Match(doc interface{}) bool {
	return matchPath(doc, p.segments, p.cond)
}

// matchPath walks segments through doc. When it reaches an array before the
// path is exhausted, it evaluates the remaining segments against every
// element and combines the results disjunctively (any element matching
// wins) — §4.A's array fan-out rule. When the path is exhausted it hands the
// node (array or not) to cond directly, so operators like $size can inspect
// the array itself rather than its elements.
func matchPath(node interface{}, segments []string, cond Condition) bool {
	if len(segments) == 0 {
		return cond.Match(node, true)
	}
	if arr, ok := node.([]interface{}); ok {
		for _, elem := range arr {
			if matchPath(elem, segments, cond) {
				return true
			}
		}
		return false
	}
	m, ok := node.(map[string]interface{})
	if !ok {
		return cond.Match(nil, false)
	}
	val, exists := m[segments[0]]
	if !exists {
		return cond.Match(nil, false)
	}
	return matchPath(val, segments[1:], cond)
}

// subDocCondition matches a nested object that has no recognized operators:
// the resolved value must itself match the sub-query field by field.
type subDocCondition struct {
	query map[string]interface{}
}

func (s subDocCondition) Match(value interface{}, exists bool) bool {
	if !exists {
		return false
	}
	return Parse(s.query).Match(value)
}

// --- conditions ---

type andConditions []Condition

func (a andConditions) Match(value interface{}, exists bool) bool {
	for _, c := range a {
		if !c.Match(value, exists) {
			return false
		}
	}
	return true
}

type eqCondition struct{ target interface{} }

func (e eqCondition) Match(value interface{}, exists bool) bool {
	if !exists {
		return false
	}
	if valuesEqual(value, e.target) {
		return true
	}
	if arr, ok := value.([]interface{}); ok {
		for _, elem := range arr {
			if valuesEqual(elem, e.target) {
				return true
			}
		}
	}
	return false
}

type neCondition struct{ inner eqCondition }

func (n neCondition) Match(value interface{}, exists bool) bool {
	return !n.inner.Match(value, exists)
}

type cmpOp int

const (
	opGT cmpOp = iota
	opGTE
	opLT
	opLTE
)

type cmpCondition struct {
	target interface{}
	op     cmpOp
}

func (c cmpCondition) Match(value interface{}, exists bool) bool {
	if !exists {
		return false
	}
	lf, lok := toFloat(value)
	rf, rok := toFloat(c.target)
	if lok && rok {
		return compareFloat(lf, rf, c.op)
	}
	ls, lok := value.(string)
	rs, rok := c.target.(string)
	if lok && rok {
		return compareString(ls, rs, c.op)
	}
	return false
}

func compareFloat(l, r float64, op cmpOp) bool {
	switch op {
	case opGT:
		return l > r
	case opGTE:
		return l >= r
	case opLT:
		return l < r
	case opLTE:
		return l <= r
	}
	return false
}

func compareString(l, r string, op cmpOp) bool {
	switch op {
	case opGT:
		return l > r
	case opGTE:
		return l >= r
	case opLT:
		return l < r
	case opLTE:
		return l <= r
	}
	return false
}

type inCondition struct{ targets []interface{} }

func (in inCondition) Match(value interface{}, exists bool) bool {
	if !exists {
		return false
	}
	for _, t := range in.targets {
		if (eqCondition{target: t}).Match(value, true) {
			return true
		}
	}
	return false
}

type existsCondition struct{ want bool }

func (e existsCondition) Match(_ interface{}, exists bool) bool {
	return exists == e.want
}

type sizeCondition struct{ want int }

func (s sizeCondition) Match(value interface{}, exists bool) bool {
	if !exists {
		return false
	}
	arr, ok := value.([]interface{})
	if !ok {
		return false
	}
	return len(arr) == s.want
}

// --- helpers ---

func valuesEqual(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toInt(v interface{}) int {
	f, _ := toFloat(v)
	return int(f)
}

func toSlice(v interface{}) []interface{} {
	arr, _ := v.([]interface{})
	return arr
}

// Evaluate decides whether doc could belong in the result set of a stored
// query payload, unwrapping a top-level "__cached" envelope first (ignoring
// sibling limit/skip) per §4.A.
func Evaluate(doc map[string]interface{}, query map[string]interface{}) bool {
	body := query
	if cached, ok := query["__cached"]; ok {
		if m, ok2 := cached.(map[string]interface{}); ok2 {
			body = m
		} else {
			body = map[string]interface{}{}
		}
	}
	return Parse(body).Match(doc)
}
