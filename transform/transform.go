// Package transform implements the declarative transformation pipeline applied
// to inbound payloads before delivery to subscribers.
//
// A Pipeline is an ordered list of operations. Each stage's output is the next
// stage's input. The structural operations (Filter, Aggregate, Sort, Group)
// act only on arrays; any other input passes through them unchanged. Order
// matters: [Filter, Sort] and [Sort, Filter] are different pipelines.
//
// Operations form a closed set. Adding a new kind means adding a type that
// implements Op, which the compiler then requires every consumer to handle.
package transform

import (
	"fmt"
	"sort"
)

// Op is one stage of a transformation pipeline.
//
// The set of implementations is closed: Filter, Aggregate, Sort, Group and
// Custom. The unexported method keeps external packages from adding kinds.
type Op interface {
	// Apply transforms the input payload.
	Apply(data any) any

	isOp()
}

// Pipeline is an ordered list of operations applied in sequence.
type Pipeline []Op

// Apply runs the payload through every stage in order.
func (p Pipeline) Apply(data any) any {
	for _, op := range p {
		data = op.Apply(data)
	}
	return data
}

// AggregateOp enumerates the reductions Aggregate supports.
type AggregateOp string

const (
	AggregateSum   AggregateOp = "sum"
	AggregateAvg   AggregateOp = "avg"
	AggregateCount AggregateOp = "count"
	AggregateMax   AggregateOp = "max"
	AggregateMin   AggregateOp = "min"
)

// Filter keeps array elements whose Field equals Value.
type Filter struct {
	Field string
	Value any
}

func (Filter) isOp() {}

// Apply filters an array; non-array input passes through unchanged.
func (f Filter) Apply(data any) any {
	arr, ok := data.([]any)
	if !ok {
		return data
	}

	out := make([]any, 0, len(arr))
	for _, elem := range arr {
		obj, ok := elem.(map[string]any)
		if !ok {
			continue
		}
		if valuesEqual(obj[f.Field], f.Value) {
			out = append(out, elem)
		}
	}
	return out
}

// Aggregate reduces an array to a scalar over the numeric values of Field.
//
// Over an empty array: sum and count yield 0; avg, min and max yield nil.
// Elements whose Field is missing or non-numeric contribute nothing to sum,
// min and max, but still count toward avg's divisor and count's total, which
// mirrors how the dashboard treats sparse series.
type Aggregate struct {
	Field string
	Op    AggregateOp
}

func (Aggregate) isOp() {}

// Apply reduces an array; non-array input passes through unchanged.
func (a Aggregate) Apply(data any) any {
	arr, ok := data.([]any)
	if !ok {
		return data
	}

	switch a.Op {
	case AggregateCount:
		return float64(len(arr))

	case AggregateSum:
		var sum float64
		for _, elem := range arr {
			if v, ok := fieldNumber(elem, a.Field); ok {
				sum += v
			}
		}
		return sum

	case AggregateAvg:
		if len(arr) == 0 {
			return nil
		}
		var sum float64
		for _, elem := range arr {
			if v, ok := fieldNumber(elem, a.Field); ok {
				sum += v
			}
		}
		return sum / float64(len(arr))

	case AggregateMax:
		var best float64
		found := false
		for _, elem := range arr {
			if v, ok := fieldNumber(elem, a.Field); ok {
				if !found || v > best {
					best = v
					found = true
				}
			}
		}
		if !found {
			return nil
		}
		return best

	case AggregateMin:
		var best float64
		found := false
		for _, elem := range arr {
			if v, ok := fieldNumber(elem, a.Field); ok {
				if !found || v < best {
					best = v
					found = true
				}
			}
		}
		if !found {
			return nil
		}
		return best

	default:
		return data
	}
}

// Sort orders array elements by Field, ascending unless Descending is set.
// Numeric values compare numerically, everything else lexicographically.
// The sort is stable so equal keys keep their arrival order.
type Sort struct {
	Field      string
	Descending bool
}

func (Sort) isOp() {}

// Apply sorts an array; non-array input passes through unchanged.
func (s Sort) Apply(data any) any {
	arr, ok := data.([]any)
	if !ok {
		return data
	}

	out := make([]any, len(arr))
	copy(out, arr)

	sort.SliceStable(out, func(i, j int) bool {
		vi := fieldValue(out[i], s.Field)
		vj := fieldValue(out[j], s.Field)
		if s.Descending {
			return compareValues(vj, vi)
		}
		return compareValues(vi, vj)
	})

	return out
}

// GroupResult is one partition produced by Group.
type GroupResult struct {
	Key    any   `json:"key"`
	Values []any `json:"values"`
}

// Group partitions an array by the distinct values of Field, preserving
// first-seen key order.
type Group struct {
	Field string
}

func (Group) isOp() {}

// Apply groups an array; non-array input passes through unchanged.
func (g Group) Apply(data any) any {
	arr, ok := data.([]any)
	if !ok {
		return data
	}

	var order []string
	groups := make(map[string]*GroupResult)

	for _, elem := range arr {
		key := fieldValue(elem, g.Field)
		id := fmt.Sprintf("%v", key)

		grp, exists := groups[id]
		if !exists {
			grp = &GroupResult{Key: key}
			groups[id] = grp
			order = append(order, id)
		}
		grp.Values = append(grp.Values, elem)
	}

	out := make([]any, len(order))
	for i, id := range order {
		out[i] = *groups[id]
	}
	return out
}

// Custom applies an arbitrary caller-supplied mapping. Unlike the structural
// operations it sees every payload, array or not.
type Custom struct {
	Fn func(data any) any
}

func (Custom) isOp() {}

// Apply invokes the mapping. A nil Fn passes data through.
func (c Custom) Apply(data any) any {
	if c.Fn == nil {
		return data
	}
	return c.Fn(data)
}

// fieldValue extracts field from an object element, nil otherwise.
func fieldValue(elem any, field string) any {
	obj, ok := elem.(map[string]any)
	if !ok {
		return nil
	}
	return obj[field]
}

// fieldNumber extracts field as a float64 if the element carries one.
func fieldNumber(elem any, field string) (float64, bool) {
	return toNumber(fieldValue(elem, field))
}

// toNumber normalizes the numeric types JSON decoding and Go callers produce.
func toNumber(v any) (float64, bool) {
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

// valuesEqual compares with numeric normalization so 2 matches 2.0,
// which is what JSON-decoded payloads demand.
func valuesEqual(a, b any) bool {
	an, aok := toNumber(a)
	bn, bok := toNumber(b)
	if aok && bok {
		return an == bn
	}
	if aok != bok {
		return false
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// compareValues reports a < b, numerically when possible, else by string form.
func compareValues(a, b any) bool {
	an, aok := toNumber(a)
	bn, bok := toNumber(b)
	if aok && bok {
		return an < bn
	}
	// Numbers sort before non-numbers so mixed arrays stay deterministic
	if aok != bok {
		return aok
	}
	return fmt.Sprintf("%v", a) < fmt.Sprintf("%v", b)
}
