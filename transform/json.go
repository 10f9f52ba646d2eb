package transform

import (
	"encoding/json"
	"fmt"

	"github.com/elementalcollision/graphmemory-stream/errors"
)

// opJSON is the declarative wire form of an operation, as found in
// subscription definitions loaded from configuration:
//
//	{"type":"filter","field":"status","value":"active"}
//	{"type":"aggregate","field":"x","operation":"avg"}
//	{"type":"sort","field":"ts","value":"desc"}
//	{"type":"group","field":"kind"}
type opJSON struct {
	Type      string `json:"type"`
	Field     string `json:"field,omitempty"`
	Value     any    `json:"value,omitempty"`
	Operation string `json:"operation,omitempty"`
}

// UnmarshalJSON decodes a declarative pipeline definition.
// Custom operations carry Go functions and have no wire form.
func (p *Pipeline) UnmarshalJSON(data []byte) error {
	var raw []opJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.WrapInvalid(err, "Pipeline", "UnmarshalJSON", "decode operations")
	}

	ops := make(Pipeline, 0, len(raw))
	for i, r := range raw {
		switch r.Type {
		case "filter":
			ops = append(ops, Filter{Field: r.Field, Value: r.Value})
		case "aggregate":
			op := AggregateOp(r.Operation)
			switch op {
			case AggregateSum, AggregateAvg, AggregateCount, AggregateMax, AggregateMin:
			default:
				return errors.WrapInvalid(
					fmt.Errorf("unknown aggregate operation %q", r.Operation),
					"Pipeline", "UnmarshalJSON", fmt.Sprintf("operation %d", i))
			}
			ops = append(ops, Aggregate{Field: r.Field, Op: op})
		case "sort":
			desc := false
			if s, ok := r.Value.(string); ok && s == "desc" {
				desc = true
			}
			ops = append(ops, Sort{Field: r.Field, Descending: desc})
		case "group":
			ops = append(ops, Group{Field: r.Field})
		default:
			return errors.WrapInvalid(
				fmt.Errorf("unknown transformation type %q", r.Type),
				"Pipeline", "UnmarshalJSON", fmt.Sprintf("operation %d", i))
		}
	}

	*p = ops
	return nil
}

// MarshalJSON encodes the declarative operations of a pipeline.
// Pipelines containing Custom operations cannot be serialized.
func (p Pipeline) MarshalJSON() ([]byte, error) {
	raw := make([]opJSON, 0, len(p))
	for i, op := range p {
		switch o := op.(type) {
		case Filter:
			raw = append(raw, opJSON{Type: "filter", Field: o.Field, Value: o.Value})
		case Aggregate:
			raw = append(raw, opJSON{Type: "aggregate", Field: o.Field, Operation: string(o.Op)})
		case Sort:
			entry := opJSON{Type: "sort", Field: o.Field}
			if o.Descending {
				entry.Value = "desc"
			}
			raw = append(raw, entry)
		case Group:
			raw = append(raw, opJSON{Type: "group", Field: o.Field})
		case Custom:
			return nil, errors.WrapInvalid(
				fmt.Errorf("custom operation is not serializable"),
				"Pipeline", "MarshalJSON", fmt.Sprintf("operation %d", i))
		default:
			return nil, errors.WrapInvalid(
				fmt.Errorf("unhandled operation %T", op),
				"Pipeline", "MarshalJSON", fmt.Sprintf("operation %d", i))
		}
	}
	return json.Marshal(raw)
}
