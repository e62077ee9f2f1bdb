package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Parse decodes a JSON rule tree and validates it.
func Parse(data []byte) (Node, error) {
	var n Node
	if err := json.Unmarshal(data, &n); err != nil {
		return Node{}, err
	}
	return n, nil
}

// ParseYAML decodes a YAML rule tree and validates it.
func ParseYAML(data []byte) (Node, error) {
	var n Node
	if err := yaml.Unmarshal(data, &n); err != nil {
		return Node{}, err
	}
	return n, nil
}

// UnmarshalJSON decodes and validates a rule tree.
func (n *Node) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	return n.load(raw)
}

// UnmarshalYAML decodes and validates a rule tree.
func (n *Node) UnmarshalYAML(value *yaml.Node) error {
	var raw interface{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return n.load(raw)
}

func (n *Node) load(raw interface{}) error {
	node, err := fromRaw(raw, "$")
	if err != nil {
		return err
	}
	if err := node.Validate(); err != nil {
		return err
	}
	*n = node
	return nil
}

func asMap(raw interface{}) (map[string]interface{}, bool) {
	switch m := raw.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, v := range m {
			out[fmt.Sprint(k)] = v
		}
		return out, true
	}
	return nil, false
}

func keys(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func fromRaw(raw interface{}, path string) (Node, error) {
	m, ok := asMap(raw)
	if !ok {
		return Node{}, invalid(path, "expected an object, got %T", raw)
	}
	if _, ok := m["field"]; ok {
		return predicateFromRaw(m, path)
	}
	if len(m) != 1 {
		return Node{}, invalid(path, "expected one of field, not, and, or; got keys %s", strings.Join(keys(m), ", "))
	}
	for key, value := range m {
		kind := Kind(key)
		switch kind {
		case KindNot:
			child, err := fromRaw(value, path+".not")
			if err != nil {
				return Node{}, err
			}
			return Not(child), nil
		case KindAnd, KindOr:
			list, ok := value.([]interface{})
			if !ok {
				return Node{}, invalid(path, "%s expects a list, got %T", kind, value)
			}
			children := make([]Node, 0, len(list))
			for i, item := range list {
				child, err := fromRaw(item, fmt.Sprintf("%s.%s[%d]", path, kind, i))
				if err != nil {
					return Node{}, err
				}
				children = append(children, child)
			}
			return Node{Kind: kind, Children: children}, nil
		default:
			return Node{}, invalid(path, "unknown key %q", key)
		}
	}
	return Node{}, invalid(path, "empty rule")
}

func predicateFromRaw(m map[string]interface{}, path string) (Node, error) {
	field, ok := m["field"].(string)
	if !ok {
		return Node{}, invalid(path, "field must be a string")
	}
	if len(m) != 2 {
		return Node{}, invalid(path, "a predicate needs exactly one comparison, got keys %s", strings.Join(keys(m), ", "))
	}
	n := Node{Kind: KindPredicate, Field: field}
	for key, value := range m {
		if key == "field" {
			continue
		}
		n.Op = Op(key)
		switch n.Op {
		case OpEq, OpRegex:
			s, ok := value.(string)
			if !ok {
				return Node{}, invalid(path, "%s expects a string, got %T", key, value)
			}
			n.Text = s
		case OpLt, OpLe, OpGt, OpGe:
			d, err := toDecimal(value)
			if err != nil {
				return Node{}, invalid(path, "%s expects a number: %v", key, err)
			}
			n.Number = d
		case OpIsNull:
			b, ok := value.(bool)
			if !ok {
				return Node{}, invalid(path, "isnull expects a boolean, got %T", value)
			}
			n.Null = b
		default:
			return Node{}, invalid(path, "unknown comparison %q", key)
		}
	}
	return n, nil
}

func toDecimal(v interface{}) (decimal.Decimal, error) {
	switch x := v.(type) {
	case json.Number:
		return decimal.NewFromString(x.String())
	case float64:
		return decimal.NewFromFloat(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(x), 0), nil
	}
	return decimal.Decimal{}, fmt.Errorf("unexpected %T", v)
}

func jsonNumber(d decimal.Decimal) interface{} { return json.Number(d.String()) }

func yamlNumber(d decimal.Decimal) interface{} {
	if d.IsInteger() {
		return d.IntPart()
	}
	return d.InexactFloat64()
}

func (n Node) toRaw(number func(decimal.Decimal) interface{}) map[string]interface{} {
	switch n.Kind {
	case KindNot:
		return map[string]interface{}{"not": n.Children[0].toRaw(number)}
	case KindAnd, KindOr:
		list := make([]interface{}, 0, len(n.Children))
		for _, c := range n.Children {
			list = append(list, c.toRaw(number))
		}
		return map[string]interface{}{string(n.Kind): list}
	}
	out := map[string]interface{}{"field": n.Field}
	switch n.Op {
	case OpEq, OpRegex:
		out[string(n.Op)] = n.Text
	case OpIsNull:
		out[string(n.Op)] = n.Null
	default:
		out[string(n.Op)] = number(n.Number)
	}
	return out
}

// MarshalJSON renders the tree in its decodable form.
func (n Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.toRaw(jsonNumber))
}

// MarshalYAML renders the tree in its decodable form.
func (n Node) MarshalYAML() (interface{}, error) {
	return n.toRaw(yamlNumber), nil
}

// String renders the tree as compact JSON.
func (n Node) String() string {
	b, err := n.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(b)
}
