package queryir

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseYAML decodes a condition map written as a YAML (or JSON) mapping,
// keeping the document order of its keys.
//
//	age[>]: 18
//	status[IN]: [active, pending]
//	ORDER BY: [{age: desc}, {id: asc}]
//
// Empty input yields nil Conditions.
func ParseYAML(data []byte) (Conditions, error) {
	root, err := parseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("parse conditions: %w", err)
	}
	conds, err := ConditionsFromNode(root)
	if err != nil {
		return nil, fmt.Errorf("parse conditions: %w", err)
	}
	return conds, nil
}

// ParseValuesYAML decodes column assignments written as a YAML (or JSON)
// mapping, keeping document order.
func ParseValuesYAML(data []byte) (Values, error) {
	root, err := parseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("parse values: %w", err)
	}
	vals, err := ValuesFromNode(root)
	if err != nil {
		return nil, fmt.Errorf("parse values: %w", err)
	}
	return vals, nil
}

// ConditionsFromNode converts a YAML mapping node, such as a field inside a
// larger document, into Conditions. A nil or null node yields nil.
func ConditionsFromNode(n *yaml.Node) (Conditions, error) {
	pairs, err := mappingPairs(n)
	if err != nil {
		return nil, err
	}

	var conds Conditions
	for _, p := range pairs {
		if p.key == OrderByKey {
			orders, err := decodeOrders(p.value)
			if err != nil {
				return nil, err
			}
			conds = append(conds, Cond{Key: OrderByKey, Value: orders})
			continue
		}
		v, err := decodeValue(p.value)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", p.key, err)
		}
		conds = append(conds, Cond{Key: p.key, Value: v})
	}
	return conds, nil
}

// ValuesFromNode converts a YAML mapping node into Values.
func ValuesFromNode(n *yaml.Node) (Values, error) {
	pairs, err := mappingPairs(n)
	if err != nil {
		return nil, err
	}

	var vals Values
	for _, p := range pairs {
		v, err := decodeValue(p.value)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", p.key, err)
		}
		vals = append(vals, Column{Name: p.key, Value: v})
	}
	return vals, nil
}

type pair struct {
	key   string
	value *yaml.Node
}

func parseDocument(data []byte) (*yaml.Node, error) {
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == yaml.DocumentNode {
		if len(doc.Content) == 0 {
			return nil, nil
		}
		return doc.Content[0], nil
	}
	return &doc, nil
}

func mappingPairs(n *yaml.Node) ([]pair, error) {
	if n == nil || n.Kind == 0 {
		return nil, nil
	}
	if n.Kind == yaml.ScalarNode && n.Tag == "!!null" {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping", n.Line)
	}

	pairs := make([]pair, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k := n.Content[i]
		if k.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: key must be a scalar", k.Line)
		}
		pairs = append(pairs, pair{key: k.Value, value: n.Content[i+1]})
	}
	return pairs, nil
}

func decodeValue(n *yaml.Node) (any, error) {
	var v any
	if err := n.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// decodeOrders reads a sequence of single-entry mappings, keeping the order
// of entries inside each mapping as well.
func decodeOrders(n *yaml.Node) ([]Order, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("%w: line %d: expected a list", ErrBadOrder, n.Line)
	}

	var orders []Order
	for _, item := range n.Content {
		if item.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%w: line %d: expected {column: direction}", ErrBadOrder, item.Line)
		}
		for i := 0; i+1 < len(item.Content); i += 2 {
			col, dir := item.Content[i], item.Content[i+1]
			if dir.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("%w: line %d: direction must be a scalar", ErrBadOrder, dir.Line)
			}
			orders = append(orders, Order{Column: col.Value, Direction: dir.Value})
		}
	}
	return orders, nil
}
