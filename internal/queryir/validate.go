package queryir

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrMalformedKey reports a condition key with unbalanced or empty brackets.
	ErrMalformedKey = errors.New("malformed condition key")

	// ErrBadOrder reports an ORDER BY value that is not a list of
	// {column: direction} entries, or a direction other than asc/desc.
	ErrBadOrder = errors.New("invalid ORDER BY")
)

// Field is a parsed condition key.
type Field struct {
	Column   string
	Operator string
}

// ParseKey splits "column[OP]" into its column and operator.
// A key without brackets is an equality test.
//
// The operator is returned as written. Surrounding whitespace is trimmed from
// both parts.
func ParseKey(key string) (Field, error) {
	lb := strings.IndexByte(key, '[')
	rb := strings.LastIndexByte(key, ']')

	if lb < 0 && rb < 0 {
		column := strings.TrimSpace(key)
		if column == "" {
			return Field{}, fmt.Errorf("%w: empty column in %q", ErrMalformedKey, key)
		}
		return Field{Column: column, Operator: "="}, nil
	}

	if lb < 0 || rb < 0 || rb < lb {
		return Field{}, fmt.Errorf("%w: unbalanced brackets in %q", ErrMalformedKey, key)
	}
	if strings.TrimSpace(key[rb+1:]) != "" {
		return Field{}, fmt.Errorf("%w: text after ']' in %q", ErrMalformedKey, key)
	}

	inner := key[lb+1 : rb]
	if strings.ContainsAny(inner, "[]") {
		return Field{}, fmt.Errorf("%w: nested brackets in %q", ErrMalformedKey, key)
	}

	column := strings.TrimSpace(key[:lb])
	operator := strings.TrimSpace(inner)
	if column == "" {
		return Field{}, fmt.Errorf("%w: empty column in %q", ErrMalformedKey, key)
	}
	if operator == "" {
		return Field{}, fmt.Errorf("%w: empty operator in %q", ErrMalformedKey, key)
	}

	return Field{Column: column, Operator: operator}, nil
}

// toOrders normalizes the accepted ORDER BY value shapes into []Order.
//
// Accepted: []Order, Order, a sequence of single-entry maps from column to
// direction ([]map[string]string, []map[string]any, or []any holding such
// maps, which is what YAML and JSON decoding produce). A map with several
// entries contributes them in sorted column order.
func toOrders(v any) ([]Order, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []Order:
		return append([]Order(nil), val...), nil
	case Order:
		return []Order{val}, nil
	case map[string]string:
		return ordersFromStringMap(val), nil
	case map[string]any:
		return ordersFromAnyMap(val)
	case []map[string]string:
		var orders []Order
		for _, m := range val {
			orders = append(orders, ordersFromStringMap(m)...)
		}
		return orders, nil
	case []map[string]any:
		var orders []Order
		for _, m := range val {
			part, err := ordersFromAnyMap(m)
			if err != nil {
				return nil, err
			}
			orders = append(orders, part...)
		}
		return orders, nil
	case []any:
		var orders []Order
		for i, item := range val {
			if _, isList := item.([]any); isList {
				return nil, fmt.Errorf("%w: entry %d is a nested list", ErrBadOrder, i)
			}
			part, err := toOrders(item)
			if err != nil {
				return nil, err
			}
			orders = append(orders, part...)
		}
		return orders, nil
	default:
		return nil, fmt.Errorf("%w: unsupported value of type %T", ErrBadOrder, v)
	}
}

func ordersFromStringMap(m map[string]string) []Order {
	columns := make([]string, 0, len(m))
	for c := range m {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	orders := make([]Order, 0, len(m))
	for _, c := range columns {
		orders = append(orders, Order{Column: c, Direction: m[c]})
	}
	return orders
}

func ordersFromAnyMap(m map[string]any) ([]Order, error) {
	orders := make([]Order, 0, len(m))
	for _, c := range sortedKeys(m) {
		dir, ok := m[c].(string)
		if !ok {
			return nil, fmt.Errorf("%w: direction for %q is %T, not string", ErrBadOrder, c, m[c])
		}
		orders = append(orders, Order{Column: c, Direction: dir})
	}
	return orders, nil
}
