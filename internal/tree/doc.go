package tree

import (
	"encoding/json"
	"fmt"
)

// Normalize converts any JSON-marshalable value into its canonical Node form,
// so that values read back compare equal to values written.
func Normalize(v any) (Node, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("tree: encode node: %w", err)
	}
	var n Node
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("tree: decode node: %w", err)
	}
	return n, nil
}

func decodeDoc(raw []byte) (Node, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var n Node
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("tree: corrupt document: %w", err)
	}
	return n, nil
}

func encodeDoc(n Node) ([]byte, error) {
	if n == nil {
		return nil, nil
	}
	return json.Marshal(n)
}

// lookup walks maps below the root document.
func lookup(doc Node, segs []string) (Node, bool) {
	cur := doc
	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// setIn returns doc with value placed at segs. Maps left empty by a delete
// are pruned, like a tree store that has no empty containers.
func setIn(doc Node, segs []string, value Node) Node {
	if len(segs) == 0 {
		return value
	}
	m, ok := doc.(map[string]any)
	if !ok {
		m = make(map[string]any)
	}
	child := setIn(m[segs[0]], segs[1:], value)
	if child == nil {
		delete(m, segs[0])
	} else {
		m[segs[0]] = child
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
