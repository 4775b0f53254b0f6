package sink

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"firestige.xyz/dissector/internal/core"
)

// encodeJSON renders a field set as one JSON object.
func encodeJSON(fields core.HeaderFieldSet) ([]byte, error) {
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("json marshal failed: %w", err)
	}
	return b, nil
}

// toMap returns the JSON object form of a field set with JSON-native value types.
func toMap(fields core.HeaderFieldSet) (map[string]any, error) {
	b, err := encodeJSON(fields)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("json unmarshal failed: %w", err)
	}
	return m, nil
}

// encodeText renders a field set as one human-readable line.
func encodeText(fields core.HeaderFieldSet) string {
	labels := fields.Labels()
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "[packet %s] %s", fields.PacketID(), fields.Protocol())
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, labels[k])
	}
	return b.String()
}
