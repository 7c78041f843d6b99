package taskcfg

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// DeepMerge overlays src onto dst and returns the result. Nested maps
// merge recursively; scalar and slice values from src replace dst's.
// When src's value has a different JSON type than dst's at the same
// path, dst's value wins, so a document merged over the defaults keeps
// the defaults' typing at every key.
func DeepMerge(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, sv := range src {
		dv, exists := out[k]
		if !exists {
			out[k] = sv
			continue
		}

		dm, dIsMap := dv.(map[string]any)
		sm, sIsMap := sv.(map[string]any)
		if dIsMap && sIsMap {
			out[k] = DeepMerge(dm, sm)
			continue
		}

		if dv != nil && sv != nil && reflect.TypeOf(dv).Kind() != reflect.TypeOf(sv).Kind() {
			continue // type mismatch: keep the default
		}
		out[k] = sv
	}
	return out
}

// mergeOverDefaults merges raw file bytes over the default document and
// decodes the result. Both sides round-trip through map[string]any so
// the merge sees JSON types, not Go types.
func mergeOverDefaults(raw []byte) (*Document, error) {
	defBytes, err := json.Marshal(DefaultDocument())
	if err != nil {
		return nil, fmt.Errorf("marshal defaults: %w", err)
	}

	var defMap, fileMap map[string]any
	if err := json.Unmarshal(defBytes, &defMap); err != nil {
		return nil, fmt.Errorf("decode defaults: %w", err)
	}
	if err := json.Unmarshal(raw, &fileMap); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	merged := DeepMerge(defMap, fileMap)
	mergedBytes, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("re-encode merged document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(mergedBytes, &doc); err != nil {
		return nil, fmt.Errorf("decode merged document: %w", err)
	}
	return &doc, nil
}
