// internal/routing/snapshot.go
package routing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Snapshot is one backend metadata report: the model serving the current turn, raw
// per-model status payloads and an optional usage block for the active model.
type Snapshot struct {
	Model string
	// Models holds raw status payloads keyed by trimmed model id. A nil value means the
	// backend listed the model without a status object.
	Models map[string]map[string]any
	// ModelOrder is the key order of Models as it appeared in the payload.
	ModelOrder []string
	Usage      map[string]any
}

// Empty reports whether the snapshot carries nothing the reconciler can use.
func (s Snapshot) Empty() bool {
	return s.Model == "" && len(s.ModelOrder) == 0 && s.Usage == nil
}

// status returns the raw status for the snapshot key equivalent to id.
func (s Snapshot) status(key string) (map[string]any, bool) {
	if key == "" {
		return nil, false
	}
	raw, ok := s.Models[key]
	return raw, ok
}

// ParseSnapshot decodes a metadata payload. Fields of the wrong type are dropped rather
// than failing the whole snapshot; only a payload that is not a JSON object is an error.
func ParseSnapshot(data []byte) (Snapshot, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}

	var snap Snapshot
	if raw, ok := top["model"]; ok {
		var model string
		if json.Unmarshal(raw, &model) == nil {
			snap.Model = strings.TrimSpace(model)
		}
	}
	if raw, ok := top["models"]; ok {
		snap.ModelOrder, snap.Models = decodeModels(raw)
	}
	if raw, ok := top["usage"]; ok {
		snap.Usage = decodeObject(raw)
	}
	return snap, nil
}

// SnapshotFromMap builds a snapshot from an already decoded object, such as the meta
// block of a chat event. Model keys are ordered lexically.
func SnapshotFromMap(m map[string]any) Snapshot {
	var snap Snapshot
	if m == nil {
		return snap
	}
	if model, ok := m["model"].(string); ok {
		snap.Model = strings.TrimSpace(model)
	}
	switch models := m["models"].(type) {
	case map[string]any:
		snap.Models = make(map[string]map[string]any, len(models))
		for _, key := range slices.Sorted(maps.Keys(models)) {
			id := strings.TrimSpace(key)
			if id == "" {
				continue
			}
			obj, _ := models[key].(map[string]any)
			snap.add(id, obj)
		}
	case []any:
		for _, item := range models {
			obj, _ := item.(map[string]any)
			if id := listedID(obj); id != "" {
				snap.add(id, obj)
			}
		}
	}
	if usage, ok := m["usage"].(map[string]any); ok {
		snap.Usage = usage
	}
	return snap
}

func (s *Snapshot) add(id string, status map[string]any) {
	if s.Models == nil {
		s.Models = make(map[string]map[string]any)
	}
	if _, seen := s.Models[id]; !seen {
		s.ModelOrder = append(s.ModelOrder, id)
	}
	s.Models[id] = status
}

// decodeModels reads either an object keyed by model id or an array of objects carrying
// an id field, keeping the payload's order.
func decodeModels(raw json.RawMessage) ([]string, map[string]map[string]any) {
	var snap Snapshot
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, nil
	}
	switch tok {
	case json.Delim('{'):
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				break
			}
			key, _ := keyTok.(string)
			var v any
			if err := dec.Decode(&v); err != nil {
				break
			}
			if id := strings.TrimSpace(key); id != "" {
				obj, _ := v.(map[string]any)
				snap.add(id, obj)
			}
		}
	case json.Delim('['):
		for dec.More() {
			var v any
			if err := dec.Decode(&v); err != nil {
				break
			}
			obj, _ := v.(map[string]any)
			if id := listedID(obj); id != "" {
				snap.add(id, obj)
			}
		}
	}
	return snap.ModelOrder, snap.Models
}

func listedID(obj map[string]any) string {
	for _, key := range []string{"id", "model", "name"} {
		if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func decodeObject(raw json.RawMessage) map[string]any {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	obj, _ := v.(map[string]any)
	return obj
}
