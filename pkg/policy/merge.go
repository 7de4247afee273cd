package policy

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/giacgbj/spid-cie-oidc-go/internal/federr"
)

// Merge applies policies, in Trust-Anchor-to-subject order, to subject's
// own metadata block for one entity type and returns the resulting
// final_metadata. Each element of policies is that level's
// metadata_policy block for the same entity type, keyed by parameter
// name with an operator object as the raw value.
//
// Fails with federr.ErrMissingMetadata if subjectMetadata is empty and no
// level carries any policy, or if the merge yields an empty object. An
// empty subjectMetadata alongside a non-empty policy is merged normally.
func Merge(subjectMetadata map[string]interface{}, policies []map[string]json.RawMessage) (map[string]interface{}, error) {
	if len(subjectMetadata) == 0 && allEmpty(policies) {
		return nil, fmt.Errorf("%w: subject publishes no metadata for this entity type", federr.ErrMissingMetadata)
	}

	result := make(map[string]interface{}, len(subjectMetadata))
	for k, v := range subjectMetadata {
		result[k] = v
	}

	params := map[string]bool{}
	for _, p := range policies {
		for name := range p {
			params[name] = true
		}
	}

	for name := range params {
		current := result[name]
		for _, p := range policies {
			raw, ok := p[name]
			if !ok {
				continue
			}
			var ops map[string]json.RawMessage
			if err := json.Unmarshal(raw, &ops); err != nil {
				return nil, fmt.Errorf("%w: parameter %q: invalid policy operator object: %s", federr.ErrInvalidTrustChain, name, err)
			}
			next, err := applyOperators(current, ops)
			if err != nil {
				return nil, fmt.Errorf("parameter %q: %w", name, err)
			}
			current = next
		}
		if isEmpty(current) {
			delete(result, name)
		} else {
			result[name] = current
		}
	}

	if len(result) == 0 {
		return nil, fmt.Errorf("%w: metadata policy merge produced an empty object", federr.ErrMissingMetadata)
	}
	return result, nil
}

func allEmpty(policies []map[string]json.RawMessage) bool {
	for _, p := range policies {
		if len(p) > 0 {
			return false
		}
	}
	return true
}

// applyOperators applies one level's operator object to current, in the
// fixed order value, add, default, then the validating operators one_of,
// subset_of, superset_of, essential. value is exclusive: when present it
// replaces current outright and no other operator in the same object is
// considered.
func applyOperators(current interface{}, ops map[string]json.RawMessage) (interface{}, error) {
	if raw, ok := ops["value"]; ok {
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: invalid value operator: %s", federr.ErrInvalidTrustChain, err)
		}
		return v, nil
	}

	if raw, ok := ops["add"]; ok {
		var add interface{}
		if err := json.Unmarshal(raw, &add); err != nil {
			return nil, fmt.Errorf("%w: invalid add operator: %s", federr.ErrInvalidTrustChain, err)
		}
		current = unionAdd(current, add)
	}

	if raw, ok := ops["default"]; ok {
		if isEmpty(current) {
			var def interface{}
			if err := json.Unmarshal(raw, &def); err != nil {
				return nil, fmt.Errorf("%w: invalid default operator: %s", federr.ErrInvalidTrustChain, err)
			}
			current = def
		}
	}

	if raw, ok := ops["one_of"]; ok {
		var allowed []interface{}
		if err := json.Unmarshal(raw, &allowed); err != nil {
			return nil, fmt.Errorf("%w: invalid one_of operator: %s", federr.ErrInvalidTrustChain, err)
		}
		if !isEmpty(current) && !containsValue(allowed, current) {
			return nil, fmt.Errorf("%w: value does not satisfy one_of", federr.ErrInvalidTrustChain)
		}
	}

	if raw, ok := ops["subset_of"]; ok {
		var allowed []interface{}
		if err := json.Unmarshal(raw, &allowed); err != nil {
			return nil, fmt.Errorf("%w: invalid subset_of operator: %s", federr.ErrInvalidTrustChain, err)
		}
		if values, isSlice := toSlice(current); isSlice {
			for _, v := range values {
				if !containsValue(allowed, v) {
					return nil, fmt.Errorf("%w: value does not satisfy subset_of", federr.ErrInvalidTrustChain)
				}
			}
		}
	}

	if raw, ok := ops["superset_of"]; ok {
		var required []interface{}
		if err := json.Unmarshal(raw, &required); err != nil {
			return nil, fmt.Errorf("%w: invalid superset_of operator: %s", federr.ErrInvalidTrustChain, err)
		}
		values, _ := toSlice(current)
		for _, r := range required {
			if !containsValue(values, r) {
				return nil, fmt.Errorf("%w: value does not satisfy superset_of", federr.ErrInvalidTrustChain)
			}
		}
	}

	if raw, ok := ops["essential"]; ok {
		var essential bool
		if err := json.Unmarshal(raw, &essential); err != nil {
			return nil, fmt.Errorf("%w: invalid essential operator: %s", federr.ErrInvalidTrustChain, err)
		}
		if essential && isEmpty(current) {
			return nil, fmt.Errorf("%w: essential parameter has no value after merge", federr.ErrMissingMetadata)
		}
	}

	return current, nil
}

func isEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	if s, ok := toSlice(v); ok {
		return len(s) == 0
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}

func toSlice(v interface{}) ([]interface{}, bool) {
	s, ok := v.([]interface{})
	return s, ok
}

func containsValue(haystack []interface{}, needle interface{}) bool {
	for _, v := range haystack {
		if reflect.DeepEqual(v, needle) {
			return true
		}
	}
	return false
}

// unionAdd appends add's elements (scalar or slice) to current's,
// treating current as a set: duplicates already present are not
// repeated. A nil current starts a new slice.
func unionAdd(current, add interface{}) interface{} {
	base, _ := toSlice(current)
	additions, ok := toSlice(add)
	if !ok {
		additions = []interface{}{add}
	}
	for _, a := range additions {
		if !containsValue(base, a) {
			base = append(base, a)
		}
	}
	return base
}
