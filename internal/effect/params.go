package effect

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Params carries type-specific effect parameters. Numeric values are
// canonicalised to float64 by the Normalizer.
type Params map[string]any

// Float returns a numeric parameter.
func (p Params) Float(key string) (float64, bool) {
	v, ok := p[key].(float64)
	return v, ok
}

// String returns a string parameter.
func (p Params) String(key string) (string, bool) {
	v, ok := p[key].(string)
	return v, ok
}

// Clone returns a shallow copy. Values are scalars after normalisation.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	cpy := make(Params, len(p))
	for k, v := range p {
		cpy[k] = v
	}
	return cpy
}

// paramRule validates one parameter of one effect type.
type paramRule struct {
	key      string
	required bool
	check    func(v any) (any, error)
}

// percent accepts numbers in [0, 100].
func percent(v any) (any, error) {
	f, ok := toFloat(v)
	if !ok {
		return nil, fmt.Errorf("must be a number")
	}
	if f < 0 || f > 100 {
		return nil, fmt.Errorf("must be between 0 and 100")
	}
	return f, nil
}

func nonEmptyString(v any) (any, error) {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil, fmt.Errorf("must be a non-empty string")
	}
	return s, nil
}

var hexColour = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

func colour(v any) (any, error) {
	s, ok := v.(string)
	if !ok || !hexColour.MatchString(s) {
		return nil, fmt.Errorf("must be a #RRGGBB colour")
	}
	return s, nil
}

// paramRules lists the parameters each effect type understands.
// Parameters not listed are passed through untouched.
var paramRules = map[Type][]paramRule{
	TypeVibration: {
		{key: "intensity", required: true, check: percent},
		{key: "pattern", check: nonEmptyString},
	},
	TypeLight: {
		{key: "intensity", required: true, check: percent},
		{key: "color", check: colour},
	},
	TypeWind: {
		{key: "speed", required: true, check: percent},
	},
	TypeScent: {
		{key: "scent", required: true, check: nonEmptyString},
		{key: "intensity", check: percent},
	},
	TypeGeneric: nil,
}

// RequiredParams returns the parameter keys that must be present for t.
func RequiredParams(t Type) []string {
	var keys []string
	for _, r := range paramRules[t] {
		if r.required {
			keys = append(keys, r.key)
		}
	}
	return keys
}

// toFloat converts the numeric forms produced by JSON and YAML decoders.
func toFloat(v any) (float64, bool) {
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
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// canonicalScalar converts numbers to float64 and leaves other scalars as-is.
// Nested structures are rejected so an accepted effect is safely shareable.
func canonicalScalar(v any) (any, bool) {
	if f, ok := toFloat(v); ok {
		return f, true
	}
	switch v.(type) {
	case string, bool, nil:
		return v, true
	default:
		return nil, false
	}
}
