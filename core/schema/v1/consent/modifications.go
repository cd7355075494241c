package consent

import "strings"

// ApplyModifications returns a copy of parameters with each dotted path in
// modifications replaced. Missing or non-object intermediate segments are
// replaced by empty objects. The input map is never mutated.
func ApplyModifications(parameters map[string]any, modifications map[string]any) map[string]any {
	result := CloneParameters(parameters)
	if result == nil {
		result = map[string]any{}
	}
	for path, value := range modifications {
		segments := strings.Split(path, ".")
		target := result
		for _, segment := range segments[:len(segments)-1] {
			next, ok := target[segment].(map[string]any)
			if !ok {
				next = map[string]any{}
				target[segment] = next
			}
			target = next
		}
		target[segments[len(segments)-1]] = cloneValue(value)
	}
	return result
}

// ApplyModifications applies the response's modifications to parameters.
func (r ConsentResponse) ApplyModifications(parameters map[string]any) map[string]any {
	if len(r.Modifications) == 0 {
		return CloneParameters(parameters)
	}
	return ApplyModifications(parameters, r.Modifications)
}

// CloneParameters deep-copies JSON-shaped maps and slices.
func CloneParameters(parameters map[string]any) map[string]any {
	if parameters == nil {
		return nil
	}
	out := make(map[string]any, len(parameters))
	for key, value := range parameters {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return CloneParameters(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return value
	}
}
