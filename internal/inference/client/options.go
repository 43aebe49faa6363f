package client

// DefaultOptions are applied under every generation request.
func DefaultOptions() map[string]any {
	return map[string]any{
		"temperature": 0.7,
		"top_p":       0.9,
		"num_predict": 2048,
	}
}

// MergeOptions returns a new map holding base overlaid with overrides. Neither
// argument is modified. Nil override values are ignored.
func MergeOptions(base map[string]any, overrides map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		if v == nil {
			continue
		}
		out[normalizeOptionKey(k)] = v
	}
	return out
}

// normalizeOptionKey maps chatbot-facing names onto server option names.
func normalizeOptionKey(k string) string {
	switch k {
	case "max_tokens", "maxTokens":
		return "num_predict"
	case "topP":
		return "top_p"
	case "topK":
		return "top_k"
	default:
		return k
	}
}
