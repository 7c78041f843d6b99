package choom

import "github.com/nugget/choombridge/internal/taskcfg"

// defaultSettings are the per-turn LLM settings when the configuration
// document and the companion say nothing.
func defaultSettings() map[string]any {
	return map[string]any{
		"weather": map[string]any{
			"location": "",
		},
		"search": map[string]any{
			"enabled": true,
		},
		"image_generation": map[string]any{
			"enabled": false,
		},
		"vision": map[string]any{
			"enabled": false,
		},
		"home_assistant": map[string]any{
			"url":   "",
			"token": "",
		},
	}
}

// BuildSettings assembles the settings block for one LLM turn: the
// configuration document's provider blocks merged over the defaults,
// then the companion's own model and image overrides layered on top.
func BuildSettings(stored map[string]map[string]any, ch *Choom) map[string]any {
	overlay := make(map[string]any, len(stored))
	for k, v := range stored {
		overlay[k] = v
	}
	settings := taskcfg.DeepMerge(defaultSettings(), overlay)

	if ch == nil {
		return settings
	}
	if ch.LLMModel != "" {
		settings["llm_model"] = ch.LLMModel
	}
	if ch.LLMEndpoint != "" {
		settings["llm_endpoint"] = ch.LLMEndpoint
	}
	if len(ch.ImageConfig) != 0 {
		if ig, ok := settings["image_generation"].(map[string]any); ok {
			settings["image_generation"] = taskcfg.DeepMerge(ig, ch.ImageConfig)
		} else {
			settings["image_generation"] = ch.ImageConfig
		}
	}
	return settings
}
