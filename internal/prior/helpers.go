package prior

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

//go:embed prompts/emotion.txt
var emotionPrompt string

const maxRetries = 3

// MaxImageSize bounds the longer side of images handed to providers.
const MaxImageSize = 512

// parseEmotionScores reads a flat {"label": score} object, or one nested under
// "emotions" or "emotion", from a model reply that may contain extra text.
func parseEmotionScores(content string) (map[string]float64, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(extractJSON(content)), &obj); err != nil {
		return nil, err
	}
	for _, key := range []string{"emotions", "emotion"} {
		if nested, ok := obj[key]; ok {
			var inner map[string]json.RawMessage
			if err := json.Unmarshal(nested, &inner); err == nil {
				obj = inner
				break
			}
		}
	}

	scores := make(map[string]float64, len(obj))
	for label, raw := range obj {
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		scores[label] = v
	}
	if len(scores) == 0 {
		return nil, errors.New("no numeric emotion scores in response")
	}
	return scores, nil
}

// extractJSON returns the first balanced JSON object in content.
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	if start == -1 {
		return content
	}

	depth := 0
	for i := start; i < len(content); i++ {
		switch content[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return content[start:]
}

func retryMessage(err error) string {
	return fmt.Sprintf("JSON parse error: %v. Reply with ONLY a JSON object mapping emotion names to numbers.", err)
}
