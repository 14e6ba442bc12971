package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// expiryLayouts are the label date formats we can reduce to a month
var expiryLayouts = []string{
	"1/2006",
	"1-2006",
	"1.2006",
	"2006-1",
	"2006/1",
	"2006-01-02",
	"01/06",
	"01-06",
	"01.06",
	"Jan 2006",
	"Jan/2006",
	"Jan-2006",
	"Jan. 2006",
	"January 2006",
	"Jan 06",
	"Jan/06",
}

// normalizeExpiry converts a label date to MM/YYYY, or "" if unrecognized
func normalizeExpiry(raw string) string {
	raw = strings.TrimSpace(raw)
	for _, prefix := range []string{"EXP:", "EXP.", "EXP", "Exp:", "Exp.", "Exp"} {
		raw = strings.TrimSpace(strings.TrimPrefix(raw, prefix))
	}
	if raw == "" {
		return ""
	}

	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("01/2006")
		}
	}
	return ""
}

// extractJSONObject strips markdown fences and any prose around the object
func extractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.Index(text, "{")
	if start == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return "", fmt.Errorf("invalid JSON object in response")
	}
	return text[start : end+1], nil
}

// parseLabelJSON parses the JSON answer of an LLM provider. Missing fields are
// left empty: an all-empty result is still a usable draft.
func parseLabelJSON(text string) (*LabelData, error) {
	object, err := extractJSONObject(text)
	if err != nil {
		return nil, err
	}

	var data LabelData
	if err := json.Unmarshal([]byte(object), &data); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	data.Name = strings.TrimSpace(data.Name)
	data.Company = strings.TrimSpace(data.Company)
	data.ExpiryDate = normalizeExpiry(data.ExpiryDate)

	return &data, nil
}
