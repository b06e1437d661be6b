package classifier

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/refset/desk-routing/internal/routing"
)

//go:embed prompt.md
var instructions string

// ErrOutOfSchema is returned when a remote classification names an intent
// outside the closed set.
var ErrOutOfSchema = errors.New("classification outside intent schema")

func userPrompt(subject, body string) string {
	return fmt.Sprintf("Subject: %s\nBody:\n%s", subject, body)
}

// decode parses a remote model's JSON answer into a validated Classification.
func decode(raw []byte) (routing.Classification, error) {
	var c routing.Classification
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("decode classification: %w", err)
	}
	c.IntentCode = strings.TrimSpace(c.IntentCode)
	if !routing.KnownIntent(c.IntentCode) {
		return c, fmt.Errorf("%w: %q", ErrOutOfSchema, c.IntentCode)
	}
	switch {
	case c.Confidence < 0:
		c.Confidence = 0
	case c.Confidence > 1:
		c.Confidence = 1
	}
	c.Priority = routing.NormalizePriority(strings.ToUpper(string(c.Priority)))
	return c, nil
}
