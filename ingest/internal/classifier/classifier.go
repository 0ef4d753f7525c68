// Package classifier decides what a webhook delivery is about and pulls the
// raw message candidates out of it.
package classifier

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/convohook/convohook/ingest/internal/models"
)

var (
	// ErrBadPayload means the body is not a JSON object.
	ErrBadPayload = errors.New("bad payload")

	// ErrUnclassifiable means neither the body nor the path names an event.
	ErrUnclassifiable = errors.New("event kind cannot be classified")

	// ErrUnsupportedEvent means the event was named but the pipeline does
	// not act on it. Callers acknowledge it as ignored.
	ErrUnsupportedEvent = errors.New("unsupported event")
)

// Result is a classified delivery.
type Result struct {
	Kind     models.EventKind
	Body     map[string]any
	Messages []any
}

// Parse decodes a webhook body, which must be a JSON object. Numbers are
// kept as json.Number so large ids and millisecond timestamps survive.
func Parse(raw []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrBadPayload)
	}

	// Valid rejects stray closing delimiters and concatenated values that a
	// single Decode would stop short of.
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("%w: body is not a single JSON value", ErrBadPayload)
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	body, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: body must be a JSON object", ErrBadPayload)
	}
	return body, nil
}

// Classify resolves the event kind and extracts the raw messages. When the
// kind is named but not acted on, the returned Result still carries the
// kind alongside ErrUnsupportedEvent.
func Classify(body map[string]any, pathHint string) (*Result, error) {
	name := eventName(body)
	if name == "" {
		name = NormalizeEventName(pathHint)
	}
	if name == "" {
		return nil, ErrUnclassifiable
	}

	res := &Result{Kind: models.EventKind(name), Body: body}
	if res.Kind.Family() == models.FamilyIgnored {
		return res, ErrUnsupportedEvent
	}

	res.Messages = ExtractMessages(body)
	return res, nil
}

// NormalizeEventName folds provider spellings together: "messages-update",
// "messages.update" and "MESSAGES_UPDATE" all become MESSAGES_UPDATE.
func NormalizeEventName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Trim(name, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(name)
	return strings.ToUpper(name)
}

func eventName(body map[string]any) string {
	for _, key := range []string{"event", "type"} {
		if s, ok := body[key].(string); ok {
			if name := NormalizeEventName(s); name != "" {
				return name
			}
		}
	}
	return ""
}

// ExtractMessages flattens the supported payload shapes into one ordered
// list. It never fails; an unrecognized shape yields an empty list.
func ExtractMessages(body map[string]any) []any {
	container, ok := body["data"]
	if !ok || container == nil {
		container = body
	}

	switch c := container.(type) {
	case []any:
		return c
	case map[string]any:
		return fromObject(c)
	default:
		return nil
	}
}

func fromObject(c map[string]any) []any {
	if list, ok := c["messages"].([]any); ok {
		return list
	}
	if list, ok := c["message"].([]any); ok {
		return list
	}
	// Baileys shape: key carries the identity and message is the content.
	if key, ok := c["key"].(map[string]any); ok && hasString(key, "id") {
		return []any{c}
	}
	if single, ok := c["message"].(map[string]any); ok {
		return []any{single}
	}
	if hasString(c, "id") || hasString(c, "keyId") || hasString(c, "messageId") {
		return []any{c}
	}
	return nil
}

func hasString(m map[string]any, key string) bool {
	s, ok := m[key].(string)
	return ok && strings.TrimSpace(s) != ""
}
