// Package history folds raw conversation items into a display-ready log.
//
// Content arrives as a bare string, a single part object, or a list of parts.
// ParseContent normalizes all of them into tagged Parts; Project turns items
// into {role, text} pairs. Projection is pure: the same input always yields
// the same output.
package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type Kind string

const (
	KindText       Kind = "text"
	KindTranscript Kind = "transcript"
)

// Part is one piece of an item's content.
type Part struct {
	Kind  Kind
	Value string
}

// RawItem is a conversation item as reported by the channel.
type RawItem struct {
	ID         string
	Type       string
	Role       string
	Content    json.RawMessage
	ResponseID string
}

// Item is a projected conversation entry.
type Item struct {
	ID    string
	Role  string
	Text  string
	Parts []Part
}

type partObject struct {
	Type       string  `json:"type"`
	Text       *string `json:"text"`
	Transcript *string `json:"transcript"`
}

// ParseContent normalizes raw item content. Null or absent content yields no
// parts.
func ParseContent(raw json.RawMessage) ([]Part, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return []Part{{Kind: KindText, Value: s}}, nil
	case '{':
		p, err := parsePartObject(raw)
		if err != nil {
			return nil, err
		}
		return []Part{p}, nil
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return nil, err
		}
		parts := make([]Part, 0, len(elems))
		for i, elem := range elems {
			elem = bytes.TrimSpace(elem)
			if len(elem) > 0 && elem[0] == '"' {
				var s string
				if err := json.Unmarshal(elem, &s); err != nil {
					return nil, fmt.Errorf("content[%d]: %w", i, err)
				}
				parts = append(parts, Part{Kind: KindText, Value: s})
				continue
			}
			p, err := parsePartObject(elem)
			if err != nil {
				return nil, fmt.Errorf("content[%d]: %w", i, err)
			}
			parts = append(parts, p)
		}
		return parts, nil
	default:
		return nil, fmt.Errorf("unsupported content shape %q", string(raw[:1]))
	}
}

func parsePartObject(raw json.RawMessage) (Part, error) {
	var obj partObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Part{}, err
	}
	switch strings.TrimSpace(obj.Type) {
	case "audio", "input_audio", "output_audio":
		return Part{Kind: KindTranscript, Value: deref(obj.Transcript)}, nil
	case "text", "input_text", "output_text":
		return Part{Kind: KindText, Value: deref(obj.Text)}, nil
	case "":
		if obj.Text != nil {
			return Part{Kind: KindText, Value: *obj.Text}, nil
		}
		if obj.Transcript != nil {
			return Part{Kind: KindTranscript, Value: *obj.Transcript}, nil
		}
		return Part{Kind: KindText}, nil
	default:
		// Unknown part types contribute nothing but keep their slot.
		if obj.Text != nil {
			return Part{Kind: KindText, Value: *obj.Text}, nil
		}
		return Part{Kind: KindTranscript, Value: deref(obj.Transcript)}, nil
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Project converts raw items into display items, in input order.
func Project(items []RawItem) []Item {
	out := make([]Item, 0, len(items))
	for i, raw := range items {
		parts, err := ParseContent(raw.Content)
		if err != nil {
			continue
		}
		if item, ok := build(raw.ID, raw.Type, raw.Role, parts, i); ok {
			out = append(out, item)
		}
	}
	return out
}

func build(id, typ, role string, parts []Part, index int) (Item, bool) {
	if t := strings.TrimSpace(typ); t != "" && t != "message" {
		return Item{}, false
	}
	role, ok := normalizeRole(role)
	if !ok {
		return Item{}, false
	}
	text := joinParts(parts)
	if text == "" {
		return Item{}, false
	}
	id = strings.TrimSpace(id)
	if id == "" {
		id = fmt.Sprintf("item_%d", index)
	}
	return Item{ID: id, Role: role, Text: text, Parts: append([]Part(nil), parts...)}, true
}

func normalizeRole(role string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "user":
		return "user", true
	case "assistant":
		return "assistant", true
	default:
		return "", false
	}
}

func joinParts(parts []Part) string {
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p.Value); v != "" {
			values = append(values, v)
		}
	}
	return strings.TrimSpace(strings.Join(values, " "))
}
