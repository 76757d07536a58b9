// Package canvas reads tldraw shape records: geometry for auto-framing and
// plain text for prompt context. Records stay opaque JSON everywhere else.
package canvas

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultFramePadding is the clearance kept around framed strokes, in page units.
const DefaultFramePadding = 32.0

var ErrNoShapes = errors.New("no shapes to frame")

// Shape is the subset of a tldraw shape record this service understands.
type Shape struct {
	ID       string                 `json:"id"`
	TypeName string                 `json:"typeName"`
	Type     string                 `json:"type"`
	X        float64                `json:"x"`
	Y        float64                `json:"y"`
	Rotation float64                `json:"rotation"`
	ParentID string                 `json:"parentId,omitempty"`
	Index    string                 `json:"index,omitempty"`
	Props    map[string]interface{} `json:"props"`
	Meta     map[string]interface{} `json:"meta,omitempty"`
}

// RecordHeader is enough of any store record to route it by id and kind.
type RecordHeader struct {
	ID       string `json:"id"`
	TypeName string `json:"typeName"`
}

// ParseShape decodes a raw record. Records that are not shapes are rejected.
func ParseShape(raw json.RawMessage) (Shape, error) {
	var s Shape
	if err := json.Unmarshal(raw, &s); err != nil {
		return Shape{}, fmt.Errorf("decode shape: %w", err)
	}
	if s.TypeName != "" && s.TypeName != "shape" {
		return Shape{}, fmt.Errorf("record %s is a %s, not a shape", s.ID, s.TypeName)
	}
	return s, nil
}

func (s Shape) number(key string) (float64, bool) {
	v, ok := s.Props[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// ShapeText returns the plain text carried by a shape, if any.
func ShapeText(s Shape) string {
	if t, ok := s.Props["text"].(string); ok && strings.TrimSpace(t) != "" {
		return strings.TrimSpace(t)
	}
	if rt, ok := s.Props["richText"]; ok {
		var sb strings.Builder
		flattenRichText(rt, &sb)
		return strings.TrimSpace(sb.String())
	}
	return ""
}

// flattenRichText walks a TipTap-style document ({type, text, content[]}).
func flattenRichText(node interface{}, sb *strings.Builder) {
	switch n := node.(type) {
	case map[string]interface{}:
		if t, ok := n["text"].(string); ok {
			sb.WriteString(t)
		}
		if children, ok := n["content"].([]interface{}); ok {
			for _, c := range children {
				flattenRichText(c, sb)
			}
		}
		if n["type"] == "paragraph" {
			sb.WriteByte('\n')
		}
	case []interface{}:
		for _, c := range n {
			flattenRichText(c, sb)
		}
	}
}
