package canvas

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustShape(t *testing.T, raw string) Shape {
	t.Helper()
	s, err := ParseShape(json.RawMessage(raw))
	require.NoError(t, err)
	return s
}

func TestShapeBoundsDrawStroke(t *testing.T) {
	s := mustShape(t, `{"id":"shape:a","typeName":"shape","type":"draw","x":100,"y":50,
		"props":{"segments":[{"type":"free","points":[{"x":0,"y":0,"z":0.5},{"x":40,"y":-10,"z":0.5},{"x":20,"y":30,"z":0.5}]}]}}`)

	b := ShapeBounds(s)
	assert.Equal(t, Box{X: 100, Y: 40, W: 40, H: 40}, b)
}

func TestShapeBoundsBoxedShape(t *testing.T) {
	s := mustShape(t, `{"id":"shape:g","typeName":"shape","type":"geo","x":-20,"y":10,"props":{"w":200,"h":80}}`)
	assert.Equal(t, Box{X: -20, Y: 10, W: 200, H: 80}, ShapeBounds(s))
}

func TestFrameBoundsEnclosesAllStrokesWithPadding(t *testing.T) {
	shapes := []Shape{
		mustShape(t, `{"id":"shape:1","type":"draw","x":10,"y":10,"props":{"segments":[{"points":[{"x":0,"y":0},{"x":50,"y":20}]}]}}`),
		mustShape(t, `{"id":"shape:2","type":"draw","x":300,"y":-40,"props":{"segments":[{"points":[{"x":0,"y":0},{"x":5,"y":90}]}]}}`),
		mustShape(t, `{"id":"shape:3","type":"geo","x":120,"y":200,"props":{"w":10,"h":10}}`),
	}

	frame, err := FrameBounds(shapes, DefaultFramePadding)
	require.NoError(t, err)

	for _, s := range shapes {
		sb := ShapeBounds(s)
		assert.True(t, frame.Contains(sb.Expand(DefaultFramePadding)), "frame %+v must contain %s with padding", frame, s.ID)
	}
	assert.Equal(t, Box{X: 10 - 32, Y: -40 - 32, W: 295 + 64, H: 250 + 64}, frame)
}

func TestFrameBoundsEmpty(t *testing.T) {
	_, err := FrameBounds(nil, 10)
	assert.ErrorIs(t, err, ErrNoShapes)
}

func TestParseShapeRejectsNonShapes(t *testing.T) {
	_, err := ParseShape(json.RawMessage(`{"id":"page:1","typeName":"page"}`))
	assert.Error(t, err)
}

func TestShapeText(t *testing.T) {
	plain := mustShape(t, `{"id":"shape:t","type":"text","props":{"text":"  hello  "}}`)
	assert.Equal(t, "hello", ShapeText(plain))

	rich := mustShape(t, `{"id":"shape:n","type":"note","props":{"richText":{"type":"doc","content":[
		{"type":"paragraph","content":[{"type":"text","text":"first"}]},
		{"type":"paragraph","content":[{"type":"text","text":"second"}]}]}}}`)
	assert.Equal(t, "first\nsecond", ShapeText(rich))

	none := mustShape(t, `{"id":"shape:d","type":"draw","props":{}}`)
	assert.Empty(t, ShapeText(none))
}
