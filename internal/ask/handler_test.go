package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"canvasboard/internal/ask/service"
	"canvasboard/internal/canvas"
	"canvasboard/internal/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStreamer struct {
	deltas []string
	err    error
	got    []llm.Message
}

func (f *fakeStreamer) StreamChat(_ context.Context, messages []llm.Message, onDelta func(string) error) error {
	f.got = messages
	for _, d := range f.deltas {
		if err := onDelta(d); err != nil {
			return err
		}
	}
	return f.err
}

type fakeShapes map[string]canvas.Shape

func (f fakeShapes) Shapes(_ context.Context, _ string, ids []string) ([]canvas.Shape, error) {
	var out []canvas.Shape
	for _, id := range ids {
		if s, ok := f[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func post(t *testing.T, h *AskHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.Ask(rr, httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(body)))
	return rr
}

func dataFrames(body string) []string {
	var frames []string
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		frames = append(frames, strings.TrimPrefix(block, "data: "))
	}
	return frames
}

func TestAskStreamsContentThenDone(t *testing.T) {
	streamer := &fakeStreamer{deltas: []string{"Hello", " world"}}
	h := NewAskHandler(service.NewAskService(streamer, nil))

	rr := post(t, h, `{"prompt":"hi","context":"math class"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache, no-transform", rr.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rr.Header().Get("X-Accel-Buffering"))

	frames := dataFrames(rr.Body.String())
	require.Len(t, frames, 3)
	assert.JSONEq(t, `{"content":"Hello"}`, frames[0])
	assert.JSONEq(t, `{"content":" world"}`, frames[1])
	assert.Equal(t, "[DONE]", frames[2])

	require.Len(t, streamer.got, 3)
	assert.Equal(t, llm.RoleSystem, streamer.got[0].Role)
	assert.Equal(t, "hi", streamer.got[1].Content)
	assert.Equal(t, "Additional context: math class", streamer.got[2].Content)
}

func TestAskEndsWithDoneAfterUpstreamError(t *testing.T) {
	streamer := &fakeStreamer{deltas: []string{"partial"}, err: errors.New("upstream 502")}
	h := NewAskHandler(service.NewAskService(streamer, nil))

	rr := post(t, h, `{"prompt":"hi"}`)
	frames := dataFrames(rr.Body.String())
	require.Len(t, frames, 3)
	assert.JSONEq(t, `{"content":"partial"}`, frames[0])

	var errFrame map[string]string
	require.NoError(t, json.Unmarshal([]byte(frames[1]), &errFrame))
	assert.Equal(t, "upstream 502", errFrame["error"])
	assert.Equal(t, "[DONE]", frames[2])
}

func TestAskRejectsEmptyPrompt(t *testing.T) {
	h := NewAskHandler(service.NewAskService(&fakeStreamer{}, nil))

	rr := post(t, h, `{"prompt":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = post(t, h, `not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAskIncludesSelectedShapeText(t *testing.T) {
	note, err := canvas.ParseShape(json.RawMessage(`{"id":"shape:n","typeName":"shape","type":"note","props":{"text":"photosynthesis"}}`))
	require.NoError(t, err)
	streamer := &fakeStreamer{}
	h := NewAskHandler(service.NewAskService(streamer, fakeShapes{"shape:n": note}))

	rr := post(t, h, `{"prompt":"explain","shape_ids":["shape:n","shape:gone"],"room_id":"r1"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"[DONE]"}, dataFrames(rr.Body.String()))

	require.Len(t, streamer.got, 3)
	assert.Equal(t, "Selected canvas content:\n- photosynthesis", streamer.got[2].Content)
}
