package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/gif"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/flowgraph"
	"github.com/meikuraledutech/flowgraph/internal/metrics"
	"github.com/meikuraledutech/flowgraph/memory"
	"github.com/meikuraledutech/flowgraph/server"
)

const (
	alice = "tok-alice"
	bob   = "tok-bob"
)

func echoGenerator() flowgraph.Generator {
	return flowgraph.GeneratorFunc(func(_ context.Context, req flowgraph.GenerateRequest) (*flowgraph.GenerateResult, error) {
		return &flowgraph.GenerateResult{Text: "echo: " + req.UserMessage}, nil
	})
}

func newServer(t *testing.T, cfg server.Config) *server.Server {
	t.Helper()
	if cfg.Workflows == nil {
		cfg.Workflows = memory.NewWorkflowStore()
	}
	if cfg.Sessions == nil {
		cfg.Sessions = memory.NewSessionStore()
	}
	if cfg.Generator == nil {
		cfg.Generator = echoGenerator()
	}
	if cfg.Auth == nil {
		cfg.Auth = server.StaticTokens{alice: "alice", bob: "bob"}
	}
	s := server.New(cfg)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func do(t *testing.T, s *server.Server, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return send(t, s, req, token)
}

func send(t *testing.T, s *server.Server, req *http.Request, token string) (int, []byte) {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(b, &v), string(b))
	return v
}

type sessionView struct {
	ID         string           `json:"id"`
	WorkflowID string           `json:"workflowId"`
	Nodes      []flowgraph.Node `json:"nodes"`
	Edges      []flowgraph.Edge `json:"edges"`
}

func newSession(t *testing.T, s *server.Server, token string, body any) sessionView {
	t.Helper()
	code, b := do(t, s, http.MethodPost, "/sessions", token, body)
	require.Equal(t, http.StatusCreated, code, string(b))
	return decode[sessionView](t, b)
}

func addNode(t *testing.T, s *server.Server, sid string, k flowgraph.Kind) flowgraph.Node {
	t.Helper()
	code, b := do(t, s, http.MethodPost, "/sessions/"+sid+"/nodes", alice, map[string]any{"type": k})
	require.Equal(t, http.StatusCreated, code, string(b))
	return decode[flowgraph.Node](t, b)
}

func TestHealthz(t *testing.T) {
	s := newServer(t, server.Config{})
	code, _ := do(t, s, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestAuthentication(t *testing.T) {
	s := newServer(t, server.Config{})

	code, _ := do(t, s, http.MethodGet, "/workflows", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = do(t, s, http.MethodGet, "/workflows", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = do(t, s, http.MethodGet, "/workflows", alice, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestWorkflowCRUD(t *testing.T) {
	s := newServer(t, server.Config{})

	code, _ := do(t, s, http.MethodPost, "/workflows", alice, map[string]any{"nodes": []any{}})
	assert.Equal(t, http.StatusBadRequest, code, "name is required")

	code, b := do(t, s, http.MethodPost, "/workflows", alice, map[string]any{"name": "Pipeline"})
	require.Equal(t, http.StatusCreated, code, string(b))
	wf := decode[flowgraph.Workflow](t, b)
	assert.Equal(t, "alice", wf.OwnerID)
	assert.JSONEq(t, `[]`, string(wf.Nodes))

	code, _ = do(t, s, http.MethodGet, "/workflows/"+wf.ID, bob, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, b = do(t, s, http.MethodGet, "/workflows?search=pipe", alice, nil)
	require.Equal(t, http.StatusOK, code)
	page := decode[flowgraph.Page](t, b)
	assert.Len(t, page.Items, 1)

	code, _ = do(t, s, http.MethodGet, "/workflows?limit=0", alice, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, s, http.MethodPut, "/workflows/"+wf.ID, bob, map[string]any{"name": "stolen"})
	assert.Equal(t, http.StatusForbidden, code)

	code, b = do(t, s, http.MethodPut, "/workflows/"+wf.ID, alice, map[string]any{
		"nodes": []any{map[string]any{"id": "node-1", "type": "text", "position": map[string]any{"x": 0, "y": 0}, "data": map[string]any{}}},
	})
	require.Equal(t, http.StatusOK, code, string(b))
	updated := decode[flowgraph.Workflow](t, b)
	assert.Equal(t, "Pipeline", updated.Name)
	assert.Contains(t, string(updated.Nodes), "node-1")

	code, _ = do(t, s, http.MethodDelete, "/workflows/"+wf.ID, alice, nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = do(t, s, http.MethodGet, "/workflows/"+wf.ID, alice, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestEditorSession_EndToEnd(t *testing.T) {
	s := newServer(t, server.Config{})
	sess := newSession(t, s, alice, nil)
	base := "/sessions/" + sess.ID

	text := addNode(t, s, sess.ID, flowgraph.KindText)
	llm := addNode(t, s, sess.ID, flowgraph.KindLLM)

	code, b := do(t, s, http.MethodPatch, base+"/nodes/"+text.ID, alice, map[string]any{"value": "hello"})
	require.Equal(t, http.StatusOK, code, string(b))

	code, b = do(t, s, http.MethodPost, base+"/connections/check", alice,
		flowgraph.Connection{Source: text.ID, Target: llm.ID, TargetHandle: flowgraph.HandleImages})
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"valid":false}`, string(b))

	code, b = do(t, s, http.MethodPost, base+"/connections", alice,
		flowgraph.Connection{Source: text.ID, Target: llm.ID, TargetHandle: flowgraph.HandleImages})
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"accepted":false}`, string(b))

	code, _ = do(t, s, http.MethodPost, base+"/connections", alice,
		flowgraph.Connection{Source: text.ID, Target: llm.ID, TargetHandle: flowgraph.HandleUser})
	require.Equal(t, http.StatusCreated, code)

	code, b = do(t, s, http.MethodGet, base+"/nodes/"+llm.ID+"/inputs", alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"user":"hello"}`, string(b))

	code, b = do(t, s, http.MethodPost, base+"/nodes/"+llm.ID+"/output", alice, nil)
	require.Equal(t, http.StatusCreated, code, string(b))
	out := decode[flowgraph.Node](t, b)
	code, b = do(t, s, http.MethodPost, base+"/nodes/"+llm.ID+"/output", alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"created":false}`, string(b))

	code, b = do(t, s, http.MethodPost, base+"/nodes/"+llm.ID+"/run", alice, nil)
	require.Equal(t, http.StatusAccepted, code, string(b))
	s.Wait()

	code, b = do(t, s, http.MethodGet, base+"/nodes/"+out.ID+"/output", alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"type":"text","text":"echo: hello"}`, string(b))

	code, b = do(t, s, http.MethodPost, base+"/save", alice, map[string]any{"name": "Echo"})
	require.Equal(t, http.StatusOK, code, string(b))
	wf := decode[flowgraph.Workflow](t, b)
	assert.Equal(t, "Echo", wf.Name)

	snap, err := flowgraph.DecodeSnapshot(wf.Nodes, wf.Edges)
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 3)
	assert.Len(t, snap.Edges, 2)

	// Saving again updates the same workflow.
	code, b = do(t, s, http.MethodPost, base+"/save", alice, nil)
	require.Equal(t, http.StatusOK, code, string(b))
	assert.Equal(t, wf.ID, decode[flowgraph.Workflow](t, b).ID)
	assert.Equal(t, "Echo", decode[flowgraph.Workflow](t, b).Name)
}

func TestRun_MissingUserMessage(t *testing.T) {
	s := newServer(t, server.Config{Generator: flowgraph.GeneratorFunc(
		func(context.Context, flowgraph.GenerateRequest) (*flowgraph.GenerateResult, error) {
			return nil, errors.New("must not be called")
		})})
	sess := newSession(t, s, alice, nil)
	llm := addNode(t, s, sess.ID, flowgraph.KindLLM)

	code, b := do(t, s, http.MethodPost, "/sessions/"+sess.ID+"/nodes/"+llm.ID+"/run", alice, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code, string(b))

	code, b = do(t, s, http.MethodGet, "/sessions/"+sess.ID, alice, nil)
	require.Equal(t, http.StatusOK, code)
	view := decode[sessionView](t, b)
	require.Len(t, view.Nodes, 1)
	assert.Equal(t, "User message is required", view.Nodes[0].Data.(*flowgraph.LLMData).Error)
}

func TestRun_NotExecutable(t *testing.T) {
	s := newServer(t, server.Config{})
	sess := newSession(t, s, alice, nil)
	text := addNode(t, s, sess.ID, flowgraph.KindText)

	code, _ := do(t, s, http.MethodPost, "/sessions/"+sess.ID+"/nodes/"+text.ID+"/run", alice, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, s, http.MethodPost, "/sessions/"+sess.ID+"/nodes/missing/run", alice, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSessions_ScopedToOwner(t *testing.T) {
	s := newServer(t, server.Config{})
	sess := newSession(t, s, alice, nil)

	code, _ := do(t, s, http.MethodGet, "/sessions/"+sess.ID, bob, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = do(t, s, http.MethodDelete, "/sessions/"+sess.ID, bob, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, s, http.MethodDelete, "/sessions/"+sess.ID, alice, nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = do(t, s, http.MethodGet, "/sessions/"+sess.ID, alice, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSessions_HydrateFromWorkflow(t *testing.T) {
	workflows := memory.NewWorkflowStore()
	s := newServer(t, server.Config{Workflows: workflows})

	_, err := workflows.CreateWorkflow(context.Background(), &flowgraph.Workflow{
		ID:      "wf-1",
		OwnerID: "alice",
		Name:    "saved",
		Nodes: json.RawMessage(`[
			{"id":"node-1","type":"text","position":{"x":0,"y":0},"data":{"value":"hi"}},
			{"id":"node-2","type":"output","position":{"x":360,"y":0},"data":{}}
		]`),
		Edges: json.RawMessage(`[
			{"id":"e1","source":"node-1","target":"node-2"},
			{"id":"e2","source":"node-1","target":"gone"}
		]`),
	})
	require.NoError(t, err)

	code, _ := do(t, s, http.MethodPost, "/sessions", bob, map[string]any{"workflowId": "wf-1"})
	assert.Equal(t, http.StatusNotFound, code)

	sess := newSession(t, s, alice, map[string]any{"workflowId": "wf-1"})
	assert.Equal(t, "wf-1", sess.WorkflowID)
	assert.Len(t, sess.Nodes, 2)
	assert.Len(t, sess.Edges, 1, "dangling edge dropped")
	assert.Equal(t, "hi", sess.Nodes[1].Data.(*flowgraph.OutputData).Value)

	// New ids continue past the loaded ones.
	n := addNode(t, s, sess.ID, flowgraph.KindText)
	assert.Equal(t, "node-3", n.ID)
}

func TestSaveSession_KeepsFrontendFields(t *testing.T) {
	workflows := memory.NewWorkflowStore()
	s := newServer(t, server.Config{Workflows: workflows})

	const nodes = `[
		{"id":"node-1","type":"text","position":{"x":0,"y":0},"measured":{"width":180,"height":90},"data":{"value":"hi","label":"Prompt"}},
		{"id":"node-2","type":"note","position":{"x":40,"y":0},"data":{"body":"free text"}}
	]`
	const edges = `[{"id":"e1","source":"node-1","target":"node-2","style":{"stroke":"#888"},"markerEnd":{"type":"arrowclosed"}}]`
	_, err := workflows.CreateWorkflow(context.Background(), &flowgraph.Workflow{
		ID:      "wf-1",
		OwnerID: "alice",
		Name:    "saved",
		Nodes:   json.RawMessage(nodes),
		Edges:   json.RawMessage(edges),
	})
	require.NoError(t, err)

	sess := newSession(t, s, alice, map[string]any{"workflowId": "wf-1"})
	code, b := do(t, s, http.MethodPost, "/sessions/"+sess.ID+"/save", alice, nil)
	require.Equal(t, http.StatusOK, code, string(b))

	wf := decode[flowgraph.Workflow](t, b)
	assert.Equal(t, "wf-1", wf.ID)
	assert.JSONEq(t, nodes, string(wf.Nodes))
	assert.JSONEq(t, edges, string(wf.Edges))
}

func TestUpdateNode_EngineFieldsAreProtected(t *testing.T) {
	s := newServer(t, server.Config{})
	sess := newSession(t, s, alice, nil)
	base := "/sessions/" + sess.ID
	text := addNode(t, s, sess.ID, flowgraph.KindText)
	llm := addNode(t, s, sess.ID, flowgraph.KindLLM)

	code, b := do(t, s, http.MethodPost, base+"/nodes/"+text.ID+"/output", alice, nil)
	require.Equal(t, http.StatusCreated, code, string(b))
	out := decode[flowgraph.Node](t, b)

	code, _ = do(t, s, http.MethodPatch, base+"/nodes/"+out.ID, alice, map[string]any{"value": "forged", "type": "text"})
	assert.Equal(t, http.StatusConflict, code)
	code, b = do(t, s, http.MethodGet, base+"/nodes/"+out.ID+"/output", alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{}`, string(b))

	code, b = do(t, s, http.MethodPatch, base+"/nodes/"+llm.ID, alice,
		map[string]any{"userMessage": "hi", "loading": true, "output": "fake"})
	require.Equal(t, http.StatusOK, code, string(b))
	d := decode[flowgraph.Node](t, b).Data.(*flowgraph.LLMData)
	assert.Equal(t, "hi", d.UserMessage)
	assert.False(t, d.Loading)
	assert.Empty(t, d.Output)

	code, b = do(t, s, http.MethodPost, base+"/nodes/"+llm.ID+"/run", alice, nil)
	require.Equal(t, http.StatusAccepted, code, string(b))
	s.Wait()
}

func TestSessions_SurviveRestart(t *testing.T) {
	sessions := memory.NewSessionStore()
	first := newServer(t, server.Config{Sessions: sessions})
	sess := newSession(t, first, alice, nil)
	addNode(t, first, sess.ID, flowgraph.KindImage)

	second := newServer(t, server.Config{Sessions: sessions})
	code, b := do(t, second, http.MethodGet, "/sessions/"+sess.ID, alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[sessionView](t, b).Nodes, 1)
}

func gifDataURI(t *testing.T) (string, []byte) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2)), nil))
	return flowgraph.EncodeDataURI("image/gif", buf.Bytes()), buf.Bytes()
}

func TestUploadImage_DataURL(t *testing.T) {
	s := newServer(t, server.Config{})
	sess := newSession(t, s, alice, nil)
	img := addNode(t, s, sess.ID, flowgraph.KindImage)
	uri, _ := gifDataURI(t)

	code, b := do(t, s, http.MethodPost, "/sessions/"+sess.ID+"/nodes/"+img.ID+"/image", alice, map[string]any{"dataUrl": uri})
	require.Equal(t, http.StatusOK, code, string(b))
	n := decode[flowgraph.Node](t, b)
	assert.True(t, strings.HasPrefix(n.Data.(*flowgraph.ImageData).Preview, "data:image/png;base64,"))

	code, _ = do(t, s, http.MethodPost, "/sessions/"+sess.ID+"/nodes/"+img.ID+"/image", alice, map[string]any{"dataUrl": "nope"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestUploadImage_Multipart(t *testing.T) {
	s := newServer(t, server.Config{})
	sess := newSession(t, s, alice, nil)
	img := addNode(t, s, sess.ID, flowgraph.KindImage)
	text := addNode(t, s, sess.ID, flowgraph.KindText)
	_, raw := gifDataURI(t)

	upload := func(nodeID string) (int, []byte) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		fw, err := mw.CreateFormFile("file", "pic.gif")
		require.NoError(t, err)
		_, err = fw.Write(raw)
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/sessions/"+sess.ID+"/nodes/"+nodeID+"/image", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return send(t, s, req, alice)
	}

	code, b := upload(img.ID)
	require.Equal(t, http.StatusOK, code, string(b))
	assert.True(t, strings.HasPrefix(decode[flowgraph.Node](t, b).Data.(*flowgraph.ImageData).Preview, "data:image/png;base64,"))

	code, _ = upload(text.ID)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestChanges(t *testing.T) {
	s := newServer(t, server.Config{})
	sess := newSession(t, s, alice, nil)
	base := "/sessions/" + sess.ID
	a := addNode(t, s, sess.ID, flowgraph.KindText)
	addNode(t, s, sess.ID, flowgraph.KindText)
	code, b := do(t, s, http.MethodPost, base+"/nodes/"+a.ID+"/output", alice, nil)
	require.Equal(t, http.StatusCreated, code, string(b))

	code, b = do(t, s, http.MethodPost, base+"/changes/nodes", alice, []flowgraph.NodeChange{
		{Type: flowgraph.ChangePosition, ID: a.ID, Position: &flowgraph.Position{X: 5, Y: 6}},
	})
	require.Equal(t, http.StatusOK, code, string(b))
	view := decode[sessionView](t, b)
	assert.Equal(t, flowgraph.Position{X: 5, Y: 6}, view.Nodes[0].Position)

	code, b = do(t, s, http.MethodPost, base+"/changes/edges", alice, []flowgraph.EdgeChange{
		{Type: flowgraph.ChangeRemove, ID: view.Edges[0].ID},
	})
	require.Equal(t, http.StatusOK, code, string(b))
	assert.Empty(t, decode[sessionView](t, b).Edges)

	code, _ = do(t, s, http.MethodDelete, base+"/nodes/"+a.ID, alice, nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = do(t, s, http.MethodPatch, base+"/nodes/"+a.ID, alice, map[string]any{"value": "x"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newServer(t, server.Config{
		Observer: metrics.New(reg),
		Metrics:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	sess := newSession(t, s, alice, nil)
	text := addNode(t, s, sess.ID, flowgraph.KindText)
	llm := addNode(t, s, sess.ID, flowgraph.KindLLM)
	do(t, s, http.MethodPost, "/sessions/"+sess.ID+"/connections", alice,
		flowgraph.Connection{Source: text.ID, Target: llm.ID, TargetHandle: flowgraph.HandleUser})

	code, b := do(t, s, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(b), `flowgraph_connection_checks_total{accepted="true",handle="user",target="llm"} 1`)
}
