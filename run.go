package flowgraph

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// DefaultGenerateModel is used when a request reaches the generator without a model.
const DefaultGenerateModel = "gemini-2.0-flash"

const (
	msgUserRequired   = "User message is required"
	msgGenerateFailed = "Failed to generate content"
)

// GenerateRequest is what an llm node sends to the generation collaborator.
// Images are data URIs.
type GenerateRequest struct {
	Model        string   `json:"model"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	UserMessage  string   `json:"user_message"`
	Images       []string `json:"images,omitempty"`
}

// GenerateResult is a completed generation.
type GenerateResult struct {
	Text       string     `json:"output,omitempty"`
	Image      string     `json:"outputImage,omitempty"`
	OutputType OutputType `json:"outputType,omitempty"`
}

// Generator performs the remote generation call.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req GenerateRequest) (*GenerateResult, error)

func (f GeneratorFunc) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	return f(ctx, req)
}

// Executor runs llm nodes: it resolves inputs, calls the generator and writes
// the result back onto the node.
type Executor struct {
	gen    Generator
	logger *slog.Logger
	now    func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the executor's logger.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// NewExecutor returns an Executor backed by gen.
func NewExecutor(gen Generator, opts ...ExecutorOption) *Executor {
	e := &Executor{
		gen:    gen,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes node id on g and blocks until the result is written back.
// A missing user message is recorded on the node and returned as
// ErrUserMessageRequired without calling the generator.
func (e *Executor) Run(ctx context.Context, g *Graph, id string) error {
	req, token, err := e.prepare(g, id)
	if err != nil {
		return err
	}
	return e.complete(ctx, g, id, token, req)
}

// Start begins a run and returns immediately. Validation errors are returned
// directly; the generation outcome is delivered on the channel.
func (e *Executor) Start(ctx context.Context, g *Graph, id string) (<-chan error, error) {
	req, token, err := e.prepare(g, id)
	if err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	go func() {
		done <- e.complete(ctx, g, id, token, req)
		close(done)
	}()
	return done, nil
}

func (e *Executor) prepare(g *Graph, id string) (GenerateRequest, uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	in, err := g.resolve(id)
	if err != nil {
		return GenerateRequest{}, 0, err
	}
	d := g.find(id).Data.(*LLMData)
	if d.Loading {
		return GenerateRequest{}, 0, ErrRunInProgress
	}
	if in.User == "" {
		if err := g.updateData(id, map[string]any{"error": msgUserRequired, "loading": false}); err != nil {
			return GenerateRequest{}, 0, err
		}
		return GenerateRequest{}, 0, ErrUserMessageRequired
	}

	model := d.Model
	if model == "" {
		model = DefaultModel
	}
	token := g.beginRun(id)
	return GenerateRequest{
		Model:        model,
		SystemPrompt: in.System,
		UserMessage:  in.User,
		Images:       in.Images,
	}, token, nil
}

func (e *Executor) complete(ctx context.Context, g *Graph, id string, token uint64, req GenerateRequest) error {
	start := e.now()
	res, genErr := e.gen.Generate(ctx, req)

	var patch map[string]any
	outcome := RunSucceeded
	if genErr != nil {
		outcome = RunFailed
		msg := genErr.Error()
		if msg == "" {
			msg = msgGenerateFailed
		}
		patch = map[string]any{
			"loading":    false,
			"output":     nil,
			"outputType": nil,
			"error":      msg,
		}
	} else {
		typ := res.OutputType
		if typ == "" {
			typ = OutputText
		}
		patch = map[string]any{
			"output":      res.Text,
			"outputImage": res.Image,
			"outputType":  string(typ),
			"loading":     false,
			"error":       nil,
		}
	}

	applied, err := g.finishRun(id, token, patch)
	if err != nil {
		return err
	}
	if !applied {
		outcome = RunDiscarded
		e.logger.Debug("discarding stale run result", "node", id, "token", token)
	}
	g.observer.RunFinished(req.Model, outcome, e.now().Sub(start))
	if genErr != nil {
		e.logger.Warn("generation failed", "node", id, "model", req.Model, "error", genErr)
	}
	return genErr
}

// beginRun marks id as loading, clears its previous result and returns the
// token the completion must present. Caller holds g.mu.
func (g *Graph) beginRun(id string) uint64 {
	g.runSeq++
	g.runs[id] = g.runSeq
	_ = g.updateData(id, map[string]any{
		"loading":     true,
		"error":       nil,
		"output":      nil,
		"outputImage": nil,
		"outputType":  nil,
	})
	return g.runSeq
}

// finishRun applies patch only if token is still the node's latest run.
func (g *Graph) finishRun(id string, token uint64, patch map[string]any) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.runs[id] != token {
		return false, nil
	}
	delete(g.runs, id)
	return true, g.updateData(id, patch)
}
