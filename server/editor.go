package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gofiber/fiber/v3"

	"github.com/meikuraledutech/flowgraph"
)

type sessionView struct {
	ID         string           `json:"id"`
	WorkflowID string           `json:"workflowId,omitempty"`
	Nodes      []flowgraph.Node `json:"nodes"`
	Edges      []flowgraph.Edge `json:"edges"`
}

func viewOf(ls *EditorSession) sessionView {
	snap := ls.graph.Snapshot()
	if snap.Nodes == nil {
		snap.Nodes = []flowgraph.Node{}
	}
	if snap.Edges == nil {
		snap.Edges = []flowgraph.Edge{}
	}
	return sessionView{
		ID:         ls.id,
		WorkflowID: ls.WorkflowID(),
		Nodes:      snap.Nodes,
		Edges:      snap.Edges,
	}
}

func (s *Server) session(c fiber.Ctx) (*EditorSession, error) {
	return s.sessions.Get(c.Context(), c.Params("id"), ownerOf(c))
}

// node loads the session and checks that the addressed node exists.
func (s *Server) node(c fiber.Ctx) (*EditorSession, flowgraph.Node, error) {
	ls, err := s.session(c)
	if err != nil {
		return nil, flowgraph.Node{}, err
	}
	n, ok := ls.graph.Node(c.Params("nodeId"))
	if !ok {
		return nil, flowgraph.Node{}, flowgraph.ErrNodeNotFound
	}
	return ls, n, nil
}

func (s *Server) createSession(c fiber.Ctx) error {
	var body struct {
		WorkflowID string `json:"workflowId"`
	}
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&body); err != nil {
			return badRequest("invalid body")
		}
	}

	var wf *flowgraph.Workflow
	if body.WorkflowID != "" {
		var err error
		wf, err = s.workflows.GetWorkflow(c.Context(), ownerOf(c), body.WorkflowID)
		if err != nil {
			return err
		}
		if wf == nil {
			return flowgraph.ErrWorkflowNotFound
		}
	}

	ls, err := s.sessions.Create(c.Context(), ownerOf(c), wf)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(viewOf(ls))
}

func (s *Server) getSession(c fiber.Ctx) error {
	ls, err := s.session(c)
	if err != nil {
		return err
	}
	return c.JSON(viewOf(ls))
}

func (s *Server) deleteSession(c fiber.Ctx) error {
	if err := s.sessions.Delete(c.Context(), c.Params("id"), ownerOf(c)); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// saveSession writes the session graph to its workflow, creating one on first save.
func (s *Server) saveSession(c fiber.Ctx) error {
	ls, err := s.session(c)
	if err != nil {
		return err
	}
	var body struct {
		Name *string `json:"name"`
	}
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&body); err != nil {
			return badRequest("invalid body")
		}
	}

	nodes, edges, err := ls.graph.Snapshot().Encode()
	if err != nil {
		return err
	}

	var wf *flowgraph.Workflow
	if id := ls.WorkflowID(); id != "" {
		wf, err = s.workflows.UpdateWorkflow(c.Context(), ownerOf(c), &flowgraph.WorkflowUpdate{
			ID:    id,
			Name:  body.Name,
			Nodes: nodes,
			Edges: edges,
		})
		if err != nil {
			return err
		}
	} else {
		name := "Untitled workflow"
		if body.Name != nil && *body.Name != "" {
			name = *body.Name
		}
		wf, err = s.workflows.CreateWorkflow(c.Context(), &flowgraph.Workflow{
			OwnerID: ownerOf(c),
			Name:    name,
			Nodes:   nodes,
			Edges:   edges,
		})
		if err != nil {
			return err
		}
		ls.setWorkflowID(wf.ID)
		if err := s.sessions.Save(c.Context(), ls); err != nil {
			return err
		}
	}
	return c.JSON(wf)
}

func (s *Server) addNode(c fiber.Ctx) error {
	ls, err := s.session(c)
	if err != nil {
		return err
	}
	var body struct {
		Type flowgraph.Kind `json:"type"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest("invalid body")
	}

	n, err := ls.graph.AddNode(body.Type)
	if err != nil {
		return err
	}
	if err := s.sessions.Save(c.Context(), ls); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(n)
}

func (s *Server) updateNode(c fiber.Ctx) error {
	ls, n, err := s.node(c)
	if err != nil {
		return err
	}
	var patch map[string]any
	if err := c.Bind().JSON(&patch); err != nil {
		return badRequest("invalid body")
	}
	if err := ls.graph.EditNodeData(n.ID, patch); err != nil {
		return err
	}
	if err := s.sessions.Save(c.Context(), ls); err != nil {
		return err
	}
	n, _ = ls.graph.Node(n.ID)
	return c.JSON(n)
}

func (s *Server) deleteNode(c fiber.Ctx) error {
	ls, err := s.session(c)
	if err != nil {
		return err
	}
	ls.graph.DeleteNode(c.Params("nodeId"))
	if err := s.sessions.Save(c.Context(), ls); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// uploadImage accepts a multipart "file" or a JSON {"dataUrl": ...} body,
// transcodes unsupported formats and stores the result as the node preview.
func (s *Server) uploadImage(c fiber.Ctx) error {
	ls, n, err := s.node(c)
	if err != nil {
		return err
	}
	if n.Type != flowgraph.KindImage {
		return badRequest("node is not an image node")
	}

	var uri string
	if fh, ferr := c.FormFile("file"); ferr == nil {
		f, err := fh.Open()
		if err != nil {
			return err
		}
		defer f.Close()
		raw, err := io.ReadAll(f)
		if err != nil {
			return err
		}
		mime := fh.Header.Get(fiber.HeaderContentType)
		if mime == "" || mime == fiber.MIMEOctetStream {
			mime = http.DetectContentType(raw)
		}
		uri = flowgraph.EncodeDataURI(mime, raw)
	} else {
		var body struct {
			DataURL string `json:"dataUrl"`
		}
		if err := c.Bind().JSON(&body); err != nil || body.DataURL == "" {
			return badRequest("expected multipart file or dataUrl")
		}
		uri = body.DataURL
	}

	preview, err := flowgraph.NormalizeImage(uri)
	if err != nil {
		return err
	}
	if err := ls.graph.UpdateNodeData(n.ID, map[string]any{"preview": preview}); err != nil {
		return err
	}
	if err := s.sessions.Save(c.Context(), ls); err != nil {
		return err
	}
	n, _ = ls.graph.Node(n.ID)
	return c.JSON(n)
}

func (s *Server) addOutputNode(c fiber.Ctx) error {
	ls, n, err := s.node(c)
	if err != nil {
		return err
	}
	out, created := ls.graph.AddOutputNode(n.ID)
	if !created {
		return c.JSON(fiber.Map{"created": false})
	}
	if err := s.sessions.Save(c.Context(), ls); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(out)
}

func (s *Server) materialize(c fiber.Ctx) error {
	ls, n, err := s.node(c)
	if err != nil {
		return err
	}
	m, err := ls.graph.Materialize(n.ID)
	if err != nil {
		return err
	}
	return c.JSON(m)
}

func (s *Server) resolveInputs(c fiber.Ctx) error {
	ls, n, err := s.node(c)
	if err != nil {
		return err
	}
	in, err := ls.graph.ResolveInputs(n.ID)
	if err != nil {
		return err
	}
	return c.JSON(in)
}

// runNode starts a generation and answers 202 without waiting for it.
func (s *Server) runNode(c fiber.Ctx) error {
	ls, n, err := s.node(c)
	if err != nil {
		return err
	}

	done, err := s.executor.Start(s.ctx, ls.graph, n.ID)
	if errors.Is(err, flowgraph.ErrUserMessageRequired) {
		// The error is recorded on the node; keep the session in sync.
		if serr := s.sessions.Save(c.Context(), ls); serr != nil {
			return serr
		}
	}
	if err != nil {
		return err
	}
	if err := s.sessions.Save(c.Context(), ls); err != nil {
		return err
	}

	nodeID := n.ID
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		<-done
		// The run may have been cancelled by shutdown; persist with a fresh context.
		if err := s.sessions.Save(context.WithoutCancel(s.ctx), ls); err != nil {
			s.logger.Error("persisting run result", "session", ls.id, "node", nodeID, "error", err)
		}
	}()

	running, _ := ls.graph.Node(nodeID)
	return c.Status(fiber.StatusAccepted).JSON(running)
}

func (s *Server) connect(c fiber.Ctx) error {
	ls, err := s.session(c)
	if err != nil {
		return err
	}
	var conn flowgraph.Connection
	if err := c.Bind().JSON(&conn); err != nil {
		return badRequest("invalid body")
	}

	e, ok := ls.graph.Connect(conn)
	if !ok {
		return c.JSON(fiber.Map{"accepted": false})
	}
	if err := s.sessions.Save(c.Context(), ls); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"accepted": true, "edge": e})
}

func (s *Server) checkConnection(c fiber.Ctx) error {
	ls, err := s.session(c)
	if err != nil {
		return err
	}
	var conn flowgraph.Connection
	if err := c.Bind().JSON(&conn); err != nil {
		return badRequest("invalid body")
	}
	return c.JSON(fiber.Map{"valid": ls.graph.IsValidConnection(conn)})
}

func (s *Server) applyNodeChanges(c fiber.Ctx) error {
	ls, err := s.session(c)
	if err != nil {
		return err
	}
	var changes []flowgraph.NodeChange
	if err := c.Bind().JSON(&changes); err != nil {
		return badRequest("invalid body")
	}
	ls.graph.ApplyNodeChanges(changes)
	if err := s.sessions.Save(c.Context(), ls); err != nil {
		return err
	}
	return c.JSON(viewOf(ls))
}

func (s *Server) applyEdgeChanges(c fiber.Ctx) error {
	ls, err := s.session(c)
	if err != nil {
		return err
	}
	var changes []flowgraph.EdgeChange
	if err := c.Bind().JSON(&changes); err != nil {
		return badRequest("invalid body")
	}
	ls.graph.ApplyEdgeChanges(changes)
	if err := s.sessions.Save(c.Context(), ls); err != nil {
		return err
	}
	return c.JSON(viewOf(ls))
}
