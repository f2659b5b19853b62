package server

import (
	"encoding/json"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/meikuraledutech/flowgraph"
)

func (s *Server) routes() {
	wf := s.app.Group("/workflows", s.authenticate)
	wf.Post("/", s.createWorkflow)
	wf.Get("/", s.listWorkflows)
	wf.Get("/:id", s.getWorkflow)
	wf.Put("/:id", s.updateWorkflow)
	wf.Delete("/:id", s.deleteWorkflow)

	sess := s.app.Group("/sessions", s.authenticate)
	sess.Post("/", s.createSession)
	sess.Get("/:id", s.getSession)
	sess.Delete("/:id", s.deleteSession)
	sess.Post("/:id/save", s.saveSession)

	sess.Post("/:id/nodes", s.addNode)
	sess.Patch("/:id/nodes/:nodeId", s.updateNode)
	sess.Delete("/:id/nodes/:nodeId", s.deleteNode)
	sess.Post("/:id/nodes/:nodeId/image", s.uploadImage)
	sess.Post("/:id/nodes/:nodeId/output", s.addOutputNode)
	sess.Get("/:id/nodes/:nodeId/output", s.materialize)
	sess.Get("/:id/nodes/:nodeId/inputs", s.resolveInputs)
	sess.Post("/:id/nodes/:nodeId/run", s.runNode)

	sess.Post("/:id/connections", s.connect)
	sess.Post("/:id/connections/check", s.checkConnection)
	sess.Post("/:id/changes/nodes", s.applyNodeChanges)
	sess.Post("/:id/changes/edges", s.applyEdgeChanges)
}

type workflowBody struct {
	Name  *string         `json:"name"`
	Nodes json.RawMessage `json:"nodes"`
	Edges json.RawMessage `json:"edges"`
}

func (s *Server) createWorkflow(c fiber.Ctx) error {
	var body workflowBody
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest("invalid body")
	}
	if body.Name == nil || *body.Name == "" {
		return badRequest("name is required")
	}

	w, err := s.workflows.CreateWorkflow(c.Context(), &flowgraph.Workflow{
		OwnerID: ownerOf(c),
		Name:    *body.Name,
		Nodes:   nonNull(body.Nodes),
		Edges:   nonNull(body.Edges),
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(w)
}

func (s *Server) listWorkflows(c fiber.Ctx) error {
	q := flowgraph.ListQuery{
		Cursor: c.Query("cursor"),
		Search: c.Query("search"),
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > flowgraph.MaxPageSize {
			return badRequest("limit must be between 1 and 100")
		}
		q.Limit = n
	}

	page, err := s.workflows.ListWorkflows(c.Context(), ownerOf(c), q)
	if err != nil {
		return err
	}
	return c.JSON(page)
}

func (s *Server) getWorkflow(c fiber.Ctx) error {
	w, err := s.workflows.GetWorkflow(c.Context(), ownerOf(c), c.Params("id"))
	if err != nil {
		return err
	}
	if w == nil {
		return flowgraph.ErrWorkflowNotFound
	}
	return c.JSON(w)
}

func (s *Server) updateWorkflow(c fiber.Ctx) error {
	var body workflowBody
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest("invalid body")
	}
	w, err := s.workflows.UpdateWorkflow(c.Context(), ownerOf(c), &flowgraph.WorkflowUpdate{
		ID:    c.Params("id"),
		Name:  body.Name,
		Nodes: nonNull(body.Nodes),
		Edges: nonNull(body.Edges),
	})
	if err != nil {
		return err
	}
	return c.JSON(w)
}

func (s *Server) deleteWorkflow(c fiber.Ctx) error {
	if err := s.workflows.DeleteWorkflow(c.Context(), ownerOf(c), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func nonNull(raw json.RawMessage) json.RawMessage {
	if string(raw) == "null" {
		return nil
	}
	return raw
}
