package api

import (
	"errors"
	"io/fs"

	"github.com/gofiber/fiber/v2"

	"github.com/randomizedcoder/go-srcbuild/internal/supervisor"
	"github.com/randomizedcoder/go-srcbuild/internal/transfer"
	"github.com/randomizedcoder/go-srcbuild/internal/workspace"
)

// VersionRequestDTO starts a download or a build.
type VersionRequestDTO struct {
	Version string `json:"version"`
	Target  string `json:"target"`
}

// DecompressRequestDTO names the archive and the extraction directory.
type DecompressRequestDTO struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// InstallRequestDTO names the source tree to configure and install.
type InstallRequestDTO struct {
	Target string `json:"target"`
}

// CopyRequestDTO copies one directory tree onto another.
type CopyRequestDTO struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// TaskErrorDTO is the body of a failed task request.
type TaskErrorDTO struct {
	Error string   `json:"error"`
	Step  string   `json:"step,omitempty"`
	Kind  string   `json:"kind,omitempty"`
	Tail  []string `json:"tail,omitempty"`
}

// AbortResponseDTO reports whether an abort request reached a running task.
type AbortResponseDTO struct {
	Accepted bool   `json:"accepted"`
	State    string `json:"state"`
}

func (s *Server) getState(c *fiber.Ctx) error {
	return c.JSON(s.sup.Status())
}

func (s *Server) startDownload(c *fiber.Ctx) error {
	var req VersionRequestDTO
	if err := s.parseBody(c, &req); err != nil {
		return err
	}
	if req.Version == "" || req.Target == "" {
		return fiber.NewError(fiber.StatusBadRequest, "version and target are required")
	}
	summary, err := s.sup.StartDownload(c.UserContext(), req.Version, req.Target)
	if err != nil {
		return s.taskError(c, err)
	}
	return c.JSON(summary)
}

func (s *Server) decompress(c *fiber.Ctx) error {
	var req DecompressRequestDTO
	if err := s.parseBody(c, &req); err != nil {
		return err
	}
	if req.Source == "" || req.Target == "" {
		return fiber.NewError(fiber.StatusBadRequest, "source and target are required")
	}
	summary, err := s.sup.Decompress(c.UserContext(), req.Source, req.Target)
	if err != nil {
		return s.taskError(c, err)
	}
	return c.JSON(summary)
}

func (s *Server) startInstall(c *fiber.Ctx) error {
	var req InstallRequestDTO
	if err := s.parseBody(c, &req); err != nil {
		return err
	}
	if req.Target == "" {
		return fiber.NewError(fiber.StatusBadRequest, "target is required")
	}
	summary, err := s.sup.StartInstall(c.UserContext(), req.Target)
	if err != nil {
		return s.taskError(c, err)
	}
	return c.JSON(summary)
}

func (s *Server) build(c *fiber.Ctx) error {
	var req VersionRequestDTO
	if err := s.parseBody(c, &req); err != nil {
		return err
	}
	if req.Version == "" || req.Target == "" {
		return fiber.NewError(fiber.StatusBadRequest, "version and target are required")
	}
	summary, err := s.sup.Build(c.UserContext(), req.Version, req.Target)
	if err != nil {
		return s.taskError(c, err)
	}
	return c.JSON(summary)
}

func (s *Server) abort(c *fiber.Ctx) error {
	accepted := s.sup.RequestAbort()
	return c.JSON(AbortResponseDTO{
		Accepted: accepted,
		State:    s.sup.State().String(),
	})
}

func (s *Server) copyDir(c *fiber.Ctx) error {
	var req CopyRequestDTO
	if err := s.parseBody(c, &req); err != nil {
		return err
	}
	if req.From == "" || req.To == "" {
		return fiber.NewError(fiber.StatusBadRequest, "from and to are required")
	}
	if err := s.ws.CopyDir(req.From, req.To); err != nil {
		return fsError(err)
	}
	return c.JSON(fiber.Map{"message": "Copy successful"})
}

func (s *Server) cleanup(c *fiber.Ctx) error {
	var req VersionRequestDTO
	if err := s.parseBody(c, &req); err != nil {
		return err
	}
	if req.Version == "" || req.Target == "" {
		return fiber.NewError(fiber.StatusBadRequest, "version and target are required")
	}
	if err := s.ws.Cleanup(req.Target, s.name, req.Version); err != nil {
		return fsError(err)
	}
	return c.JSON(fiber.Map{"message": "Cleanup successful"})
}

func (s *Server) parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		s.logger.Warn("body_parse_failed", "path", c.Path(), "error", err)
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	return nil
}

// taskError maps a supervisor error onto a response. A busy slot is a
// conflict; anything else is a server-side failure with whatever detail the
// error carries.
func (s *Server) taskError(c *fiber.Ctx, err error) error {
	if errors.Is(err, supervisor.ErrAlreadyRunning) {
		return c.Status(fiber.StatusConflict).JSON(TaskErrorDTO{Error: err.Error()})
	}

	body := TaskErrorDTO{Error: err.Error()}
	var stepErr *supervisor.StepError
	if errors.As(err, &stepErr) {
		body.Step = stepErr.Step
		body.Tail = stepErr.Tail
	}
	var tErr *transfer.Error
	if errors.As(err, &tErr) {
		body.Kind = tErr.Kind.String()
	}

	s.logger.Error("task_request_failed",
		"path", c.Path(),
		"step", body.Step,
		"error", err,
		"request_id", c.Locals(requestIDKey),
	)
	return c.Status(fiber.StatusInternalServerError).JSON(body)
}

func fsError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, workspace.ErrNotDirectory):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	default:
		return err
	}
}
