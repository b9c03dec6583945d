package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

const maxBodySize = 1 << 20

// Deps are the collaborators of the HTTP handlers.
type Deps struct {
	Services Services
	Auth     Authenticator
	Deduper  Deduper
	Broker   *Broker
	Logger   *log.Logger
	// Health checks run by /healthz, for example a redis ping.
	Health []func(context.Context) error
	Now    func() time.Time
}

type router struct {
	Deps
}

type handler func(c echo.Context, caller domain.Caller, m *requestMetrics) error

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Broker == nil {
		d.Broker = NewBroker()
	}
	r := &router{Deps: d}

	e.GET("/healthz", r.healthz)

	e.POST("/api/projects", r.wrap("/api/projects", r.createProject))
	e.GET("/api/projects", r.wrap("/api/projects", r.listProjects))
	e.GET("/api/projects/:projectId", r.wrap("/api/projects/:projectId", r.getProject))
	e.DELETE("/api/projects/:projectId", r.wrap("/api/projects/:projectId", r.deleteProject))

	e.POST("/api/projects/:projectId/sprints", r.wrap("/api/projects/:projectId/sprints", r.createSprint))
	e.GET("/api/projects/:projectId/sprints", r.wrap("/api/projects/:projectId/sprints", r.listSprints))
	e.POST("/api/projects/:projectId/sprints/:sprintId/transition", r.wrap("/api/sprints/transition", r.transitionSprint))

	e.GET("/api/projects/:projectId/sprints/:sprintId/board", r.wrap("/api/sprints/board", r.getBoard))
	e.GET("/api/projects/:projectId/sprints/:sprintId/stream", streamBoard(d.Services, d.Auth, d.Broker))
	e.POST("/api/projects/:projectId/sprints/:sprintId/moves", r.wrap("/api/sprints/moves", r.moveIssue))
	e.PUT("/api/projects/:projectId/sprints/:sprintId/order", r.wrap("/api/sprints/order", r.putOrder))

	e.POST("/api/projects/:projectId/issues", r.wrap("/api/issues", r.createIssue))
	e.PATCH("/api/projects/:projectId/issues/:issueId", r.wrap("/api/issues/:issueId", r.updateIssue))
	e.DELETE("/api/projects/:projectId/issues/:issueId", r.wrap("/api/issues/:issueId", r.deleteIssue))

	e.GET("/api/me/issues", r.wrap("/api/me/issues", r.myIssues))
}

// wrap authenticates the request and reports request metrics around h.
func (r *router) wrap(route string, h handler) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		m, ctx := newRequestMetrics(c.Request().Context(), r.Logger, route)
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() {
			m.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		caller, authErr := r.Auth.CallerFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		m.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			m.SetErrorStage("auth")
			return c.String(http.StatusUnauthorized, authErr.Error())
		}
		return h(c, caller, m)
	}
}

func (r *router) fail(c echo.Context, m *requestMetrics, err error) error {
	m.Fail(err)
	return writeError(c, err)
}

// mutated counts a committed mutation and announces it to local streams
// right away; other instances learn about it through the event channel.
func (r *router) mutated(m *requestMetrics, sprintID string) {
	boardMutations.WithLabelValues(m.route).Inc()
	if sprintID != "" {
		r.Broker.Notify(sprintID)
	}
}

func decode(c echo.Context, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid body", domain.ErrValidation)
	}
	return nil
}

func (r *router) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	for _, check := range r.Health {
		if err := check(ctx); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusServiceUnavailable, err.Error())
		}
	}
	return c.NoContent(http.StatusOK)
}

func (r *router) sprintViews(sprints []domain.Sprint) []sprintView {
	now := r.Now()
	out := make([]sprintView, len(sprints))
	for i, s := range sprints {
		out[i] = sprintView{Sprint: s, Badge: s.Badge(now)}
	}
	return out
}

func (r *router) createProject(c echo.Context, caller domain.Caller, m *requestMetrics) error {
	var req createProjectRequest
	if err := decode(c, &req); err != nil {
		return r.fail(c, m, err)
	}
	start := time.Now()
	p, err := r.Services.Projects.Create(c.Request().Context(), caller, domain.NewProject{Name: req.Name, Key: req.Key, Description: req.Description})
	m.ObserveStore(time.Since(start))
	if err != nil {
		return r.fail(c, m, err)
	}
	r.mutated(m, "")
	return c.JSON(http.StatusCreated, p)
}

func (r *router) listProjects(c echo.Context, caller domain.Caller, m *requestMetrics) error {
	start := time.Now()
	projects, err := r.Services.Projects.List(c.Request().Context(), caller)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return r.fail(c, m, err)
	}
	m.SetItems(len(projects))
	return c.JSON(http.StatusOK, map[string]any{"projects": projects})
}

func (r *router) getProject(c echo.Context, caller domain.Caller, m *requestMetrics) error {
	ctx := c.Request().Context()
	start := time.Now()
	p, err := r.Services.Projects.Get(ctx, caller, c.Param("projectId"))
	if err != nil {
		m.ObserveStore(time.Since(start))
		return r.fail(c, m, err)
	}
	sprints, err := r.Services.Sprints.List(ctx, caller, p.ID)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return r.fail(c, m, err)
	}
	m.SetItems(len(sprints))
	return c.JSON(http.StatusOK, projectResponse{Project: p, Sprints: r.sprintViews(sprints)})
}

func (r *router) deleteProject(c echo.Context, caller domain.Caller, m *requestMetrics) error {
	start := time.Now()
	err := r.Services.Projects.Delete(c.Request().Context(), caller, c.Param("projectId"))
	m.ObserveStore(time.Since(start))
	if err != nil {
		return r.fail(c, m, err)
	}
	r.mutated(m, "")
	return c.NoContent(http.StatusNoContent)
}

func (r *router) createSprint(c echo.Context, caller domain.Caller, m *requestMetrics) error {
	var req createSprintRequest
	if err := decode(c, &req); err != nil {
		return r.fail(c, m, err)
	}
	start := time.Now()
	sp, err := r.Services.Sprints.Create(c.Request().Context(), caller, c.Param("projectId"), domain.NewSprint{Name: req.Name, StartDate: req.StartDate, EndDate: req.EndDate})
	m.ObserveStore(time.Since(start))
	if err != nil {
		return r.fail(c, m, err)
	}
	r.mutated(m, "")
	return c.JSON(http.StatusCreated, sprintView{Sprint: *sp, Badge: sp.Badge(r.Now())})
}

func (r *router) listSprints(c echo.Context, caller domain.Caller, m *requestMetrics) error {
	start := time.Now()
	sprints, err := r.Services.Sprints.List(c.Request().Context(), caller, c.Param("projectId"))
	m.ObserveStore(time.Since(start))
	if err != nil {
		return r.fail(c, m, err)
	}
	m.SetItems(len(sprints))
	return c.JSON(http.StatusOK, map[string]any{"sprints": r.sprintViews(sprints)})
}

func (r *router) transitionSprint(c echo.Context, caller domain.Caller, m *requestMetrics) error {
	var req transitionRequest
	if err := decode(c, &req); err != nil {
		return r.fail(c, m, err)
	}
	to, err := domain.ParseSprintStatus(req.Status)
	if err != nil {
		return r.fail(c, m, err)
	}
	return once(c, r.Deduper, caller.UserID, func() error {
		start := time.Now()
		sp, err := r.Services.Sprints.Transition(c.Request().Context(), caller, c.Param("projectId"), c.Param("sprintId"), to)
		m.ObserveStore(time.Since(start))
		if err != nil {
			return r.fail(c, m, err)
		}
		r.mutated(m, sp.ID)
		return c.JSON(http.StatusOK, sprintView{Sprint: *sp, Badge: sp.Badge(r.Now())})
	})
}

func (r *router) getBoard(c echo.Context, caller domain.Caller, m *requestMetrics) error {
	start := time.Now()
	b, err := r.Services.Boards.Board(c.Request().Context(), caller, c.Param("projectId"), c.Param("sprintId"))
	m.ObserveStore(time.Since(start))
	if err != nil {
		return r.fail(c, m, err)
	}
	m.SetItems(b.Len())
	return c.JSON(http.StatusOK, b)
}

func (r *router) moveIssue(c echo.Context, caller domain.Caller, m *requestMetrics) error {
	var mv domain.Move
	if err := decode(c, &mv); err != nil {
		return r.fail(c, m, err)
	}
	sprintID := c.Param("sprintId")
	return once(c, r.Deduper, caller.UserID, func() error {
		start := time.Now()
		b, err := r.Services.Boards.Move(c.Request().Context(), caller, c.Param("projectId"), sprintID, mv)
		m.ObserveStore(time.Since(start))
		if err != nil {
			return r.fail(c, m, err)
		}
		if !mv.IsNoop() {
			r.mutated(m, sprintID)
		}
		m.SetItems(b.Len())
		return c.JSON(http.StatusOK, b)
	})
}

func (r *router) putOrder(c echo.Context, caller domain.Caller, m *requestMetrics) error {
	var req orderRequest
	if err := decode(c, &req); err != nil {
		return r.fail(c, m, err)
	}
	sprintID := c.Param("sprintId")
	return once(c, r.Deduper, caller.UserID, func() error {
		start := time.Now()
		b, err := r.Services.Boards.ApplyBatch(c.Request().Context(), caller, c.Param("projectId"), sprintID, req.Updates)
		m.ObserveStore(time.Since(start))
		if err != nil {
			return r.fail(c, m, err)
		}
		r.mutated(m, sprintID)
		m.SetItems(len(req.Updates))
		return c.JSON(http.StatusOK, b)
	})
}

func (r *router) createIssue(c echo.Context, caller domain.Caller, m *requestMetrics) error {
	var req createIssueRequest
	if err := decode(c, &req); err != nil {
		return r.fail(c, m, err)
	}
	in, err := req.toDomain()
	if err != nil {
		return r.fail(c, m, err)
	}
	return once(c, r.Deduper, caller.UserID, func() error {
		start := time.Now()
		is, err := r.Services.Boards.CreateIssue(c.Request().Context(), caller, c.Param("projectId"), in)
		m.ObserveStore(time.Since(start))
		if err != nil {
			return r.fail(c, m, err)
		}
		r.mutated(m, is.SprintID)
		return c.JSON(http.StatusCreated, is)
	})
}

func (r *router) updateIssue(c echo.Context, caller domain.Caller, m *requestMetrics) error {
	var req updateIssueRequest
	if err := decode(c, &req); err != nil {
		return r.fail(c, m, err)
	}
	edit, err := req.toDomain()
	if err != nil {
		return r.fail(c, m, err)
	}
	start := time.Now()
	is, err := r.Services.Boards.UpdateIssue(c.Request().Context(), caller, c.Param("projectId"), c.Param("issueId"), edit)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return r.fail(c, m, err)
	}
	r.mutated(m, is.SprintID)
	return c.JSON(http.StatusOK, is)
}

func (r *router) deleteIssue(c echo.Context, caller domain.Caller, m *requestMetrics) error {
	start := time.Now()
	err := r.Services.Boards.DeleteIssue(c.Request().Context(), caller, c.Param("projectId"), c.Param("issueId"))
	m.ObserveStore(time.Since(start))
	if err != nil {
		return r.fail(c, m, err)
	}
	r.mutated(m, "")
	return c.NoContent(http.StatusNoContent)
}

func (r *router) myIssues(c echo.Context, caller domain.Caller, m *requestMetrics) error {
	start := time.Now()
	issues, err := r.Services.Boards.UserIssues(c.Request().Context(), caller)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return r.fail(c, m, err)
	}
	m.SetItems(len(issues))
	return c.JSON(http.StatusOK, issuesResponse{Issues: issues})
}
