package daemon

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"assurance/internal/apperr"
	"assurance/internal/logger"
	"assurance/internal/model"
	"assurance/internal/repository"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

type Server struct {
	echo    *echo.Echo
	manager *ScanManager
	defRepo *repository.DefinitionRepository
	resRepo *repository.ResultRepository
	port    int
	stopCh  chan struct{}
}

func NewServer(manager *ScanManager, port int) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:    e,
		manager: manager,
		defRepo: repository.NewDefinitionRepository(),
		resRepo: repository.NewResultRepository(),
		port:    port,
		stopCh:  make(chan struct{}, 1),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	// For the entire daemon
	s.echo.GET("/status", s.handleStatus)
	s.echo.POST("/stop", s.handleStop)

	d := s.echo.Group("/definitions")
	d.GET("", s.handleListDefinitions)
	d.POST("", s.handleAddDefinition)
	d.GET("/:id", s.handleGetDefinition)
	d.PUT("/:id", s.handleUpdateDefinition)
	d.DELETE("/:id", s.handleRemoveDefinition)
	d.POST("/:id/scan", s.handleStartScan)
	d.DELETE("/:id/scan", s.handleCancelScan)

	r := s.echo.Group("/results")
	r.GET("", s.handleListResults)
	r.GET("/:id", s.handleGetResult)
	r.DELETE("/:id", s.handleRemoveResult)
	r.POST("/:id/resolve", s.handleResolve)
	r.POST("/:id/merge", s.handleMerge)
	r.POST("/:id/auto-merge", s.handleAutoMerge)
	r.POST("/:id/restore", s.handleRestore)
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() {
	go func() {
		addr := ":" + strconv.Itoa(s.port)
		logger.Log.Info("daemon server started",
			zap.String("addr", addr))

		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("daemon server error", zap.Error(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	s.manager.StopAll()
	return s.echo.Shutdown(ctx)
}

func (s *Server) StopCh() <-chan struct{} {
	return s.stopCh
}

func statusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindPathInaccessible:
		return http.StatusUnprocessableEntity
	case apperr.KindScanInProgress:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func fail(c echo.Context, err error) error {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		logger.Log.Error("request failed",
			zap.String("path", c.Path()),
			zap.Error(err))
	}

	return c.JSON(code, map[string]string{
		"error": err.Error(),
		"kind":  string(apperr.KindOf(err)),
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"scans": s.manager.Snapshots(),
	})
}

func (s *Server) handleStop(c echo.Context) error {
	select {
	case s.stopCh <- struct{}{}:
	default:
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "stopping"})
}

func (s *Server) handleListDefinitions(c echo.Context) error {
	defs, err := s.defRepo.GetAll()
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, defs)
}

func (s *Server) handleAddDefinition(c echo.Context) error {
	var def model.ScanDefinition
	if err := c.Bind(&def); err != nil {
		return fail(c, apperr.Validation("body", "malformed definition"))
	}

	if err := s.manager.AddDefinition(&def); err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusCreated, def)
}

func (s *Server) handleGetDefinition(c echo.Context) error {
	def, err := s.defRepo.GetByID(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, def)
}

func (s *Server) handleUpdateDefinition(c echo.Context) error {
	var def model.ScanDefinition
	if err := c.Bind(&def); err != nil {
		return fail(c, apperr.Validation("body", "malformed definition"))
	}
	def.ID = c.Param("id")

	if err := s.manager.UpdateDefinition(&def); err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, def)
}

func (s *Server) handleRemoveDefinition(c echo.Context) error {
	if err := s.manager.DeleteDefinition(c.Param("id")); err != nil {
		return fail(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleStartScan(c echo.Context) error {
	id := c.Param("id")

	if wait, _ := strconv.ParseBool(c.QueryParam("wait")); wait {
		result, err := s.manager.Run(c.Request().Context(), id)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusCreated, result)
	}

	snap, err := s.manager.Start(id)
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusAccepted, snap)
}

func (s *Server) handleCancelScan(c echo.Context) error {
	if err := s.manager.Cancel(c.Param("id")); err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *Server) handleListResults(c echo.Context) error {
	n := 20
	if nStr := c.QueryParam("n"); nStr != "" {
		if parsed, err := strconv.Atoi(nStr); err == nil {
			n = parsed
		}
	}

	results, err := s.resRepo.List(c.QueryParam("definition"), n)
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, results)
}

func (s *Server) handleGetResult(c echo.Context) error {
	result, err := s.resRepo.GetByID(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleRemoveResult(c echo.Context) error {
	if err := s.resRepo.Delete(c.Param("id")); err != nil {
		return fail(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}

type resolveRequest struct {
	Path   string            `json:"path"`
	Choice model.MergeChoice `json:"choice"`
}

type resolveResponse struct {
	Resolution model.MergeResolution  `json:"resolution"`
	Status     model.ResolutionStatus `json:"status"`
}

type mergeResponse struct {
	Resolutions []model.MergeResolution `json:"resolutions"`
	Status      model.ResolutionStatus  `json:"status"`
}

func (s *Server) handleResolve(c echo.Context) error {
	var req resolveRequest
	if err := c.Bind(&req); err != nil || req.Path == "" || req.Choice == "" {
		return fail(c, apperr.Validation("body", "path and choice required"))
	}

	res, status, err := s.manager.Resolve(c.Request().Context(), c.Param("id"), req.Path, req.Choice)
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, resolveResponse{Resolution: res, Status: status})
}

func (s *Server) handleMerge(c echo.Context) error {
	var req resolveRequest
	if err := c.Bind(&req); err != nil || req.Choice == "" {
		return fail(c, apperr.Validation("body", "choice required"))
	}

	resolutions, status, err := s.manager.MergeAll(c.Request().Context(), c.Param("id"), req.Choice)
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, mergeResponse{Resolutions: resolutions, Status: status})
}

func (s *Server) handleAutoMerge(c echo.Context) error {
	resolutions, status, err := s.manager.AutoMerge(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, mergeResponse{Resolutions: resolutions, Status: status})
}

func (s *Server) handleRestore(c echo.Context) error {
	var req resolveRequest
	if err := c.Bind(&req); err != nil || req.Path == "" {
		return fail(c, apperr.Validation("body", "path required"))
	}

	res, status, err := s.manager.Restore(c.Param("id"), req.Path)
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, resolveResponse{Resolution: res, Status: status})
}
