package server

import (
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ifuryst/reelpost/internal/models"
	"github.com/ifuryst/reelpost/internal/service"
)

// writeError maps the service error taxonomy onto HTTP status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.Logger.Error("Request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return uint(id), true
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
		"timers": s.Scheduler.Len(),
	})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, expires, err := s.Auth.Login(req.Code)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		s.writeError(c, err)
		return
	}

	maxAge := int(time.Until(expires).Seconds())
	c.SetCookie(service.AuthCookie, token, maxAge, "/", "", s.Config.Server.CertFile != "", true)
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": expires})
}

func (s *Server) handleListPosts(c *gin.Context) {
	var filter service.ListFilter
	if status := c.Query("status"); status != "" {
		st := models.PostStatus(status)
		filter.Status = &st
	}
	if raw := c.Query("account_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account_id"})
			return
		}
		accountID := uint(id)
		filter.AccountID = &accountID
	}

	posts, err := s.Posts.List(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": posts})
}

func (s *Server) handleSubmitPost(c *gin.Context) {
	var req service.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := s.Posts.Submit(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) handleGetPost(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	post, err := s.Posts.Get(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func (s *Server) handleCancelPost(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.Posts.Cancel(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Post cancelled"})
}

func (s *Server) handleCleanupFailed(c *gin.Context) {
	var req struct {
		OlderThan string `json:"older_than"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	retention := s.Config.Scheduler.Retention()
	if req.OlderThan != "" {
		d, err := time.ParseDuration(req.OlderThan)
		if err != nil || d < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid older_than duration"})
			return
		}
		retention = d
	}

	deleted, err := s.Posts.CleanupFailed(c.Request.Context(), time.Now().UTC().Add(-retention))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// handleUploadContent stores a multipart file and returns the locator to submit with.
func (s *Server) handleUploadContent(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing file"})
		return
	}

	reader, err := file.Open()
	if err != nil {
		s.writeError(c, err)
		return
	}
	defer reader.Close()

	locator := uuid.NewString() + strings.ToLower(path.Ext(file.Filename))
	if err := s.Content.Save(c.Request.Context(), locator, reader); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"content_locator": locator})
}

func (s *Server) handleListAccounts(c *gin.Context) {
	accounts, err := s.Accounts.List(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

func (s *Server) handleCreateAccount(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
		Active   *bool  `json:"active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	account, err := s.Accounts.Create(c.Request.Context(), req.Username, req.Password, active)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

func (s *Server) handleDeleteAccount(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.Accounts.Delete(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Account deleted"})
}

func (s *Server) handleSetAccountActive(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.Accounts.SetActive(c.Request.Context(), id, *req.Active); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": *req.Active})
}

func (s *Server) handleVerifySession(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	account, err := s.Accounts.Get(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}

	verdict := s.Gate.Validate(c.Request.Context(), account)
	c.JSON(http.StatusOK, gin.H{
		"username": account.Username,
		"state":    verdict.State.String(),
		"detail":   verdict.Detail,
	})
}

func (s *Server) handleGetScheduleConfig(c *gin.Context) {
	cfg, err := s.Configs.Get(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleUpdateScheduleConfig(c *gin.Context) {
	var patch service.ScheduleConfigPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg, err := s.Configs.Update(c.Request.Context(), patch)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.Monitoring.Stats(c.Request.Context(), s.Scheduler.Len())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleListErrors(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}
	logs, err := s.Monitoring.ListErrors(c.Request.Context(), c.Query("unresolved") == "true", limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"errors": logs})
}

func (s *Server) handleResolveError(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.Monitoring.ResolveError(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Error resolved"})
}
