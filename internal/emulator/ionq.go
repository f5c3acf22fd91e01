package emulator

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/qiskit-community/qrmi/internal/observability"
)

var ionqBackends = []string{
	"simulator",
	"qpu.harmony",
	"qpu.aria-1",
	"qpu.aria-2",
	"qpu.forte-1",
	"qpu.forte-enterprise-1",
	"qpu.forte-enterprise-2",
}

var (
	ionqStages = []string{"submitted", "running", "completed"}
	ionqCancel = []string{"canceled"}
)

func (e *Emulator) registerIonQ(g *gin.RouterGroup) {
	g.GET("/backends/:backend", e.ionqBackend)

	auth := g.Group("", e.ionqAuth())
	auth.POST("/sessions", e.ionqCreateSession)
	auth.POST("/sessions/:id/end", e.ionqEndSession)
	auth.POST("/jobs", e.ionqCreateJob)
	auth.GET("/jobs/:id", e.ionqGetJob)
	auth.PUT("/jobs/:id/status/cancel", e.ionqCancelJob)
	auth.GET("/jobs/:id/results/probabilities", e.ionqProbabilities)
}

func ionqError(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, gin.H{"error": gin.H{"type": http.StatusText(code), "message": message}})
}

func (e *Emulator) ionqAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if e.ionqAPIKey == "" {
			c.Next()
			return
		}
		if c.GetHeader("Authorization") != "apiKey "+e.ionqAPIKey {
			ionqError(c, http.StatusUnauthorized, "invalid api key")
			return
		}
		c.Next()
	}
}

func (e *Emulator) ionqBackend(c *gin.Context) {
	backend := c.Param("backend")
	e.mu.Lock()
	st, ok := e.backendStatus[backend]
	e.mu.Unlock()
	if !ok {
		ionqError(c, http.StatusNotFound, "unknown backend "+backend)
		return
	}
	qubits := 36
	if strings.HasPrefix(backend, "qpu.aria") {
		qubits = 25
	}
	c.JSON(http.StatusOK, gin.H{
		"backend":            backend,
		"status":             st,
		"qubits":             qubits,
		"average_queue_time": 0,
		"last_updated":       e.now().Unix(),
		"has_access":         true,
	})
}

type ionqSessionRequest struct {
	Backend string         `json:"backend"`
	Limits  map[string]any `json:"limits"`
}

func (e *Emulator) ionqCreateSession(c *gin.Context) {
	var req ionqSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ionqError(c, http.StatusBadRequest, err.Error())
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.backendStatus[req.Backend]
	if !ok {
		ionqError(c, http.StatusBadRequest, "unknown backend "+req.Backend)
		return
	}
	if st != "available" {
		ionqError(c, http.StatusConflict, "backend "+req.Backend+" is "+st)
		return
	}
	s := &session{id: uuid.NewString(), backend: req.Backend}
	e.sessions[s.id] = s
	e.logger.Debug("ionq session created", observability.String("session_id", s.id))
	c.JSON(http.StatusOK, gin.H{
		"id":      s.id,
		"backend": s.backend,
		"status":  "created",
		"limits":  req.Limits,
	})
}

func (e *Emulator) ionqEndSession(c *gin.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[c.Param("id")]
	if !ok {
		ionqError(c, http.StatusNotFound, "unknown session")
		return
	}
	s.ended = true
	c.JSON(http.StatusOK, gin.H{"id": s.id, "status": "ended"})
}

type ionqJobRequest struct {
	Type      string          `json:"type"`
	Name      string          `json:"name"`
	Shots     int             `json:"shots"`
	Backend   string          `json:"backend"`
	Target    string          `json:"target"`
	Input     json.RawMessage `json:"input"`
	SessionID string          `json:"session_id"`
}

func (e *Emulator) ionqCreateJob(c *gin.Context) {
	var req ionqJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ionqError(c, http.StatusBadRequest, err.Error())
		return
	}
	backend := req.Backend
	if backend == "" {
		backend = req.Target
	}
	if len(req.Input) == 0 {
		ionqError(c, http.StatusBadRequest, "input is required")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.backendStatus[backend]; !ok {
		ionqError(c, http.StatusBadRequest, "unknown backend "+backend)
		return
	}
	if req.SessionID != "" {
		s, ok := e.sessions[req.SessionID]
		if !ok || s.ended {
			ionqError(c, http.StatusBadRequest, "session is not active")
			return
		}
	}

	j := &job{
		id:        uuid.NewString(),
		backend:   backend,
		name:      req.Name,
		sessionID: req.SessionID,
		shots:     req.Shots,
		created:   e.now(),
		cancelled: -1,
		stages:    ionqStages,
		cancel:    ionqCancel,
	}
	e.jobs[j.id] = j
	c.JSON(http.StatusOK, gin.H{"id": j.id, "status": j.status(e.stepPolls)})
}

func (e *Emulator) ionqJob(c *gin.Context) (*job, bool) {
	j, ok := e.jobs[c.Param("id")]
	if !ok {
		ionqError(c, http.StatusNotFound, "unknown job")
	}
	return j, ok
}

func (e *Emulator) ionqGetJob(c *gin.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.ionqJob(c)
	if !ok {
		return
	}
	j.read()
	body := gin.H{
		"id":         j.id,
		"name":       j.name,
		"status":     j.status(e.stepPolls),
		"backend":    j.backend,
		"shots":      j.shots,
		"request":    j.created.Unix(),
		"session_id": j.sessionID,
	}
	c.JSON(http.StatusOK, body)
}

func (e *Emulator) ionqCancelJob(c *gin.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.ionqJob(c)
	if !ok {
		return
	}
	if j.done(e.stepPolls) {
		ionqError(c, http.StatusBadRequest, "job already completed")
		return
	}
	if j.cancelled < 0 {
		j.cancelled = 0
	}
	c.JSON(http.StatusOK, gin.H{"id": j.id, "status": j.status(e.stepPolls)})
}

func (e *Emulator) ionqProbabilities(c *gin.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.ionqJob(c)
	if !ok {
		return
	}
	if !j.done(e.stepPolls) {
		ionqError(c, http.StatusBadRequest, "job is "+j.status(e.stepPolls))
		return
	}
	c.JSON(http.StatusOK, gin.H{"0": 0.5, "3": 0.5})
}
