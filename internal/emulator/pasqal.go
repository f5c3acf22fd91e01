package emulator

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/qiskit-community/qrmi/internal/observability"
)

var pasqalDevices = []string{"FRESNEL", "FRESNEL_CAN1", "EMU_MPS", "EMU_FREE", "EMU_FRESNEL"}

var (
	pasqalStages = []string{"PENDING", "RUNNING", "DONE"}
	pasqalCancel = []string{"CANCELING", "CANCELED"}
)

const defaultIssuedToken = "emulator-token"

func (e *Emulator) registerPasqal(engine *gin.Engine) {
	engine.POST(PasqalTokenPath, e.pasqalIssueToken)

	api := engine.Group("/core-fast/api", e.pasqalAuth())
	api.GET("/v1/devices", e.pasqalListDevices)
	api.GET("/v1/devices/specs/:device", e.pasqalSpecs)
	api.POST("/v1/batches", e.pasqalCreateBatch)
	api.GET("/v2/batches/:id", e.pasqalGetBatch)
	api.PATCH("/v2/batches/:id/cancel", e.pasqalCancelBatch)
	api.GET("/v1/batches/:id/full_results", e.pasqalResults)
}

func pasqalError(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, gin.H{"status": "fail", "code": code, "message": message})
}

func (e *Emulator) pasqalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if e.pasqalToken == "" {
			c.Next()
			return
		}
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || token != e.pasqalToken {
			pasqalError(c, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		c.Next()
	}
}

// pasqalIssueToken answers password-realm grants for the configured user.
func (e *Emulator) pasqalIssueToken(c *gin.Context) {
	if c.PostForm("grant_type") == "" || c.PostForm("username") == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if c.PostForm("username") != e.pasqalUser || c.PostForm("password") != e.pasqalPassword {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":             "invalid_grant",
			"error_description": "Wrong email or password.",
		})
		return
	}
	token := e.pasqalToken
	if token == "" {
		token = defaultIssuedToken
	}
	e.logger.Debug("pasqal token issued", observability.String("username", e.pasqalUser))
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(DefaultTokenLifetime.Seconds()),
	})
}

func (e *Emulator) pasqalListDevices(c *gin.Context) {
	device := c.Query("device_type")
	e.mu.Lock()
	availability, ok := e.deviceAvailable[device]
	e.mu.Unlock()

	data := []gin.H{}
	if ok {
		st := "UP"
		if availability != "ACTIVE" {
			st = "DOWN"
		}
		data = append(data, gin.H{
			"device_type":  device,
			"status":       st,
			"availability": availability,
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

func (e *Emulator) pasqalSpecs(c *gin.Context) {
	device := c.Param("device")
	e.mu.Lock()
	_, ok := e.deviceAvailable[device]
	e.mu.Unlock()
	if !ok {
		pasqalError(c, http.StatusNotFound, "unknown device "+device)
		return
	}
	specs, err := json.Marshal(gin.H{
		"name":                device,
		"dimensions":          2,
		"max_atom_num":        25,
		"min_atom_distance":   5,
		"max_radial_distance": 35,
	})
	if err != nil {
		_ = c.Error(err)
		pasqalError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"specs": string(specs)}})
}

type pasqalBatchRequest struct {
	SequenceBuilder string `json:"sequence_builder"`
	Jobs            []struct {
		Runs int `json:"runs"`
	} `json:"jobs"`
	DeviceType string `json:"device_type"`
	ProjectID  string `json:"project_id"`
}

func (e *Emulator) pasqalCreateBatch(c *gin.Context) {
	var req pasqalBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		pasqalError(c, http.StatusBadRequest, err.Error())
		return
	}
	switch {
	case req.ProjectID == "":
		pasqalError(c, http.StatusBadRequest, "project_id is required")
		return
	case req.SequenceBuilder == "":
		pasqalError(c, http.StatusBadRequest, "sequence_builder is required")
		return
	case len(req.Jobs) != 1 || req.Jobs[0].Runs <= 0:
		pasqalError(c, http.StatusBadRequest, "exactly one job with positive runs is required")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.deviceAvailable[req.DeviceType]; !ok {
		pasqalError(c, http.StatusBadRequest, "unknown device "+req.DeviceType)
		return
	}
	b := &job{
		id:        uuid.NewString(),
		backend:   req.DeviceType,
		shots:     req.Jobs[0].Runs,
		created:   e.now(),
		cancelled: -1,
		stages:    pasqalStages,
		cancel:    pasqalCancel,
	}
	e.batches[b.id] = b
	c.JSON(http.StatusOK, gin.H{"data": e.batchDoc(b)})
}

func (e *Emulator) batchDoc(b *job) gin.H {
	return gin.H{
		"id":          b.id,
		"status":      b.status(e.stepPolls),
		"device_type": b.backend,
		"created_at":  b.created.UTC(),
	}
}

func (e *Emulator) pasqalBatch(c *gin.Context) (*job, bool) {
	b, ok := e.batches[c.Param("id")]
	if !ok {
		pasqalError(c, http.StatusNotFound, "unknown batch")
	}
	return b, ok
}

func (e *Emulator) pasqalGetBatch(c *gin.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.pasqalBatch(c)
	if !ok {
		return
	}
	b.read()
	c.JSON(http.StatusOK, gin.H{"data": e.batchDoc(b)})
}

func (e *Emulator) pasqalCancelBatch(c *gin.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.pasqalBatch(c)
	if !ok {
		return
	}
	if b.done(e.stepPolls) {
		pasqalError(c, http.StatusBadRequest, "batch already done")
		return
	}
	if b.cancelled < 0 {
		b.cancelled = 0
	}
	c.JSON(http.StatusOK, gin.H{"data": e.batchDoc(b)})
}

func (e *Emulator) pasqalResults(c *gin.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.pasqalBatch(c)
	if !ok {
		return
	}
	if !b.done(e.stepPolls) {
		pasqalError(c, http.StatusBadRequest, "batch is "+b.status(e.stepPolls))
		return
	}
	half := b.shots / 2
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		b.id + "-job": gin.H{"counter": gin.H{"00": b.shots - half, "11": half}},
	}})
}
