// Package emulator serves local emulations of the IonQ Cloud and Pasqal
// Cloud REST APIs. Jobs advance one stage every few status reads, which
// lets the adapters run end to end without provider accounts.
//
// IonQ routes live under IonQPrefix and Pasqal routes under
// /core-fast/api, so one server can back both adapters.
package emulator

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qiskit-community/qrmi/internal/observability"
)

const (
	// IonQPrefix is the path prefix of the IonQ routes.
	IonQPrefix = "/ionq/v0.4"

	// PasqalTokenPath is the password-realm token route.
	PasqalTokenPath = "/oauth/token"

	// DefaultStepPolls is the number of status reads per job stage.
	DefaultStepPolls = 1

	// DefaultTokenLifetime is the expires_in of issued tokens.
	DefaultTokenLifetime = time.Hour
)

// ginModeOnce ensures gin.SetMode is only called once.
var ginModeOnce sync.Once

// Emulator holds the emulated provider state.
type Emulator struct {
	logger    observability.Logger
	now       func() time.Time
	stepPolls int

	ionqAPIKey     string
	pasqalToken    string
	pasqalUser     string
	pasqalPassword string

	failures atomic.Int32

	mu              sync.Mutex
	backendStatus   map[string]string
	deviceAvailable map[string]string
	sessions        map[string]*session
	jobs            map[string]*job
	batches         map[string]*job
}

type session struct {
	id      string
	backend string
	ended   bool
}

// job is an emulated IonQ job or Pasqal batch.
type job struct {
	id        string
	backend   string
	name      string
	sessionID string
	shots     int
	created   time.Time
	polls     int
	cancelled int // status reads since cancellation, -1 when not cancelled
	stages    []string
	cancel    []string
}

// status returns the provider literal of j.
func (j *job) status(stepPolls int) string {
	if j.cancelled >= 0 {
		return j.cancel[min(j.cancelled, len(j.cancel)-1)]
	}
	return j.stages[min(j.polls/stepPolls, len(j.stages)-1)]
}

// read counts one status read.
func (j *job) read() {
	if j.cancelled >= 0 {
		j.cancelled++
		return
	}
	j.polls++
}

func (j *job) done(stepPolls int) bool {
	return j.cancelled < 0 && j.polls/stepPolls >= len(j.stages)-1
}

// Option configures an Emulator.
type Option func(*Emulator)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(e *Emulator) {
		e.logger = logger
	}
}

// WithClock sets the time source of job timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Emulator) {
		if now != nil {
			e.now = now
		}
	}
}

// WithStepPolls sets the number of status reads per job stage.
func WithStepPolls(n int) Option {
	return func(e *Emulator) {
		if n > 0 {
			e.stepPolls = n
		}
	}
}

// WithIonQAPIKey requires key on IonQ job and session routes.
func WithIonQAPIKey(key string) Option {
	return func(e *Emulator) {
		e.ionqAPIKey = key
	}
}

// WithPasqalToken requires token as bearer on Pasqal routes.
func WithPasqalToken(token string) Option {
	return func(e *Emulator) {
		e.pasqalToken = token
	}
}

// WithPasqalUser makes the token route issue the Pasqal token for
// username and password.
func WithPasqalUser(username, password string) Option {
	return func(e *Emulator) {
		e.pasqalUser = username
		e.pasqalPassword = password
	}
}

// New creates an Emulator. All IonQ backends report available and all
// Pasqal devices ACTIVE.
func New(opts ...Option) *Emulator {
	e := &Emulator{
		logger:          observability.NopLogger(),
		now:             time.Now,
		stepPolls:       DefaultStepPolls,
		backendStatus:   make(map[string]string),
		deviceAvailable: make(map[string]string),
		sessions:        make(map[string]*session),
		jobs:            make(map[string]*job),
		batches:         make(map[string]*job),
	}
	for _, b := range ionqBackends {
		e.backendStatus[b] = "available"
	}
	for _, d := range pasqalDevices {
		e.deviceAvailable[d] = "ACTIVE"
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetBackendStatus sets the status reported for an IonQ backend.
func (e *Emulator) SetBackendStatus(backend, status string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.backendStatus[backend] = status
}

// SetDeviceAvailability sets the availability of a Pasqal device.
func (e *Emulator) SetDeviceAvailability(device, availability string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deviceAvailable[device] = availability
}

// FailNext answers the next n requests with 503.
func (e *Emulator) FailNext(n int) {
	e.failures.Store(int32(n))
}

// Handler returns the gin engine serving every emulated route. middleware
// runs after fault injection and before the route handlers.
func (e *Emulator) Handler(middleware ...gin.HandlerFunc) *gin.Engine {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	engine := gin.New()
	engine.Use(recovery(e.logger), requestLogger(e.logger), e.faults())
	engine.Use(middleware...)

	e.registerIonQ(engine.Group(IonQPrefix))
	e.registerPasqal(engine)
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found", "path": c.Request.URL.Path})
	})
	return engine
}

// faults injects the failures requested by FailNext.
func (e *Emulator) faults() gin.HandlerFunc {
	return func(c *gin.Context) {
		for {
			n := e.failures.Load()
			if n <= 0 {
				break
			}
			if e.failures.CompareAndSwap(n, n-1) {
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "injected failure"})
				return
			}
		}
		c.Next()
	}
}
