// Package ionq implements the IonQ Cloud resource against the v0.4 REST
// API.
package ionq

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/qiskit-community/qrmi/internal/adapter/base"
	"github.com/qiskit-community/qrmi/internal/config"
	"github.com/qiskit-community/qrmi/internal/credential"
	"github.com/qiskit-community/qrmi/internal/health"
	"github.com/qiskit-community/qrmi/internal/observability"
	"github.com/qiskit-community/qrmi/internal/pipeline"
	"github.com/qiskit-community/qrmi/internal/resource"
	"github.com/qiskit-community/qrmi/internal/status"
	"github.com/qiskit-community/qrmi/internal/util"
)

const (
	// DefaultEndpoint is the IonQ Cloud API base URL.
	DefaultEndpoint = "https://api.ionq.co/v0.4"

	// KeyAPIKey names the API key secret.
	KeyAPIKey = "QRMI_IONQ_CLOUD_API_KEY"

	// AuthScheme prefixes the API key in the Authorization header.
	AuthScheme = "apiKey"

	// DefaultAccessibleWhen is the availability rule applied to the
	// backend document.
	DefaultAccessibleWhen = `device.status == "available"`

	// JobType is the job type of circuit submissions.
	JobType = "ionq.circuit.v1"

	// Session limit options.
	OptionJobCountLimit = "session_job_count_limit"
	OptionDurationLimit = "session_duration_limit_min"
	OptionCostLimit     = "session_cost_limit"
)

// Backends lists the IonQ backend names.
var Backends = []string{
	"simulator",
	"qpu.harmony",
	"qpu.aria-1",
	"qpu.aria-2",
	"qpu.forte-1",
	"qpu.forte-enterprise-1",
	"qpu.forte-enterprise-2",
}

// Resource is an IonQ Cloud backend.
type Resource struct {
	name         string
	backend      string
	backendField string
	limits       map[string]any
	pipe         *pipeline.Pipeline
	accessible   *health.Evaluator
	session      resource.Session
	tracker      *resource.Tracker
	logger       observability.Logger
}

// New creates the resource described by cfg. A missing API key is
// logged; the backend document can still be read without it.
func New(ctx context.Context, cfg *config.ResourceConfig, d base.Deps) (*Resource, error) {
	d = d.WithDefaults()

	backend := base.Backend(cfg)
	if err := base.OneOf(cfg.Name+".backend", backend, Backends); err != nil {
		return nil, err
	}
	endpoint, err := base.Endpoint(cfg, DefaultEndpoint)
	if err != nil {
		return nil, err
	}
	accessible, err := base.Evaluator(cfg, DefaultAccessibleWhen, d)
	if err != nil {
		return nil, err
	}
	limits, err := sessionLimits(cfg)
	if err != nil {
		return nil, err
	}

	logger := d.Logger.With(observability.String("resource", cfg.Name))
	var opts []pipeline.Option
	if key := d.Secrets.Get(ctx, cfg.Name, KeyAPIKey, ""); key != "" {
		store := base.NewStore(cfg.Name, resource.KindIonQCloud, &credential.StaticRefresher{Token: key}, d)
		opts = append(opts,
			pipeline.WithAuthenticator(store),
			pipeline.WithAuthHeader("Authorization", AuthScheme),
		)
	} else {
		logger.Warn("no IonQ API key configured, job requests will be rejected",
			observability.String("key", KeyAPIKey))
	}

	return &Resource{
		name:         cfg.Name,
		backend:      backend,
		backendField: base.BackendField(cfg),
		limits:       limits,
		pipe:         base.NewPipeline(cfg, endpoint, d, opts...),
		accessible:   accessible,
		tracker:      resource.NewTracker(),
		logger:       logger,
	}, nil
}

func sessionLimits(cfg *config.ResourceConfig) (map[string]any, error) {
	limits := map[string]any{}
	for key, name := range map[string]string{
		OptionJobCountLimit: "job_count_limit",
		OptionDurationLimit: "duration_limit_min",
		OptionCostLimit:     "cost_limit",
	} {
		raw := cfg.Option(key, "")
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			return nil, util.NewConfigError(cfg.Name+".options."+key, fmt.Sprintf("%q is not a positive number", raw))
		}
		limits[name] = v
	}
	if len(limits) == 0 {
		return nil, nil
	}
	return limits, nil
}

func backendPath(backend string) string {
	return "/backends/" + url.PathEscape(backend)
}

func jobPath(id string) string {
	return "/jobs/" + url.PathEscape(id)
}

// IsAccessible implements resource.Resource.
func (r *Resource) IsAccessible(ctx context.Context) (bool, error) {
	resp, err := r.pipe.Do(ctx, &pipeline.Request{Method: http.MethodGet, Path: backendPath(r.backend)})
	if err != nil {
		return false, err
	}
	if !resp.IsSuccess() {
		r.logger.Debug("backend document unavailable", observability.Int("status_code", resp.StatusCode))
		return false, nil
	}
	return r.accessible.AccessibleJSON(ctx, r.name, resp.Body)
}

type sessionRequest struct {
	Backend string         `json:"backend"`
	Limits  map[string]any `json:"limits,omitempty"`
}

type sessionResponse struct {
	ID string `json:"id"`
}

// Acquire implements resource.Resource. It opens an IonQ session.
func (r *Resource) Acquire(ctx context.Context) (string, error) {
	var out sessionResponse
	err := r.pipe.JSON(ctx, http.MethodPost, "/sessions", sessionRequest{Backend: r.backend, Limits: r.limits}, &out)
	if err != nil {
		return "", base.Unavailable(err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("%s: session response has no id", r.name)
	}
	r.session.Open(out.ID)
	r.logger.Info("session opened", observability.String("session_id", out.ID))
	return out.ID, nil
}

// Release implements resource.Resource. Releasing without an open
// session only marks the resource released.
func (r *Resource) Release(ctx context.Context, sessionID string) error {
	open := r.session.ID()
	if sessionID == "" {
		sessionID = open
	}
	if err := r.session.Close(sessionID); err != nil {
		return err
	}
	if open == "" {
		return nil
	}
	req := &pipeline.Request{Method: http.MethodPost, Path: "/sessions/" + url.PathEscape(open) + "/end"}
	resp, err := r.pipe.Do(ctx, req)
	if err != nil {
		return err
	}
	if err := r.pipe.Check(req, resp); err != nil {
		return err
	}
	r.logger.Info("session ended", observability.String("session_id", open))
	return nil
}

type circuitInput struct {
	Format string `json:"format"`
	Data   string `json:"data"`
}

type jobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// TaskStart implements resource.Resource.
func (r *Resource) TaskStart(ctx context.Context, payload resource.Payload) (string, error) {
	p, err := resource.Expect[*resource.IonQCloudPayload](payload, resource.KindIonQCloud)
	if err != nil {
		return "", err
	}
	sessionID, err := r.session.Check()
	if err != nil {
		return "", err
	}

	var out jobResponse
	if err := r.pipe.JSON(ctx, http.MethodPost, "/jobs", r.jobBody(p, sessionID), &out); err != nil {
		return "", base.Unavailable(err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("%s: job response has no id", r.name)
	}

	r.tracker.Start(out.ID)
	if out.Status != "" {
		r.tracker.Observe(out.ID, status.IonQ(out.Status))
	}
	r.logger.Info("job submitted",
		observability.String("task_id", out.ID),
		observability.String("session_id", sessionID),
	)
	return out.ID, nil
}

// jobBody builds the job document. The backend is sent under the
// configured field name.
func (r *Resource) jobBody(p *resource.IonQCloudPayload, sessionID string) map[string]any {
	target := p.Target
	if target == "" {
		target = r.backend
	}
	name := p.Name
	if name == "" {
		name = "qrmi-" + uuid.NewString()
	}

	body := map[string]any{
		"type":         JobType,
		"name":         name,
		r.backendField: target,
	}
	if p.Shots > 0 {
		body["shots"] = p.Shots
	}
	if sessionID != "" {
		body["session_id"] = sessionID
	}

	switch p.Format {
	case resource.FormatIonQ:
		body["input"] = json.RawMessage(p.Input)
	case "":
		body["input"] = circuitInput{Format: resource.FormatQASM2, Data: p.Input}
	default:
		body["input"] = circuitInput{Format: p.Format, Data: p.Input}
	}
	return body
}

// TaskStop implements resource.Resource.
func (r *Resource) TaskStop(ctx context.Context, taskID string) error {
	if _, done := r.tracker.Terminal(taskID); done {
		return nil
	}
	req := &pipeline.Request{Method: http.MethodPut, Path: jobPath(taskID) + "/status/cancel"}
	resp, err := r.pipe.Do(ctx, req)
	if err != nil {
		return err
	}
	if err := r.pipe.Check(req, resp); err != nil {
		if serr := base.SettleStop(ctx, taskID, err, r.TaskStatus); serr != nil {
			return base.TaskError(serr, taskID)
		}
		r.logger.Debug("job already finished", observability.String("task_id", taskID))
		return nil
	}
	r.tracker.Cancel(taskID)
	r.logger.Info("job cancelled", observability.String("task_id", taskID))
	return nil
}

// TaskStatus implements resource.Resource.
func (r *Resource) TaskStatus(ctx context.Context, taskID string) (status.TaskStatus, error) {
	var out jobResponse
	if err := r.pipe.JSON(ctx, http.MethodGet, jobPath(taskID), nil, &out); err != nil {
		return "", base.TaskError(err, taskID)
	}
	return r.tracker.Observe(taskID, status.IonQ(out.Status)), nil
}

// TaskResult implements resource.Resource. It returns the probabilities
// document.
func (r *Resource) TaskResult(ctx context.Context, taskID string) (resource.TaskResult, error) {
	st, err := r.TaskStatus(ctx, taskID)
	if err != nil {
		return resource.TaskResult{}, err
	}
	if err := base.NotReady(taskID, st); err != nil {
		return resource.TaskResult{}, err
	}
	var out json.RawMessage
	if err := r.pipe.JSON(ctx, http.MethodGet, jobPath(taskID)+"/results/probabilities", nil, &out); err != nil {
		return resource.TaskResult{}, base.TaskError(err, taskID)
	}
	return resource.NewTaskResult(out)
}

// TaskLogs implements resource.Resource. IonQ has no log endpoint; the
// job document is returned instead.
func (r *Resource) TaskLogs(ctx context.Context, taskID string) (string, error) {
	var out json.RawMessage
	if err := r.pipe.JSON(ctx, http.MethodGet, jobPath(taskID), nil, &out); err != nil {
		return "", base.TaskError(err, taskID)
	}
	return string(out), nil
}

// Target implements resource.Resource.
func (r *Resource) Target(ctx context.Context) (resource.Target, error) {
	var out json.RawMessage
	if err := r.pipe.JSON(ctx, http.MethodGet, backendPath(r.backend), nil, &out); err != nil {
		return resource.Target{}, err
	}
	return resource.NewTarget(out)
}

// Metadata implements resource.Resource.
func (r *Resource) Metadata(context.Context) map[string]string {
	md := map[string]string{
		"backend_name": r.backend,
		"provider":     "ionq",
		"kind":         string(resource.KindIonQCloud),
	}
	if id := r.session.ID(); id != "" {
		md["session_id"] = id
	}
	return md
}

var _ resource.Resource = (*Resource)(nil)
