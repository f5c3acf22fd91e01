// Package directaccess implements IBM Quantum Direct Access resources.
// Requests are authenticated with an IBM Cloud IAM API key or App ID
// credentials; jobs are Qiskit Runtime primitive invocations.
package directaccess

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

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

// Secret keys.
const (
	KeyEndpoint       = "QRMI_IBM_DA_ENDPOINT"
	KeyIAMAPIKey      = "QRMI_IBM_DA_IAM_APIKEY"
	KeyServiceCRN     = "QRMI_IBM_DA_SERVICE_CRN"
	KeyIAMEndpoint    = "QRMI_IBM_DA_IAM_ENDPOINT"
	KeyAppIDUsername  = "QRMI_IBM_DA_APPID_USERNAME"
	KeyAppIDPassword  = "QRMI_IBM_DA_APPID_PASSWORD"
	KeyAppIDEndpoint  = "QRMI_IBM_DA_APPID_ENDPOINT"
	KeyTimeoutSeconds = "QRMI_IBM_DA_TIMEOUT_SECONDS"
)

const (
	// DefaultIAMEndpoint is the IBM Cloud IAM base URL.
	DefaultIAMEndpoint = "https://iam.cloud.ibm.com"

	// IAMTokenPath is appended to the IAM endpoint.
	IAMTokenPath = "/identity/token"

	// AppIDTokenPath is appended to the service endpoint when no App ID
	// endpoint is configured.
	AppIDTokenPath = "/v1/token"

	// ServiceCRNHeader carries the service instance CRN.
	ServiceCRNHeader = "Service-CRN"

	// DefaultAccessibleWhen accepts backends reported online.
	DefaultAccessibleWhen = `device.status.lower() == "online"`
)

// Resource is a Direct Access backend.
type Resource struct {
	name       string
	backend    string
	timeout    int
	pipe       *pipeline.Pipeline
	public     *pipeline.Pipeline
	accessible *health.Evaluator
	session    resource.Session
	tracker    *resource.Tracker
	logger     observability.Logger
}

// New creates the resource described by cfg. The service endpoint comes
// from cfg or the QRMI_IBM_DA_ENDPOINT secret. IAM is used when an API
// key is configured, App ID otherwise.
func New(ctx context.Context, cfg *config.ResourceConfig, d base.Deps) (*Resource, error) {
	d = d.WithDefaults()

	if cfg.Endpoint == "" {
		resolved := *cfg
		endpoint, err := d.Secrets.Require(ctx, cfg.Name, KeyEndpoint)
		if err != nil {
			return nil, err
		}
		resolved.Endpoint = endpoint
		cfg = &resolved
	}
	endpoint, err := base.Endpoint(cfg, "")
	if err != nil {
		return nil, err
	}
	accessible, err := base.Evaluator(cfg, DefaultAccessibleWhen, d)
	if err != nil {
		return nil, err
	}

	timeout := 0
	if raw := d.Secrets.Get(ctx, cfg.Name, KeyTimeoutSeconds, ""); raw != "" {
		if timeout, err = strconv.Atoi(raw); err != nil || timeout < 0 {
			return nil, util.NewConfigError(KeyTimeoutSeconds, fmt.Sprintf("%q is not a non-negative integer", raw))
		}
	}

	refresher, headers, err := newRefresher(ctx, cfg, endpoint, d)
	if err != nil {
		return nil, err
	}
	store := base.NewStore(cfg.Name, resource.KindDirectAccess, refresher, d)

	opts := []pipeline.Option{pipeline.WithAuthenticator(store)}
	for k, v := range headers {
		opts = append(opts, pipeline.WithHeader(k, v))
	}

	return &Resource{
		name:       cfg.Name,
		backend:    base.Backend(cfg),
		timeout:    timeout,
		pipe:       base.NewPipeline(cfg, endpoint, d, opts...),
		public:     base.NewPipeline(cfg, endpoint, d),
		accessible: accessible,
		tracker:    resource.NewTracker(),
		logger:     d.Logger.With(observability.String("resource", cfg.Name)),
	}, nil
}

// newRefresher picks the credential exchange and the static headers it
// needs.
func newRefresher(ctx context.Context, cfg *config.ResourceConfig, endpoint string, d base.Deps) (credential.Refresher, map[string]string, error) {
	tokenPipe := func(u string) pipeline.HTTPDoer {
		return base.NewPipeline(cfg, u, d).Doer()
	}

	if apiKey := d.Secrets.Get(ctx, cfg.Name, KeyIAMAPIKey, ""); apiKey != "" {
		crn, err := d.Secrets.Require(ctx, cfg.Name, KeyServiceCRN)
		if err != nil {
			return nil, nil, err
		}
		iam := cfg.AuthEndpoint
		if iam == "" {
			iam = d.Secrets.Get(ctx, cfg.Name, KeyIAMEndpoint, DefaultIAMEndpoint)
		}
		tokenURL := strings.TrimRight(util.EnsureScheme(iam), "/") + IAMTokenPath
		return &credential.APIKeyRefresher{
			Endpoint: tokenURL,
			APIKey:   apiKey,
			Margin:   credential.IAMExpiryMargin,
			Client:   tokenPipe(tokenURL),
			Now:      d.Clock.Now,
		}, map[string]string{ServiceCRNHeader: crn}, nil
	}

	username := d.Secrets.Get(ctx, cfg.Name, KeyAppIDUsername, "")
	password := d.Secrets.Get(ctx, cfg.Name, KeyAppIDPassword, "")
	if username == "" || password == "" {
		return nil, nil, fmt.Errorf("%w: %s: set %s and %s, or %s and %s", util.ErrCredentialsMissing, cfg.Name,
			KeyIAMAPIKey, KeyServiceCRN, KeyAppIDUsername, KeyAppIDPassword)
	}
	tokenURL := cfg.AuthEndpoint
	if tokenURL == "" {
		tokenURL = d.Secrets.Get(ctx, cfg.Name, KeyAppIDEndpoint, endpoint+AppIDTokenPath)
	}
	tokenURL = util.EnsureScheme(tokenURL)
	return &credential.BasicAuthRefresher{
		Endpoint: tokenURL,
		Username: username,
		Password: password,
		Client:   tokenPipe(tokenURL),
		Now:      d.Clock.Now,
	}, nil, nil
}

// apiError is the Direct Access error document.
type apiError struct {
	Errors []struct {
		Code     string `json:"code"`
		Message  string `json:"message"`
		MoreInfo string `json:"more_info"`
	} `json:"errors"`
	StatusCode    int    `json:"status_code"`
	Title         string `json:"title"`
	Trace         string `json:"trace"`
	CorrelationID string `json:"correlation_id"`
}

// describe returns err with a summary of a Direct Access error body.
func describe(err error) error {
	var pe *util.ProviderError
	if !errors.As(err, &pe) || pe.Body == "" {
		return err
	}
	var doc apiError
	if json.Unmarshal([]byte(pe.Body), &doc) != nil || (len(doc.Errors) == 0 && doc.Title == "") {
		return err
	}
	parts := make([]string, 0, len(doc.Errors))
	for _, e := range doc.Errors {
		if e.Code != "" {
			parts = append(parts, e.Code+": "+e.Message)
		} else {
			parts = append(parts, e.Message)
		}
	}
	summary := doc.Title
	if len(parts) > 0 {
		summary = strings.TrimPrefix(summary+" "+strings.Join(parts, "; "), " ")
	}
	if doc.CorrelationID != "" {
		summary += " (correlation id " + doc.CorrelationID + ")"
	}
	return fmt.Errorf("%s: %w", summary, err)
}

type versionsResponse struct {
	Versions []string `json:"versions"`
}

// Versions lists the API versions offered by the service. The call is not
// authenticated.
func (r *Resource) Versions(ctx context.Context) ([]string, error) {
	var out versionsResponse
	if err := r.public.JSON(ctx, http.MethodGet, "/versions", nil, &out); err != nil {
		return nil, describe(err)
	}
	return out.Versions, nil
}

type serviceVersion struct {
	Version string `json:"version"`
}

// ServiceVersion returns the version of the service. The call is not
// authenticated.
func (r *Resource) ServiceVersion(ctx context.Context) (string, error) {
	var out serviceVersion
	if err := r.public.JSON(ctx, http.MethodGet, "/version", nil, &out); err != nil {
		return "", describe(err)
	}
	return out.Version, nil
}

func backendPath(backend string) string {
	return "/v1/backends/" + url.PathEscape(backend)
}

func jobPath(id string) string {
	return "/v1/jobs/" + url.PathEscape(id)
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

// Acquire implements resource.Resource. Direct Access has no sessions.
func (r *Resource) Acquire(context.Context) (string, error) {
	id := uuid.NewString()
	r.session.Open(id)
	return id, nil
}

// Release implements resource.Resource.
func (r *Resource) Release(_ context.Context, sessionID string) error {
	return r.session.Close(sessionID)
}

type jobRequest struct {
	ID          string          `json:"id"`
	Backend     string          `json:"backend"`
	ProgramID   string          `json:"program_id"`
	TimeoutSecs int             `json:"timeout_secs,omitempty"`
	Params      json.RawMessage `json:"params"`
}

// TaskStart implements resource.Resource. The job id is chosen by the
// client.
func (r *Resource) TaskStart(ctx context.Context, payload resource.Payload) (string, error) {
	p, err := resource.Expect[*resource.QiskitPrimitivePayload](payload, resource.KindDirectAccess)
	if err != nil {
		return "", err
	}
	if _, err := r.session.Check(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	body := jobRequest{
		ID:          id,
		Backend:     r.backend,
		ProgramID:   p.ProgramID,
		TimeoutSecs: r.timeout,
		Params:      json.RawMessage(p.Input),
	}
	if err := r.pipe.JSON(ctx, http.MethodPost, "/v1/jobs", body, nil); err != nil {
		return "", base.Unavailable(describe(err))
	}
	r.tracker.Start(id)
	r.logger.Info("job submitted",
		observability.String("task_id", id),
		observability.String("program_id", p.ProgramID),
	)
	return id, nil
}

// TaskStop implements resource.Resource.
func (r *Resource) TaskStop(ctx context.Context, taskID string) error {
	if _, done := r.tracker.Terminal(taskID); done {
		return nil
	}
	if err := r.pipe.JSON(ctx, http.MethodPost, jobPath(taskID)+"/cancel", nil, nil); err != nil {
		if serr := base.SettleStop(ctx, taskID, err, r.TaskStatus); serr != nil {
			return base.TaskError(describe(serr), taskID)
		}
		r.logger.Debug("job already finished", observability.String("task_id", taskID))
		return nil
	}
	r.tracker.Cancel(taskID)
	r.logger.Info("job cancelled", observability.String("task_id", taskID))
	return nil
}

type jobResponse struct {
	Status string `json:"status"`
}

// TaskStatus implements resource.Resource.
func (r *Resource) TaskStatus(ctx context.Context, taskID string) (status.TaskStatus, error) {
	var out jobResponse
	if err := r.pipe.JSON(ctx, http.MethodGet, jobPath(taskID), nil, &out); err != nil {
		return "", base.TaskError(describe(err), taskID)
	}
	return r.tracker.Observe(taskID, status.DirectAccess(out.Status)), nil
}

// TaskResult implements resource.Resource.
func (r *Resource) TaskResult(ctx context.Context, taskID string) (resource.TaskResult, error) {
	st, err := r.TaskStatus(ctx, taskID)
	if err != nil {
		return resource.TaskResult{}, err
	}
	if err := base.NotReady(taskID, st); err != nil {
		return resource.TaskResult{}, err
	}
	var out json.RawMessage
	if err := r.pipe.JSON(ctx, http.MethodGet, jobPath(taskID)+"/results", nil, &out); err != nil {
		return resource.TaskResult{}, base.TaskError(describe(err), taskID)
	}
	return resource.NewTaskResult(out)
}

// TaskLogs implements resource.Resource.
func (r *Resource) TaskLogs(ctx context.Context, taskID string) (string, error) {
	req := &pipeline.Request{Method: http.MethodGet, Path: jobPath(taskID) + "/logs"}
	resp, err := r.pipe.Do(ctx, req)
	if err != nil {
		return "", err
	}
	if err := r.pipe.Check(req, resp); err != nil {
		return "", base.TaskError(describe(err), taskID)
	}
	return string(resp.Body), nil
}

// Target implements resource.Resource. It returns the backend
// configuration.
func (r *Resource) Target(ctx context.Context) (resource.Target, error) {
	var out json.RawMessage
	if err := r.pipe.JSON(ctx, http.MethodGet, backendPath(r.backend)+"/configuration", nil, &out); err != nil {
		return resource.Target{}, describe(err)
	}
	return resource.NewTarget(out)
}

// Metadata implements resource.Resource.
func (r *Resource) Metadata(context.Context) map[string]string {
	return map[string]string{
		"backend_name": r.backend,
		"provider":     "ibm",
		"kind":         string(resource.KindDirectAccess),
	}
}

var _ resource.Resource = (*Resource)(nil)
