// Package pasqallocal implements the on-premises Pasqal QPU service. Every
// request carries a MUNGE credential; jobs run under a warden session
// opened for the Slurm job uid.
package pasqallocal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/qiskit-community/qrmi/internal/adapter/base"
	"github.com/qiskit-community/qrmi/internal/config"
	"github.com/qiskit-community/qrmi/internal/health"
	"github.com/qiskit-community/qrmi/internal/munge"
	"github.com/qiskit-community/qrmi/internal/observability"
	"github.com/qiskit-community/qrmi/internal/pipeline"
	"github.com/qiskit-community/qrmi/internal/resource"
	"github.com/qiskit-community/qrmi/internal/secrets"
	"github.com/qiskit-community/qrmi/internal/status"
	"github.com/qiskit-community/qrmi/internal/util"
)

const (
	// DefaultEndpoint is the local service address.
	DefaultEndpoint = "http://localhost:4207"

	// SessionHeader carries the warden session of a job submission.
	SessionHeader = "X-Warden-Session"

	// KeyJobUID names the Slurm job uid secret.
	KeyJobUID = "QRMI_JOB_UID"

	// KeyAcquisitionToken names the session opened by the Slurm plugin
	// for the job, used when this process did not acquire one.
	KeyAcquisitionToken = "PASQAL_LOCAL_QRMI_JOB_ACQUISITION_TOKEN"

	// NoLogsMessage is returned by TaskLogs.
	NoLogsMessage = "There are no logs for this job."
)

// Resource is the local Pasqal service.
type Resource struct {
	name       string
	pipe       *pipeline.Pipeline
	secrets    *secrets.Resolver
	accessible *health.Evaluator
	session    resource.Session
	tracker    *resource.Tracker
	logger     observability.Logger
}

// New creates the resource described by cfg. The accessible_when rule,
// when configured, is evaluated over the job list.
func New(cfg *config.ResourceConfig, d base.Deps) (*Resource, error) {
	d = d.WithDefaults()

	endpoint, err := base.Endpoint(cfg, DefaultEndpoint)
	if err != nil {
		return nil, err
	}
	var accessible *health.Evaluator
	if strings.TrimSpace(cfg.AccessibleWhen) != "" {
		if accessible, err = base.Evaluator(cfg, "", d); err != nil {
			return nil, err
		}
	}

	pipe := base.NewPipeline(cfg, endpoint, d,
		pipeline.WithAuthenticator(munge.NewAuthenticator(d.Signer)),
		pipeline.WithAuthHeader(munge.HeaderName, ""),
	)
	return &Resource{
		name:       cfg.Name,
		pipe:       pipe,
		secrets:    d.Secrets,
		accessible: accessible,
		tracker:    resource.NewTracker(),
		logger:     d.Logger.With(observability.String("resource", cfg.Name)),
	}, nil
}

// IsAccessible implements resource.Resource. The service is accessible
// when it answers the job listing.
func (r *Resource) IsAccessible(ctx context.Context) (bool, error) {
	resp, err := r.pipe.Do(ctx, &pipeline.Request{Method: http.MethodGet, Path: "/jobs"})
	if err != nil {
		return false, err
	}
	if !resp.IsSuccess() {
		r.logger.Debug("job listing failed", observability.Int("status_code", resp.StatusCode))
		return false, nil
	}
	if r.accessible == nil {
		return true, nil
	}
	return r.accessible.AccessibleJSON(ctx, r.name, resp.Body)
}

type sessionRequest struct {
	UserID string `json:"user_id"`
}

type created struct {
	ID json.RawMessage `json:"id"`
}

// idString reads an id sent as a JSON number or string.
func idString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// Acquire implements resource.Resource. It opens a warden session for the
// job uid.
func (r *Resource) Acquire(ctx context.Context) (string, error) {
	uid, err := r.secrets.Require(ctx, r.name, KeyJobUID)
	if err != nil {
		return "", err
	}
	if _, err := strconv.Atoi(uid); err != nil {
		return "", util.NewConfigErrorWithCause(KeyJobUID, "not an integer", err)
	}

	var out created
	if err := r.pipe.JSON(ctx, http.MethodPost, "/sessions", sessionRequest{UserID: uid}, &out); err != nil {
		return "", base.Unavailable(err)
	}
	id := idString(out.ID)
	if id == "" {
		return "", fmt.Errorf("%s: session response has no id", r.name)
	}
	r.session.Open(id)
	r.logger.Info("session opened", observability.String("session_id", id))
	return id, nil
}

// sessionFor returns the open session, or the acquisition token.
func (r *Resource) sessionFor(ctx context.Context, sessionID string) string {
	if sessionID != "" {
		return sessionID
	}
	return r.secrets.Get(ctx, r.name, KeyAcquisitionToken, "")
}

// Release implements resource.Resource. Without an id or an open session
// the acquisition token is revoked. Releasing twice succeeds.
func (r *Resource) Release(ctx context.Context, sessionID string) error {
	if r.session.Released() {
		return nil
	}
	if sessionID == "" {
		sessionID = r.session.ID()
	}
	if err := r.session.Close(sessionID); err != nil {
		return err
	}
	target := r.sessionFor(ctx, sessionID)
	if target == "" {
		return nil
	}
	if err := r.pipe.JSON(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(target), nil, nil); err != nil {
		return err
	}
	r.logger.Info("session revoked", observability.String("session_id", target))
	return nil
}

type jobRequest struct {
	Sequence string `json:"sequence"`
}

// TaskStart implements resource.Resource.
func (r *Resource) TaskStart(ctx context.Context, payload resource.Payload) (string, error) {
	p, err := resource.Expect[*resource.PasqalCloudPayload](payload, resource.KindPasqalLocal)
	if err != nil {
		return "", err
	}
	sessionID, err := r.session.Check()
	if err != nil {
		return "", err
	}
	sessionID = r.sessionFor(ctx, sessionID)
	if sessionID == "" {
		return "", fmt.Errorf("%w: no session acquired and %s is not set", util.ErrSessionInvalid, KeyAcquisitionToken)
	}

	req, err := pipeline.NewJSONRequest(http.MethodPost, "/jobs", jobRequest{Sequence: p.Sequence})
	if err != nil {
		return "", err
	}
	req.Header.Set(SessionHeader, sessionID)

	var out created
	if err := r.pipe.DoJSON(ctx, req, &out); err != nil {
		return "", base.Unavailable(err)
	}
	id := idString(out.ID)
	if id == "" {
		return "", fmt.Errorf("%s: job response has no id", r.name)
	}
	r.tracker.Start(id)
	r.logger.Info("job submitted",
		observability.String("task_id", id),
		observability.String("session_id", sessionID),
	)
	return id, nil
}

// TaskStop implements resource.Resource. The service has no cancel
// endpoint, so the call only succeeds.
func (r *Resource) TaskStop(_ context.Context, taskID string) error {
	r.logger.Debug("task stop is not supported by the local service", observability.String("task_id", taskID))
	return nil
}

type listedJob struct {
	ID     json.RawMessage `json:"id"`
	Status string          `json:"status,omitempty"`
}

// job returns the raw listing entry of taskID.
func (r *Resource) job(ctx context.Context, taskID string) (json.RawMessage, listedJob, error) {
	var jobs []json.RawMessage
	if err := r.pipe.JSON(ctx, http.MethodGet, "/jobs", nil, &jobs); err != nil {
		return nil, listedJob{}, err
	}
	for _, raw := range jobs {
		var j listedJob
		if err := json.Unmarshal(raw, &j); err != nil {
			continue
		}
		if idString(j.ID) == taskID {
			return raw, j, nil
		}
	}
	return nil, listedJob{}, fmt.Errorf("%w: %s", util.ErrTaskNotFound, taskID)
}

// TaskStatus implements resource.Resource. A listed job without a status
// has finished.
func (r *Resource) TaskStatus(ctx context.Context, taskID string) (status.TaskStatus, error) {
	_, j, err := r.job(ctx, taskID)
	if err != nil {
		return "", err
	}
	st := status.Completed
	if j.Status != "" {
		st = status.PasqalLocal(j.Status)
	}
	return r.tracker.Observe(taskID, st), nil
}

// TaskResult implements resource.Resource. It returns the job document.
func (r *Resource) TaskResult(ctx context.Context, taskID string) (resource.TaskResult, error) {
	raw, j, err := r.job(ctx, taskID)
	if err != nil {
		return resource.TaskResult{}, err
	}
	st := status.Completed
	if j.Status != "" {
		st = status.PasqalLocal(j.Status)
	}
	if err := base.NotReady(taskID, r.tracker.Observe(taskID, st)); err != nil {
		return resource.TaskResult{}, err
	}
	return resource.NewTaskResult(raw)
}

// TaskLogs implements resource.Resource.
func (r *Resource) TaskLogs(context.Context, string) (string, error) {
	return NoLogsMessage, nil
}

// Target implements resource.Resource.
func (r *Resource) Target(context.Context) (resource.Target, error) {
	return resource.NewTarget(map[string]any{
		"name":     r.name,
		"provider": "pasqal",
		"type":     "local",
		"endpoint": r.pipe.BaseURL(),
	})
}

// Metadata implements resource.Resource.
func (r *Resource) Metadata(context.Context) map[string]string {
	md := map[string]string{
		"backend_name": r.name,
		"provider":     "pasqal",
		"kind":         string(resource.KindPasqalLocal),
	}
	if id := r.session.ID(); id != "" {
		md["session_id"] = id
	}
	return md
}

var _ resource.Resource = (*Resource)(nil)
