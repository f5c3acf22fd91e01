// Package pasqalcloud implements Pasqal Cloud resources. A resource is a
// device type; work is submitted as single-job batches.
package pasqalcloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/qiskit-community/qrmi/internal/adapter/base"
	"github.com/qiskit-community/qrmi/internal/config"
	"github.com/qiskit-community/qrmi/internal/credential"
	"github.com/qiskit-community/qrmi/internal/health"
	"github.com/qiskit-community/qrmi/internal/observability"
	"github.com/qiskit-community/qrmi/internal/pipeline"
	"github.com/qiskit-community/qrmi/internal/resource"
	"github.com/qiskit-community/qrmi/internal/secrets"
	"github.com/qiskit-community/qrmi/internal/status"
	"github.com/qiskit-community/qrmi/internal/util"
)

const (
	// DefaultEndpoint is the Pasqal Cloud API base URL.
	DefaultEndpoint = "https://apis.pasqal.cloud"

	// DefaultAccessibleWhen accepts devices that are not retired. A device
	// that is temporarily down still queues batches.
	DefaultAccessibleWhen = `size(device.data) > 0 && device.data[0].availability == "ACTIVE"`

	// NoLogsMessage is returned by TaskLogs.
	NoLogsMessage = "There are no logs for this job."

	devicesPath = "/core-fast/api/v1/devices"
	batchesV1   = "/core-fast/api/v1/batches"
	batchesV2   = "/core-fast/api/v2/batches"
)

// Devices lists the Pasqal device types.
var Devices = []string{"FRESNEL", "FRESNEL_CAN1", "EMU_MPS", "EMU_FREE", "EMU_FRESNEL"}

// Resource is a Pasqal Cloud device.
type Resource struct {
	name       string
	device     string
	projectID  string
	pipe       *pipeline.Pipeline
	accessible *health.Evaluator
	session    resource.Session
	tracker    *resource.Tracker
	logger     observability.Logger
}

// New creates the resource described by cfg. The project id is required;
// the credential is a configured token, a username and password pair, or
// both, in which case the token is used until it expires.
func New(ctx context.Context, cfg *config.ResourceConfig, d base.Deps) (*Resource, error) {
	d = d.WithDefaults()

	device := base.Backend(cfg)
	if err := base.OneOf(cfg.Name+".backend", device, Devices); err != nil {
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
	projectID, err := d.Secrets.Require(ctx, cfg.Name, secrets.KeyPasqalProjectID)
	if err != nil {
		return nil, err
	}

	logger := d.Logger.With(observability.String("resource", cfg.Name))
	store, err := newStore(ctx, cfg, d)
	if err != nil {
		return nil, err
	}
	var opts []pipeline.Option
	if store != nil {
		opts = append(opts, pipeline.WithAuthenticator(store))
	} else {
		logger.Warn("no Pasqal Cloud token or username configured, requests are sent unauthenticated")
	}

	return &Resource{
		name:       cfg.Name,
		device:     device,
		projectID:  projectID,
		pipe:       base.NewPipeline(cfg, endpoint, d, opts...),
		accessible: accessible,
		tracker:    resource.NewTracker(),
		logger:     logger,
	}, nil
}

// newStore returns nil when no credential material is configured.
func newStore(ctx context.Context, cfg *config.ResourceConfig, d base.Deps) (*credential.Store, error) {
	token := d.Secrets.Get(ctx, cfg.Name, secrets.KeyPasqalAuthToken, "")
	username := d.Secrets.Get(ctx, cfg.Name, secrets.KeyPasqalUsername, "")
	password := d.Secrets.Get(ctx, cfg.Name, secrets.KeyPasqalPassword, "")

	authEndpoint := cfg.AuthEndpoint
	if authEndpoint == "" {
		authEndpoint = d.Secrets.Get(ctx, cfg.Name, secrets.KeyPasqalAuthEndpoint, credential.PasqalAuthEndpoint)
	}

	var opts []credential.StoreOption
	if token != "" {
		expiry, err := credential.ExpiryTime(token)
		if err != nil {
			return nil, fmt.Errorf("%s: configured token: %w", cfg.Name, err)
		}
		opts = append(opts, credential.WithInitialCredential(credential.Credential{Token: token, ExpiresAt: expiry}))
	}

	switch {
	case username != "" && password != "":
		authPipe := base.NewPipeline(cfg, util.EnsureScheme(authEndpoint), d)
		refresher := &credential.PasswordRealmRefresher{
			Endpoint: authEndpoint,
			Username: username,
			Password: password,
			Client:   authPipe.Doer(),
			Now:      d.Clock.Now,
		}
		return base.NewStore(cfg.Name, resource.KindPasqalCloud, refresher, d, opts...), nil
	case token != "":
		return base.NewStore(cfg.Name, resource.KindPasqalCloud, &credential.StaticRefresher{Token: token}, d, opts...), nil
	default:
		return nil, nil
	}
}

type envelope[T any] struct {
	Data T `json:"data"`
}

// IsAccessible implements resource.Resource.
func (r *Resource) IsAccessible(ctx context.Context) (bool, error) {
	req := &pipeline.Request{
		Method: http.MethodGet,
		Path:   devicesPath,
		Query:  url.Values{"device_type": []string{r.device}},
	}
	resp, err := r.pipe.Do(ctx, req)
	if err != nil {
		return false, err
	}
	if err := r.pipe.Check(req, resp); err != nil {
		return false, err
	}
	return r.accessible.AccessibleJSON(ctx, r.name, resp.Body)
}

// Acquire implements resource.Resource. Pasqal Cloud has no sessions; the
// id only scopes the local lifecycle.
func (r *Resource) Acquire(context.Context) (string, error) {
	id := uuid.NewString()
	r.session.Open(id)
	return id, nil
}

// Release implements resource.Resource.
func (r *Resource) Release(_ context.Context, sessionID string) error {
	return r.session.Close(sessionID)
}

type batchJob struct {
	Runs int `json:"runs"`
}

type batchRequest struct {
	SequenceBuilder string     `json:"sequence_builder"`
	Jobs            []batchJob `json:"jobs"`
	DeviceType      string     `json:"device_type"`
	ProjectID       string     `json:"project_id"`
}

type batchData struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// TaskStart implements resource.Resource.
func (r *Resource) TaskStart(ctx context.Context, payload resource.Payload) (string, error) {
	p, err := resource.Expect[*resource.PasqalCloudPayload](payload, resource.KindPasqalCloud)
	if err != nil {
		return "", err
	}
	if _, err := r.session.Check(); err != nil {
		return "", err
	}

	body := batchRequest{
		SequenceBuilder: p.Sequence,
		Jobs:            []batchJob{{Runs: p.JobRuns}},
		DeviceType:      r.device,
		ProjectID:       r.projectID,
	}
	var out envelope[batchData]
	if err := r.pipe.JSON(ctx, http.MethodPost, batchesV1, body, &out); err != nil {
		return "", base.Unavailable(err)
	}
	if out.Data.ID == "" {
		return "", fmt.Errorf("%s: batch response has no id", r.name)
	}

	r.tracker.Start(out.Data.ID)
	if out.Data.Status != "" {
		r.tracker.Observe(out.Data.ID, status.PasqalCloud(out.Data.Status))
	}
	r.logger.Info("batch submitted",
		observability.String("task_id", out.Data.ID),
		observability.Int("job_runs", p.JobRuns),
	)
	return out.Data.ID, nil
}

func batchPath(version, id string) string {
	return version + "/" + url.PathEscape(id)
}

// TaskStop implements resource.Resource.
func (r *Resource) TaskStop(ctx context.Context, taskID string) error {
	if _, done := r.tracker.Terminal(taskID); done {
		return nil
	}
	err := r.pipe.JSON(ctx, http.MethodPatch, batchPath(batchesV2, taskID)+"/cancel", nil, nil)
	if err != nil {
		if serr := base.SettleStop(ctx, taskID, err, r.TaskStatus); serr != nil {
			return base.TaskError(serr, taskID)
		}
		r.logger.Debug("batch already finished", observability.String("task_id", taskID))
		return nil
	}
	r.tracker.Cancel(taskID)
	r.logger.Info("batch cancelled", observability.String("task_id", taskID))
	return nil
}

// TaskStatus implements resource.Resource.
func (r *Resource) TaskStatus(ctx context.Context, taskID string) (status.TaskStatus, error) {
	var out envelope[batchData]
	if err := r.pipe.JSON(ctx, http.MethodGet, batchPath(batchesV2, taskID), nil, &out); err != nil {
		return "", base.TaskError(err, taskID)
	}
	return r.tracker.Observe(taskID, status.PasqalCloud(out.Data.Status)), nil
}

type jobResult struct {
	Counter json.RawMessage `json:"counter"`
}

// errBatchShape is returned for result documents without exactly one job.
var errBatchShape = errors.New("unexpected batch result shape")

// TaskResult implements resource.Resource. The batch must hold exactly
// one job; its counter is returned as {"counter": ...}.
func (r *Resource) TaskResult(ctx context.Context, taskID string) (resource.TaskResult, error) {
	st, err := r.TaskStatus(ctx, taskID)
	if err != nil {
		return resource.TaskResult{}, err
	}
	if err := base.NotReady(taskID, st); err != nil {
		return resource.TaskResult{}, err
	}

	var out envelope[map[string]jobResult]
	if err := r.pipe.JSON(ctx, http.MethodGet, batchPath(batchesV1, taskID)+"/full_results", nil, &out); err != nil {
		return resource.TaskResult{}, base.TaskError(err, taskID)
	}
	switch len(out.Data) {
	case 0:
		return resource.TaskResult{}, fmt.Errorf("%w: batch %s has no results", errBatchShape, taskID)
	case 1:
	default:
		return resource.TaskResult{}, fmt.Errorf("%w: batch %s has %d jobs", errBatchShape, taskID, len(out.Data))
	}
	for _, res := range out.Data {
		return resource.NewTaskResult(res)
	}
	return resource.TaskResult{}, nil
}

// TaskLogs implements resource.Resource.
func (r *Resource) TaskLogs(context.Context, string) (string, error) {
	return NoLogsMessage, nil
}

type deviceSpecs struct {
	Specs json.RawMessage `json:"specs"`
}

// Target implements resource.Resource. Specs sent as a JSON string are
// unquoted.
func (r *Resource) Target(ctx context.Context) (resource.Target, error) {
	var out envelope[deviceSpecs]
	if err := r.pipe.JSON(ctx, http.MethodGet, devicesPath+"/specs/"+url.PathEscape(r.device), nil, &out); err != nil {
		return resource.Target{}, err
	}
	var text string
	if err := json.Unmarshal(out.Data.Specs, &text); err == nil {
		return resource.Target{Value: text}, nil
	}
	return resource.NewTarget(out.Data.Specs)
}

// Metadata implements resource.Resource.
func (r *Resource) Metadata(context.Context) map[string]string {
	return map[string]string{
		"backend_name": r.device,
		"provider":     "pasqal",
		"kind":         string(resource.KindPasqalCloud),
		"project_id":   r.projectID,
	}
}

var _ resource.Resource = (*Resource)(nil)
