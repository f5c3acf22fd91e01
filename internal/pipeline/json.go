package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/qiskit-community/qrmi/internal/util"
)

// NewJSONRequest builds a request whose body is in, encoded as JSON. A nil
// in sends no body.
func NewJSONRequest(method, path string, in any) (*Request, error) {
	req := &Request{Method: method, Path: path}
	if in == nil {
		return req, nil
	}
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s %s body: %w", method, path, err)
	}
	req.Body = body
	req.Header = http.Header{"Content-Type": []string{"application/json"}}
	return req, nil
}

// Decode unmarshals the response body into out.
func (r *Response) Decode(out any) error {
	if out == nil || len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Check converts a non-2xx response into a ProviderError carrying the
// status and body.
func (p *Pipeline) Check(req *Request, resp *Response) error {
	if resp.IsSuccess() {
		return nil
	}
	return util.NewProviderError(p.name, req.operation(), resp.StatusCode, string(resp.Body))
}

// DoJSON sends req, fails on non-2xx statuses and decodes the body into
// out when out is non-nil.
func (p *Pipeline) DoJSON(ctx context.Context, req *Request, out any) error {
	resp, err := p.Do(ctx, req)
	if err != nil {
		return err
	}
	if err := p.Check(req, resp); err != nil {
		return err
	}
	if err := resp.Decode(out); err != nil {
		return fmt.Errorf("%s %s: %w", p.name, req.operation(), err)
	}
	return nil
}

// JSON is DoJSON for a request built from method, path and in.
func (p *Pipeline) JSON(ctx context.Context, method, path string, in, out any) error {
	req, err := NewJSONRequest(method, path, in)
	if err != nil {
		return err
	}
	return p.DoJSON(ctx, req, out)
}
