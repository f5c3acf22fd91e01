package pipeline

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// transientDoer adapts the transient layer to HTTPDoer so token exchanges
// get the same retry policy without the auth layer.
type transientDoer struct {
	p *Pipeline
}

// Doer returns an HTTPDoer that retries transient failures of raw
// requests. Credential refreshers use it for token endpoints.
func (p *Pipeline) Doer() HTTPDoer {
	return &transientDoer{p: p}
}

// Do implements HTTPDoer. The request body is buffered so it can be
// resent; headers are copied as given.
func (d *transientDoer) Do(httpReq *http.Request) (*http.Response, error) {
	req := &Request{
		Method:    httpReq.Method,
		Path:      httpReq.URL.String(),
		Header:    httpReq.Header.Clone(),
		Operation: "token " + httpReq.URL.Path,
	}
	if httpReq.Body != nil && httpReq.Body != http.NoBody {
		body, err := io.ReadAll(httpReq.Body)
		_ = httpReq.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		req.Body = body
	}

	resp, err := d.p.send(httpReq.Context(), req, "")
	if err != nil {
		return nil, err
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		StatusCode:    resp.StatusCode,
		Header:        resp.Header,
		Body:          io.NopCloser(bytes.NewReader(resp.Body)),
		ContentLength: int64(len(resp.Body)),
		Request:       httpReq,
	}, nil
}
