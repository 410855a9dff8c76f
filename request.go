package x402

import (
	"bytes"
	"context"
	"io"
	"net/http"
)

// RequestSpec is a replayable snapshot of an HTTP request: method, URL,
// headers and body bytes. The replay carries exactly these plus the proof
// headers, nothing else.
type RequestSpec struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// NewRequestSpec snapshots a request before it is sent. The body is read
// through GetBody when available, otherwise it is consumed and restored so
// the request stays sendable.
func NewRequestSpec(req *http.Request) (*RequestSpec, error) {
	spec := &RequestSpec{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: req.Header.Clone(),
	}

	if req.Body == nil || req.Body == http.NoBody {
		return spec, nil
	}

	if req.GetBody != nil {
		rc, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		body, err := io.ReadAll(rc)
		if err != nil {
			return nil, err
		}
		spec.Body = body
		return spec, nil
	}

	body, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, err
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	spec.Body = body
	return spec, nil
}

// Request rebuilds the snapshot into a fresh request.
func (s *RequestSpec) Request(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if len(s.Body) > 0 {
		body = bytes.NewReader(s.Body)
	}

	req, err := http.NewRequestWithContext(ctx, s.Method, s.URL, body)
	if err != nil {
		return nil, err
	}
	if s.Header != nil {
		req.Header = s.Header.Clone()
	}
	if len(s.Body) > 0 {
		snapshot := s.Body
		req.ContentLength = int64(len(snapshot))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(snapshot)), nil
		}
	}
	return req, nil
}
