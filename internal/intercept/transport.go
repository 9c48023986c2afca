package intercept

import (
	"bytes"
	"io"
	"net/http"
)

// Transport returns a RoundTripper that answers matching requests from the
// layer and forwards the rest to fallback. With a nil fallback unmatched
// requests get a 404.
func (l *Layer) Transport(fallback http.RoundTripper) http.RoundTripper {
	return &transport{layer: l, fallback: fallback}
}

// Client is an *http.Client backed by Transport(nil).
func (l *Layer) Client() *http.Client {
	return &http.Client{Transport: l.Transport(nil)}
}

type transport struct {
	layer    *Layer
	fallback http.RoundTripper
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	rec, err := Record(req)
	if err != nil {
		return nil, err
	}
	ex, ok, err := t.layer.Intercept(req.Context(), rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		if t.fallback != nil {
			return t.fallback.RoundTrip(req)
		}
		return synthesize(req, http.StatusNotFound, http.Header{}, []byte("no interception rule\n")), nil
	}
	return synthesize(req, ex.Response.StatusCode, ex.Response.Header.Clone(), ex.Response.Body), nil
}

func synthesize(req *http.Request, status int, header http.Header, body []byte) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		Status:        http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
