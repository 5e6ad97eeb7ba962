package pipeline

import (
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
)

const contentTypeJSON = "application/json; charset=utf-8"

// Response is what a chain hands back to the transport.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

var internalErrorBody = []byte(`{"error":"Internal server error","status":500}`)

// JSON encodes v as the body. An unencodable value yields a 500.
func JSON(status int, v any) *Response {
	b, err := json.Marshal(v)
	if err != nil {
		status, b = http.StatusInternalServerError, internalErrorBody
	}
	h := make(http.Header, 4)
	h.Set("Content-Type", contentTypeJSON)
	return &Response{Status: status, Header: h, Body: b}
}

// clone copies r with its own header map. The body is shared, it is never
// written after construction.
func (r *Response) clone() *Response {
	cp := *r
	cp.Header = r.Header.Clone()
	return &cp
}

// SetHeader sets a response header, allocating the map if needed.
func (r *Response) SetHeader(key, value string) {
	if r.Header == nil {
		r.Header = make(http.Header, 4)
	}
	r.Header.Set(key, value)
}

func (r *Response) Write(w http.ResponseWriter) error {
	for k, vs := range r.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	if len(r.Body) > 0 {
		w.Header().Set("Content-Length", strconv.Itoa(len(r.Body)))
	}
	w.WriteHeader(status)
	if len(r.Body) == 0 {
		return nil
	}
	_, err := w.Write(r.Body)
	return err
}
