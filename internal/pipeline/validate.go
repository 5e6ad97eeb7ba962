package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"
)

const (
	msgInvalidPayload = "Invalid payload"
	msgTooLarge       = "Payload too large"
	msgBodyFailed     = "Validation failed"
	msgQueryFailed    = "Invalid query parameters"

	rootField = "(root)"
)

// Schema is a compiled JSON Schema document.
type Schema struct {
	s *gojsonschema.Schema
}

func NewSchema(doc string) (*Schema, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Schema{s: s}, nil
}

// MustSchema is NewSchema for package-level schema literals.
func MustSchema(doc string) *Schema {
	s, err := NewSchema(doc)
	if err != nil {
		panic(err)
	}
	return s
}

// FieldError describes one violated field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (s *Schema) validate(l gojsonschema.JSONLoader) ([]FieldError, error) {
	res, err := s.s.Validate(l)
	if err != nil {
		return nil, err
	}
	if res.Valid() {
		return nil, nil
	}
	return fieldErrors(res.Errors()), nil
}

// fieldErrors keeps the first violation per field. Missing and unexpected
// properties are reported against the property itself rather than its parent.
func fieldErrors(errs []gojsonschema.ResultError) []FieldError {
	seen := make(map[string]bool, len(errs))
	out := make([]FieldError, 0, len(errs))
	for _, e := range errs {
		field := e.Field()
		switch e.Type() {
		case "required", "additional_property_not_allowed":
			if p, ok := e.Details()["property"].(string); ok && p != "" {
				if field == rootField || field == "" {
					field = p
				} else {
					field = field + "." + p
				}
			}
		}
		if seen[field] {
			continue
		}
		seen[field] = true
		out = append(out, FieldError{Field: field, Message: e.Description()})
	}
	return out
}

func invalid(status int, msg string, details []FieldError) *Response {
	body := map[string]any{"error": msg}
	if details != nil {
		body["details"] = details
	}
	return JSON(status, body)
}

// ValidateBody checks the JSON request body against schema and stores the
// decoded T in rc.Validated. The raw body is restored for later readers.
func ValidateBody[T any](schema *Schema) Middleware {
	return func(rc *RequestContext, next Handler) (*Response, error) {
		r := rc.Request
		if r.Body == nil {
			return invalid(http.StatusBadRequest, msgInvalidPayload, nil), nil
		}
		raw, err := io.ReadAll(r.Body)
		_ = r.Body.Close()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return invalid(http.StatusRequestEntityTooLarge, msgTooLarge, nil), nil
			}
			return invalid(http.StatusBadRequest, msgInvalidPayload, nil), nil
		}
		r.Body = io.NopCloser(bytes.NewReader(raw))

		if len(bytes.TrimSpace(raw)) == 0 || !json.Valid(raw) {
			return invalid(http.StatusBadRequest, msgInvalidPayload, nil), nil
		}

		fields, err := schema.validate(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return invalid(http.StatusBadRequest, msgInvalidPayload, nil), nil
		}
		if len(fields) > 0 {
			return invalid(http.StatusBadRequest, msgBodyFailed, fields), nil
		}

		v, err := decodeValidated[T](raw)
		if err != nil {
			return invalid(http.StatusBadRequest, msgInvalidPayload, nil), nil
		}
		rc.Validated = v
		return next(rc)
	}
}

// decodeValidated decodes a schema-valid body into T. JSON Schema treats 2.0
// and 1e2 as integers but Go integer fields do not, so on a failed decode
// integral numbers are rewritten in integer form and the decode retried.
func decodeValidated[T any](raw []byte) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	if err == nil {
		return v, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if derr := dec.Decode(&doc); derr != nil {
		return v, err
	}
	canon, merr := json.Marshal(integralNumbers(doc))
	if merr != nil {
		return v, err
	}
	var out T
	if err := json.Unmarshal(canon, &out); err != nil {
		return out, err
	}
	return out, nil
}

// maxExactInt is the largest magnitude a float64 holds without losing integers.
const maxExactInt = 1 << 53

func integralNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = integralNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = integralNumbers(e)
		}
		return t
	case json.Number:
		if _, err := t.Int64(); err == nil {
			return t
		}
		f, err := t.Float64()
		if err != nil || f != math.Trunc(f) || math.Abs(f) > maxExactInt {
			return t
		}
		return json.Number(strconv.FormatInt(int64(f), 10))
	default:
		return v
	}
}

// ValidateQuery checks the query string against schema. Every parameter is
// a string, or an array of strings when repeated; T should use `,string`
// tags for numeric fields.
func ValidateQuery[T any](schema *Schema) Middleware {
	return func(rc *RequestContext, next Handler) (*Response, error) {
		q := queryDocument(rc.Request.URL.Query())

		fields, err := schema.validate(gojsonschema.NewGoLoader(q))
		if err != nil {
			return invalid(http.StatusBadRequest, msgQueryFailed, nil), nil
		}
		if len(fields) > 0 {
			return invalid(http.StatusBadRequest, msgQueryFailed, fields), nil
		}

		raw, err := json.Marshal(q)
		if err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return invalid(http.StatusBadRequest, msgQueryFailed, nil), nil
		}
		rc.Validated = v
		return next(rc)
	}
}

func queryDocument(values url.Values) map[string]any {
	doc := make(map[string]any, len(values))
	for k, vs := range values {
		switch len(vs) {
		case 0:
		case 1:
			doc[k] = vs[0]
		default:
			arr := make([]any, len(vs))
			for i, v := range vs {
				arr[i] = v
			}
			doc[k] = arr
		}
	}
	return doc
}
