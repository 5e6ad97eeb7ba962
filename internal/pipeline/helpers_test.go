package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/keithlinneman/coachdesk-api/internal/log"
)

type spyEntry struct {
	level string
	msg   string
	err   error
	kv    []any
}

type spyLogger struct {
	mu      sync.Mutex
	entries []spyEntry
}

func (s *spyLogger) add(e spyEntry) {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
}

func (s *spyLogger) With(...any) log.Logger { return s }
func (s *spyLogger) Debug(_ context.Context, msg string, kv ...any) {
	s.add(spyEntry{level: "debug", msg: msg, kv: kv})
}
func (s *spyLogger) Info(_ context.Context, msg string, kv ...any) {
	s.add(spyEntry{level: "info", msg: msg, kv: kv})
}
func (s *spyLogger) Warn(_ context.Context, msg string, kv ...any) {
	s.add(spyEntry{level: "warn", msg: msg, kv: kv})
}
func (s *spyLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	s.add(spyEntry{level: "error", msg: msg, err: err, kv: kv})
}
func (s *spyLogger) Sync() error { return nil }

func (s *spyLogger) find(level, msg string) (spyEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.level == level && e.msg == msg {
			return e, true
		}
	}
	return spyEntry{}, false
}

func kvValue(kv []any, key string) any {
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i] == key {
			return kv[i+1]
		}
	}
	return nil
}

func newRC(method, target, body string) *RequestContext {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	return NewRequestContext(httptest.NewRequest(method, target, r))
}

func decode(t *testing.T, resp *Response) map[string]any {
	t.Helper()
	if resp == nil {
		t.Fatal("nil response")
	}
	var m map[string]any
	if err := json.Unmarshal(resp.Body, &m); err != nil {
		t.Fatalf("decode body: %v\nraw: %s", err, resp.Body)
	}
	return m
}

func okEndpoint(v any) Endpoint {
	return func(*RequestContext) (any, error) { return v, nil }
}
