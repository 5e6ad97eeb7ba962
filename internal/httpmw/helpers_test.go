package httpmw

import (
	"context"
	"sync"

	"github.com/keithlinneman/coachdesk-api/internal/log"
)

type loggedError struct {
	msg string
	err error
}

// spyLogger records With fields and Error calls. With returns the spy so
// every call lands in one place.
type spyLogger struct {
	mu     sync.Mutex
	withs  [][]any
	errors []loggedError
}

func (s *spyLogger) With(kv ...any) log.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.withs = append(s.withs, kv)
	return s
}

func (s *spyLogger) Debug(context.Context, string, ...any) {}
func (s *spyLogger) Info(context.Context, string, ...any)  {}
func (s *spyLogger) Warn(context.Context, string, ...any)  {}
func (s *spyLogger) Sync() error                           { return nil }

func (s *spyLogger) Error(_ context.Context, err error, msg string, _ ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, loggedError{msg: msg, err: err})
}

func (s *spyLogger) field(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.withs) - 1; i >= 0; i-- {
		kv := s.withs[i]
		for j := 0; j+1 < len(kv); j += 2 {
			if kv[j] == key {
				return kv[j+1], true
			}
		}
	}
	return nil, false
}
