// Package recognizer adapts speech-to-text providers to a common event stream.
package recognizer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"skald/internal/models"
)

// EventType classifies recognizer events.
type EventType int

const (
	// EventRecognized carries one finalised utterance.
	EventRecognized EventType = iota + 1
	// EventCanceled ends the session with an error.
	EventCanceled
	// EventSessionStopped ends the session normally.
	EventSessionStopped
)

func (t EventType) String() string {
	switch t {
	case EventRecognized:
		return "recognized"
	case EventCanceled:
		return "canceled"
	case EventSessionStopped:
		return "session_stopped"
	}
	return "unknown"
}

// Event is one item of a recognition session. Err is set only for EventCanceled.
type Event struct {
	Type EventType
	Text string
	Err  error
}

// Recognizer starts a recognition session over one audio file. Errors returned
// directly mean the session never started; errors during the session arrive
// as an EventCanceled. The channel is closed when the session ends or ctx is done.
type Recognizer interface {
	Recognize(ctx context.Context, audioPath string, params models.RecognitionParams) (<-chan Event, error)
}

// Ensure Router implements Recognizer
var _ Recognizer = (*Router)(nil)

// Router dispatches to a provider by name.
type Router struct {
	mu              sync.RWMutex
	providers       map[string]Recognizer
	defaultProvider string
}

func NewRouter(defaultProvider string) *Router {
	return &Router{providers: make(map[string]Recognizer), defaultProvider: strings.ToLower(defaultProvider)}
}

func (r *Router) Register(name string, rec Recognizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(name)] = rec
}

// Providers lists the registered provider names.
func (r *Router) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	return names
}

func (r *Router) Recognize(ctx context.Context, audioPath string, params models.RecognitionParams) (<-chan Event, error) {
	name := strings.ToLower(params.Provider)
	if name == "" {
		name = r.defaultProvider
	}
	r.mu.RLock()
	rec, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown recognition provider %q", models.ErrConfig, name)
	}
	return rec.Recognize(ctx, audioPath, params)
}

// send delivers ev unless ctx is done first.
func send(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// isoLanguage turns a locale such as "ja-JP" into "ja".
func isoLanguage(locale string) string {
	lang, _, _ := strings.Cut(strings.TrimSpace(locale), "-")
	return strings.ToLower(lang)
}
