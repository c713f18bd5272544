package fileq

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// HandlerFunc is the function signature for processing a task.
type HandlerFunc func(ctx context.Context, t Task) error

// Middleware is a function that wraps a HandlerFunc to provide cross-cutting concerns.
type Middleware func(HandlerFunc) HandlerFunc

// Mux routes tasks to their respective handlers based on file extension.
type Mux struct {
	handlers    map[string]HandlerFunc
	fallback    HandlerFunc
	middlewares []Middleware
}

// NewMux creates a new Task Mux.
func NewMux() *Mux {
	return &Mux{
		handlers:    make(map[string]HandlerFunc),
		middlewares: []Middleware{},
	}
}

// Handle registers a handler for a file extension such as ".csv" or "csv".
// Matching is case-insensitive.
func (m *Mux) Handle(ext string, fn HandlerFunc) {
	m.handlers[normalizeExt(ext)] = fn
}

// HandleDefault registers the handler used when no extension matches.
func (m *Mux) HandleDefault(fn HandlerFunc) {
	m.fallback = fn
}

// Use adds middleware(s) to the mux. Middlewares are executed in the order they are added.
func (m *Mux) Use(mw Middleware) {
	m.middlewares = append(m.middlewares, mw)
}

// Dispatch runs the handler matching t with all middlewares applied.
func (m *Mux) Dispatch(ctx context.Context, t Task) error {
	h, ok := m.handler(t.Key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, t.Key)
	}
	return m.wrapHandler(h)(ctx, t)
}

func (m *Mux) handler(key string) (HandlerFunc, bool) {
	if h, ok := m.handlers[normalizeExt(filepath.Ext(key))]; ok {
		return h, true
	}
	if m.fallback != nil {
		return m.fallback, true
	}
	return nil, false
}

func (m *Mux) wrapHandler(h HandlerFunc) HandlerFunc {
	for i := len(m.middlewares) - 1; i >= 0; i-- {
		h = m.middlewares[i](h)
	}
	return h
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
