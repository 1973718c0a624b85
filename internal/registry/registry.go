// ABOUTME: Thread-safe registry mapping component names to text renderers
// ABOUTME: Unregistered names fall back to a placeholder line, never an error

package registry

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/2389/otto/internal/transcript"
)

// ErrAlreadyRegistered indicates a renderer with the same name exists.
var ErrAlreadyRegistered = errors.New("component already registered")

// ErrNotComponent is returned by Render for messages of another role.
var ErrNotComponent = errors.New("message is not a component")

// Renderer writes one component given its props.
type Renderer func(w io.Writer, props map[string]any) error

// Registry maps component names to renderers.
type Registry struct {
	mu        sync.RWMutex
	renderers map[string]Renderer
	logger    *slog.Logger
}

// New creates an empty registry. Pass nil logger for default.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		renderers: make(map[string]Renderer),
		logger:    logger.With("component", "registry"),
	}
}

// Register adds a renderer for name.
func (r *Registry) Register(name string, fn Renderer) error {
	if name == "" || fn == nil {
		return fmt.Errorf("registering component %q: name and renderer required", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.renderers[name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	r.renderers[name] = fn
	return nil
}

// Lookup returns the renderer for name.
func (r *Registry) Lookup(name string) (Renderer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.renderers[name]
	return fn, ok
}

// Names lists the registered component names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.renderers))
	for name := range r.renderers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render writes msg with its component's renderer, or a placeholder when
// none is registered. Errors come only from the renderer or writer.
func (r *Registry) Render(w io.Writer, msg transcript.Message) error {
	if msg.Role != transcript.RoleComponent {
		return fmt.Errorf("%w: role %q", ErrNotComponent, msg.Role)
	}

	props := msg.ComponentProps
	if props == nil {
		props = map[string]any{}
	}

	fn, ok := r.Lookup(msg.ComponentName)
	if !ok {
		r.logger.Debug("no renderer for component", "name", msg.ComponentName, "message_id", msg.ID)
		_, err := fmt.Fprintf(w, "[component %s]\n", displayName(msg.ComponentName))
		return err
	}

	if err := fn(w, props); err != nil {
		return fmt.Errorf("rendering component %s: %w", msg.ComponentName, err)
	}
	return nil
}

func displayName(name string) string {
	if name == "" {
		return "(unnamed)"
	}
	return name
}
