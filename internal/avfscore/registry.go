package avfscore

import (
	"sort"
	"sync"
)

// Registry is the process-wide table of registered handlers, consulted by
// the resolver for both by-name ("#name:opts") and auto ("#" alone,
// matched by extension) handler invocation, per spec §4.9.
//
// Iteration order for extension matching is the registration order, made
// explicit and stable (an Open Question resolution recorded in SPEC_FULL.md):
// the original leaves match order to list-traversal order, which is
// register-order in practice, so this just names that behavior.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds h, keyed by h.Name(). Registering the same name twice
// replaces the previous handler (closing it first).
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.handlers[h.Name()]; ok {
		old.Close()
	} else {
		r.order = append(r.order, h.Name())
	}
	r.handlers[h.Name()] = h
}

// ByName looks up a handler by its registered name.
func (r *Registry) ByName(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// MatchExtension returns the first registered handler (in registration
// order) whose extension list contains a suffix of name, along with that
// suffix, for the "#" auto-handler rule of spec §4.9 step 2. It does not
// rewrite name.
func (r *Registry) MatchExtension(name string) (h Handler, suffix string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, hn := range r.order {
		hdlr := r.handlers[hn]
		for _, ext := range hdlr.Extensions() {
			if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
				return hdlr, ext, true
			}
		}
	}
	return nil, "", false
}

// Names returns every registered handler's name, sorted, for the
// avfsstat "modules" listing.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// CloseAll runs every registered handler's destructor, in registration
// order, at process teardown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.order {
		r.handlers[n].Close()
	}
}
