// Package loopback is an in-process orcall.Session. Applications are sets of
// Go handlers registered under an image name, which makes the full marshalling
// path testable without a remote server.
package loopback

import (
	"context"
	"strings"
	"sync"

	"github.com/lychee-technology/orcall"
)

// Handler implements one procedure. It reads its inputs from port and writes
// its outputs back into it.
type Handler func(ctx context.Context, port orcall.FieldPort) error

type procedure struct {
	decl    orcall.Procedure
	handler Handler
}

// Application is a named set of procedures and record types.
type Application struct {
	mu          sync.RWMutex
	name        string
	disabled    bool
	procedures  map[string]*procedure
	recordTypes map[string]orcall.RecordType
}

// NewApplication creates an empty application.
func NewApplication(name string) *Application {
	return &Application{
		name:        name,
		procedures:  make(map[string]*procedure),
		recordTypes: make(map[string]orcall.RecordType),
	}
}

// Name returns the application name.
func (a *Application) Name() string {
	return a.name
}

// SetDisabled marks the application unreachable, as a suspended image would be.
func (a *Application) SetDisabled(disabled bool) {
	a.mu.Lock()
	a.disabled = disabled
	a.mu.Unlock()
}

func (a *Application) isDisabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.disabled
}

// Register adds or replaces a procedure.
func (a *Application) Register(decl orcall.Procedure, h Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.procedures[decl.Name] = &procedure{decl: decl, handler: h}
}

// AddRecordType declares a record type usable by procedure parameters.
func (a *Application) AddRecordType(rt orcall.RecordType) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recordTypes[strings.ToLower(rt.Name)] = rt
}

// lookup resolves name, falling back to the generated "SCP_" name.
func (a *Application) lookup(name string) (*procedure, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if p, ok := a.procedures[name]; ok {
		return p, true
	}
	p, ok := a.procedures[orcall.ProcedurePrefix+name]
	return p, ok
}

// Catalogue describes every registered procedure and record type.
func (a *Application) Catalogue() *orcall.Catalogue {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cat := orcall.NewCatalogue()
	for _, p := range a.procedures {
		decl := p.decl
		decl.Parameters = append([]orcall.Parameter(nil), p.decl.Parameters...)
		cat.AddProcedure(&decl)
	}
	for _, rt := range a.recordTypes {
		rt := rt
		rt.Fields = append([]orcall.Parameter(nil), rt.Fields...)
		cat.AddRecordType(&rt)
	}
	return cat
}

// Registry plays the part of a name server: it resolves image names to applications.
type Registry struct {
	mu   sync.RWMutex
	apps map[string]*Application
}

// NewRegistry creates a registry holding apps.
func NewRegistry(apps ...*Application) *Registry {
	r := &Registry{apps: make(map[string]*Application)}
	for _, app := range apps {
		r.Add(app)
	}
	return r
}

// Add registers app under its name and under "<name>.img".
func (r *Registry) Add(app *Application) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps[app.name] = app
	r.apps[app.name+".img"] = app
}

// Resolve finds the application for an image name.
func (r *Registry) Resolve(image string) (*Application, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	app, ok := r.apps[image]
	return app, ok
}
