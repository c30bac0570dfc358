package loopback

import (
	"context"
	"sync"

	"github.com/lychee-technology/orcall"
	"github.com/lychee-technology/orcall/internal"
	"go.uber.org/zap"
)

// Session connects to applications held by a Registry.
type Session struct {
	mu       sync.RWMutex
	registry *Registry
	app      *Application
	image    string

	metadataProcedure string
	interfaceParam    string
}

var _ orcall.Session = (*Session)(nil)

// NewSession creates an unconnected session. The metadata procedure answers
// with the connected application's catalogue XML.
func NewSession(registry *Registry) *Session {
	return &Session{
		registry:          registry,
		metadataProcedure: orcall.DefaultCatalogueProcedure,
		interfaceParam:    orcall.DefaultInterfaceParam,
	}
}

// WithMetadataProcedure renames the built-in metadata procedure.
func (s *Session) WithMetadataProcedure(procedure, interfaceParam string) *Session {
	s.metadataProcedure = procedure
	s.interfaceParam = interfaceParam
	return s
}

func (s *Session) Connect(ctx context.Context, image, host string, mode orcall.ConnectionMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name := orcall.ImageName(image, mode)
	app, ok := s.registry.Resolve(name)
	if !ok || app.isDisabled() {
		return orcall.NewApplicationNotFoundError(name).WithDetail("host", host)
	}
	s.mu.Lock()
	s.app = app
	s.image = name
	s.mu.Unlock()
	zap.S().Debugw("loopback session connected", "image", name, "host", host, "mode", string(mode))
	return nil
}

func (s *Session) connected() (*Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.app == nil {
		return nil, orcall.NewNotConnectedError()
	}
	return s.app, nil
}

// Ping fails with NotConnected until Connect succeeds, and with
// ApplicationNotFound once the application is disabled.
func (s *Session) Ping(ctx context.Context) error {
	app, err := s.connected()
	if err != nil {
		return err
	}
	if app.isDisabled() {
		return orcall.NewApplicationNotFoundError(app.name)
	}
	return nil
}

func (s *Session) NewFieldPort(sig orcall.FlatSignature) (orcall.FieldPort, error) {
	return internal.NewParamData(sig), nil
}

func (s *Session) Invoke(ctx context.Context, name string, port orcall.FieldPort) error {
	app, err := s.connected()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if name == s.metadataProcedure {
		return s.describe(app, port)
	}
	proc, ok := app.lookup(name)
	if !ok {
		return orcall.NewProcedureNotFoundError(name)
	}
	return proc.handler(ctx, port)
}

func (s *Session) describe(app *Application, port orcall.FieldPort) error {
	doc, err := internal.RenderCatalogueXML(app.Catalogue())
	if err != nil {
		return err
	}
	if err := port.SetInt("b_osca.i_error_no", 0); err != nil {
		zap.S().Debugw("metadata call without b_osca", "error", err)
	}
	return port.SetString(s.interfaceParam, string(doc))
}

func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.app = nil
	s.image = ""
	return nil
}
