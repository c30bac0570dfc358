package internal

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lychee-technology/orcall"
	"go.uber.org/zap"
)

// CallRecord is the outcome of one call as kept by a CallJournal.
type CallRecord struct {
	CallID     string
	Procedure  string
	Signature  string
	Source     orcall.SignatureSource
	StartedAt  time.Time
	Duration   time.Duration
	Outcome    string
	ErrorCode  string
	ErrorText  string
	FieldCount int
}

// Call outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// CallJournal receives one record per completed call.
type CallJournal interface {
	Append(ctx context.Context, rec CallRecord) error
}

// DispatcherOptions wires a dispatcher to its collaborators. Only Session is required.
type DispatcherOptions struct {
	Session   orcall.Session
	Config    *orcall.Config
	Snapshots SnapshotStore
	Journal   CallJournal
	Hook      CallHook
	Logger    *zap.Logger
}

type dispatcher struct {
	// invokeMu keeps one logical call in flight on the session.
	invokeMu sync.Mutex

	session   orcall.Session
	call      orcall.CallConfig
	catalogue *CatalogueCache
	journal   CallJournal
	hook      CallHook
	log       *zap.SugaredLogger
}

// NewDispatcher creates a dispatcher over an already connected session.
func NewDispatcher(opts DispatcherOptions) orcall.Dispatcher {
	cfg := opts.Config
	if cfg == nil {
		cfg = orcall.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.L()
	}
	hook := opts.Hook
	if hook == nil {
		hook = NoopCallHook()
	}
	d := &dispatcher{
		session: opts.Session,
		call:    cfg.Call,
		journal: opts.Journal,
		hook:    hook,
		log:     logger.Sugar(),
	}
	fetch := CatalogueFetcherFor(opts.Session, cfg.Catalogue)
	d.catalogue = NewCatalogueCache(cfg.Session.Image, cfg.Catalogue.MaxRecordDepth, d.serialized(fetch), opts.Snapshots)
	if cfg.Catalogue.FailureThreshold > 0 {
		d.catalogue.WithBreaker(NewCircuitBreaker(cfg.Catalogue.FailureThreshold, cfg.Catalogue.FailureWindow, cfg.Catalogue.SuspendFor))
	}
	return d
}

// serialized runs fetch under the invoke lock, since it may call the session.
func (d *dispatcher) serialized(fetch CatalogueFetcher) CatalogueFetcher {
	return func(ctx context.Context) (*orcall.Catalogue, error) {
		d.invokeMu.Lock()
		defer d.invokeMu.Unlock()
		return fetch(ctx)
	}
}

func (d *dispatcher) Catalogue(ctx context.Context) (*orcall.Catalogue, error) {
	return d.catalogue.Catalogue(ctx)
}

func (d *dispatcher) Signature(ctx context.Context, procedure string, args orcall.Record, opts ...orcall.CallOption) (orcall.FlatSignature, orcall.SignatureSource, error) {
	return d.resolve(ctx, procedure, args, orcall.ApplyCallOptions(opts...))
}

func (d *dispatcher) resolve(ctx context.Context, procedure string, args orcall.Record, opts orcall.CallOptions) (orcall.FlatSignature, orcall.SignatureSource, error) {
	sig, ok, err := opts.Explicit()
	if err != nil {
		return nil, "", err
	}
	if ok {
		sig, err = d.catalogue.ExpandNamedTypes(ctx, sig)
		if err != nil {
			var callErr *orcall.CallError
			if errors.As(err, &callErr) && callErr.Procedure == "" {
				callErr.WithProcedure(procedure)
			}
			return nil, "", err
		}
		return sig, orcall.SourceExplicit, nil
	}

	if d.call.LookupMetadata {
		sig, found, err := d.catalogue.Signature(ctx, procedure)
		switch {
		case err == nil && found:
			return sig, orcall.SourceCatalogue, nil
		case err == nil:
			d.log.Debugw("procedure not described by catalogue; inferring signature", "procedure", procedure)
		case errors.Is(err, orcall.ErrProcedureNotFound):
			d.log.Warnw("application publishes no catalogue; inferring signature", "procedure", procedure, "error", err)
		default:
			return nil, "", err
		}
	}

	sig, err = orcall.InferSignature(args)
	if err != nil {
		var callErr *orcall.CallError
		if errors.As(err, &callErr) {
			callErr.WithProcedure(procedure)
		}
		return nil, "", err
	}
	return sig, orcall.SourceInferred, nil
}

func (d *dispatcher) Call(ctx context.Context, procedure string, args orcall.Record, opts ...orcall.CallOption) (orcall.Record, error) {
	callID := newCallID()
	start := time.Now()

	sig, source, err := d.resolve(ctx, procedure, args, orcall.ApplyCallOptions(opts...))
	info := CallInfo{CallID: callID, Procedure: procedure, Source: source, Signature: sig}

	ctx, token := d.hook.OnCallStart(ctx, info)
	var (
		result orcall.Record
		fields int
	)
	if err == nil {
		result, fields, err = d.execute(ctx, procedure, sig, args)
	}
	d.hook.OnCallEnd(ctx, token, info, err)
	d.record(ctx, info, start, fields, err)

	if err != nil {
		d.log.Infow("call failed", "call_id", callID, "procedure", procedure,
			"duration_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, err
	}
	d.log.Debugw("call completed", "call_id", callID, "procedure", procedure,
		"signature_source", source, "duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

func (d *dispatcher) execute(ctx context.Context, procedure string, sig orcall.FlatSignature, args orcall.Record) (orcall.Record, int, error) {
	port, err := d.session.NewFieldPort(sig)
	if err != nil {
		return nil, 0, err
	}
	tree := orcall.BuildTree(sig)
	if err := Encode(port, tree, args); err != nil {
		var callErr *orcall.CallError
		if errors.As(err, &callErr) {
			callErr.WithProcedure(procedure)
		}
		return nil, 0, err
	}
	fields := countLeaves(args)
	EmitEncodedFields(ctx, procedure, fields)

	if err := d.invoke(ctx, procedure, port); err != nil {
		return nil, fields, err
	}

	var out orcall.Record
	if d.call.ReturnOnlySent {
		out, err = DecodeSelected(port, tree, args.Keys())
	} else {
		out, err = Decode(port, tree)
	}
	if err != nil {
		return nil, fields, err
	}
	return out, fields, nil
}

func (d *dispatcher) invoke(ctx context.Context, procedure string, port orcall.FieldPort) error {
	if d.call.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.call.Timeout)
		defer cancel()
	}

	d.invokeMu.Lock()
	err := d.session.Invoke(ctx, procedure, port)
	d.invokeMu.Unlock()
	if err == nil {
		return nil
	}

	var callErr *orcall.CallError
	if errors.As(err, &callErr) && callErr.Procedure == "" {
		callErr.WithProcedure(procedure)
	}
	return err
}

func (d *dispatcher) record(ctx context.Context, info CallInfo, start time.Time, fields int, err error) {
	if d.journal == nil {
		return
	}
	rec := CallRecord{
		CallID:     info.CallID,
		Procedure:  info.Procedure,
		Source:     info.Source,
		StartedAt:  start,
		Duration:   time.Since(start),
		Outcome:    OutcomeOK,
		FieldCount: fields,
	}
	if info.Signature != nil {
		rec.Signature = info.Signature.String()
	}
	if err != nil {
		rec.Outcome = OutcomeError
		rec.ErrorText = err.Error()
		var callErr *orcall.CallError
		if errors.As(err, &callErr) {
			rec.ErrorCode = callErr.Code
		}
	}
	if jerr := d.journal.Append(ctx, rec); jerr != nil {
		d.log.Warnw("failed to journal call", "call_id", info.CallID, "error", jerr)
	}
}

func (d *dispatcher) Ping(ctx context.Context) error {
	hc, ok := d.session.(orcall.HealthChecker)
	if !ok {
		return nil
	}
	return hc.Ping(ctx)
}

func (d *dispatcher) Close(ctx context.Context) error {
	err := d.session.Disconnect(ctx)
	if c, ok := d.journal.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func newCallID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func countLeaves(rec orcall.Record) int {
	n := 0
	for _, v := range rec {
		switch val := v.(type) {
		case orcall.Record:
			n += countLeaves(val)
		case orcall.RecordArray:
			for _, row := range val {
				n += countLeaves(row)
			}
		default:
			n++
		}
	}
	return n
}
