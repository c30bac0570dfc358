// Package pgsession runs remote procedures as PostgreSQL functions. An
// application image is a schema, its procedures are the schema's functions and
// its record types are the schema's composite types.
package pgsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/lychee-technology/orcall"
	"github.com/lychee-technology/orcall/internal"
	"go.uber.org/zap"
)

// Pool is the part of a pgx pool the session uses.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// ReturnValueParam receives the result of a function that has no OUT parameters.
const ReturnValueParam = "return_value"

// PostgreSQL error codes the session translates.
const (
	pgUndefinedFunction = "42883"
	pgInvalidSchemaName = "3F000"
	pgInvalidCatalog    = "3D000"
)

// Session is an orcall.Session backed by a PostgreSQL schema.
type Session struct {
	pool  Pool
	close func()

	mu        sync.RWMutex
	schema    string
	catalogue *orcall.Catalogue
}

var (
	_ orcall.Session         = (*Session)(nil)
	_ orcall.CatalogueSource = (*Session)(nil)
	_ orcall.HealthChecker   = (*Session)(nil)
)

const existsSchemaQuery = `SELECT EXISTS (SELECT 1 FROM pg_catalog.pg_namespace WHERE nspname = $1)`

// pingTimeout bounds Ping when ctx carries no deadline.
const pingTimeout = 5 * time.Second

// New creates a session over pool. closeFn, if not nil, runs on Disconnect.
func New(pool Pool, closeFn func()) *Session {
	return &Session{pool: pool, close: closeFn}
}

func (s *Session) Connect(ctx context.Context, image, host string, mode orcall.ConnectionMode) error {
	schema := strings.TrimSuffix(image, ".img")
	var exists bool
	err := s.pool.QueryRow(ctx, existsSchemaQuery, schema).Scan(&exists)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return translate(err, "", image)
		}
		return fmt.Errorf("look up schema %s: %w", schema, err)
	}
	if !exists {
		return orcall.NewApplicationNotFoundError(image).WithDetail("host", host)
	}

	s.mu.Lock()
	s.schema = schema
	s.catalogue = nil
	s.mu.Unlock()
	zap.S().Infow("postgres session connected", "schema", schema, "host", host, "mode", string(mode))
	return nil
}

func (s *Session) connected() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.schema == "" {
		return "", orcall.NewNotConnectedError()
	}
	return s.schema, nil
}

// Ping checks the pool answers and the schema still exists.
func (s *Session) Ping(ctx context.Context) error {
	schema, err := s.connected()
	if err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pingTimeout)
		defer cancel()
	}
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, existsSchemaQuery, schema).Scan(&exists); err != nil {
		return fmt.Errorf("look up schema %s: %w", schema, err)
	}
	if !exists {
		return orcall.NewApplicationNotFoundError(schema)
	}
	return nil
}

func (s *Session) NewFieldPort(sig orcall.FlatSignature) (orcall.FieldPort, error) {
	return internal.NewParamData(sig), nil
}

const routinesQuery = `SELECT r.routine_name, r.data_type, r.type_udt_name,
		p.parameter_name, p.parameter_mode, p.data_type, p.udt_name
	FROM information_schema.routines r
	LEFT JOIN information_schema.parameters p
		ON p.specific_schema = r.specific_schema AND p.specific_name = r.specific_name
	WHERE r.routine_schema = $1 AND r.routine_type = 'FUNCTION'
	ORDER BY r.routine_name, r.specific_name, p.ordinal_position`

const attributesQuery = `SELECT udt_name, attribute_name, data_type, attribute_udt_name
	FROM information_schema.attributes
	WHERE udt_schema = $1
	ORDER BY udt_name, ordinal_position`

// FetchCatalogue describes the connected schema's functions and composite types.
func (s *Session) FetchCatalogue(ctx context.Context) (*orcall.Catalogue, error) {
	schema, err := s.connected()
	if err != nil {
		return nil, err
	}
	cat := orcall.NewCatalogue()
	if err := s.loadRecordTypes(ctx, schema, cat); err != nil {
		return nil, err
	}
	if err := s.loadProcedures(ctx, schema, cat); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.catalogue = cat
	s.mu.Unlock()
	return cat, nil
}

func (s *Session) loadRecordTypes(ctx context.Context, schema string, cat *orcall.Catalogue) error {
	rows, err := s.pool.Query(ctx, attributesQuery, schema)
	if err != nil {
		return fmt.Errorf("query composite types: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var typeName, attrName, dataType, udtName string
		if err := rows.Scan(&typeName, &attrName, &dataType, &udtName); err != nil {
			return fmt.Errorf("scan composite type attribute: %w", err)
		}
		rt, ok := cat.RecordType(typeName)
		if !ok {
			rt = &orcall.RecordType{Name: typeName}
			cat.AddRecordType(rt)
		}
		rt.Fields = append(rt.Fields, parameterOf(attrName, dataType, udtName))
	}
	return rows.Err()
}

func (s *Session) loadProcedures(ctx context.Context, schema string, cat *orcall.Catalogue) error {
	rows, err := s.pool.Query(ctx, routinesQuery, schema)
	if err != nil {
		return fmt.Errorf("query functions: %w", err)
	}
	defer rows.Close()

	var order []string
	returns := make(map[string]orcall.Parameter)
	for rows.Next() {
		var (
			routine, retType, retUDT           string
			paramName, mode, dataType, udtName *string
		)
		if err := rows.Scan(&routine, &retType, &retUDT, &paramName, &mode, &dataType, &udtName); err != nil {
			return fmt.Errorf("scan function parameter: %w", err)
		}
		proc, ok := cat.Procedures[routine]
		if !ok {
			proc = &orcall.Procedure{Name: routine, Attributes: map[string]string{"returns": retType}}
			cat.AddProcedure(proc)
			order = append(order, routine)
			if retType != "void" && retType != "record" {
				ret := parameterOf(ReturnValueParam, retType, retUDT)
				ret.Attributes["mode"] = "OUT"
				returns[routine] = ret
			}
		}
		if paramName == nil || *paramName == "" {
			continue
		}
		p := parameterOf(*paramName, deref(dataType), deref(udtName))
		p.Attributes["mode"] = deref(mode)
		proc.Parameters = append(proc.Parameters, p)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, name := range order {
		proc := cat.Procedures[name]
		if ret, ok := returns[name]; ok && !hasOutput(proc) {
			proc.Parameters = append(proc.Parameters, ret)
		}
	}
	return nil
}

func hasOutput(proc *orcall.Procedure) bool {
	return len(outputs(proc)) > 0
}

// outputs lists the OUT and INOUT parameters of proc.
func outputs(proc *orcall.Procedure) []string {
	var names []string
	for _, p := range proc.Parameters {
		if m := p.Attributes["mode"]; m == "OUT" || m == "INOUT" {
			names = append(names, p.Name)
		}
	}
	return names
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// parameterOf maps a PostgreSQL column type onto a parameter declaration.
// Composite types keep their name so the catalogue can splice them in.
func parameterOf(name, dataType, udtName string) orcall.Parameter {
	p := orcall.Parameter{Name: name, Attributes: map[string]string{"pgtype": dataType}}
	switch dataType {
	case "USER-DEFINED":
		p.Type = udtName
		p.Attributes["pgtype"] = udtName
	case "ARRAY":
		p.Type = strings.TrimPrefix(udtName, "_")
		p.Array = true
		p.Attributes["pgtype"] = p.Type + "[]"
	default:
		p.Type = string(tagOf(dataType))
	}
	return p
}

func tagOf(dataType string) orcall.TypeTag {
	switch {
	case dataType == "smallint":
		return orcall.TypeSmallint
	case dataType == "integer" || dataType == "bigint":
		return orcall.TypeInteger
	case dataType == "real" || dataType == "double precision":
		return orcall.TypeFloat
	case dataType == "numeric":
		return orcall.TypeDecimal
	case dataType == "money":
		return orcall.TypeMoney
	case dataType == "bytea":
		return orcall.TypeBinary
	case dataType == "date" || strings.HasPrefix(dataType, "timestamp"):
		return orcall.TypeDate
	case dataType == "text" || strings.HasPrefix(dataType, "character") || dataType == "json" ||
		dataType == "jsonb" || dataType == "uuid" || dataType == "xml":
		return orcall.TypeString
	}
	return orcall.TypeTag(strings.ToUpper(dataType))
}

func (s *Session) procedure(ctx context.Context, name string) (*orcall.Procedure, error) {
	s.mu.RLock()
	cat := s.catalogue
	s.mu.RUnlock()
	if cat == nil {
		var err error
		if cat, err = s.FetchCatalogue(ctx); err != nil {
			return nil, err
		}
	}
	proc, ok := cat.Procedure(name)
	if !ok {
		return nil, orcall.NewProcedureNotFoundError(name)
	}
	return proc, nil
}

// Invoke calls the function with the assigned IN and INOUT parameters as
// named arguments and writes the returned row back into port.
func (s *Session) Invoke(ctx context.Context, name string, port orcall.FieldPort) error {
	schema, err := s.connected()
	if err != nil {
		return err
	}
	data, ok := port.(*internal.ParamData)
	if !ok {
		return orcall.NewInvalidArgumentError(fmt.Sprintf("unsupported field port %T", port))
	}
	proc, err := s.procedure(ctx, name)
	if err != nil {
		return err
	}

	query, args, err := buildCall(schema, proc, data)
	if err != nil {
		return err
	}
	start := time.Now()
	var doc []byte
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return translate(err, proc.Name, schema)
	}
	zap.S().Debugw("postgres function returned", "schema", schema, "function", proc.Name,
		"duration_ms", time.Since(start).Milliseconds())
	return writeResult(data, proc, doc)
}

// buildCall renders SELECT to_jsonb(r) FROM schema.fn(name => $1, ...) AS r.
func buildCall(schema string, proc *orcall.Procedure, port *internal.ParamData) (string, []any, error) {
	tree := port.Tree()
	var (
		named []string
		args  []any
	)
	for _, p := range proc.Parameters {
		if p.Attributes["mode"] == "OUT" {
			continue
		}
		if len(port.AssignedUnder(p.Name)) == 0 && len(port.RowCounts(p.Name)) == 0 {
			continue
		}
		rec, err := internal.DecodeSelected(port, tree, []string{p.Name})
		if err != nil {
			return "", nil, err
		}
		expr, arg, err := argument(schema, p, rec[p.Name], len(args)+1)
		if err != nil {
			return "", nil, err
		}
		named = append(named, fmt.Sprintf("%s => %s", pq.QuoteIdentifier(p.Name), expr))
		args = append(args, arg)
	}
	query := fmt.Sprintf("SELECT to_jsonb(r)::text FROM %s.%s(%s) AS r",
		pq.QuoteIdentifier(schema), pq.QuoteIdentifier(proc.Name), strings.Join(named, ", "))
	return query, args, nil
}

// argument returns the placeholder expression and value for one parameter.
// Composite values travel as jsonb and are rebuilt server side.
func argument(schema string, p orcall.Parameter, v orcall.Value, n int) (string, any, error) {
	placeholder := fmt.Sprintf("$%d", n)
	switch val := v.(type) {
	case orcall.Record, orcall.RecordArray:
		doc, err := json.Marshal(internal.ToJSON(val))
		if err != nil {
			return "", nil, err
		}
		typeName := pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(p.Type)
		if p.Array {
			return fmt.Sprintf("ARRAY(SELECT jsonb_populate_recordset(NULL::%s, %s::jsonb))", typeName, placeholder), string(doc), nil
		}
		return fmt.Sprintf("jsonb_populate_record(NULL::%s, %s::jsonb)", typeName, placeholder), string(doc), nil
	}
	return placeholder, scalarArg(v), nil
}

func scalarArg(v orcall.Value) any {
	switch val := v.(type) {
	case orcall.String:
		return string(val)
	case orcall.Integer:
		return int64(val)
	case orcall.Float:
		return float64(val)
	case orcall.Decimal:
		return val.String()
	case orcall.Binary:
		return []byte(val)
	case orcall.Date:
		return val.Time()
	case orcall.DateTime:
		return val.Time
	}
	return nil
}

func writeResult(port *internal.ParamData, proc *orcall.Procedure, doc []byte) error {
	if len(doc) == 0 {
		return nil
	}
	var raw any
	dec := json.NewDecoder(strings.NewReader(string(doc)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decode result of %s: %w", proc.Name, err)
	}

	sig := port.Signature()
	outs := outputs(proc)
	obj, isObject := raw.(map[string]any)
	switch {
	case len(outs) == 0:
		if _, declared := sig[ReturnValueParam]; !declared {
			return nil
		}
		obj = map[string]any{ReturnValueParam: raw}
	case len(outs) == 1:
		// A single composite output comes back as its fields.
		if !isObject || sig[outs[0]].IsRecord() {
			obj = map[string]any{outs[0]: raw}
		}
	case !isObject:
		return nil
	}
	rec, err := internal.ResultFromJSON(sig, obj)
	if err != nil {
		return err
	}
	for name := range rec {
		port.Clear(name)
	}
	return internal.Encode(port, port.Tree(), rec)
}

// translate maps PostgreSQL errors onto call errors; other errors are returned unchanged.
func translate(err error, procedure, schema string) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUndefinedFunction:
		return orcall.NewProcedureNotFoundError(procedure).WithCause(err)
	case pgInvalidSchemaName, pgInvalidCatalog:
		return orcall.NewApplicationNotFoundError(schema).WithCause(err)
	}
	return err
}

func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	s.schema = ""
	s.catalogue = nil
	closeFn := s.close
	s.close = nil
	s.mu.Unlock()
	if closeFn != nil {
		closeFn()
	}
	return nil
}
