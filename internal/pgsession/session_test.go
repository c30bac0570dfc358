package pgsession

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lychee-technology/orcall"
	"github.com/lychee-technology/orcall/internal"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const existsSQL = `SELECT EXISTS (SELECT 1 FROM pg_catalog.pg_namespace WHERE nspname = $1)`

func strPtr(s string) *string { return &s }

func expectConnect(mock pgxmock.PgxPoolIface, schema string, exists bool) {
	mock.ExpectQuery(regexp.QuoteMeta(existsSQL)).
		WithArgs(schema).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(exists))
}

// expectGeoCatalogue describes a schema with one composite type and two functions:
// describe_point(p point_t) RETURNS integer and
// bump(hellostring text, INOUT counter integer).
func expectGeoCatalogue(mock pgxmock.PgxPoolIface, schema string) {
	mock.ExpectQuery(regexp.QuoteMeta(attributesQuery)).
		WithArgs(schema).
		WillReturnRows(pgxmock.NewRows([]string{"udt_name", "attribute_name", "data_type", "attribute_udt_name"}).
			AddRow("point_t", "x", "integer", "int4").
			AddRow("point_t", "label", "text", "text"))

	mock.ExpectQuery(regexp.QuoteMeta(routinesQuery)).
		WithArgs(schema).
		WillReturnRows(pgxmock.NewRows([]string{"routine_name", "data_type", "type_udt_name",
			"parameter_name", "parameter_mode", "data_type", "udt_name"}).
			AddRow("bump", "integer", "int4", strPtr("hellostring"), strPtr("IN"), strPtr("text"), strPtr("text")).
			AddRow("bump", "integer", "int4", strPtr("counter"), strPtr("INOUT"), strPtr("integer"), strPtr("int4")).
			AddRow("describe_point", "integer", "int4", strPtr("p"), strPtr("IN"), strPtr("USER-DEFINED"), strPtr("point_t")).
			AddRow("noop", "void", "void", (*string)(nil), (*string)(nil), (*string)(nil), (*string)(nil)))
}

func TestSession_Connect(t *testing.T) {
	ctx := context.Background()

	t.Run("existing schema", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		expectConnect(mock, "comtest", true)
		s := New(mock, nil)
		require.NoError(t, s.Connect(ctx, "comtest.img", "db", orcall.ModeDirect))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing schema", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		expectConnect(mock, "nosuch", false)
		err = New(mock, nil).Connect(ctx, "nosuch", "db", orcall.ModeDirect)
		assert.True(t, errors.Is(err, orcall.ErrApplicationNotFound))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown database", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(regexp.QuoteMeta(existsSQL)).
			WithArgs("comtest").
			WillReturnError(&pgconn.PgError{Code: pgInvalidCatalog, Message: `database "x" does not exist`})
		err = New(mock, nil).Connect(ctx, "comtest", "db", orcall.ModeDirect)
		assert.True(t, errors.Is(err, orcall.ErrApplicationNotFound))
	})

	t.Run("network failure", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(regexp.QuoteMeta(existsSQL)).
			WithArgs("comtest").
			WillReturnError(errors.New("connection reset"))
		err = New(mock, nil).Connect(ctx, "comtest", "db", orcall.ModeDirect)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection reset")
		assert.False(t, errors.Is(err, orcall.ErrApplicationNotFound))
	})
}

func TestSession_FetchCatalogue(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectConnect(mock, "geo", true)
	expectGeoCatalogue(mock, "geo")

	s := New(mock, nil)
	require.NoError(t, s.Connect(ctx, "geo", "db", orcall.ModeDirect))
	cat, err := s.FetchCatalogue(ctx)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, []string{"bump", "describe_point", "noop"}, cat.ProcedureNames())
	assert.Equal(t, []string{"point_t"}, cat.RecordTypeNames())

	sig, found, err := internal.SignatureForProcedure(cat, "describe_point")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, orcall.FlatSignature{
		"p":            orcall.TypeRecord,
		"p.x":          orcall.TypeInteger,
		"p.label":      orcall.TypeString,
		"return_value": orcall.TypeInteger,
	}, sig)

	// INOUT parameters carry the result, so no return_value is added.
	sig, _, err = internal.SignatureForProcedure(cat, "bump")
	require.NoError(t, err)
	assert.Equal(t, orcall.FlatSignature{"hellostring": orcall.TypeString, "counter": orcall.TypeInteger}, sig)

	noop, ok := cat.Procedure("noop")
	require.True(t, ok)
	assert.Empty(t, noop.Parameters)
}

func TestSession_FetchCatalogueRequiresConnection(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = New(mock, nil).FetchCatalogue(context.Background())
	assert.True(t, errors.Is(err, orcall.ErrNotConnected))
}

func TestParameterOf(t *testing.T) {
	tests := []struct {
		dataType, udtName string
		wantType          string
		wantArray         bool
	}{
		{"integer", "int4", "INTEGER", false},
		{"smallint", "int2", "SMALLINT", false},
		{"double precision", "float8", "FLOAT", false},
		{"numeric", "numeric", "DECIMAL", false},
		{"money", "money", "MONEY", false},
		{"bytea", "bytea", "BINARY", false},
		{"timestamp without time zone", "timestamp", "DATE", false},
		{"character varying", "varchar", "STRING", false},
		{"USER-DEFINED", "point_t", "point_t", false},
		{"ARRAY", "_point_t", "point_t", true},
	}
	for _, tt := range tests {
		t.Run(tt.dataType, func(t *testing.T) {
			p := parameterOf("a", tt.dataType, tt.udtName)
			assert.Equal(t, tt.wantType, p.Type)
			assert.Equal(t, tt.wantArray, p.Array)
		})
	}
}

func connectedGeo(t *testing.T) (*Session, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	expectConnect(mock, "geo", true)
	expectGeoCatalogue(mock, "geo")
	s := New(mock, nil)
	require.NoError(t, s.Connect(context.Background(), "geo", "db", orcall.ModeDirect))
	_, err = s.FetchCatalogue(context.Background())
	require.NoError(t, err)
	return s, mock
}

func TestSession_InvokeWritesInoutParameter(t *testing.T) {
	ctx := context.Background()
	s, mock := connectedGeo(t)

	sig := orcall.FlatSignature{"hellostring": orcall.TypeString, "counter": orcall.TypeInteger}
	port, err := s.NewFieldPort(sig)
	require.NoError(t, err)
	require.NoError(t, port.SetString("hellostring", "hi"))
	require.NoError(t, port.SetInt("counter", 9))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT to_jsonb(r)::text FROM "geo"."bump"("hellostring" => $1, "counter" => $2) AS r`)).
		WithArgs("hi", int64(9)).
		WillReturnRows(pgxmock.NewRows([]string{"to_jsonb"}).AddRow([]byte(`10`)))

	require.NoError(t, s.Invoke(ctx, "bump", port))
	require.NoError(t, mock.ExpectationsWereMet())

	counter, err := port.GetInt("counter")
	require.NoError(t, err)
	assert.Equal(t, int64(10), counter)
	greeting, err := port.GetString("hellostring")
	require.NoError(t, err)
	assert.Equal(t, "hi", greeting)
}

func TestSession_InvokeSkipsUnassignedParameters(t *testing.T) {
	ctx := context.Background()
	s, mock := connectedGeo(t)

	port, err := s.NewFieldPort(orcall.FlatSignature{"hellostring": orcall.TypeString, "counter": orcall.TypeInteger})
	require.NoError(t, err)
	require.NoError(t, port.SetInt("counter", 1))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT to_jsonb(r)::text FROM "geo"."bump"("counter" => $1) AS r`)).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"to_jsonb"}).AddRow([]byte(`2`)))

	require.NoError(t, s.Invoke(ctx, "bump", port))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSession_InvokeCompositeArgumentAndReturnValue(t *testing.T) {
	ctx := context.Background()
	s, mock := connectedGeo(t)

	sig := orcall.FlatSignature{
		"p":            orcall.TypeRecord,
		"p.x":          orcall.TypeInteger,
		"p.label":      orcall.TypeString,
		"return_value": orcall.TypeInteger,
	}
	port, err := s.NewFieldPort(sig)
	require.NoError(t, err)
	require.NoError(t, internal.Encode(port, orcall.BuildTree(sig), orcall.Record{
		"p": orcall.Record{"x": orcall.Integer(3), "label": orcall.String("a")},
	}))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT to_jsonb(r)::text FROM "geo"."describe_point"(` +
		`"p" => jsonb_populate_record(NULL::"geo"."point_t", $1::jsonb)) AS r`)).
		WithArgs(`{"label":"a","x":3}`).
		WillReturnRows(pgxmock.NewRows([]string{"to_jsonb"}).AddRow([]byte(`7`)))

	require.NoError(t, s.Invoke(ctx, "describe_point", port))
	require.NoError(t, mock.ExpectationsWereMet())

	ret, err := port.GetInt("return_value")
	require.NoError(t, err)
	assert.Equal(t, int64(7), ret)
}

func TestSession_InvokeErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("not connected", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		s := New(mock, nil)
		port, _ := s.NewFieldPort(orcall.FlatSignature{})
		assert.True(t, errors.Is(s.Invoke(ctx, "bump", port), orcall.ErrNotConnected))
	})

	t.Run("unknown function", func(t *testing.T) {
		s, _ := connectedGeo(t)
		port, _ := s.NewFieldPort(orcall.FlatSignature{})
		err := s.Invoke(ctx, "nosuchfn", port)
		assert.True(t, errors.Is(err, orcall.ErrProcedureNotFound))
	})

	t.Run("undefined function at call time", func(t *testing.T) {
		s, mock := connectedGeo(t)
		port, _ := s.NewFieldPort(orcall.FlatSignature{})
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT to_jsonb(r)::text FROM "geo"."noop"() AS r`)).
			WillReturnError(&pgconn.PgError{Code: pgUndefinedFunction, Message: "function geo.noop() does not exist"})

		err := s.Invoke(ctx, "noop", port)
		var callErr *orcall.CallError
		require.True(t, errors.As(err, &callErr))
		assert.Equal(t, orcall.ErrCodeProcedureNotFound, callErr.Code)
	})

	t.Run("no row", func(t *testing.T) {
		s, mock := connectedGeo(t)
		port, _ := s.NewFieldPort(orcall.FlatSignature{})
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT to_jsonb(r)::text FROM "geo"."noop"() AS r`)).
			WillReturnRows(pgxmock.NewRows([]string{"to_jsonb"}))

		assert.NoError(t, s.Invoke(ctx, "noop", port))
	})
}

func TestSession_Ping(t *testing.T) {
	ctx := context.Background()

	t.Run("not connected", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		assert.True(t, errors.Is(New(mock, nil).Ping(ctx), orcall.ErrNotConnected))
	})

	t.Run("schema present", func(t *testing.T) {
		mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mock.Close()
		expectConnect(mock, "geo", true)
		s := New(mock, nil)
		require.NoError(t, s.Connect(ctx, "geo", "db", orcall.ModeDirect))

		mock.ExpectPing()
		expectConnect(mock, "geo", true)
		require.NoError(t, s.Ping(ctx))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("schema dropped", func(t *testing.T) {
		mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mock.Close()
		expectConnect(mock, "geo", true)
		s := New(mock, nil)
		require.NoError(t, s.Connect(ctx, "geo", "db", orcall.ModeDirect))

		mock.ExpectPing()
		expectConnect(mock, "geo", false)
		assert.True(t, errors.Is(s.Ping(ctx), orcall.ErrApplicationNotFound))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database unreachable", func(t *testing.T) {
		mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mock.Close()
		expectConnect(mock, "geo", true)
		s := New(mock, nil)
		require.NoError(t, s.Connect(ctx, "geo", "db", orcall.ModeDirect))

		mock.ExpectPing().WillReturnError(errors.New("connection refused"))
		assert.ErrorContains(t, s.Ping(ctx), "connection refused")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSession_DisconnectRunsCloseOnce(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	closed := 0
	s := New(mock, func() { closed++ })
	require.NoError(t, s.Disconnect(context.Background()))
	require.NoError(t, s.Disconnect(context.Background()))
	assert.Equal(t, 1, closed)
}

func TestConnString(t *testing.T) {
	cfg := orcall.PostgresConfig{Host: "db", Port: 5433, Database: "apps", Username: "u", Password: "p"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=apps sslmode=disable", ConnString(cfg))

	cfg.SSLMode = "require"
	assert.Contains(t, ConnString(cfg), "sslmode=require")
}

func TestGenerateIAMTokenFnIsSwappable(t *testing.T) {
	orig := generateIAMTokenFn
	defer func() { generateIAMTokenFn = orig }()

	var gotEndpoint string
	generateIAMTokenFn = func(ctx context.Context, endpoint, region string, creds aws.CredentialsProvider) (string, error) {
		gotEndpoint = endpoint
		return "token", nil
	}
	token, err := generateIAMTokenFn(context.Background(), "db:5432", "us-east-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "token", token)
	assert.Equal(t, "db:5432", gotEndpoint)
}

func TestWriteResult_SingleCompositeOutput(t *testing.T) {
	sig := orcall.MustParseSignature("p1=USERCLASS; p1.attr_int=INTEGER; p1.vc_int=STRING")
	port := internal.NewParamData(sig)
	proc := &orcall.Procedure{
		Name: "echo_ucsimple",
		Parameters: []orcall.Parameter{{
			Name:       "p1",
			Type:       "ucsimpleintstr",
			Attributes: map[string]string{"mode": "INOUT"},
		}},
	}

	require.NoError(t, writeResult(port, proc, []byte(`{"attr_int": 3, "vc_int": "3"}`)))
	vc, err := port.GetString("p1.vc_int")
	require.NoError(t, err)
	assert.Equal(t, "3", vc)
	n, err := port.GetInt("p1.attr_int")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestWriteResult_SeveralOutputs(t *testing.T) {
	sig := orcall.MustParseSignature("hellostring=STRING; counter=INTEGER")
	port := internal.NewParamData(sig)
	proc := &orcall.Procedure{
		Name: "helloworld",
		Parameters: []orcall.Parameter{
			{Name: "hellostring", Type: "STRING", Attributes: map[string]string{"mode": "INOUT"}},
			{Name: "counter", Type: "INTEGER", Attributes: map[string]string{"mode": "INOUT"}},
		},
	}

	require.NoError(t, writeResult(port, proc, []byte(`{"hellostring": "Well NULL to you too!", "counter": 1}`)))
	s, err := port.GetString("hellostring")
	require.NoError(t, err)
	assert.Equal(t, "Well NULL to you too!", s)
	n, err := port.GetInt("counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestWriteResult_FormattedMoney(t *testing.T) {
	sig := orcall.MustParseSignature("amount=MONEY; fee=MONEY")
	port := internal.NewParamData(sig)
	proc := &orcall.Procedure{
		Name: "charge",
		Parameters: []orcall.Parameter{
			{Name: "amount", Type: "MONEY", Attributes: map[string]string{"mode": "INOUT"}},
			{Name: "fee", Type: "MONEY", Attributes: map[string]string{"mode": "OUT"}},
		},
	}

	require.NoError(t, writeResult(port, proc, []byte(`{"amount": "$1,234.50", "fee": "-$0.25"}`)))
	amount, err := port.GetBigDecimal("amount")
	require.NoError(t, err)
	assert.True(t, amount.Equal(decimal.RequireFromString("1234.50")), "got %s", amount)
	fee, err := port.GetBigDecimal("fee")
	require.NoError(t, err)
	assert.True(t, fee.Equal(decimal.RequireFromString("-0.25")), "got %s", fee)
}

func TestWriteResult_KeepsEmptyRows(t *testing.T) {
	sig := orcall.MustParseSignature("items=RECORD_ARRAY; items.n=INTEGER; rowcount=INTEGER")
	port := internal.NewParamData(sig)
	proc := &orcall.Procedure{
		Name: "echo_rows",
		Parameters: []orcall.Parameter{
			{Name: "items", Type: "row_t", Array: true, Attributes: map[string]string{"mode": "INOUT"}},
			{Name: "rowcount", Type: "INTEGER", Attributes: map[string]string{"mode": "OUT"}},
		},
	}

	require.NoError(t, writeResult(port, proc, []byte(`{"items": [{"n": 1}, {}, {}], "rowcount": 3}`)))
	rows, err := port.LastRow("items")
	require.NoError(t, err)
	assert.Equal(t, 3, rows)
}
