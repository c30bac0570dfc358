package internal

import (
	"errors"
	"testing"
	"time"

	"github.com/lychee-technology/orcall"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamData_UndeclaredPath(t *testing.T) {
	pd := NewParamData(orcall.MustParseSignature("a=STRING; p=RECORD; p.x=INTEGER"))

	err := pd.SetString("b", "x")
	assert.True(t, errors.Is(err, orcall.ErrFieldNotDeclared))

	_, err = pd.GetInt("p")
	assert.True(t, errors.Is(err, orcall.ErrFieldNotDeclared), "records are not leaves")

	_, err = pd.IsNull("p.y")
	assert.True(t, errors.Is(err, orcall.ErrFieldNotDeclared))
}

func TestParamData_SetterMustMatchDeclaredTag(t *testing.T) {
	pd := NewParamData(orcall.MustParseSignature("n=INTEGER; s=STRING; d=DATE"))

	assert.True(t, errors.Is(pd.SetString("n", "1"), orcall.ErrTypeMismatch))
	assert.True(t, errors.Is(pd.SetInt("s", 1), orcall.ErrTypeMismatch))
	assert.True(t, errors.Is(pd.SetDouble("d", 1), orcall.ErrTypeMismatch))
	assert.True(t, errors.Is(pd.SetNull("n", orcall.TypeString), orcall.ErrTypeMismatch))
	assert.NoError(t, pd.SetNull("n", orcall.TypeInteger))
	assert.NoError(t, pd.SetNull("s", ""))
}

func TestParamData_UnsetReadsAsNull(t *testing.T) {
	pd := NewParamData(orcall.MustParseSignature("n=INTEGER"))
	null, err := pd.IsNull("n")
	require.NoError(t, err)
	assert.True(t, null)

	v, err := pd.GetInt("n")
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestParamData_ByteArrayIsCopied(t *testing.T) {
	pd := NewParamData(orcall.MustParseSignature("b=BINARY"))
	src := []byte{1, 2, 3}
	require.NoError(t, pd.SetByteArray("b", src))
	src[0] = 9

	got, err := pd.GetByteArray("b")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestParamData_DateWithoutTimeKeepsDate(t *testing.T) {
	pd := NewParamData(orcall.MustParseSignature("d=DATE"))
	require.NoError(t, pd.SetDateWithoutTime("d", orcall.Date{Year: 1999, Month: time.December, Day: 31}))

	v, ok := pd.Value("d")
	require.True(t, ok)
	assert.Equal(t, orcall.KindDate, v.Kind())

	got, err := pd.GetDate("d")
	require.NoError(t, err)
	assert.Equal(t, time.Date(1999, 12, 31, 0, 0, 0, 0, time.UTC), got)
}

func TestParamData_LastRow(t *testing.T) {
	pd := NewParamData(orcall.MustParseSignature("rows=RECORD_ARRAY; rows.n=INTEGER; rows.sub=RECORD_ARRAY; rows.sub.x=STRING; plain=RECORD; plain.y=STRING"))

	n, err := pd.LastRow("rows")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, pd.SetInt("rows[1].n", 1))
	require.NoError(t, pd.SetNull("rows[4].n", orcall.TypeInteger))
	require.NoError(t, pd.SetString("rows[1].sub[2].x", "deep"))

	n, err = pd.LastRow("rows")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = pd.LastRow("rows[1].sub")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = pd.LastRow("plain")
	assert.True(t, errors.Is(err, orcall.ErrFieldNotDeclared))
}

func TestParamData_SetRowCount(t *testing.T) {
	pd := NewParamData(orcall.MustParseSignature("rows=RECORD_ARRAY; rows.n=INTEGER; plain=RECORD; plain.y=STRING"))
	require.NoError(t, pd.SetInt("rows[1].n", 1))
	require.NoError(t, pd.SetRowCount("rows", 3))

	n, err := pd.LastRow("rows")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, map[string]int{"rows": 3}, pd.RowCounts("rows"))

	assert.True(t, errors.Is(pd.SetRowCount("plain", 1), orcall.ErrFieldNotDeclared))
	assert.True(t, errors.Is(pd.SetRowCount("rows", -1), &orcall.CallError{Code: orcall.ErrCodeInvalidArgument}))

	pd.Clear("rows")
	n, err = pd.LastRow("rows")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, pd.RowCounts("rows"))
}

func TestParamData_SubscriptOnPlainRecord(t *testing.T) {
	pd := NewParamData(orcall.MustParseSignature("p1=RECORD; p1.x=STRING"))
	assert.True(t, errors.Is(pd.SetString("p1[3].x", "no"), orcall.ErrFieldNotDeclared))
	_, err := pd.IsNull("p1[3].x")
	assert.True(t, errors.Is(err, orcall.ErrFieldNotDeclared))
}

func TestParamData_AssignedUnderAndClear(t *testing.T) {
	pd := NewParamData(orcall.MustParseSignature("p=RECORD; p.a=STRING; pp=STRING; rows=RECORD_ARRAY; rows.n=INTEGER"))
	require.NoError(t, pd.SetString("p.a", "x"))
	require.NoError(t, pd.SetString("pp", "y"))
	require.NoError(t, pd.SetInt("rows[1].n", 1))

	assert.Equal(t, []string{"p.a"}, pd.AssignedUnder("p"))
	assert.Equal(t, []string{"rows[1].n"}, pd.AssignedUnder("rows"))

	pd.Clear("rows")
	assert.Equal(t, []string{"p.a", "pp"}, pd.Assigned())
}
