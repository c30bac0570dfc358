package loopback

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lychee-technology/orcall"
	"github.com/lychee-technology/orcall/internal"
)

// NullText is what the demo procedures write into a text echo of a null value.
const NullText = "<NULL>"

// LongbyteEchoLimit is the declared width of myLongbyteobjVchar.
const LongbyteEchoLimit = 1234

// echoField pairs an echoed parameter with the text parameter that receives it.
type echoField struct {
	name string
	typ  orcall.TypeTag
}

var echoTypesFields = []echoField{
	{"myVarchar", orcall.TypeString},
	{"myStringobj", orcall.TypeString},
	{"myInteger", orcall.TypeInteger},
	{"mySmallint", orcall.TypeSmallint},
	{"myFloat", orcall.TypeFloat},
	{"myMoney", orcall.TypeMoney},
	{"myDecimal", orcall.TypeDecimal},
	{"myDecimal3131", orcall.TypeDecimal},
	{"myDecimal3116", orcall.TypeDecimal},
	{"myDecimal3100", orcall.TypeDecimal},
	{"myDate1", orcall.TypeDate},
	{"myDate2", orcall.TypeDate},
	{"myLongbyteobj", orcall.TypeBinary},
}

// NewComtestApplication builds the "comtest" demo application.
func NewComtestApplication() *Application {
	app := NewApplication("comtest")

	app.Register(orcall.Procedure{
		Name: "helloworld",
		Parameters: []orcall.Parameter{
			{Name: "hellostring", Type: string(orcall.TypeString)},
			{Name: "counter", Type: string(orcall.TypeInteger)},
		},
	}, helloWorld)

	echo := orcall.Procedure{
		Name: "echotypesnullable",
		Parameters: []orcall.Parameter{
			{Name: "hellostring", Type: string(orcall.TypeString)},
			{Name: "counter", Type: string(orcall.TypeInteger)},
		},
	}
	for _, f := range echoTypesFields {
		echo.Parameters = append(echo.Parameters,
			orcall.Parameter{Name: f.name, Type: string(f.typ)},
			orcall.Parameter{Name: f.name + "Vchar", Type: string(orcall.TypeString)},
		)
	}
	app.Register(echo, echoTypesNullable)

	app.AddRecordType(orcall.RecordType{
		Name: "ucsimpleintstr",
		Fields: []orcall.Parameter{
			{Name: "attr_int", Type: string(orcall.TypeInteger)},
			{Name: "attr_str", Type: string(orcall.TypeString)},
			{Name: "vc_int", Type: string(orcall.TypeString)},
			{Name: "vc_str", Type: string(orcall.TypeString)},
		},
	})
	app.Register(orcall.Procedure{
		Name:       orcall.ProcedurePrefix + "echo_ucsimple",
		Parameters: []orcall.Parameter{{Name: "p1", Type: "ucsimpleintstr"}},
	}, echoUserClassSimple)
	app.Register(orcall.Procedure{
		Name: "echo_ucarray",
		Parameters: []orcall.Parameter{
			{Name: "rows", Type: "ucsimpleintstr", Array: true},
			{Name: "rowcount", Type: string(orcall.TypeInteger)},
		},
	}, echoUserClassArray)
	return app
}

// present reports whether path is declared on port and whether it holds null.
func present(port orcall.FieldPort, path string) (declared, null bool, err error) {
	null, err = port.IsNull(path)
	if errors.Is(err, orcall.ErrFieldNotDeclared) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return true, null, nil
}

func helloWorld(_ context.Context, port orcall.FieldPort) error {
	if err := greet(port); err != nil {
		return err
	}
	return increment(port, "counter")
}

func greet(port orcall.FieldPort) error {
	declared, null, err := present(port, "hellostring")
	if err != nil || !declared {
		return err
	}
	if null {
		return port.SetString("hellostring", "Well NULL to you too!")
	}
	s, err := port.GetString("hellostring")
	if err != nil {
		return err
	}
	return port.SetString("hellostring", `Well "`+s+`" to you too.`)
}

func increment(port orcall.FieldPort, path string) error {
	declared, _, err := present(port, path)
	if err != nil || !declared {
		return err
	}
	n, err := port.GetInt(path)
	if err != nil {
		return err
	}
	return port.SetInt(path, n+1)
}

func echoTypesNullable(_ context.Context, port orcall.FieldPort) error {
	if err := greet(port); err != nil {
		return err
	}
	if err := increment(port, "counter"); err != nil {
		return err
	}
	for _, f := range echoTypesFields {
		target := f.name + "Vchar"
		declared, _, err := present(port, target)
		if err != nil {
			return err
		}
		if !declared {
			continue
		}
		text, err := echoText(port, f)
		if err != nil {
			return err
		}
		if err := port.SetString(target, text); err != nil {
			return err
		}
	}
	return nil
}

// echoText renders the value of f the way the demo application's varchar() does.
// An undeclared source echoes as null.
func echoText(port orcall.FieldPort, f echoField) (string, error) {
	declared, null, err := present(port, f.name)
	if err != nil {
		return "", err
	}
	if !declared || null {
		return NullText, nil
	}
	switch f.typ {
	case orcall.TypeString:
		return port.GetString(f.name)
	case orcall.TypeInteger, orcall.TypeSmallint:
		n, err := port.GetInt(f.name)
		return strconv.FormatInt(n, 10), err
	case orcall.TypeFloat:
		v, err := port.GetDouble(f.name)
		return strconv.FormatFloat(v, 'f', -1, 64), err
	case orcall.TypeMoney:
		d, err := port.GetBigDecimal(f.name)
		return fmt.Sprintf("%20s", "$"+d.StringFixed(2)), err
	case orcall.TypeDecimal:
		d, err := port.GetBigDecimal(f.name)
		return d.String(), err
	case orcall.TypeDate:
		t, err := port.GetDate(f.name)
		return formatIngresDate(t), err
	case orcall.TypeBinary:
		b, err := port.GetByteArray(f.name)
		text := strings.ToUpper(hex.EncodeToString(b))
		if len(text) > LongbyteEchoLimit {
			text = text[:LongbyteEchoLimit]
		}
		return text, err
	}
	return "", orcall.NewUnsupportedValueTypeError(f.name, "no text form for "+string(f.typ))
}

// formatIngresDate uses the US date format, dropping a midnight time of day.
func formatIngresDate(t time.Time) string {
	month := strings.ToLower(t.Format("Jan"))
	date := fmt.Sprintf("%02d-%s-%d", t.Day(), month, t.Year())
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		return date
	}
	return date + " " + t.Format("15:04:05")
}

func echoUserClassSimple(_ context.Context, port orcall.FieldPort) error {
	return echoUserClass(port, "p1")
}

func echoUserClass(port orcall.FieldPort, prefix string) error {
	pairs := []echoField{
		{internal.JoinPath(prefix, "attr_int"), orcall.TypeInteger},
		{internal.JoinPath(prefix, "attr_str"), orcall.TypeString},
	}
	targets := []string{internal.JoinPath(prefix, "vc_int"), internal.JoinPath(prefix, "vc_str")}
	for i, f := range pairs {
		declared, _, err := present(port, targets[i])
		if err != nil {
			return err
		}
		if !declared {
			continue
		}
		text, err := echoText(port, f)
		if err != nil {
			return err
		}
		if err := port.SetString(targets[i], text); err != nil {
			return err
		}
	}
	return nil
}

func echoUserClassArray(_ context.Context, port orcall.FieldPort) error {
	rows, err := port.LastRow("rows")
	if err != nil {
		return err
	}
	for i := 1; i <= rows; i++ {
		if err := echoUserClass(port, internal.RowPath("rows", i)); err != nil {
			return err
		}
	}
	declared, _, err := present(port, "rowcount")
	if err != nil || !declared {
		return err
	}
	return port.SetInt("rowcount", int64(rows))
}
