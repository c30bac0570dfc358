package internal

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/lychee-technology/orcall"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSONArgs(t *testing.T) {
	raw, err := DecodeJSONArgs(nil)
	require.NoError(t, err)
	assert.Empty(t, raw)

	raw, err = DecodeJSONArgs([]byte(`{"counter": 12345678901234567}`))
	require.NoError(t, err)
	assert.Equal(t, json.Number("12345678901234567"), raw["counter"])

	for _, doc := range []string{`[1, 2]`, `{"counter":`, `"text"`} {
		_, err := DecodeJSONArgs([]byte(doc))
		assert.True(t, errors.Is(err, &orcall.CallError{Code: orcall.ErrCodeInvalidArgument}), "doc %s: %v", doc, err)
	}
}

func TestCallJSON_InfersFromArguments(t *testing.T) {
	s := newFakeSession()
	s.handlers["helloworld"] = bumpCounter
	d := newTestDispatcher(t, s, func(c *orcall.Config) { c.Call.LookupMetadata = false })

	out, err := CallJSON(context.Background(), d, "helloworld", "", []byte(`{"counter": 41}`))
	require.NoError(t, err)
	doc, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"counter": 42}`, string(doc))
}

func TestCallJSON_UsesCatalogueSignature(t *testing.T) {
	s := newFakeSession()
	s.catalogueXML = helloCatalogueXML(t)
	s.handlers["helloworld"] = bumpCounter
	d := newTestDispatcher(t, s, nil)

	out, err := CallJSON(context.Background(), d, "helloworld", "", []byte(`{"counter": 1}`))
	require.NoError(t, err)
	doc, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"counter": 2, "hellostring": null}`, string(doc))
}

func TestCallJSON_RejectsArgumentsOutsideSchema(t *testing.T) {
	s := newFakeSession()
	s.handlers["helloworld"] = bumpCounter
	d := newTestDispatcher(t, s, nil)

	_, err := CallJSON(context.Background(), d, "helloworld", "counter=INTEGER", []byte(`{"counter": "many"}`))
	assert.ErrorIs(t, err, orcall.ErrArgumentSchemaInvalid)
	assert.Equal(t, 0, s.calls("helloworld"))
}

func TestResolveJSONSignature_Explicit(t *testing.T) {
	sig, source, err := ResolveJSONSignature(context.Background(), nil, "helloworld", "counter=INTEGER", nil)
	require.NoError(t, err)
	assert.Equal(t, orcall.SourceExplicit, source)
	assert.Equal(t, orcall.FlatSignature{"counter": orcall.TypeInteger}, sig)
}
