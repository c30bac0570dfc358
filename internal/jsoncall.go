package internal

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/lychee-technology/orcall"
)

// DecodeJSONArgs reads a JSON object keeping numbers as json.Number.
// An empty document is an empty argument set.
func DecodeJSONArgs(doc []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(doc)) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, orcall.NewInvalidArgumentError("arguments must be a JSON object").WithCause(err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// ResolveJSONSignature returns the signature parsed from sigText, or the one d
// resolves for the untyped arguments in raw.
func ResolveJSONSignature(ctx context.Context, d orcall.Dispatcher, procedure, sigText string, raw map[string]any) (orcall.FlatSignature, orcall.SignatureSource, error) {
	if sigText != "" {
		sig, err := orcall.ParseSignature(sigText)
		return sig, orcall.SourceExplicit, err
	}
	untyped, err := UntypedFromJSON(raw)
	if err != nil {
		return nil, "", err
	}
	return d.Signature(ctx, procedure, untyped)
}

// CallJSON calls procedure with arguments given as a JSON object and returns
// the decoded parameters in JSON form. The arguments are checked against the
// JSON Schema of the resolved signature before anything is sent.
func CallJSON(ctx context.Context, d orcall.Dispatcher, procedure, sigText string, doc []byte) (any, error) {
	raw, err := DecodeJSONArgs(doc)
	if err != nil {
		return nil, err
	}
	sig, source, err := ResolveJSONSignature(ctx, d, procedure, sigText, raw)
	if err != nil {
		return nil, err
	}
	// Validation needs plain JSON numbers, not json.Number.
	var plain any = map[string]any{}
	if len(bytes.TrimSpace(doc)) > 0 {
		plain = doc
	}
	if err := orcall.ValidateArgs(sig, plain); err != nil {
		return nil, err
	}
	typed, err := ArgsFromJSON(sig, raw)
	if err != nil {
		return nil, err
	}

	var opts []orcall.CallOption
	if source == orcall.SourceExplicit {
		opts = append(opts, orcall.WithSignature(sig))
	}
	out, err := d.Call(ctx, procedure, typed, opts...)
	if err != nil {
		return nil, err
	}
	return ToJSON(out), nil
}
