package orcall

import "context"

// Dispatcher calls remote procedures by name with key/value arguments.
type Dispatcher interface {
	// Call resolves the signature, encodes args, invokes procedure and
	// returns the decoded parameters.
	Call(ctx context.Context, procedure string, args Record, opts ...CallOption) (Record, error)
	// Signature reports the signature Call would use without invoking anything.
	Signature(ctx context.Context, procedure string, args Record, opts ...CallOption) (FlatSignature, SignatureSource, error)
	// Catalogue returns the application metadata, fetching it on first use.
	Catalogue(ctx context.Context) (*Catalogue, error)
	// Ping checks the session is connected and its backend reachable.
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// SignatureSource records where a call's signature came from.
type SignatureSource string

const (
	SourceExplicit  SignatureSource = "explicit"
	SourceCatalogue SignatureSource = "catalogue"
	SourceInferred  SignatureSource = "inferred"
)

// CallOptions holds per-call settings.
type CallOptions struct {
	Signature     FlatSignature
	SignatureText string
}

// CallOption customizes a single call.
type CallOption func(*CallOptions)

// WithSignature supplies the signature instead of resolving one.
func WithSignature(sig FlatSignature) CallOption {
	return func(o *CallOptions) {
		o.Signature = sig
	}
}

// WithSignatureText supplies the signature in its textual form.
func WithSignatureText(text string) CallOption {
	return func(o *CallOptions) {
		o.SignatureText = text
	}
}

// ApplyCallOptions folds opts into a CallOptions value.
func ApplyCallOptions(opts ...CallOption) CallOptions {
	var o CallOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Explicit returns the caller supplied signature, if any.
func (o CallOptions) Explicit() (FlatSignature, bool, error) {
	if o.Signature != nil {
		return o.Signature, true, nil
	}
	if o.SignatureText != "" {
		sig, err := ParseSignature(o.SignatureText)
		if err != nil {
			return nil, false, err
		}
		return sig, true, nil
	}
	return nil, false, nil
}

// Proxy binds procedure to d so it can be called like a local function.
func Proxy(d Dispatcher, procedure string, opts ...CallOption) func(ctx context.Context, args Record) (Record, error) {
	return func(ctx context.Context, args Record) (Record, error) {
		return d.Call(ctx, procedure, args, opts...)
	}
}
