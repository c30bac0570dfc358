package orcall

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FieldPort is the per-call parameter container of a remote session.
// Paths are dotted; rows of a repeated group are addressed as "name[i]" from 1.
type FieldPort interface {
	SetInt(path string, v int64) error
	SetString(path string, v string) error
	SetDouble(path string, v float64) error
	SetBigDecimal(path string, v decimal.Decimal) error
	SetByteArray(path string, v []byte) error
	SetDate(path string, v time.Time) error
	SetDateWithoutTime(path string, v Date) error
	SetNull(path string, tag TypeTag) error

	GetInt(path string) (int64, error)
	GetString(path string) (string, error)
	GetDouble(path string) (float64, error)
	GetBigDecimal(path string) (decimal.Decimal, error)
	GetByteArray(path string) ([]byte, error)
	GetDate(path string) (time.Time, error)
	IsNull(path string) (bool, error)

	// LastRow returns the number of rows held by the repeated group at path.
	LastRow(path string) (int, error)
}

// Session is a connection to one remote application.
type Session interface {
	Connect(ctx context.Context, image, host string, mode ConnectionMode) error
	NewFieldPort(sig FlatSignature) (FieldPort, error)
	Invoke(ctx context.Context, procedure string, port FieldPort) error
	Disconnect(ctx context.Context) error
}

// HealthChecker is implemented by sessions and stores that can report whether
// their backend is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// CatalogueSource is implemented by sessions that can describe their application.
type CatalogueSource interface {
	FetchCatalogue(ctx context.Context) (*Catalogue, error)
}

// ConnectionMode selects how a session reaches the application.
type ConnectionMode string

const (
	// ModeDirect connects straight to the image without a name server.
	ModeDirect                    ConnectionMode = "direct"
	ModeDefault                   ConnectionMode = ""
	ModeUnauthenticated           ConnectionMode = "unauthenticated"
	ModeCompressed                ConnectionMode = "compressed"
	ModeUnauthenticatedCompressed ConnectionMode = "unauthenticated-compressed"
	ModeHTTP                      ConnectionMode = "http"
)

// ParseConnectionMode accepts the mode names case-insensitively. "none" and
// "direct" both select ModeDirect.
func ParseConnectionMode(s string) (ConnectionMode, error) {
	switch m := ConnectionMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "none", ModeDirect:
		return ModeDirect, nil
	case ModeDefault, ModeUnauthenticated, ModeCompressed, ModeUnauthenticatedCompressed, ModeHTTP:
		return m, nil
	}
	return "", NewInvalidArgumentError("unknown connection mode " + s)
}

// UsesNameServer reports whether the image is resolved through a name server.
func (m ConnectionMode) UsesNameServer() bool {
	return m != ModeDirect
}

// ImageName returns the name the session registers under for mode. Name-server
// modes other than http address "<image>.img".
func ImageName(image string, mode ConnectionMode) string {
	if !mode.UsesNameServer() || mode == ModeHTTP {
		return image
	}
	if strings.HasSuffix(strings.ToLower(image), ".img") {
		return image
	}
	return image + ".img"
}
