package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lychee-technology/orcall"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

// parsePath parses /api/v1/{action}/{procedure}
func parsePath(path string) (action string, procedure string, err error) {
	path = strings.TrimPrefix(path, "/api/v1/")
	path = strings.Trim(path, "/")

	if path == "" {
		return "", "", fmt.Errorf("invalid path: empty action")
	}

	parts := strings.Split(path, "/")
	switch len(parts) {
	case 2:
		if parts[1] == "" {
			return "", "", fmt.Errorf("invalid path: empty procedure name")
		}
		return parts[0], parts[1], nil
	default:
		return "", "", fmt.Errorf("invalid path format")
	}
}

// APIResponse is the standard error response format
type APIResponse struct {
	Success bool              `json:"success"`
	Data    any               `json:"data,omitempty"`
	Error   string            `json:"error,omitempty"`
	Details *orcall.CallError `json:"details,omitempty"`
}

// writeJSON writes JSON response to http.ResponseWriter
func writeJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, statusCode int, message string) error {
	return writeJSON(w, statusCode, APIResponse{
		Success: false,
		Error:   message,
	})
}

// writeCallError writes err with the status its error code maps to.
func writeCallError(w http.ResponseWriter, err error) error {
	resp := APIResponse{Success: false, Error: err.Error()}
	var callErr *orcall.CallError
	if errors.As(err, &callErr) {
		resp.Details = callErr
	}
	return writeJSON(w, statusFor(err), resp)
}

// writeSuccess writes a success response
func writeSuccess(w http.ResponseWriter, statusCode int, data any) error {
	return writeJSON(w, statusCode, data)
}

// statusFor maps call errors onto HTTP status codes.
func statusFor(err error) int {
	var callErr *orcall.CallError
	if !errors.As(err, &callErr) {
		return http.StatusInternalServerError
	}
	switch callErr.Code {
	case orcall.ErrCodeProcedureNotFound:
		return http.StatusNotFound
	case orcall.ErrCodeMalformedSignature, orcall.ErrCodeUnsupportedValueType, orcall.ErrCodeTypeMismatch,
		orcall.ErrCodeInvalidArgument, orcall.ErrCodeFieldNotDeclared, orcall.ErrCodeArgumentSchemaInvalid:
		return http.StatusBadRequest
	case orcall.ErrCodeApplicationNotFound, orcall.ErrCodeNotConnected, orcall.ErrCodeCatalogueUnavailable:
		return http.StatusServiceUnavailable
	case orcall.ErrCodeTransportFailed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// readBody reads the request body up to maxBodyBytes.
func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxBodyBytes)
	}
	return body, nil
}
