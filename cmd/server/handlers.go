package main

import (
	"fmt"
	"net/http"

	"github.com/lychee-technology/orcall"
	"github.com/lychee-technology/orcall/internal"
	"go.uber.org/zap"
)

// handleCall handles POST /api/v1/call/{procedure}?sig=...
// The body is a JSON object of arguments; the response is the decoded parameters.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request, procedure string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}

	out, err := internal.CallJSON(r.Context(), s.dispatcher, procedure, r.URL.Query().Get("sig"), body)
	if err != nil {
		writeCallError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, out)
}

// SignatureResponse reports a resolved signature.
type SignatureResponse struct {
	Procedure string                 `json:"procedure"`
	Signature string                 `json:"signature"`
	Source    orcall.SignatureSource `json:"source"`
}

// handleSignature handles GET /api/v1/signature/{procedure} and
// POST /api/v1/signature/{procedure} with example arguments for inference.
func (s *Server) handleSignature(w http.ResponseWriter, r *http.Request, procedure string) {
	var body []byte
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var err error
		if body, err = readBody(r); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
			return
		}
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	raw, err := internal.DecodeJSONArgs(body)
	if err != nil {
		writeCallError(w, err)
		return
	}
	sig, source, err := internal.ResolveJSONSignature(r.Context(), s.dispatcher, procedure, r.URL.Query().Get("sig"), raw)
	if err != nil {
		writeCallError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, SignatureResponse{
		Procedure: procedure,
		Signature: sig.String(),
		Source:    source,
	})
}

// handleSchema handles GET /api/v1/schema/{procedure}
func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request, procedure string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sig, _, err := internal.ResolveJSONSignature(r.Context(), s.dispatcher, procedure, r.URL.Query().Get("sig"), nil)
	if err != nil {
		writeCallError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, orcall.SignatureJSONSchema(sig))
}

// handleCatalogue handles GET /api/v1/catalogue?format=json|xml
func (s *Server) handleCatalogue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	cat, err := s.dispatcher.Catalogue(r.Context())
	if err != nil {
		writeCallError(w, err)
		return
	}

	if r.URL.Query().Get("format") != "xml" {
		writeSuccess(w, http.StatusOK, cat)
		return
	}
	doc, err := internal.RenderCatalogueXML(cat)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("render catalogue: %v", err))
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.Ping(r.Context()); err != nil {
		zap.S().Warnw("health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeSuccess(w, http.StatusOK, APIResponse{Success: true})
}

// apiHandler is the main router that dispatches to specific handlers
func (s *Server) apiHandler(w http.ResponseWriter, r *http.Request) {
	action, procedure, err := parsePath(r.URL.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid path: %v", err))
		return
	}

	zap.S().Debugw("handling request", "method", r.Method, "action", action, "procedure", procedure)

	switch action {
	case "call":
		s.handleCall(w, r, procedure)
	case "signature":
		s.handleSignature(w, r, procedure)
	case "schema":
		s.handleSchema(w, r, procedure)
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown action %q", action))
	}
}
