package orcall

import (
	"sort"
	"strings"
)

// Parameter is one declared parameter of a procedure or field of a record type.
// Type holds the raw spelling from the application; it may be a record type name.
type Parameter struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Array      bool              `json:"array,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Procedure describes a remotely callable procedure.
type Procedure struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Parameters []Parameter       `json:"parameters"`
}

// RecordType describes a named record structure usable as a parameter type.
type RecordType struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Fields     []Parameter       `json:"fields"`
}

// Catalogue is the metadata an application publishes about itself.
// It is not modified after it has been fetched.
type Catalogue struct {
	Procedures  map[string]*Procedure  `json:"procedures"`
	RecordTypes map[string]*RecordType `json:"recordTypes"`
}

// NewCatalogue returns an empty catalogue.
func NewCatalogue() *Catalogue {
	return &Catalogue{
		Procedures:  make(map[string]*Procedure),
		RecordTypes: make(map[string]*RecordType),
	}
}

// ReservedParameters are parameters of the metadata call itself. They are not
// part of a procedure's callable surface.
var ReservedParameters = map[string]struct{}{
	"b_osca":              {},
	"b_so_xml":            {},
	"p_arr_UCXML_Include": {},
	"p_so_xmlin":          {},
}

// IsReservedParameter reports whether name belongs to ReservedParameters.
func IsReservedParameter(name string) bool {
	_, ok := ReservedParameters[name]
	return ok
}

// ProcedurePrefix is prepended to a name when the plain lookup misses.
const ProcedurePrefix = "SCP_"

// Procedure looks up name, then ProcedurePrefix+name.
func (c *Catalogue) Procedure(name string) (*Procedure, bool) {
	if c == nil {
		return nil, false
	}
	if p, ok := c.Procedures[name]; ok {
		return p, true
	}
	p, ok := c.Procedures[ProcedurePrefix+name]
	return p, ok
}

// RecordType looks up a record type by lower-cased name, then verbatim.
func (c *Catalogue) RecordType(name string) (*RecordType, bool) {
	if c == nil {
		return nil, false
	}
	if rt, ok := c.RecordTypes[strings.ToLower(name)]; ok {
		return rt, true
	}
	rt, ok := c.RecordTypes[name]
	return rt, ok
}

// AddProcedure registers p, replacing any procedure with the same name.
func (c *Catalogue) AddProcedure(p *Procedure) {
	c.Procedures[p.Name] = p
}

// AddRecordType registers rt under its lower-cased name.
func (c *Catalogue) AddRecordType(rt *RecordType) {
	c.RecordTypes[strings.ToLower(rt.Name)] = rt
}

// ProcedureNames returns all procedure names in ascending order.
func (c *Catalogue) ProcedureNames() []string {
	names := make([]string, 0, len(c.Procedures))
	for k := range c.Procedures {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// RecordTypeNames returns all record type keys in ascending order.
func (c *Catalogue) RecordTypeNames() []string {
	names := make([]string, 0, len(c.RecordTypes))
	for k := range c.RecordTypes {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
