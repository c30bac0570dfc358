package internal

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"github.com/lychee-technology/orcall"
)

// Catalogue XML as published by an application's metadata procedure:
//
//	<metadata>
//	  <scps><scp name="helloworld"><param name="hellostring" type="string"/></scp></scps>
//	  <classes><class name="uc_simple"><param name="attr" type="integer"/></class></classes>
//	</metadata>

type xmlCatalogue struct {
	XMLName xml.Name
	Scps    []xmlScpGroup   `xml:"scps"`
	Classes []xmlClassGroup `xml:"classes"`
}

type xmlScpGroup struct {
	Scps []xmlEntry `xml:"scp"`
}

type xmlClassGroup struct {
	Classes []xmlEntry `xml:"class"`
}

type xmlEntry struct {
	Attrs  []xml.Attr `xml:",any,attr"`
	Params []xmlParam `xml:",any"`
}

type xmlParam struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
}

// ParseCatalogueXML reads catalogue XML. Parameters reserved for the metadata
// call itself are dropped from procedures.
func ParseCatalogueXML(data []byte) (*orcall.Catalogue, error) {
	var doc xmlCatalogue
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalogue XML: %w", err)
	}

	cat := orcall.NewCatalogue()
	for _, group := range doc.Scps {
		for _, entry := range group.Scps {
			attrs := attrMap(entry.Attrs)
			name := attrs["name"]
			if name == "" {
				return nil, fmt.Errorf("scp element without name")
			}
			proc := &orcall.Procedure{Name: name, Attributes: attrs}
			for _, p := range entry.Params {
				param, err := toParameter(name, p)
				if err != nil {
					return nil, err
				}
				if orcall.IsReservedParameter(param.Name) {
					continue
				}
				proc.Parameters = append(proc.Parameters, param)
			}
			cat.AddProcedure(proc)
		}
	}
	for _, group := range doc.Classes {
		for _, entry := range group.Classes {
			attrs := attrMap(entry.Attrs)
			name := attrs["name"]
			if name == "" {
				return nil, fmt.Errorf("class element without name")
			}
			rt := &orcall.RecordType{Name: name, Attributes: attrs}
			for _, p := range entry.Params {
				field, err := toParameter(name, p)
				if err != nil {
					return nil, err
				}
				rt.Fields = append(rt.Fields, field)
			}
			cat.AddRecordType(rt)
		}
	}
	return cat, nil
}

func toParameter(owner string, p xmlParam) (orcall.Parameter, error) {
	attrs := attrMap(p.Attrs)
	if attrs["name"] == "" {
		return orcall.Parameter{}, fmt.Errorf("%s: %s element without name", owner, p.XMLName.Local)
	}
	if attrs["type"] == "" {
		return orcall.Parameter{}, fmt.Errorf("%s: parameter %s has no type", owner, attrs["name"])
	}
	return orcall.Parameter{
		Name:       attrs["name"],
		Type:       attrs["type"],
		Array:      isTruthy(attrs["array"]),
		Attributes: attrs,
	}, nil
}

func attrMap(attrs []xml.Attr) map[string]string {
	out := make(map[string]string, len(attrs))
	for _, a := range attrs {
		out[a.Name.Local] = a.Value
	}
	return out
}

func isTruthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

// RenderCatalogueXML writes cat in the format ParseCatalogueXML reads.
// Procedures and record types are emitted in name order.
func RenderCatalogueXML(cat *orcall.Catalogue) ([]byte, error) {
	doc := xmlCatalogue{XMLName: xml.Name{Local: "metadata"}}
	scps := xmlScpGroup{}
	for _, name := range cat.ProcedureNames() {
		proc := cat.Procedures[name]
		scps.Scps = append(scps.Scps, xmlEntry{
			Attrs:  renderAttrs(proc.Attributes, map[string]string{"name": proc.Name}),
			Params: renderParams(proc.Parameters),
		})
	}
	classes := xmlClassGroup{}
	for _, key := range cat.RecordTypeNames() {
		rt := cat.RecordTypes[key]
		classes.Classes = append(classes.Classes, xmlEntry{
			Attrs:  renderAttrs(rt.Attributes, map[string]string{"name": rt.Name}),
			Params: renderParams(rt.Fields),
		})
	}
	doc.Scps = []xmlScpGroup{scps}
	doc.Classes = []xmlClassGroup{classes}

	out, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to render catalogue XML: %w", err)
	}
	return out, nil
}

func renderParams(params []orcall.Parameter) []xmlParam {
	out := make([]xmlParam, 0, len(params))
	for _, p := range params {
		fixed := map[string]string{"name": p.Name, "type": p.Type}
		if p.Array {
			fixed["array"] = "1"
		}
		out = append(out, xmlParam{
			XMLName: xml.Name{Local: "param"},
			Attrs:   renderAttrs(p.Attributes, fixed),
		})
	}
	return out
}

// renderAttrs merges extra attributes under fixed ones, in name order.
func renderAttrs(extra, fixed map[string]string) []xml.Attr {
	merged := make(map[string]string, len(extra)+len(fixed))
	for k, v := range extra {
		merged[k] = v
	}
	for k, v := range fixed {
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]xml.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: k}, Value: merged[k]})
	}
	return attrs
}
