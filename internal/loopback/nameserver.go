package loopback

import (
	"context"
	"sort"

	"github.com/lychee-technology/orcall"
	"github.com/lychee-technology/orcall/internal"
)

// NameServerData is the signature of GetAllNameServerData.
var NameServerData = orcall.MustParseSignature("b_arr_UCAkaDetail=UCARRAY; " +
	"b_arr_UCAkaDetail.i_aka_detail_id=INTEGER; b_arr_UCAkaDetail.i_asolib=INTEGER; " +
	"b_arr_UCAkaDetail.i_servertype=INTEGER; b_arr_UCAkaDetail.v_aka_name=STRING; " +
	"b_arr_UCAkaDetail.v_cmdflags=STRING; b_arr_UCAkaDetail.v_imagefile=STRING; " +
	"b_arr_UCAkaDetail.v_serverlocation=STRING; b_UCSPOConfig=USERCLASS; " +
	"b_UCSPOConfig.i_MaxDispatchers=INTEGER; b_UCSPOConfig.i_MaxTotalSlaves=INTEGER; " +
	"b_UCSPOConfig.i_PrfMonInterval=INTEGER; b_UCSPOConfig.i_PrfMonLevel=INTEGER; " +
	"b_UCSPOConfig.i_PurgeInterval=INTEGER; b_UCSPOConfig.i_TraceFileAppend=INTEGER; " +
	"b_UCSPOConfig.i_TraceInterval=INTEGER; b_UCSPOConfig.i_TraceLevel=INTEGER; " +
	"b_UCSPOConfig.v_TraceFileName=STRING")

// NewNameServerApplication builds the "ASA_ns" administration application.
// GetAllNameServerData lists the applications of registry.
func NewNameServerApplication(registry *Registry) *Application {
	app := NewApplication("ASA_ns")
	app.AddRecordType(recordTypeOf("UCAkaDetail", NameServerData, "b_arr_UCAkaDetail"))
	app.AddRecordType(recordTypeOf("UCSPOConfig", NameServerData, "b_UCSPOConfig"))
	app.Register(orcall.Procedure{
		Name: "GetAllNameServerData",
		Parameters: []orcall.Parameter{
			{Name: "b_arr_UCAkaDetail", Type: "UCAkaDetail", Array: true},
			{Name: "b_UCSPOConfig", Type: "UCSPOConfig"},
		},
	}, func(ctx context.Context, port orcall.FieldPort) error {
		return describeRegistry(registry, port)
	})
	return app
}

// recordTypeOf declares the scalar fields found under parent in sig.
func recordTypeOf(name string, sig orcall.FlatSignature, parent string) orcall.RecordType {
	rt := orcall.RecordType{Name: name}
	tree := orcall.BuildTree(sig)
	node := tree.Children[parent]
	for _, field := range node.ChildNames() {
		rt.Fields = append(rt.Fields, orcall.Parameter{Name: field, Type: string(node.Children[field].Tag)})
	}
	return rt
}

func describeRegistry(registry *Registry, port orcall.FieldPort) error {
	for i, name := range registry.applicationNames() {
		row := internal.RowPath("b_arr_UCAkaDetail", i+1)
		if err := port.SetInt(internal.JoinPath(row, "i_aka_detail_id"), int64(i+1)); err != nil {
			return err
		}
		if err := port.SetString(internal.JoinPath(row, "v_aka_name"), name); err != nil {
			return err
		}
		if err := port.SetString(internal.JoinPath(row, "v_imagefile"), name+".img"); err != nil {
			return err
		}
		if err := port.SetString(internal.JoinPath(row, "v_serverlocation"), "loopback"); err != nil {
			return err
		}
	}
	config := map[string]int64{
		"i_MaxDispatchers":  1,
		"i_MaxTotalSlaves":  1,
		"i_TraceLevel":      0,
		"i_TraceFileAppend": 0,
	}
	for field, v := range config {
		if err := port.SetInt(internal.JoinPath("b_UCSPOConfig", field), v); err != nil {
			return err
		}
	}
	return nil
}

// applicationNames lists the registered applications once each, sorted.
func (r *Registry) applicationNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[*Application]bool, len(r.apps))
	names := make([]string, 0, len(r.apps))
	for _, app := range r.apps {
		if seen[app] {
			continue
		}
		seen[app] = true
		names = append(names, app.name)
	}
	sort.Strings(names)
	return names
}

// DemoRegistry holds the comtest application and a name server describing it.
func DemoRegistry() *Registry {
	registry := NewRegistry(NewComtestApplication())
	registry.Add(NewNameServerApplication(registry))
	return registry
}
