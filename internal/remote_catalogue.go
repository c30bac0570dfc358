package internal

import (
	"context"
	"fmt"

	"github.com/lychee-technology/orcall"
)

// MetadataSignature is the parameter layout of the metadata procedure.
var MetadataSignature = orcall.MustParseSignature(
	"b_osca=USERCLASS; b_osca.i_context_id=INTEGER; b_osca.i_error_type=INTEGER; b_osca.i_error_no=INTEGER; b_so_interface=STRING",
)

// FetchMetadataCatalogue calls the application's metadata procedure and
// parses the catalogue XML it returns in interfaceParam.
func FetchMetadataCatalogue(ctx context.Context, session orcall.Session, procedure, interfaceParam string) (*orcall.Catalogue, error) {
	sig := MetadataSignature
	if interfaceParam != orcall.DefaultInterfaceParam {
		sig = sig.Clone()
		delete(sig, orcall.DefaultInterfaceParam)
		sig[interfaceParam] = orcall.TypeString
	}

	port, err := session.NewFieldPort(sig)
	if err != nil {
		return nil, fmt.Errorf("prepare %s: %w", procedure, err)
	}
	if err := session.Invoke(ctx, procedure, port); err != nil {
		return nil, err
	}

	if code, err := port.GetInt("b_osca.i_error_no"); err == nil && code != 0 {
		return nil, orcall.NewCatalogueUnavailableError(fmt.Errorf("%s reported error %d", procedure, code))
	}
	null, err := port.IsNull(interfaceParam)
	if err != nil {
		return nil, err
	}
	if null {
		return nil, orcall.NewCatalogueUnavailableError(fmt.Errorf("%s returned no interface description", procedure))
	}
	doc, err := port.GetString(interfaceParam)
	if err != nil {
		return nil, err
	}
	return ParseCatalogueXML([]byte(doc))
}

// CatalogueFetcherFor picks how a session's catalogue is retrieved: sessions
// that describe themselves are asked directly, others through the metadata procedure.
func CatalogueFetcherFor(session orcall.Session, cfg orcall.CatalogueConfig) CatalogueFetcher {
	if src, ok := session.(orcall.CatalogueSource); ok {
		return src.FetchCatalogue
	}
	return func(ctx context.Context) (*orcall.Catalogue, error) {
		return FetchMetadataCatalogue(ctx, session, cfg.Procedure, cfg.InterfaceParam)
	}
}
