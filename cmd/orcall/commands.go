package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lychee-technology/orcall"
	"github.com/lychee-technology/orcall/factory"
	"github.com/lychee-technology/orcall/internal"
	"github.com/lychee-technology/orcall/internal/journal"
	"github.com/lychee-technology/orcall/internal/snapshot"
)

var stdout io.Writer = os.Stdout

func newFlagSet(name, usage string) *flag.FlagSet {
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.SetOutput(os.Stdout)
	flags.Usage = func() {
		fmt.Println("Usage: orcall " + usage)
		fmt.Println("")
		fmt.Println("Options:")
		flags.PrintDefaults()
	}
	return flags
}

// parseFlags returns done=true when -h was given.
func parseFlags(flags *flag.FlagSet, args []string) (done bool, err error) {
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

func procedureArg(flags *flag.FlagSet) (string, error) {
	if flags.NArg() != 1 {
		flags.Usage()
		return "", fmt.Errorf("expected exactly one procedure name")
	}
	return flags.Arg(0), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runCall(cfg *orcall.Config, args []string) error {
	flags := newFlagSet("call", "call <procedure> [options]")
	sigText := flags.String("sig", "", "signature text, e.g. \"counter=INTEGER; hellostring=STRING\"")
	argsJSON := flags.String("args", "{}", "arguments as a JSON object")
	onlySent := flags.Bool("only-sent", cfg.Call.ReturnOnlySent, "decode only the parameters that were sent")
	if done, err := parseFlags(flags, args); done || err != nil {
		return err
	}
	procedure, err := procedureArg(flags)
	if err != nil {
		return err
	}
	cfg.Call.ReturnOnlySent = *onlySent

	ctx := context.Background()
	d, err := factory.NewDispatcher(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close(ctx)

	out, err := internal.CallJSON(ctx, d, procedure, *sigText, []byte(*argsJSON))
	if err != nil {
		return err
	}
	return printJSON(out)
}

func runSignature(cfg *orcall.Config, args []string) error {
	flags := newFlagSet("signature", "signature <procedure> [options]")
	argsJSON := flags.String("args", "{}", "arguments used for inference when the catalogue does not describe the procedure")
	if done, err := parseFlags(flags, args); done || err != nil {
		return err
	}
	procedure, err := procedureArg(flags)
	if err != nil {
		return err
	}
	raw, err := internal.DecodeJSONArgs([]byte(*argsJSON))
	if err != nil {
		return err
	}

	ctx := context.Background()
	d, err := factory.NewDispatcher(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close(ctx)

	sig, source, err := internal.ResolveJSONSignature(ctx, d, procedure, "", raw)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s\t(%s)\n", sig.String(), source)
	return nil
}

func runSchema(cfg *orcall.Config, args []string) error {
	flags := newFlagSet("schema", "schema <procedure> [options]")
	sigText := flags.String("sig", "", "signature text instead of the catalogue")
	if done, err := parseFlags(flags, args); done || err != nil {
		return err
	}
	procedure, err := procedureArg(flags)
	if err != nil {
		return err
	}

	var sig orcall.FlatSignature
	if *sigText != "" {
		if sig, err = orcall.ParseSignature(*sigText); err != nil {
			return err
		}
	} else {
		ctx := context.Background()
		d, err := factory.NewDispatcher(ctx, cfg)
		if err != nil {
			return err
		}
		defer d.Close(ctx)
		if sig, _, err = d.Signature(ctx, procedure, orcall.Record{}); err != nil {
			return err
		}
	}
	return printJSON(orcall.SignatureJSONSchema(sig))
}

func runCatalogue(cfg *orcall.Config, args []string) error {
	flags := newFlagSet("catalogue", "catalogue [options]")
	asJSON := flags.Bool("json", false, "print JSON instead of catalogue XML")
	if done, err := parseFlags(flags, args); done || err != nil {
		return err
	}

	ctx := context.Background()
	d, err := factory.NewDispatcher(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close(ctx)

	cat, err := d.Catalogue(ctx)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(cat)
	}
	doc, err := internal.RenderCatalogueXML(cat)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, string(doc))
	return err
}

func runJournal(cfg *orcall.Config, args []string) error {
	flags := newFlagSet("journal", "journal [options]")
	limit := flags.Int("limit", 20, "number of recent calls to list")
	slow := flags.Duration("slow", 0, "list calls at least this slow instead of the most recent")
	stats := flags.Bool("stats", false, "print per-procedure totals")
	if done, err := parseFlags(flags, args); done || err != nil {
		return err
	}
	if cfg.Journal.Path == "" {
		return fmt.Errorf("ORCALL_JOURNAL_PATH is not set")
	}

	ctx := context.Background()
	j, err := journal.Open(ctx, cfg.Journal)
	if err != nil {
		return err
	}
	defer j.Close()

	if *stats {
		rows, err := j.Stats(ctx)
		if err != nil {
			return err
		}
		for _, st := range rows {
			fmt.Fprintf(stdout, "%-32s calls=%d errors=%d avg=%s max=%s\n",
				st.Procedure, st.Calls, st.Errors, st.AvgDuration, st.MaxDuration)
		}
		return nil
	}

	var records []internal.CallRecord
	if *slow > 0 {
		records, err = j.SlowCalls(ctx, *slow)
	} else {
		records, err = j.Recent(ctx, *limit)
	}
	if err != nil {
		return err
	}
	for _, rec := range records {
		fmt.Fprintf(stdout, "%s  %s  %-24s %-9s %-6s %8s %s\n",
			rec.StartedAt.Format(time.RFC3339), rec.CallID, rec.Procedure, rec.Source,
			rec.Outcome, rec.Duration.Round(time.Microsecond), rec.ErrorCode)
	}
	return nil
}

func runPing(cfg *orcall.Config, args []string) error {
	flags := newFlagSet("ping", "ping")
	if done, err := parseFlags(flags, args); done || err != nil {
		return err
	}

	ctx := context.Background()
	d, err := factory.NewDispatcher(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close(ctx)
	if err := d.Ping(ctx); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s reachable (%s)\n", cfg.Session.Image, cfg.Session.Backend)
	return nil
}

func runSnapshot(cfg *orcall.Config, args []string) error {
	if len(args) < 1 || (args[0] != "save" && args[0] != "load" && args[0] != "ping") {
		return fmt.Errorf("expected save, load or ping")
	}
	if cfg.Snapshot.Bucket == "" {
		return fmt.Errorf("ORCALL_SNAPSHOT_BUCKET is not set")
	}

	ctx := context.Background()
	store, err := snapshot.New(ctx, cfg.Snapshot)
	if err != nil {
		return err
	}

	if args[0] == "ping" {
		if err := store.Ping(ctx); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "bucket %s reachable\n", cfg.Snapshot.Bucket)
		return nil
	}

	if args[0] == "load" {
		cat, err := store.Load(ctx, cfg.Session.Image)
		if err != nil {
			return err
		}
		return printJSON(cat)
	}

	// Fetch from the application itself rather than an existing snapshot.
	bucket := cfg.Snapshot.Bucket
	cfg.Snapshot.Bucket = ""
	d, err := factory.NewDispatcher(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close(ctx)
	cat, err := d.Catalogue(ctx)
	if err != nil {
		return err
	}
	if err := store.Save(ctx, cfg.Session.Image, cat); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "saved %d procedures and %d record types to s3://%s/%s\n",
		len(cat.Procedures), len(cat.RecordTypes), bucket, store.Key(cfg.Session.Image))
	return nil
}
