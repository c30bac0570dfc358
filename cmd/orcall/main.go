package main

import (
	"fmt"
	"os"

	"github.com/lychee-technology/orcall/factory"
	"go.uber.org/zap"
)

func main() {
	cfg := factory.ConfigFromEnv()
	logger, err := factory.NewLogger(cfg.Logging)
	if err != nil {
		panic(fmt.Errorf("failed to set up logger: %w", err))
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "call":
		if err := runCall(cfg, os.Args[2:]); err != nil {
			sugar.Fatalf("call: %v", err)
		}
	case "signature":
		if err := runSignature(cfg, os.Args[2:]); err != nil {
			sugar.Fatalf("signature: %v", err)
		}
	case "schema":
		if err := runSchema(cfg, os.Args[2:]); err != nil {
			sugar.Fatalf("schema: %v", err)
		}
	case "catalogue":
		if err := runCatalogue(cfg, os.Args[2:]); err != nil {
			sugar.Fatalf("catalogue: %v", err)
		}
	case "journal":
		if err := runJournal(cfg, os.Args[2:]); err != nil {
			sugar.Fatalf("journal: %v", err)
		}
	case "ping":
		if err := runPing(cfg, os.Args[2:]); err != nil {
			sugar.Fatalf("ping: %v", err)
		}
	case "snapshot":
		if err := runSnapshot(cfg, os.Args[2:]); err != nil {
			sugar.Fatalf("snapshot: %v", err)
		}
	default:
		sugar.Errorf("unknown command %q", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	logger := zap.S()
	logger.Info("Usage: orcall <command> [options]")
	logger.Info("")
	logger.Info("Commands:")
	logger.Info("  call <procedure>       Call a procedure with JSON arguments and print the result")
	logger.Info("  signature <procedure>  Print the signature a call would use")
	logger.Info("  schema <procedure>     Print the JSON Schema of a procedure's arguments")
	logger.Info("  catalogue              Print the application catalogue")
	logger.Info("  journal                List recent or slow calls from the call journal")
	logger.Info("  ping                   Check the application is reachable")
	logger.Info("  snapshot <action>      Save, load or ping the catalogue snapshot in S3")
	logger.Info("")
	logger.Info("The application is selected with ORCALL_BACKEND, ORCALL_IMAGE, ORCALL_HOST and ORCALL_MODE.")
}
