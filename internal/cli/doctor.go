package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"pyp/internal/config"
	"pyp/internal/cron"
	"pyp/internal/grammar"
	"pyp/internal/jsvm"
)

// NewDoctorCmd creates the doctor command.
func NewDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose installation health",
		Long: `Run diagnostic checks against pyp's configuration, grammar, evaluator
pool, and local storage.`,
		RunE: runDoctor,
	}

	return cmd
}

type checkResult struct {
	name    string
	status  string // ok, warning, error
	message string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Println("pyp doctor")
	fmt.Println("==========")
	fmt.Println()

	var results []checkResult

	results = append(results, checkSystemInfo())
	results = append(results, checkConfigFile(cmd))
	results = append(results, checkGrammar(cmd))
	results = append(results, checkJSVMPool(cmd))
	results = append(results, checkStorage(cmd))
	results = append(results, checkCronScheduler(cmd))

	hasError := false
	hasWarning := false
	for _, r := range results {
		symbol := "✓"
		switch r.status {
		case "warning":
			symbol = "!"
			hasWarning = true
		case "error":
			symbol = "✗"
			hasError = true
		}
		fmt.Printf("%s %-22s %s\n", symbol, r.name, r.message)
	}

	fmt.Println()
	if hasError {
		return fmt.Errorf("doctor found problems requiring attention")
	}
	if hasWarning {
		fmt.Println("Some checks reported warnings.")
	} else {
		fmt.Println("All checks passed.")
	}
	return nil
}

func checkSystemInfo() checkResult {
	return checkResult{
		name:    "System",
		status:  "ok",
		message: fmt.Sprintf("%s/%s, %s", runtime.GOOS, runtime.GOARCH, runtime.Version()),
	}
}

func checkConfigFile(cmd *cobra.Command) checkResult {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return checkResult{name: "Config", status: "error", message: "CLI context not initialized"}
	}

	if _, err := os.Stat(cliCtx.ConfigPath); err != nil {
		return checkResult{
			name:    "Config",
			status:  "warning",
			message: fmt.Sprintf("%s not found, using defaults (run `pyp init`)", cliCtx.ConfigPath),
		}
	}
	return checkResult{name: "Config", status: "ok", message: cliCtx.ConfigPath}
}

func checkGrammar(cmd *cobra.Command) checkResult {
	cliCtx := GetCLIContext(cmd)
	cfg := &config.Config{}
	if cliCtx != nil {
		cfg = cliCtx.Config
	}

	var db *sql.DB
	if cliCtx != nil {
		if store, err := cliCtx.GetStorage(); err == nil {
			db = store.DB
		}
	}

	root := grammar.Default(grammar.Hooks{}, cfg.Grammar.Continuations)
	if _, err := grammar.BuildCached(db, root, cfg.Grammar.Continuations); err != nil {
		return checkResult{name: "Grammar", status: "error", message: err.Error()}
	}

	if cfg.Grammar.Path != "" {
		spec, err := grammar.LoadFile(cfg.Grammar.Path)
		if err != nil {
			return checkResult{name: "Grammar", status: "error", message: fmt.Sprintf("custom grammar: %v", err)}
		}
		if _, err := spec.Build(grammar.RegionHooks{}, nil); err != nil {
			return checkResult{name: "Grammar", status: "error", message: fmt.Sprintf("custom grammar build: %v", err)}
		}
		return checkResult{name: "Grammar", status: "ok", message: fmt.Sprintf("default + custom (%s)", cfg.Grammar.Path)}
	}
	return checkResult{name: "Grammar", status: "ok", message: "default grammar builds cleanly"}
}

func checkJSVMPool(cmd *cobra.Command) checkResult {
	cliCtx := GetCLIContext(cmd)
	cfg := &config.Config{}
	if cliCtx != nil {
		cfg = cliCtx.Config
	}

	runtime := jsvm.NewRuntime(jsvmRuntimeConfig(cfg), zerolog.Nop())
	defer runtime.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	val, err := runtime.Execute(ctx, "1 + 1", "doctor-smoke-test")
	if err != nil {
		return checkResult{name: "JSVM pool", status: "error", message: err.Error()}
	}
	if val.ToInteger() != 2 {
		return checkResult{name: "JSVM pool", status: "error", message: "evaluator returned an unexpected result"}
	}
	return checkResult{name: "JSVM pool", status: "ok", message: fmt.Sprintf("pool size %d", cfg.JSVM.PoolSize)}
}

func checkStorage(cmd *cobra.Command) checkResult {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return checkResult{name: "Storage", status: "error", message: "CLI context not initialized"}
	}

	db, err := cliCtx.GetStorage()
	if err != nil {
		return checkResult{name: "Storage", status: "error", message: err.Error()}
	}
	if err := db.Ping(); err != nil {
		return checkResult{name: "Storage", status: "error", message: err.Error()}
	}
	return checkResult{name: "Storage", status: "ok", message: db.Path()}
}

func checkCronScheduler(cmd *cobra.Command) checkResult {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return checkResult{name: "Cron", status: "error", message: "CLI context not initialized"}
	}
	if !cliCtx.Config.Cron.Enabled {
		return checkResult{name: "Cron", status: "warning", message: "disabled in configuration"}
	}

	db, err := cliCtx.GetStorage()
	if err != nil {
		return checkResult{name: "Cron", status: "error", message: err.Error()}
	}
	jobs, err := cron.NewJobStore(db.DB).List()
	if err != nil {
		return checkResult{name: "Cron", status: "error", message: err.Error()}
	}
	return checkResult{name: "Cron", status: "ok", message: fmt.Sprintf("%d job(s) registered", len(jobs))}
}
