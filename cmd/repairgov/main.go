// Package main provides the repairgov CLI for subprocess-based interop.
//
// The CLI reads JSON from stdin, performs one governor operation, and
// writes a JSON result to stdout. With -db it persists envelopes in a
// BadgerDB directory; without it, state lives for one invocation only.
//
// Usage:
//
//	# Run a governor session against a scripted outcome sequence
//	echo '{"error_type":"syntax","message":"...","outcomes":[...]}' | repairgov run -db ./state
//
//	# Fetch an envelope
//	echo '{"patch_id":"patch_abc"}' | repairgov get -db ./state
//
//	# List recent envelopes
//	echo '{"limit":10}' | repairgov list -db ./state
//
//	# Find similar past outcomes
//	echo '{"message":"nil pointer","limit":5}' | repairgov similar -db ./state
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jeeves-cluster-organization/repairkernel/commbus"
	"github.com/jeeves-cluster-organization/repairkernel/repairengine/config"
	"github.com/jeeves-cluster-organization/repairkernel/repairengine/envelope"
	"github.com/jeeves-cluster-organization/repairkernel/repairengine/governor"
	"github.com/jeeves-cluster-organization/repairkernel/repairengine/memory"
	"github.com/jeeves-cluster-organization/repairkernel/repairengine/observability"
	"github.com/jeeves-cluster-organization/repairkernel/repairengine/store"
)

const (
	cmdRun      = "run"
	cmdGet      = "get"
	cmdList     = "list"
	cmdSimilar  = "similar"
	cmdValidate = "validate"
	cmdVersion  = "version"
)

// Version information
const (
	Version   = "1.0.0"
	BuildTime = "2026-08-26"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}
	cmd := args[0]

	fs := flag.NewFlagSet("repairgov", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dbPath := fs.String("db", "", "BadgerDB directory (default: in-memory)")
	configPath := fs.String("config", "", "YAML governor config file")
	otlpEndpoint := fs.String("otlp", "", "OTLP gRPC endpoint for trace export (disabled when empty)")
	verbose := fs.Bool("verbose", false, "log governor activity to stderr")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}

	logger := commbus.NopLogger()
	if *verbose {
		logger = commbus.NewStdLogger()
	}

	out := &jsonWriter{stdout: stdout, stderr: stderr}

	if *otlpEndpoint != "" {
		shutdown, err := observability.InitTracer("repairgov", *otlpEndpoint)
		if err != nil {
			out.error("init_error", err.Error())
			return 1
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Warning("tracer shutdown failed", "error", err.Error())
			}
		}()
	}

	if cmd == cmdVersion {
		out.write(map[string]string{
			"version":    Version,
			"build_time": BuildTime,
			"go_version": "1.24+",
		})
		return 0
	}

	app, err := newApp(*dbPath, *configPath, logger)
	if err != nil {
		out.error("init_error", err.Error())
		return 1
	}
	defer app.close()

	switch cmd {
	case cmdRun:
		return app.handleRun(stdin, out)
	case cmdGet:
		return app.handleGet(stdin, out)
	case cmdList:
		return app.handleList(stdin, out)
	case cmdSimilar:
		return app.handleSimilar(stdin, out)
	case cmdValidate:
		return app.handleValidate(stdin, out)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", cmd)
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `Usage: repairgov <command> [-db dir] [-config file] [-otlp endpoint] [-verbose]

Commands:
  run       Execute a governor session against scripted outcomes
  get       Fetch the envelope for a patch ID
  list      List the most recent envelopes
  similar   Find similar past outcomes
  validate  Validate an envelope JSON structure
  version   Print version information

Input/Output:
  All commands read JSON from stdin and write JSON to stdout.
  Errors are written to stderr.

Examples:
  echo '{"error_type":"syntax","message":"e","outcomes":[{"errors_total":0,"errors_resolved":1}]}' | repairgov run
  echo '{"patch_id":"patch_abc"}' | repairgov get -db ./state
  echo '{"limit":10}' | repairgov list -db ./state`)
}

// =============================================================================
// APP WIRING
// =============================================================================

type app struct {
	cfg    *config.GovernorConfig
	store  store.EnvelopeStore
	index  *memory.MemoryIndex
	bus    *commbus.InMemoryCommBus
	logger commbus.Logger
}

func newApp(dbPath, configPath string, logger commbus.Logger) (*app, error) {
	cfg := config.DefaultGovernorConfig()
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	var st store.EnvelopeStore
	if dbPath != "" {
		badgerCfg := store.DefaultBadgerConfig(dbPath)
		badgerCfg.GCInterval = 0 // short-lived process
		badgerCfg.Logger = logger
		opened, err := store.OpenBadgerStore(badgerCfg)
		if err != nil {
			return nil, err
		}
		st = opened
	} else {
		st = store.NewMemoryStore()
	}

	bus := commbus.NewInMemoryCommBus(10*time.Second, logger)
	bus.AddMiddleware(commbus.NewLoggingMiddleware(logger))
	// Health checks bypass the observer breaker so a flapping handler
	// never blinds the health probe.
	bus.AddMiddleware(commbus.NewCircuitBreakerMiddleware(
		5, 30*time.Second, []string{"HealthCheckRequest"}, logger))

	a := &app{
		cfg:    cfg,
		store:  st,
		index:  memory.NewMemoryIndex(0, 0),
		bus:    bus,
		logger: logger,
	}
	if err := governor.RegisterHistoryHandlers(a.bus, a.store, a.index); err != nil {
		st.Close()
		return nil, err
	}
	if err := a.rebuildIndex(); err != nil {
		st.Close()
		return nil, err
	}
	return a, nil
}

// rebuildIndex reloads sealed envelopes so similarity queries see prior
// invocations when a durable store is configured.
func (a *app) rebuildIndex() error {
	envs, err := a.store.List(context.Background(), 0)
	if err != nil {
		return err
	}
	for _, env := range envs {
		a.index.Record(env)
	}
	return nil
}

func (a *app) close() {
	_ = a.store.Close()
}

// =============================================================================
// COMMAND HANDLERS
// =============================================================================

type runInput struct {
	PatchID      string            `json:"patch_id"`
	SessionID    string            `json:"session_id"`
	ErrorType    string            `json:"error_type"`
	Message      string            `json:"message"`
	PatchCode    string            `json:"patch_code"`
	OriginalCode string            `json:"original_code"`
	MaxAttempts  int               `json:"max_attempts"`
	Config       map[string]any    `json:"config,omitempty"`
	Outcomes     []scriptedOutcome `json:"outcomes"`
}

type scriptedOutcome struct {
	ErrorType      string `json:"error_type"`
	Message        string `json:"message"`
	ErrorsTotal    int    `json:"errors_total"`
	ErrorsResolved int    `json:"errors_resolved"`
}

func (a *app) handleRun(stdin io.Reader, out *jsonWriter) int {
	var input runInput
	if code := decodeInput(stdin, out, &input); code != 0 {
		return code
	}

	errorType, ok := envelope.ParseErrorType(input.ErrorType)
	if !ok {
		out.error("parse_error", fmt.Sprintf("unknown error_type %q", input.ErrorType))
		return 1
	}

	cfg := a.cfg
	if input.Config != nil {
		cfg = config.GovernorConfigFromMap(input.Config)
		if err := cfg.Validate(); err != nil {
			out.error("config_error", err.Error())
			return 1
		}
	}

	outcomes := make([]governor.Outcome, 0, len(input.Outcomes))
	for i, o := range input.Outcomes {
		// Empty outcome types inherit the session's classification.
		outcomeType := envelope.ErrorType("")
		if o.ErrorType != "" {
			outcomeType, ok = envelope.ParseErrorType(o.ErrorType)
			if !ok {
				out.error("parse_error", fmt.Sprintf("outcome %d: unknown error_type %q", i+1, o.ErrorType))
				return 1
			}
		}
		outcomes = append(outcomes, governor.Outcome{
			ErrorType:      outcomeType,
			Message:        o.Message,
			ErrorsTotal:    o.ErrorsTotal,
			ErrorsResolved: o.ErrorsResolved,
		})
	}

	g, err := governor.New(cfg, a.store, governor.NewScriptedProducer(outcomes), governor.Options{
		Bus:    a.bus,
		Index:  a.index,
		Logger: a.logger,
	})
	if err != nil {
		out.error("governor_error", err.Error())
		return 1
	}

	result, err := g.Run(context.Background(), &governor.RunRequest{
		PatchID:      input.PatchID,
		SessionID:    input.SessionID,
		ErrorType:    errorType,
		Message:      input.Message,
		PatchCode:    input.PatchCode,
		OriginalCode: input.OriginalCode,
		MaxAttempts:  input.MaxAttempts,
	})
	if err != nil {
		out.error("run_error", err.Error())
		return 1
	}

	out.write(map[string]any{
		"action":         string(result.Action),
		"envelope":       result.Envelope.ToStateDict(),
		"extras":         result.Extras,
		"store_warnings": result.StoreWarnings,
	})
	return 0
}

func (a *app) handleGet(stdin io.Reader, out *jsonWriter) int {
	var input struct {
		PatchID string `json:"patch_id"`
	}
	if code := decodeInput(stdin, out, &input); code != 0 {
		return code
	}

	res, err := a.bus.QuerySync(context.Background(), &commbus.GetEnvelope{PatchID: input.PatchID})
	if err != nil {
		out.error("query_error", err.Error())
		return 1
	}
	out.write(res)
	return 0
}

func (a *app) handleList(stdin io.Reader, out *jsonWriter) int {
	var input struct {
		Limit int `json:"limit"`
	}
	if code := decodeInput(stdin, out, &input); code != 0 {
		return code
	}
	if input.Limit <= 0 {
		input.Limit = 20
	}

	res, err := a.bus.QuerySync(context.Background(), &commbus.ListEnvelopes{Limit: input.Limit})
	if err != nil {
		out.error("query_error", err.Error())
		return 1
	}
	out.write(res)
	return 0
}

func (a *app) handleSimilar(stdin io.Reader, out *jsonWriter) int {
	var input struct {
		Message string `json:"message"`
		Code    string `json:"code"`
		Limit   int    `json:"limit"`
	}
	if code := decodeInput(stdin, out, &input); code != 0 {
		return code
	}
	if input.Limit <= 0 {
		input.Limit = 10
	}

	res, err := a.bus.QuerySync(context.Background(), &commbus.FindSimilar{
		Message: input.Message,
		Code:    input.Code,
		Limit:   input.Limit,
	})
	if err != nil {
		out.error("query_error", err.Error())
		return 1
	}
	out.write(res)
	return 0
}

func (a *app) handleValidate(stdin io.Reader, out *jsonWriter) int {
	data, err := io.ReadAll(stdin)
	if err != nil {
		out.error("read_error", err.Error())
		return 1
	}

	var stateDict map[string]any
	if err := json.Unmarshal(data, &stateDict); err != nil {
		out.write(map[string]any{
			"valid":  false,
			"errors": []string{fmt.Sprintf("Invalid JSON: %s", err.Error())},
		})
		return 0
	}

	validationErrors := []string{}
	for _, field := range []string{"patch_id", "error_type"} {
		if _, ok := stateDict[field].(string); !ok && stateDict[field] != nil {
			validationErrors = append(validationErrors, fmt.Sprintf("Field '%s' must be a string", field))
		}
	}

	if id, _ := stateDict["patch_id"].(string); id == "" {
		validationErrors = append(validationErrors, "patch_id is missing or empty")
	}

	env := envelope.FromStateDict(stateDict)
	for i, attempt := range env.Attempts {
		if attempt.Index != i+1 {
			validationErrors = append(validationErrors,
				fmt.Sprintf("attempt %d has index %d; attempts must be ordered", i+1, attempt.Index))
		}
	}

	out.write(map[string]any{
		"valid":    len(validationErrors) == 0,
		"errors":   validationErrors,
		"patch_id": env.PatchID,
	})
	return 0
}

// =============================================================================
// I/O HELPERS
// =============================================================================

type jsonWriter struct {
	stdout io.Writer
	stderr io.Writer
}

func (w *jsonWriter) write(v any) {
	encoder := json.NewEncoder(w.stdout)
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(w.stderr, "Error encoding JSON: %s\n", err.Error())
	}
}

func (w *jsonWriter) error(code, message string) {
	w.write(map[string]any{
		"error":   true,
		"code":    code,
		"message": message,
	})
}

func decodeInput(stdin io.Reader, out *jsonWriter, v any) int {
	data, err := io.ReadAll(stdin)
	if err != nil {
		out.error("read_error", err.Error())
		return 1
	}
	if err := json.Unmarshal(data, v); err != nil {
		out.error("parse_error", fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return 1
	}
	return 0
}
