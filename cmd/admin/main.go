package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"bankrecon/internal/app"
	"bankrecon/internal/domain/audit"
	"bankrecon/internal/domain/connection"
	"bankrecon/internal/domain/transaction"
	"bankrecon/internal/shared/config"
	"bankrecon/internal/shared/logger"
)

const usage = `bankrecon admin - operational commands against the reconciliation database

Usage:
  admin <command> [options]

Commands:
  transition   Move a connection between lifecycle states
  activate     Verify credentials and activate a pending or failed connection
  retry        Re-attempt activation for every failed connection that is due
  ingest       Pull transactions for a connection, or load a batch from a file
  reevaluate   Re-run matching for a single transaction
  audit        Print audit entries for a tenant

Examples:
  # Disable a connection after a customer request
  admin transition --id=3f1c... --from=ACTIVE --to=DISABLED --reason="customer request"

  # Retry activation of a connection stuck in ERROR
  admin activate --id=3f1c...

  # Replay a batch exported from the provider
  admin ingest --id=3f1c... --file=batch.json

  # Show the last 20 ingestion runs for a tenant
  admin audit --tenant=acme --action=INGESTION_RUN --limit=20
`

var errUsage = errors.New("invalid usage")

type command func(ctx context.Context, deps *app.Dependencies, log zerolog.Logger) error

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	if err := run(os.Args[1], os.Args[2:]); err != nil {
		if errors.Is(err, errUsage) || errors.Is(err, pflag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(name string, args []string) error {
	var (
		cmd     command
		timeout time.Duration
		err     error
	)

	switch name {
	case "transition":
		cmd, timeout, err = transitionCommand(args)
	case "activate":
		cmd, timeout, err = activateCommand(args)
	case "retry":
		cmd, timeout, err = retryCommand(args)
	case "ingest":
		cmd, timeout, err = ingestCommand(args)
	case "reevaluate":
		cmd, timeout, err = reevaluateCommand(args)
	case "audit":
		cmd, timeout, err = auditCommand(args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	default:
		fmt.Printf("Unknown command: %s\n\n", name)
		fmt.Print(usage)
		return errUsage
	}
	if err != nil {
		return err
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.Setup(logger.Config{Level: cfg.Log.Level, Format: "console"})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	deps, err := app.NewDependencies(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.Close()

	return cmd(ctx, deps, log)
}

func newFlagSet(name, synopsis string, examples ...string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Printf("Usage: admin %s [options]\n\n%s\n\nOptions:\n", name, synopsis)
		fs.PrintDefaults()
		if len(examples) > 0 {
			fmt.Println("\nExamples:")
			for _, ex := range examples {
				fmt.Println("  " + ex)
			}
		}
	}
	return fs
}

func required(fs *pflag.FlagSet, names ...string) error {
	for _, n := range names {
		if v, _ := fs.GetString(n); strings.TrimSpace(v) == "" {
			fmt.Printf("Error: --%s is required\n\n", n)
			fs.Usage()
			return errUsage
		}
	}
	return nil
}

func transitionCommand(args []string) (command, time.Duration, error) {
	fs := newFlagSet("transition", "Applies one lifecycle transition with optimistic concurrency.",
		"admin transition --id=<connection> --from=ERROR --to=DISABLED --reason=\"closed account\"")
	id := fs.String("id", "", "connection ID")
	tenant := fs.String("tenant", "", "owning tenant (optional, checked when set)")
	from := fs.String("from", "", "expected current status")
	to := fs.String("to", "", "target status")
	reason := fs.String("reason", "", "reason recorded in the audit trail")
	timeout := fs.Duration("timeout", 30*time.Second, "operation timeout")
	if err := fs.Parse(args); err != nil {
		return nil, 0, err
	}
	if err := required(fs, "id", "from", "to"); err != nil {
		return nil, 0, err
	}

	expected, err := connection.ParseStatus(*from)
	if err != nil {
		return nil, 0, err
	}
	target, err := connection.ParseStatus(*to)
	if err != nil {
		return nil, 0, err
	}

	return func(ctx context.Context, deps *app.Dependencies, log zerolog.Logger) error {
		c, err := deps.Connections.RequestTransition(ctx, connection.TransitionRequest{
			ConnectionID: *id,
			TenantID:     *tenant,
			Expected:     expected,
			Target:       target,
			Actor:        audit.ActorAdmin,
			Reason:       *reason,
		})
		if err != nil {
			return err
		}
		log.Info().Str("connection_id", c.ID).Str("status", string(c.Status)).Msg("transition applied")
		return printJSON(c)
	}, *timeout, nil
}

func activateCommand(args []string) (command, time.Duration, error) {
	fs := newFlagSet("activate", "Verifies stored credentials with the provider and activates the connection.",
		"admin activate --id=<connection>")
	id := fs.String("id", "", "connection ID")
	timeout := fs.Duration("timeout", time.Minute, "operation timeout")
	if err := fs.Parse(args); err != nil {
		return nil, 0, err
	}
	if err := required(fs, "id"); err != nil {
		return nil, 0, err
	}

	return func(ctx context.Context, deps *app.Dependencies, log zerolog.Logger) error {
		c, err := deps.Connections.Activate(ctx, "", *id, audit.ActorAdmin)
		if err != nil {
			return err
		}
		if c.Status != connection.StatusActive {
			log.Warn().Str("connection_id", c.ID).Str("error_code", string(c.LastErrorCode)).Msg("activation failed")
		}
		return printJSON(c)
	}, *timeout, nil
}

func retryCommand(args []string) (command, time.Duration, error) {
	fs := newFlagSet("retry", "Activates every ERROR connection whose backoff has elapsed.",
		"admin retry --limit=100")
	limit := fs.Int("limit", 500, "maximum connections to attempt")
	timeout := fs.Duration("timeout", 10*time.Minute, "operation timeout")
	if err := fs.Parse(args); err != nil {
		return nil, 0, err
	}

	return func(ctx context.Context, deps *app.Dependencies, log zerolog.Logger) error {
		due, err := deps.Connections.ListDueForRetry(ctx, *limit)
		if err != nil {
			return err
		}
		log.Info().Int("due", len(due)).Msg("retrying failed connections")

		var recovered int
		for _, c := range due {
			updated, err := deps.Connections.Activate(ctx, "", c.ID, audit.ActorAdmin)
			if err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("retry failed")
				continue
			}
			if updated.Status == connection.StatusActive {
				recovered++
			}
		}
		fmt.Printf("attempted: %d\nrecovered: %d\n", len(due), recovered)
		return nil
	}, *timeout, nil
}

func ingestCommand(args []string) (command, time.Duration, error) {
	fs := newFlagSet("ingest", "Runs a provider pull for an ACTIVE connection, or ingests records from a JSON file.",
		"admin ingest --id=<connection>",
		"admin ingest --id=<connection> --file=records.json")
	id := fs.String("id", "", "connection ID")
	file := fs.String("file", "", "JSON array of raw records to ingest instead of pulling")
	timeout := fs.Duration("timeout", 30*time.Minute, "operation timeout")
	if err := fs.Parse(args); err != nil {
		return nil, 0, err
	}
	if err := required(fs, "id"); err != nil {
		return nil, 0, err
	}

	var batch []transaction.RawRecord
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, 0, fmt.Errorf("failed to parse %s: %w", *file, err)
		}
	}

	return func(ctx context.Context, deps *app.Dependencies, log zerolog.Logger) error {
		start := time.Now()
		var (
			res interface{}
			err error
		)
		if *file != "" {
			res, err = deps.Pipeline.IngestBatch(ctx, "", *id, batch, audit.ActorAdmin)
		} else {
			res, err = deps.Pipeline.RunIngestion(ctx, "", *id, audit.ActorAdmin)
		}
		if err != nil {
			return err
		}
		log.Info().Dur("elapsed", time.Since(start)).Str("connection_id", *id).Msg("ingestion completed")
		return printJSON(res)
	}, *timeout, nil
}

func reevaluateCommand(args []string) (command, time.Duration, error) {
	fs := newFlagSet("reevaluate", "Recomputes payment matches for one transaction.",
		"admin reevaluate --tenant=acme --transaction=<id>")
	tenant := fs.String("tenant", "", "owning tenant")
	txID := fs.String("transaction", "", "transaction ID")
	timeout := fs.Duration("timeout", time.Minute, "operation timeout")
	if err := fs.Parse(args); err != nil {
		return nil, 0, err
	}
	if err := required(fs, "tenant", "transaction"); err != nil {
		return nil, 0, err
	}

	return func(ctx context.Context, deps *app.Dependencies, log zerolog.Logger) error {
		matches, err := deps.Matching.Reevaluate(ctx, *tenant, *txID, audit.ActorAdmin)
		if err != nil {
			return err
		}
		log.Info().Int("matches", len(matches)).Msg("transaction re-evaluated")
		return printJSON(matches)
	}, *timeout, nil
}

func auditCommand(args []string) (command, time.Duration, error) {
	fs := newFlagSet("audit", "Prints audit entries newest first.",
		"admin audit --tenant=acme --connection=<id>",
		"admin audit --tenant=acme --action=CONNECTION_TRANSITION --since=2024-01-01T00:00:00Z")
	tenant := fs.String("tenant", "", "tenant to query")
	conn := fs.String("connection", "", "restrict to one connection")
	actions := fs.StringSlice("action", nil, "restrict to these actions (repeatable)")
	since := fs.String("since", "", "RFC3339 lower bound")
	until := fs.String("until", "", "RFC3339 upper bound")
	limit := fs.Int("limit", 50, "page size")
	offset := fs.Int("offset", 0, "entries to skip")
	timeout := fs.Duration("timeout", 30*time.Second, "operation timeout")
	if err := fs.Parse(args); err != nil {
		return nil, 0, err
	}
	if err := required(fs, "tenant"); err != nil {
		return nil, 0, err
	}

	filter := audit.Filter{
		TenantID:     *tenant,
		ConnectionID: *conn,
		Limit:        *limit,
		Offset:       *offset,
	}
	for _, a := range *actions {
		filter.Actions = append(filter.Actions, audit.Action(strings.ToUpper(strings.TrimSpace(a))))
	}
	for _, b := range []struct {
		raw string
		dst **time.Time
	}{{*since, &filter.Since}, {*until, &filter.Until}} {
		if b.raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, b.raw)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid time %q: %w", b.raw, err)
		}
		*b.dst = &t
	}

	return func(ctx context.Context, deps *app.Dependencies, log zerolog.Logger) error {
		page, err := deps.Audit.Query(ctx, filter)
		if err != nil {
			return err
		}
		return printJSON(page)
	}, *timeout, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
