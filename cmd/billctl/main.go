package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/andresuchdata/shopledger/internal/app"
	"github.com/andresuchdata/shopledger/internal/config"
	"github.com/andresuchdata/shopledger/internal/domain"
	"github.com/andresuchdata/shopledger/internal/drive"
	"github.com/andresuchdata/shopledger/internal/importer"
	"github.com/andresuchdata/shopledger/internal/pipeline"
	"github.com/andresuchdata/shopledger/internal/repository/postgres"
	"github.com/andresuchdata/shopledger/pkg/logger"
	"github.com/urfave/cli/v2"
)

const appKey = "app"

func setup(c *cli.Context) error {
	if c.Bool("json-logs") {
		logger.UseJSON(os.Stderr)
	}
	logger.SetLevel(c.String("log-level"))
	return nil
}

// application connects on first use so help and argument errors need no
// backend.
func application(c *cli.Context) (*app.App, error) {
	if a, ok := c.App.Metadata[appKey].(*app.App); ok {
		return a, nil
	}

	cfg := config.Load()
	if backend := c.String("store"); backend != "" {
		cfg.Migration.StoreBackend = backend
	}

	a, err := app.New(c.Context, cfg, app.Options{PostgresDriver: postgres.DriverPGX})
	if err != nil {
		return nil, err
	}
	c.App.Metadata[appKey] = a
	return a, nil
}

func teardown(c *cli.Context) error {
	if a, ok := c.App.Metadata[appKey].(*app.App); ok && a != nil {
		a.Close()
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// follow logs state changes of kind until the returned function is called.
func follow(a *app.App, kind pipeline.Kind) func() {
	last := -1.0
	return a.Migration.Subscribe(kind, func(st domain.RunState) {
		if st.Status != domain.RunStatusRunning || st.Progress == last {
			return
		}
		last = st.Progress
		logger.Log.Info().
			Str("kind", string(kind)).
			Float64("progress", st.Progress).
			Msg(st.CurrentStep)
	})
}

func main() {
	cliApp := &cli.App{
		Name:     "billctl",
		Usage:    "Operate the bill migration engine",
		Metadata: map[string]any{},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "store",
				Usage:   "Document store backend: memory, postgres or mongo (overrides MIGRATION_STORE_BACKEND)",
				EnvVars: []string{"BILLCTL_STORE"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "Log level",
			},
			&cli.BoolFlag{
				Name:  "json-logs",
				Usage: "Write logs as JSON to stderr",
			},
		},
		Before:   setup,
		After:    teardown,
		Commands: commands(),
	}

	if err := cliApp.Run(os.Args); err != nil {
		logger.Log.Error().Err(err).Msg("billctl failed")
		os.Exit(1)
	}
}

func commands() []*cli.Command {
	return []*cli.Command{
		{
			Name:      "import",
			Usage:     "Import products from a CSV or XLSX file, or from a Google Drive folder",
			ArgsUsage: "[FILE]",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "dry-run", Usage: "Parse and validate without writing"},
				&cli.BoolFlag{Name: "drive", Usage: "Import every sheet of the configured Drive folder"},
				&cli.StringFlag{Name: "drive-folder", Usage: "Drive folder id (implies --drive)"},
				&cli.StringFlag{Name: "drive-path", Usage: "Drive folder path from the root (implies --drive)"},
			},
			Action: importAction,
		},
		{
			Name:   "migrate",
			Usage:  "Group products into bills and link them",
			Action: migrateAction,
		},
		{
			Name:  "validate",
			Usage: "Check product/bill integrity",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "fix", Usage: "Apply automatic fixes and re-validate"},
			},
			Action: validateAction,
		},
		{
			Name:  "rollback",
			Usage: "Undo a migration",
			Subcommands: []*cli.Command{
				{
					Name:   "preview",
					Usage:  "Show what a rollback would change",
					Action: rollbackPreviewAction,
				},
				{
					Name:  "run",
					Usage: "Unlink every product and delete every bill",
					Flags: []cli.Flag{
						&cli.BoolFlag{Name: "yes", Usage: "Confirm the rollback"},
					},
					Action: rollbackRunAction,
				},
			},
		},
		{
			Name:  "archives",
			Usage: "Browse archived run results",
			Subcommands: []*cli.Command{
				{
					Name:  "list",
					Usage: "List archived results, newest first",
					Flags: []cli.Flag{
						&cli.StringFlag{Name: "kind", Usage: "migration, validation or rollback"},
					},
					Action: archivesListAction,
				},
				{
					Name:      "get",
					Usage:     "Print one archived result",
					ArgsUsage: "KEY",
					Flags: []cli.Flag{
						&cli.StringFlag{Name: "out", Usage: "Write to a file instead of stdout"},
					},
					Action: archivesGetAction,
				},
			},
		},
		{
			Name:  "history",
			Usage: "Show recent runs",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "kind", Value: string(pipeline.KindMigration)},
				&cli.IntFlag{Name: "limit", Value: 20},
			},
			Action: historyAction,
		},
	}
}

func importAction(c *cli.Context) error {
	if c.Bool("drive") || c.IsSet("drive-folder") || c.IsSet("drive-path") {
		return driveImportAction(c)
	}
	path := c.Args().First()
	if path == "" {
		return errors.New("missing FILE argument")
	}
	a, err := application(c)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	format, err := importer.FormatFromPath(path)
	if err != nil {
		return err
	}
	result, err := a.Catalog.ImportProducts(c.Context, f, format, c.Bool("dry-run"))
	if result != nil {
		if perr := printJSON(result); perr != nil {
			return perr
		}
	}
	return err
}

func driveImportAction(c *cli.Context) error {
	a, err := application(c)
	if err != nil {
		return err
	}
	if a.Drive == nil {
		return errors.New("drive import needs GOOGLE_DRIVE_CREDENTIALS_JSON")
	}
	results, err := a.Drive.Ingest(c.Context, drive.IngestRequest{
		FolderID:   c.String("drive-folder"),
		FolderPath: c.String("drive-path"),
		DryRun:     c.Bool("dry-run"),
	})
	if err != nil {
		return err
	}
	return printJSON(results)
}

func migrateAction(c *cli.Context) error {
	a, err := application(c)
	if err != nil {
		return err
	}
	defer follow(a, pipeline.KindMigration)()
	result, err := a.Migration.RunMigration(c.Context)
	if err != nil {
		return err
	}
	if result.FlaggedForReview {
		logger.Log.Warn().Int("errors", result.Errors.Total()).Msg("migration finished with issues; review the report")
	}
	return printJSON(result)
}

func validateAction(c *cli.Context) error {
	a, err := application(c)
	if err != nil {
		return err
	}
	defer follow(a, pipeline.KindValidation)()
	result, err := a.Migration.RunValidation(c.Context, c.Bool("fix"))
	if err != nil {
		return err
	}
	if err := printJSON(result); err != nil {
		return err
	}
	if !result.Final.IsValid {
		return cli.Exit("validation found issues", 2)
	}
	return nil
}

func rollbackPreviewAction(c *cli.Context) error {
	a, err := application(c)
	if err != nil {
		return err
	}
	preview, err := a.Migration.PreviewRollback(c.Context)
	if err != nil {
		return err
	}
	return printJSON(preview)
}

func rollbackRunAction(c *cli.Context) error {
	if !c.Bool("yes") {
		return cli.Exit("rollback deletes every bill; re-run with --yes", 1)
	}
	a, err := application(c)
	if err != nil {
		return err
	}
	defer follow(a, pipeline.KindRollback)()
	result, err := a.Migration.RunRollback(c.Context)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func archivesListAction(c *cli.Context) error {
	a, err := application(c)
	if err != nil {
		return err
	}
	objects, err := a.Migration.ListArchives(c.Context, c.String("kind"))
	if err != nil {
		return err
	}
	return printJSON(objects)
}

func archivesGetAction(c *cli.Context) error {
	key := c.Args().First()
	if key == "" {
		return errors.New("missing KEY argument")
	}
	a, err := application(c)
	if err != nil {
		return err
	}
	data, err := a.Migration.GetArchive(c.Context, key)
	if err != nil {
		return err
	}
	if out := c.String("out"); out != "" {
		return os.WriteFile(out, data, 0o644)
	}
	_, err = os.Stdout.Write(data)
	return err
}

func historyAction(c *cli.Context) error {
	kind, ok := pipeline.ParseKind(c.String("kind"))
	if !ok {
		return fmt.Errorf("unknown kind %q", c.String("kind"))
	}
	a, err := application(c)
	if err != nil {
		return err
	}
	runs, err := a.Migration.History(c.Context, kind, c.Int("limit"))
	if err != nil {
		return err
	}
	return printJSON(runs)
}
