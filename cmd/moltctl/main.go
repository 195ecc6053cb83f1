package main

import (
	"encoding/json"
	"fmt"
	"os"

	"moltlink/internal/config"
	"moltlink/internal/db"
	"moltlink/internal/logging"
	"moltlink/internal/services"

	"github.com/urfave/cli/v2"
	"gorm.io/gorm"
)

func main() {
	app := cli.App{
		Name:  "moltctl",
		Usage: "operations tool for the moltlink database",
	}
	app.Commands = []*cli.Command{
		{
			Name:   "migrate",
			Usage:  "create or update tables and seed default submolts",
			Action: runMigrate,
		},
		{
			Name:  "reconcile",
			Usage: "recompute denormalized counters and report drift",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "fix",
					Usage: "overwrite drifted counters with recomputed values",
				},
				&cli.BoolFlag{
					Name:  "json",
					Usage: "print the report as JSON",
				},
			},
			Action: runReconcile,
		},
	}
	app.RunAndExitOnError()
}

func openDB() (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := logging.Init(cfg.LogLevel, cfg.LogFormat)
	gdb, err := db.Open(cfg.DatabaseURL, logger)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gdb, nil
}

func runMigrate(cctx *cli.Context) error {
	cfg, gdb, err := openDB()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(gdb) }()

	if err := db.Migrate(cctx.Context, gdb); err != nil {
		return err
	}
	if err := db.SeedSubmolts(cctx.Context, gdb, cfg.SeedSubmolts); err != nil {
		return err
	}
	fmt.Println("migration complete")
	return nil
}

func runReconcile(cctx *cli.Context) error {
	_, gdb, err := openDB()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(gdb) }()

	report, err := services.NewReconciler(gdb).Run(cctx.Context, cctx.Bool("fix"))
	if err != nil {
		return err
	}

	if cctx.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Printf("checked %d counters, %d drifted\n", report.Checked, len(report.Drifts))
	for _, d := range report.Drifts {
		fmt.Println("  " + d.String())
	}
	if len(report.Drifts) > 0 && !report.Fixed {
		fmt.Println("run with --fix to repair")
	}
	return nil
}
