package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ecoparse/internal/aggregate"
	"github.com/sells-group/ecoparse/internal/llm"
	"github.com/sells-group/ecoparse/internal/model"
	"github.com/sells-group/ecoparse/internal/report"
	"github.com/sells-group/ecoparse/pkg/notion"
)

var exportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export the stored results of a run",
	Long:  "Writes a run's results as an XLSX workbook, a CSV file, a JSON report, or rows in the configured Notion database.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		xlsxPath, _ := cmd.Flags().GetString("xlsx")
		csvPath, _ := cmd.Flags().GetString("csv")
		toNotion, _ := cmd.Flags().GetBool("notion")
		toReport, _ := cmd.Flags().GetBool("report")
		projectPath, _ := cmd.Flags().GetString("project")
		if xlsxPath == "" && csvPath == "" && !toNotion && !toReport {
			return eris.New("export: choose at least one of --xlsx, --csv, --notion or --report")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "export")
		}
		if projectPath != "" {
			project, err := model.LoadProject(projectPath)
			if err != nil {
				return err
			}
			run.Project = *project
		}
		schema, err := run.Project.Schema()
		if err != nil {
			return err
		}

		results, err := st.ListResults(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "export")
		}
		results = aggregate.SortByEntities(results, model.EntitiesFromNames(run.Entities))
		table := aggregate.Flatten(results, schema)

		if xlsxPath != "" {
			summary := aggregate.Summarize(results, schema.Names()[0])
			if err := report.WriteXLSX(xlsxPath, table, summary); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Wrote %d rows to %s\n", len(table.Rows), xlsxPath)
		}

		if csvPath != "" {
			if err := writeCSV(csvPath, table); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Wrote %d rows to %s\n", len(table.Rows), csvPath)
		}

		if toReport {
			path, err := report.Write(cfg.Report.Dir, report.Build(report.Input{
				Run:     run,
				Results: results,
				Pages:   run.Settings.Pages,
			}, time.Now()))
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Wrote report to %s\n", path)
		}

		if toNotion {
			guards := llm.Guards(cfg)
			client := notion.NewClient(cfg.Notion.Token, notion.WithGuard(guards.Get("notion")))
			sink, err := report.NewNotionSink(client, cfg.Notion.DatabaseID)
			if err != nil {
				return err
			}
			created, updated, err := sink.Export(ctx, run.ID, table)
			if err != nil {
				return err
			}
			total, err := sink.RunRows(ctx, run.ID)
			if err != nil {
				return err
			}
			zap.L().Info("notion export complete",
				zap.String("run_id", run.ID),
				zap.Int("created", created),
				zap.Int("updated", updated),
				zap.Int("run_rows", total),
			)
			fmt.Fprintf(os.Stderr, "Notion: %d created, %d updated (%d rows for this run)\n", created, updated, total)
		}
		return nil
	},
}

// writeCSV writes table with its header row.
func writeCSV(path string, table aggregate.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "export: create csv")
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(table.Header); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	if err := w.WriteAll(table.Rows); err != nil {
		return eris.Wrap(err, "export: write csv rows")
	}
	return nil
}

func init() {
	f := exportCmd.Flags()
	f.String("project", "", "project YAML overriding the fields recorded with the run")
	f.String("xlsx", "", "write an XLSX workbook with Results and Summary sheets")
	f.String("csv", "", "write the results table as CSV")
	f.Bool("notion", false, "upsert rows into the configured Notion database")
	f.Bool("report", false, "write a JSON run report into report.dir")
	rootCmd.AddCommand(exportCmd)
}
