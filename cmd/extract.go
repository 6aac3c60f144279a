package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sells-group/ecoparse/internal/document"
	"github.com/sells-group/ecoparse/internal/fetcher"
	"github.com/sells-group/ecoparse/internal/model"
	"github.com/sells-group/ecoparse/internal/pipeline"
)

var extractCmd = &cobra.Command{
	Use:   "extract <pdf|url>",
	Short: "Extract per-species data from a document",
	Long: `Builds text chunks around each species and asks the configured model for the
project's data fields. Species come from --names or from name discovery.

The first SIGINT stops dispatching new species and waits for in-flight ones;
results stay stored and "extract --resume <run-id>" picks up the rest. A
second signal cancels in-flight requests.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateExtract(); err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		resumeID, _ := cmd.Flags().GetString("resume")
		writeReport, _ := cmd.Flags().GetBool("report")

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var job *pipeline.Job
		if resumeID != "" {
			job, err = env.Pipeline.Resume(ctx, resumeID, writeReport)
		} else {
			if len(args) == 0 {
				return eris.New("extract: a document path or URL is required unless --resume is set")
			}
			var req pipeline.Request
			req, err = extractRequest(cmd.Flags(), args[0], env.Pipeline.DefaultSettings())
			if err != nil {
				return err
			}
			req.Report = writeReport
			job, err = env.Pipeline.Prepare(ctx, req)
		}
		if err != nil {
			return err
		}
		defer job.Close()

		release := stopOnSignal(job.Stop, cancel)
		defer release()

		fmt.Fprintf(os.Stderr, "Run %s: %d species, %d pending\n", job.ID(), len(job.Entities()), job.Pending())

		res, err := job.Execute(ctx)
		if err != nil {
			return eris.Wrapf(err, "extract: run %s", job.ID())
		}
		printOutcome(os.Stdout, res)
		return nil
	},
}

// extractRequest builds a run request from the command flags, starting from
// the configured defaults.
func extractRequest(flags *pflag.FlagSet, source string, defaults model.RunSettings) (pipeline.Request, error) {
	req := pipeline.Request{Source: source, Settings: defaults}

	projectPath, _ := flags.GetString("project")
	if projectPath == "" {
		return req, eris.New("extract: --project is required")
	}
	project, err := model.LoadProject(projectPath)
	if err != nil {
		return req, err
	}
	req.Project = project

	if path, _ := flags.GetString("names"); path != "" {
		req.Entities, err = fetcher.ReadEntities(context.Background(), path)
		if err != nil {
			return req, err
		}
		if len(req.Entities) == 0 {
			return req, eris.Errorf("extract: no species names in %s", path)
		}
	}

	pagesFlag, _ := flags.GetString("pages")
	if req.Pages, err = document.ParsePageRange(pagesFlag); err != nil {
		return req, err
	}

	req.Rank, _ = flags.GetString("rank")
	req.Taxon, _ = flags.GetString("taxon")
	if (req.Rank == "") != (req.Taxon == "") {
		return req, eris.New("extract: --rank and --taxon must be given together")
	}

	if err := applySettingFlags(flags, &req.Settings); err != nil {
		return req, err
	}
	return req, nil
}

// applySettingFlags overrides s with every setting flag the user set.
func applySettingFlags(flags *pflag.FlagSet, s *model.RunSettings) error {
	if flags.Changed("strategy") {
		v, _ := flags.GetString("strategy")
		strategy, err := model.ParseStrategy(v)
		if err != nil {
			return err
		}
		s.Strategy = strategy
	}
	if flags.Changed("provider") {
		s.Provider, _ = flags.GetString("provider")
	}
	if flags.Changed("model") {
		s.Model, _ = flags.GetString("model")
	}
	if flags.Changed("temperature") {
		s.Temperature, _ = flags.GetFloat64("temperature")
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"concurrency", &s.Concurrency},
		{"before", &s.ContextBefore},
		{"after", &s.ContextAfter},
		{"top", &s.TopChars},
		{"bottom", &s.BottomChars},
	}
	for _, f := range ints {
		if !flags.Changed(f.name) {
			continue
		}
		v, _ := flags.GetInt(f.name)
		if v < 0 {
			return eris.Errorf("extract: --%s must not be negative", f.name)
		}
		*f.dst = v
	}
	return nil
}

// stopOnSignal calls stop on the first SIGINT or SIGTERM and cancel on the
// second. The returned func stops listening.
func stopOnSignal(stop func(), cancel context.CancelFunc) func() {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case <-sigs:
			zap.L().Warn("stopping after in-flight species finish; signal again to abort")
			stop()
		case <-done:
			return
		}
		select {
		case <-sigs:
			zap.L().Warn("aborting in-flight requests")
			cancel()
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func printOutcome(w io.Writer, res *pipeline.Result) {
	fmt.Fprintf(w, "Run:        %s\n", res.RunID)
	fmt.Fprintf(w, "Status:     %s\n", res.Status)
	fmt.Fprintf(w, "Results:    %d (%d in run)\n", len(res.Results), len(res.All))
	fmt.Fprintf(w, "Elapsed:    %s\n", res.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Tokens:     %d in / %d out\n", res.InputTokens, res.OutputTokens)
	fmt.Fprintf(w, "Est. cost:  $%.4f\n", res.EstimatedCostUSD)
	if res.ReportPath != "" {
		fmt.Fprintf(w, "Report:     %s\n", res.ReportPath)
	}
	if res.Status == model.RunStatusStopped {
		fmt.Fprintf(w, "Resume with: ecoparse extract --resume %s\n", res.RunID)
	}
}

// addSettingFlags registers the flags read by applySettingFlags.
func addSettingFlags(f *pflag.FlagSet) {
	f.String("strategy", "", "chunk strategy: context, full-page or partial-page")
	f.Int("before", 0, "characters of context before each mention")
	f.Int("after", 0, "characters of context after each mention")
	f.Int("top", 0, "characters from the top of each page (partial-page)")
	f.Int("bottom", 0, "characters from the bottom of each page (partial-page)")
	f.String("provider", "", "model provider: gemini, ollama or anthropic")
	f.String("model", "", "model name (default from provider config)")
	f.Float64("temperature", 0, "sampling temperature")
	f.Int("concurrency", 0, "concurrent model requests")
}

// addExtractFlags registers the flags of the extract command.
func addExtractFlags(f *pflag.FlagSet) {
	f.String("project", "", "project YAML with data fields and examples")
	f.String("names", "", "species list (.json, .csv, .tsv, .xlsx, .xml or text); skips name discovery")
	f.String("pages", "", "page range, e.g. 3-12 (default all)")
	f.String("rank", "", "taxonomic rank for discovery, e.g. class")
	f.String("taxon", "", "taxon name at --rank, e.g. Aves")
	f.String("resume", "", "resume a stopped run by ID")
	f.Bool("report", false, "write a JSON run report")
	addSettingFlags(f)
}

func init() {
	addExtractFlags(extractCmd.Flags())
	rootCmd.AddCommand(extractCmd)
}
