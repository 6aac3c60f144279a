package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ecoparse/internal/document"
	"github.com/sells-group/ecoparse/internal/model"
)

var namesCmd = &cobra.Command{
	Use:   "names <pdf|url>",
	Short: "Find species names in a document",
	Long:  "Reads the document, sends its text to GNfinder and keeps verified binomials, optionally restricted to one taxon.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		pagesFlag, _ := cmd.Flags().GetString("pages")
		rank, _ := cmd.Flags().GetString("rank")
		taxonName, _ := cmd.Flags().GetString("taxon")
		out, _ := cmd.Flags().GetString("out")

		if (rank == "") != (taxonName == "") {
			return eris.New("names: --rank and --taxon must be given together")
		}
		pages, err := document.ParsePageRange(pagesFlag)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		doc, err := env.Pipeline.LoadDocument(ctx, args[0], pages)
		if err != nil {
			return eris.Wrap(err, "names: load document")
		}
		disc, err := env.Pipeline.Discover(ctx, doc, rank, taxonName)
		if err != nil {
			return eris.Wrap(err, "names: discover")
		}

		zap.L().Info("names found",
			zap.String("document", doc.Path),
			zap.String("pages", pages.String()),
			zap.Int("raw", disc.RawCount),
			zap.Int("initial", disc.InitialCount),
			zap.Int("final", len(disc.Final)),
		)
		fmt.Fprintf(os.Stderr, "%s: %d names found, %d after initial filter, %d kept\n",
			doc.Path, disc.RawCount, disc.InitialCount, len(disc.Final))

		if out == "" {
			formatNames(os.Stdout, disc.Final)
			return nil
		}
		f, err := os.Create(out)
		if err != nil {
			return eris.Wrap(err, "names: create output")
		}
		defer f.Close() //nolint:errcheck
		final := disc.Final
		if final == nil {
			final = []model.NameMatch{}
		}
		if err := writeIndentedJSON(f, final); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Wrote %d names to %s\n", len(final), out)
		return nil
	},
}

// formatNames writes a table of kept names to w.
func formatNames(out io.Writer, matches []model.NameMatch) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tVERBATIM\tMATCH\tCLASSIFICATION")
	for _, m := range matches {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Name, m.Verbatim, m.MatchType, lastRanks(m.ClassificationPath, 3))
	}
	_ = w.Flush()
}

// lastRanks keeps the last n elements of a "|"-separated classification path.
func lastRanks(path string, n int) string {
	if path == "" {
		return ""
	}
	parts := strings.Split(path, "|")
	if len(parts) > n {
		parts = parts[len(parts)-n:]
	}
	return strings.Join(parts, " > ")
}

func writeIndentedJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	namesCmd.Flags().String("pages", "", "page range, e.g. 3-12 (default all)")
	namesCmd.Flags().String("rank", "", "taxonomic rank to keep, e.g. class")
	namesCmd.Flags().String("taxon", "", "taxon name at --rank, e.g. Aves")
	namesCmd.Flags().StringP("out", "o", "", "write the kept names as JSON, usable as extract --names")
	rootCmd.AddCommand(namesCmd)
}
