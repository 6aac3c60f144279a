package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/ecoparse/internal/chunk"
	"github.com/sells-group/ecoparse/internal/document"
	"github.com/sells-group/ecoparse/internal/model"
)

var chunksCmd = &cobra.Command{
	Use:   "chunks <pdf|url>",
	Short: "Preview the text chunks one species would get",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		species, _ := cmd.Flags().GetString("species")
		if species == "" {
			return eris.New("chunks: --species is required")
		}
		pagesFlag, _ := cmd.Flags().GetString("pages")
		pages, err := document.ParsePageRange(pagesFlag)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		settings := env.Pipeline.DefaultSettings()
		if err := applySettingFlags(cmd.Flags(), &settings); err != nil {
			return err
		}

		doc, err := env.Pipeline.LoadDocument(ctx, args[0], pages)
		if err != nil {
			return err
		}
		b, err := chunk.New(doc.Text, settings.Strategy, chunk.Options{
			Before: settings.ContextBefore,
			After:  settings.ContextAfter,
			Top:    settings.TopChars,
			Bottom: settings.BottomChars,
		})
		if err != nil {
			return err
		}

		chunks, ok := b.Chunks(species)
		if !ok {
			fmt.Fprintf(os.Stderr, "No %s chunks found for %q.\n", settings.Strategy, species)
			return nil
		}
		printChunks(os.Stdout, chunks)
		return nil
	},
}

func printChunks(w io.Writer, chunks []model.Chunk) {
	for i, c := range chunks {
		if c.Page > 0 {
			fmt.Fprintf(w, "--- chunk %d/%d (%s, page %d) ---\n", i+1, len(chunks), c.Strategy, c.Page)
		} else {
			fmt.Fprintf(w, "--- chunk %d/%d (%s) ---\n", i+1, len(chunks), c.Strategy)
		}
		fmt.Fprintln(w, c.Text)
	}
}

func init() {
	f := chunksCmd.Flags()
	f.String("species", "", "species name to locate")
	f.String("pages", "", "page range, e.g. 3-12 (default all)")
	addSettingFlags(f)
	rootCmd.AddCommand(chunksCmd)
}
