// Package report writes the JSON record of an extraction run and exports its
// results to spreadsheets and Notion.
package report

import (
	"cmp"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ecoparse/internal/aggregate"
	"github.com/sells-group/ecoparse/internal/model"
	"github.com/sells-group/ecoparse/internal/taxon"
)

const fileTimeLayout = "20060102_150405"

// DocumentInfo describes the source document.
type DocumentInfo struct {
	FileName  string `json:"file_name"`
	CharCount int    `json:"extracted_text_char_count"`
	Pages     string `json:"pages,omitempty"`
}

// NamesInfo records the name-finding stage.
type NamesInfo struct {
	URL             string            `json:"url_used,omitempty"`
	Raw             int               `json:"total_names_identified_raw"`
	Initial         int               `json:"total_species_identified_initial_filter"`
	TaxonomyApplied bool              `json:"taxonomic_filter_applied"`
	Rank            string            `json:"taxonomic_rank,omitempty"`
	Taxon           string            `json:"taxonomic_name,omitempty"`
	Final           int               `json:"total_species_identified_final_filter"`
	FinalList       []model.NameMatch `json:"final_species_list"`
}

// ExtractionInfo records the model extraction stage.
type ExtractionInfo struct {
	Method           model.Strategy         `json:"method"`
	Provider         string                 `json:"provider"`
	Model            string                 `json:"model"`
	Temperature      float64                `json:"temperature"`
	ContextBefore    int                    `json:"context_chars_before"`
	ContextAfter     int                    `json:"context_chars_after"`
	TopChars         int                    `json:"top_chars,omitempty"`
	BottomChars      int                    `json:"bottom_chars,omitempty"`
	TotalExamples    int                    `json:"total_examples_provided"`
	Examples         []model.Example        `json:"examples_used"`
	Concurrency      int                    `json:"concurrent_requests_used"`
	SpeciesAssessed  int                    `json:"total_species_assessed"`
	RuntimeSeconds   float64                `json:"runtime_seconds"`
	InputTokens      int64                  `json:"total_input_tokens"`
	OutputTokens     int64                  `json:"total_output_tokens"`
	EstimatedCostUSD float64                `json:"estimated_cost_usd"`
	Summary          []aggregate.ValueCount `json:"extraction_results_summary"`
	Results          []model.Result         `json:"full_extraction_results"`
}

// Report is the persisted record of one run.
type Report struct {
	Timestamp  time.Time           `json:"report_timestamp"`
	RunID      string              `json:"run_id,omitempty"`
	Status     model.RunStatus     `json:"status,omitempty"`
	Document   DocumentInfo        `json:"pdf_info"`
	Names      *NamesInfo          `json:"gnfinder_info,omitempty"`
	Extraction ExtractionInfo      `json:"llm_extraction_info"`
	Project    model.ProjectConfig `json:"project_config_used"`
}

// Input gathers what a report is built from. Discovery is nil when the
// entity list did not come from the name finder.
type Input struct {
	Run *model.Run
	// FileName overrides the document name recorded on the run.
	FileName  string
	Results   []model.Result
	Discovery *taxon.Discovery
	NamesURL  string
	Pages     string
}

// Build assembles the report for a run at now.
func Build(in Input, now time.Time) *Report {
	run := in.Run
	if run == nil {
		run = &model.Run{}
	}
	s := run.Settings

	r := &Report{
		Timestamp: now,
		RunID:     run.ID,
		Status:    run.Status,
		Document: DocumentInfo{
			FileName:  cmp.Or(in.FileName, run.Document),
			CharCount: run.CharCount,
			Pages:     in.Pages,
		},
		Extraction: ExtractionInfo{
			Method:           s.Strategy,
			Provider:         s.Provider,
			Model:            s.Model,
			Temperature:      s.Temperature,
			ContextBefore:    s.ContextBefore,
			ContextAfter:     s.ContextAfter,
			Concurrency:      s.Concurrency,
			TotalExamples:    len(run.Project.Examples),
			Examples:         run.Project.Examples,
			SpeciesAssessed:  len(in.Results),
			RuntimeSeconds:   float64(run.Totals.ElapsedMs) / 1000,
			InputTokens:      run.Totals.InputTokens,
			OutputTokens:     run.Totals.OutputTokens,
			EstimatedCostUSD: run.Totals.EstimatedCostUSD,
			Summary:          []aggregate.ValueCount{},
			Results:          in.Results,
		},
		Project: run.Project,
	}
	if s.Strategy == model.StrategyPartialPage {
		r.Extraction.TopChars = s.TopChars
		r.Extraction.BottomChars = s.BottomChars
	}
	if r.Extraction.Examples == nil {
		r.Extraction.Examples = []model.Example{}
	}
	if r.Extraction.Results == nil {
		r.Extraction.Results = []model.Result{}
	}
	if len(run.Project.DataFields) > 0 && len(in.Results) > 0 {
		r.Extraction.Summary = aggregate.Summarize(in.Results, run.Project.DataFields[0].Name)
	}

	if d := in.Discovery; d != nil {
		final := d.Final
		if final == nil {
			final = []model.NameMatch{}
		}
		r.Names = &NamesInfo{
			URL:             in.NamesURL,
			Raw:             d.RawCount,
			Initial:         d.InitialCount,
			TaxonomyApplied: d.TaxonomyApplied,
			Rank:            d.Rank,
			Taxon:           d.Taxon,
			Final:           len(d.Final),
			FinalList:       final,
		}
	}
	return r
}

// FileName returns the report file name for a timestamp.
func FileName(ts time.Time) string {
	return "ecoparse_report_" + ts.Format(fileTimeLayout) + ".json"
}

// Write saves r as indented JSON under dir, creating dir if needed, and
// returns the file path.
func Write(dir string, r *Report) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "report: create dir %s", dir)
	}

	data, err := json.MarshalIndent(r, "", "    ")
	if err != nil {
		return "", eris.Wrap(err, "report: marshal")
	}

	path := filepath.Join(dir, FileName(r.Timestamp))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", eris.Wrapf(err, "report: write %s", path)
	}

	zap.L().Info("report: saved",
		zap.String("path", path),
		zap.String("run_id", r.RunID),
		zap.Int("results", len(r.Extraction.Results)),
	)
	return path, nil
}
