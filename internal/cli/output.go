// Package cli formats command output for memograph.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hyperjump/memograph/internal/graph"
	"github.com/hyperjump/memograph/internal/importer"
	"github.com/hyperjump/memograph/internal/models"
	"github.com/hyperjump/memograph/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a -output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("%w: output format %q (want text or json)", models.ErrInvalidInput, s)
}

const rule = "─────────────────────────────────────────────────────────"

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", response.Total, response.QueryTime)
	for _, result := range response.Results {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "Rank: %d | Score: %.4f (Keyword: %.4f, Semantic: %.4f)\n",
			result.Rank, result.Score, result.KeywordScore, result.SemanticScore)
		if result.Note == nil {
			continue
		}
		fmt.Fprintf(w, "ID: %d\n", result.Note.ID)
		fmt.Fprintf(w, "Title: %s\n", result.Note.Title)
		if result.Note.Preview != "" {
			fmt.Fprintf(w, "\n%s\n", utils.Truncate(result.Note.Preview, 200))
		}
		fmt.Fprintln(w)
	}
	return nil
}

// WriteNotes writes a note listing.
func WriteNotes(w io.Writer, notes []*models.NoteSummary, format OutputFormat) error {
	if format == OutputJSON {
		if notes == nil {
			notes = []*models.NoteSummary{}
		}
		return writeJSON(w, notes)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tCREATED\tSTATUS\tPREVIEW")
	for _, n := range notes {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", n.ID, utils.Truncate(n.Title, 40), n.CreatedDate, n.Status, utils.Truncate(n.Preview, 60))
	}
	return tw.Flush()
}

// WriteSimilar writes the related notes of noteID, best first.
func WriteSimilar(w io.Writer, noteID int64, similar []*models.SimilarNote, format OutputFormat) error {
	if format == OutputJSON {
		if similar == nil {
			similar = []*models.SimilarNote{}
		}
		return writeJSON(w, similar)
	}
	if len(similar) == 0 {
		fmt.Fprintf(w, "No notes similar to %d\n", noteID)
		return nil
	}
	fmt.Fprintf(w, "Notes similar to %d:\n", noteID)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSCORE\tTITLE")
	for _, s := range similar {
		fmt.Fprintf(tw, "%d\t%.4f\t%s\n", s.NoteID, s.Score, s.Title)
	}
	return tw.Flush()
}

// WriteGraph writes a graph snapshot. Text output lists edges with endpoint titles.
func WriteGraph(w io.Writer, snapshot *models.GraphSnapshot, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, snapshot)
	}
	titles := make(map[int64]string, len(snapshot.Nodes))
	for _, n := range snapshot.Nodes {
		titles[n.ID] = n.Title
	}
	fmt.Fprintf(w, "%d nodes, %d edges\n", len(snapshot.Nodes), len(snapshot.Edges))
	if len(snapshot.Edges) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tSOURCE\tTARGET")
	for _, e := range snapshot.Edges {
		fmt.Fprintf(tw, "%.4f\t%d %s\t%d %s\n", e.Score, e.Source, titles[e.Source], e.Target, titles[e.Target])
	}
	return tw.Flush()
}

// Status is the payload of the status command.
type Status struct {
	*models.Stats
	DiskUsageBytes int64    `json:"disk_usage_bytes"`
	DatabasePath   string   `json:"database_path"`
	Dimensions     int      `json:"embedding_dimensions"`
	Threshold      float64  `json:"similarity_threshold"`
	Limit          int      `json:"similarity_limit"`
	Policy         string   `json:"similarity_policy"`
	Directories    []string `json:"watch_directories,omitempty"`
}

// WriteStatus writes collection statistics and the effective settings.
func WriteStatus(w io.Writer, st *Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Notes:\t%d (%d vectorized)\n", st.Notes, st.VectorizedNotes)
	fmt.Fprintf(tw, "Paragraph vectors:\t%d\n", st.ParagraphVectors)
	fmt.Fprintf(tw, "Edges:\t%d\n", st.Edges)
	fmt.Fprintf(tw, "Disk usage:\t%s\n", humanize.Bytes(uint64(st.DiskUsageBytes)))
	fmt.Fprintf(tw, "Database:\t%s\n", st.DatabasePath)
	fmt.Fprintf(tw, "Similarity:\tthreshold %.2f, limit %d, policy %s\n", st.Threshold, st.Limit, st.Policy)
	fmt.Fprintf(tw, "Embedding dimensions:\t%d\n", st.Dimensions)
	for _, d := range st.Directories {
		fmt.Fprintf(tw, "Watching:\t%s\n", d)
	}
	return tw.Flush()
}

// WriteRebuildReport writes the result of a rebuild.
func WriteRebuildReport(w io.Writer, r *graph.RebuildReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, r)
	}
	fmt.Fprintf(w, "Rebuilt %d notes in %s: %d vectorized, %d empty, %d failed, %d edges\n",
		r.Notes, r.Duration.Round(time.Millisecond), r.Vectorized, r.Empty, r.Failed, r.Edges)
	return nil
}

// WriteImportSummary writes the outcome of importing a directory.
func WriteImportSummary(w io.Writer, dir string, s *importer.Summary, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, struct {
			Directory string `json:"directory"`
			*importer.Summary
		}{dir, s})
	}
	fmt.Fprintf(w, "Imported %s: %d created, %d updated, %d unchanged, %d failed\n",
		dir, s.Created, s.Updated, s.Unchanged, s.Failed)
	for _, warning := range s.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
	return nil
}
