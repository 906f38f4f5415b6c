package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/Aman-CERP/pdfrag/internal/backend"
	"github.com/Aman-CERP/pdfrag/internal/citation"
	"github.com/Aman-CERP/pdfrag/internal/elastic"
	"github.com/Aman-CERP/pdfrag/internal/ingest"
	"github.com/Aman-CERP/pdfrag/internal/retrieve"
)

// SearchView is the JSON shape of a search.
type SearchView struct {
	Query       string              `json:"query"`
	Mode        retrieve.Mode       `json:"mode"`
	Answer      string              `json:"answer,omitempty"`
	Citations   []citation.Citation `json:"citations"`
	Candidates  int                 `json:"candidates,omitempty"`
	Unavailable []UnavailableSource `json:"unavailable,omitempty"`
}

// UnavailableSource is a source left out of a search.
type UnavailableSource struct {
	Source   retrieve.SourceName `json:"source"`
	Error    string              `json:"error"`
	TimedOut bool                `json:"timed_out"`
	Elapsed  string              `json:"elapsed"`
}

// NewSearchView builds the JSON view. Provenance and candidate counts are
// kept only when explain is set.
func NewSearchView(resp *retrieve.Response, cits []citation.Citation, explain bool) SearchView {
	v := SearchView{Query: resp.Query, Mode: resp.Mode, Citations: cits}
	if len(cits) == 0 {
		v.Answer = citation.NoAnswer
		v.Citations = []citation.Citation{}
	}
	if !explain {
		trimmed := make([]citation.Citation, len(v.Citations))
		for i, c := range v.Citations {
			c.Provenance = nil
			trimmed[i] = c
		}
		v.Citations = trimmed
		return v
	}
	v.Candidates = resp.Candidates
	for _, f := range resp.Unavailable {
		u := UnavailableSource{Source: f.Source, TimedOut: f.TimedOut, Elapsed: f.Elapsed.Round(time.Millisecond).String()}
		if f.Err != nil {
			u.Error = f.Err.Error()
		}
		v.Unavailable = append(v.Unavailable, u)
	}
	return v
}

// Search prints citations, or the no-answer line when there are none.
// With explain each result shows every source's rank and raw score, and
// failed sources are listed.
func (w *Writer) Search(resp *retrieve.Response, cits []citation.Citation, explain bool) {
	if len(cits) == 0 {
		_, _ = fmt.Fprintln(w.out, citation.NoAnswer)
	}

	for i, c := range cits {
		title := w.styles.Header.Render(fmt.Sprintf("%d. %s", i+1, c.Title))
		meta := w.styles.Label.Render(fmt.Sprintf("p.%d  [%s]", c.Page, c.Source))
		score := w.styles.Score.Render(fmt.Sprintf("%.4f", c.FusedScore))
		_, _ = fmt.Fprintf(w.out, "%s  %s  %s\n", title, meta, score)

		if loc := location(c); loc != "" {
			_, _ = fmt.Fprintf(w.out, "   %s\n", w.styles.Label.Render(loc))
		}
		_, _ = fmt.Fprintf(w.out, "   %s\n", strings.Join(strings.Fields(c.Snippet), " "))
		_, _ = fmt.Fprintf(w.out, "   %s\n", w.styles.Link.Render(c.Link))
		if explain {
			_, _ = fmt.Fprintf(w.out, "   %s %s\n", w.styles.Dim.Render(c.ChunkID), provenanceLine(c.Provenance))
		}
		if i < len(cits)-1 {
			_, _ = fmt.Fprintln(w.out)
		}
	}

	if !explain || resp == nil {
		return
	}
	_, _ = fmt.Fprintln(w.out)
	queried := make([]string, len(resp.Queried))
	for i, s := range resp.Queried {
		queried[i] = string(s)
	}
	_, _ = fmt.Fprintf(w.out, "%s %s  %s %s  %s %d\n",
		w.styles.Label.Render("mode:"), resp.Mode,
		w.styles.Label.Render("sources:"), strings.Join(queried, ","),
		w.styles.Label.Render("candidates:"), resp.Candidates)
	for _, f := range resp.Unavailable {
		reason := "failed"
		if f.TimedOut {
			reason = "timed out"
		}
		msg := fmt.Sprintf("%s unavailable (%s after %s)", f.Source, reason, f.Elapsed.Round(time.Millisecond))
		if f.Err != nil {
			msg += ": " + f.Err.Error()
		}
		w.Warning(msg)
	}
}

func location(c citation.Citation) string {
	var parts []string
	for _, s := range []string{c.PartSection, c.Section, c.Heading} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " > ")
}

func provenanceLine(p []retrieve.Provenance) string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = fmt.Sprintf("%s #%d (%.3f)", s.Source, s.Rank, s.RawScore)
	}
	return strings.Join(parts, "  ")
}

// Health prints one line per check and returns whether all passed.
func (w *Writer) Health(backendName string, checks []backend.Check) bool {
	w.Header("Health: " + backendName)
	ok := true
	for _, c := range checks {
		line := fmt.Sprintf("%-16s %s", c.Name, w.styles.Dim.Render(c.Duration.Round(time.Millisecond).String()))
		if c.Detail != "" {
			line += "  " + c.Detail
		}
		if c.OK {
			w.Success(line)
		} else {
			ok = false
			w.Error(line)
		}
	}
	return ok
}

// Setup prints the ELSER provisioning steps.
func (w *Writer) Setup(r *elastic.SetupReport) {
	w.Header("ELSER setup")
	for _, s := range r.Steps {
		line := s.Step
		if s.Detail != "" {
			line += ": " + s.Detail
		}
		switch {
		case s.Skipped:
			w.Status("⏭️ ", w.styles.Label.Render(line))
		case s.OK:
			w.Success(line)
		default:
			w.Error(line)
		}
	}
	if r.Updated > 0 {
		w.Statusf("", "%d existing chunks reprocessed", r.Updated)
	}
}

// IngestReport prints a folder ingest summary and each failure.
func (w *Writer) IngestReport(r *ingest.Report) {
	failed := r.Failed()
	done := len(r.Documents) - len(failed)
	summary := fmt.Sprintf("Ingested %d of %d PDFs (%d chunks) from %s in %s",
		done, len(r.Documents), r.Chunks(), r.Folder, r.Duration.Round(100*time.Millisecond))
	if len(failed) == 0 {
		w.Success(summary)
	} else {
		w.Warning(summary)
	}
	for _, d := range r.Documents {
		if d.Err == nil && d.EmptyPages > 0 {
			w.Statusf("", "%s: %d of %d pages had no text", d.DocumentID, d.EmptyPages, d.Pages)
		}
	}
	for _, d := range failed {
		w.Errorf("%s: %v", d.DocumentID, d.Err)
	}
}
