package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/waqasraza123/deep-research-agent/internal/artifacts"
)

// SourceRecord is one entry of sources.json.
type SourceRecord struct {
	SourceID  string   `json:"source_id"`
	URL       string   `json:"url"`
	Title     string   `json:"title"`
	LocalPath string   `json:"local_path"`
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
	Quotes    []string `json:"quotes"`
}

func renderPlan(rc RunContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Research plan\n\n## Question\n\n%s\n\n## Sources to read\n\n", rc.Question)
	if len(rc.URLs) == 0 {
		b.WriteString("- No sources were provided; the report can only state what is missing.\n")
	}
	for _, u := range rc.URLs {
		fmt.Fprintf(&b, "- %s (provided by the requester as primary evidence)\n", u)
	}
	fmt.Fprintf(&b, "\n## Limits\n\n- Max sources: %d\n- Max links per source: %d\n- Follow links: %t\n",
		rc.Limits.MaxSources, rc.Limits.MaxLinksPerSource, rc.Limits.FollowLinksEffective())
	b.WriteString("\n## Approach\n\n")
	b.WriteString("1. Fetch and store every provided source.\n")
	if rc.Limits.FollowLinksEffective() {
		b.WriteString("2. Follow the most relevant outgoing links until the source budget is used.\n")
	} else {
		b.WriteString("2. Stay on the provided sources only.\n")
	}
	b.WriteString("3. Record key facts and quotes per source in notes.md.\n")
	b.WriteString("4. Write report.md citing every claim with its source id.\n")
	return b.String()
}

func renderNotes(c collection) string {
	var b strings.Builder
	b.WriteString("# Notes\n")
	if len(c.sources) == 0 {
		b.WriteString("\nNo sources could be read for this run.\n")
	}
	for _, s := range c.sources {
		fmt.Fprintf(&b, "\n## [%s] %s\n\n- URL: %s\n", s.ID, s.Title, s.Metadata.URL)
		if s.Metadata.FinalURL != "" && s.Metadata.FinalURL != s.Metadata.URL {
			fmt.Fprintf(&b, "- Final URL: %s\n", s.Metadata.FinalURL)
		}
		fmt.Fprintf(&b, "- Stored text: %s\n", s.Metadata.LocalTextPath)
		if s.Metadata.Truncated {
			b.WriteString("- Content was truncated at the page size limit.\n")
		}
		b.WriteString("\n### Key facts\n\n")
		if len(s.KeyPoints) == 0 {
			b.WriteString("- No readable prose was extracted.\n")
		}
		for _, point := range s.KeyPoints {
			fmt.Fprintf(&b, "- %s\n", point)
		}
		if len(s.Quotes) > 0 {
			b.WriteString("\n### Quotes\n\n")
			for _, quote := range s.Quotes {
				fmt.Fprintf(&b, "> %s\n\n", quote)
			}
		}
	}
	if len(c.failures) > 0 {
		b.WriteString("\n## Unavailable sources\n\n")
		for _, f := range c.failures {
			fmt.Fprintf(&b, "- %s: %s\n", f.URL, f.Reason)
		}
	}
	return b.String()
}

func renderSources(c collection) ([]byte, error) {
	records := make([]SourceRecord, 0, len(c.sources))
	for _, s := range c.sources {
		records = append(records, SourceRecord{
			SourceID:  s.ID,
			URL:       s.Metadata.URL,
			Title:     s.Title,
			LocalPath: s.Metadata.LocalTextPath,
			Summary:   s.Summary,
			KeyPoints: append([]string{}, s.KeyPoints...),
			Quotes:    append([]string{}, s.Quotes...),
		})
	}
	return json.MarshalIndent(records, "", "  ")
}

// renderReport writes the deterministic report used when no model is
// configured: findings grouped per source, each line cited.
func renderReport(rc RunContext, c collection) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n## Executive summary\n\n", rc.Question)
	if len(c.sources) == 0 {
		b.WriteString("No source could be fetched, so no findings are reported. ")
		b.WriteString("Provide reachable http(s) URLs and run again.\n")
	} else {
		for _, s := range c.sources {
			fmt.Fprintf(&b, "- %s [%s]\n", s.Summary, s.ID)
		}
	}
	if len(c.sources) > 0 {
		b.WriteString("\n## Findings\n")
		for _, s := range c.sources {
			fmt.Fprintf(&b, "\n### %s [%s]\n\n", s.Title, s.ID)
			if len(s.KeyPoints) == 0 {
				fmt.Fprintf(&b, "- The source returned no readable prose [%s].\n", s.ID)
			}
			for _, point := range s.KeyPoints {
				fmt.Fprintf(&b, "- %s [%s]\n", point, s.ID)
			}
		}
	}
	b.WriteString("\n## Conclusion\n\n")
	if len(c.sources) > 0 {
		fmt.Fprintf(&b, "The findings above are drawn from %d source(s); each claim cites the source it came from.\n", len(c.sources))
	} else {
		b.WriteString("The question remains open.\n")
	}
	b.WriteString("\n## Assumptions\n\n")
	b.WriteString("- Sources were read as fetched; no claims were verified beyond them.\n")
	if len(c.failures) > 0 {
		fmt.Fprintf(&b, "- %d source(s) could not be used; see notes.md.\n", len(c.failures))
	}
	b.WriteString(renderReferences(c))
	return b.String()
}

func renderReferences(c collection) string {
	if len(c.sources) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n## Sources\n\n")
	for _, s := range c.sources {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", s.ID, s.Title, s.Metadata.URL)
	}
	return b.String()
}

func renderSummary(rc RunContext, c collection) string {
	lines := []string{fmt.Sprintf("Researched: %s", rc.Question)}
	lines = append(lines, fmt.Sprintf("Sources read: %d; unavailable: %d.", len(c.sources), len(c.failures)))
	for _, s := range firstSources(c.sources, 6) {
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", s.ID, s.Title, clip(s.Summary, 160)))
	}
	lines = append(lines, fmt.Sprintf("Report written to runs/%s/%s.", rc.RunID, artifacts.ReportFile))
	return strings.Join(lines, "\n")
}

func firstSources(sources []Source, n int) []Source {
	if len(sources) > n {
		return sources[:n]
	}
	return sources
}
