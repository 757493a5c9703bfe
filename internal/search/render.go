// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package search

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/northbound/reflect-index/internal/metadata"
)

const (
	excerptMaxChars = 350
	titleMaxChars   = 80
	keyFindingChars = 100
	filesShown      = 10
	topPatternCount = 10
)

func render(hits []result, opts Options, scopeProject string, timing Timing) string {
	if strings.EqualFold(opts.ResponseFormat, "markdown") {
		return renderMarkdown(hits, opts, scopeProject)
	}
	return renderXML(hits, opts, scopeProject, timing)
}

func renderMarkdown(hits []result, opts Options, scopeProject string) string {
	var b strings.Builder
	scope := scopeProject
	if scope == "" {
		scope = "all projects"
	}
	fmt.Fprintf(&b, "# Reflections on \"%s\" (%s)\n\n", opts.Query, scope)
	if len(hits) == 0 {
		b.WriteString("No matches found.\n")
		return b.String()
	}
	for i, h := range hits {
		excerpt := excerptOf(h.Chunk.Text)
		fmt.Fprintf(&b, "%d. **[%.2f]** %s — %s\n", i+1, h.Score, relativeTime(h.Chunk.Timestamp), titleOf(excerpt))
		fmt.Fprintf(&b, "   %s\n\n", keyFindingOf(excerpt))
	}
	return b.String()
}

func renderXML(hits []result, opts Options, scopeProject string, timing Timing) string {
	var b strings.Builder

	scope := scopeProject
	if scope == "" {
		scope = "all"
	}
	minScore, maxScore := scoreRange(hits)

	fmt.Fprintf(&b, "Found %d result(s) for \"%s\" in scope %q.\n\n", len(hits), opts.Query, scope)
	b.WriteString("<reflection>\n")
	fmt.Fprintf(&b, "  <meta query=%q scope=%q count=\"%d\" min-score=\"%.3f\" max-score=\"%.3f\">\n",
		opts.Query, scope, len(hits), minScore, maxScore)
	b.WriteString("    <timing>\n")
	fmt.Fprintf(&b, "      <parse-params-ms>%.2f</parse-params-ms>\n", timing.ParseParams.Seconds()*1000)
	fmt.Fprintf(&b, "      <resolve-scope-ms>%.2f</resolve-scope-ms>\n", timing.ResolveScope.Seconds()*1000)
	fmt.Fprintf(&b, "      <embed-ms>%.2f</embed-ms>\n", timing.Embed.Seconds()*1000)
	fmt.Fprintf(&b, "      <collection-scan-ms>%.2f</collection-scan-ms>\n", timing.CollectionScan.Seconds()*1000)
	fmt.Fprintf(&b, "      <boost-ms>%.2f</boost-ms>\n", timing.Boost.Seconds()*1000)
	fmt.Fprintf(&b, "      <sort-ms>%.2f</sort-ms>\n", timing.Sort.Seconds()*1000)
	b.WriteString("    </timing>\n")
	b.WriteString("  </meta>\n")

	b.WriteString("  <results>\n")
	for i, h := range hits {
		renderResult(&b, i+1, h, opts)
	}
	b.WriteString("  </results>\n")

	renderPatternIntelligence(&b, hits)

	b.WriteString("</reflection>\n")
	return b.String()
}

func renderResult(b *strings.Builder, rank int, h result, opts Options) {
	excerpt := excerptOf(h.Chunk.Text)
	title := titleOf(excerpt)
	keyFinding := keyFindingOf(excerpt)

	fmt.Fprintf(b, "    <result rank=\"%d\" score=\"%.4f\" project=%q time=%q>\n",
		rank, h.Score, h.Chunk.Project, relativeTime(h.Chunk.Timestamp))
	fmt.Fprintf(b, "      <title>%s</title>\n", xmlEscape(title))
	fmt.Fprintf(b, "      <key-finding>%s</key-finding>\n", xmlEscape(keyFinding))
	if opts.Brief {
		fmt.Fprintf(b, "      <excerpt>%s</excerpt>\n", xmlEscape(truncate(h.Chunk.Text, excerptMaxChars)))
	} else {
		fmt.Fprintf(b, "      <excerpt><![CDATA[%s]]></excerpt>\n", h.Chunk.Text)
	}
	if opts.IncludeRaw {
		fmt.Fprintf(b, "      <raw conversation-id=%q source-file=%q chunking-version=%q/>\n",
			h.Chunk.ConversationID, h.Chunk.SourceFile, h.Chunk.ChunkingVersion)
	}

	renderFiles(b, h.Chunk.Extracted)
	renderConcepts(b, h.Chunk.Extracted)
	renderTools(b, h.Chunk.Extracted)
	renderCodePatterns(b, h.Chunk.Extracted)

	b.WriteString("    </result>\n")
}

func renderFiles(b *strings.Builder, ex metadata.Extracted) {
	if len(ex.FilesRead) == 0 && len(ex.FilesEdited) == 0 {
		return
	}
	b.WriteString("      <files>\n")
	writeFileList(b, "analyzed", ex.FilesRead)
	writeFileList(b, "edited", ex.FilesEdited)
	b.WriteString("      </files>\n")
}

func writeFileList(b *strings.Builder, tag string, files []string) {
	if len(files) == 0 {
		return
	}
	shown := files
	more := 0
	if len(shown) > filesShown {
		more = len(shown) - filesShown
		shown = shown[:filesShown]
	}
	fmt.Fprintf(b, "        <%s>\n", tag)
	for _, f := range shown {
		fmt.Fprintf(b, "          <file>%s</file>\n", xmlEscape(f))
	}
	if more > 0 {
		fmt.Fprintf(b, "          <more count=\"%d\"/>\n", more)
	}
	fmt.Fprintf(b, "        </%s>\n", tag)
}

func renderConcepts(b *strings.Builder, ex metadata.Extracted) {
	if len(ex.Concepts) == 0 {
		return
	}
	b.WriteString("      <concepts>\n")
	for _, c := range ex.Concepts {
		fmt.Fprintf(b, "        <concept>%s</concept>\n", xmlEscape(c))
	}
	b.WriteString("      </concepts>\n")
}

func renderTools(b *strings.Builder, ex metadata.Extracted) {
	if len(ex.ToolsSummary) == 0 {
		return
	}
	names := make([]string, 0, len(ex.ToolsSummary))
	for name := range ex.ToolsSummary {
		names = append(names, name)
	}
	sort.Strings(names)
	b.WriteString("      <tools>\n")
	for _, name := range names {
		fmt.Fprintf(b, "        <tool name=%q count=\"%d\"/>\n", name, ex.ToolsSummary[name])
	}
	b.WriteString("      </tools>\n")
}

func renderCodePatterns(b *strings.Builder, ex metadata.Extracted) {
	if len(ex.GitFileChanges) == 0 {
		return
	}
	byStatus := map[string][]string{}
	for _, c := range ex.GitFileChanges {
		byStatus[c.Status] = append(byStatus[c.Status], c.Path)
	}
	statuses := make([]string, 0, len(byStatus))
	for s := range byStatus {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)

	b.WriteString("      <code-patterns>\n")
	for _, s := range statuses {
		fmt.Fprintf(b, "        <category name=%q>\n", s)
		for _, p := range byStatus[s] {
			fmt.Fprintf(b, "          <path>%s</path>\n", xmlEscape(p))
		}
		b.WriteString("        </category>\n")
	}
	b.WriteString("      </code-patterns>\n")
}

// renderPatternIntelligence aggregates across all rendered hits: unique
// patterns, the top common ones, category coverage, referenced files, and
// discussed concepts (spec.md §4.L step 7's closing section).
func renderPatternIntelligence(b *strings.Builder, hits []result) {
	fileCounts := map[string]int{}
	conceptCounts := map[string]int{}
	categories := map[string]bool{}

	for _, h := range hits {
		for _, f := range h.Chunk.FilesEdited {
			fileCounts[f]++
		}
		for _, f := range h.Chunk.FilesRead {
			fileCounts[f]++
		}
		for _, c := range h.Chunk.Concepts {
			conceptCounts[c]++
		}
		for _, g := range h.Chunk.GitFileChanges {
			categories[g.Status] = true
		}
	}

	b.WriteString("  <pattern-intelligence>\n")
	fmt.Fprintf(b, "    <unique-patterns>%d</unique-patterns>\n", len(fileCounts)+len(conceptCounts))
	fmt.Fprintf(b, "    <category-coverage>%d</category-coverage>\n", len(categories))
	writeTopN(b, "referenced-files", "file", fileCounts, topPatternCount)
	writeTopN(b, "discussed-concepts", "concept", conceptCounts, topPatternCount)
	b.WriteString("  </pattern-intelligence>\n")
}

func writeTopN(b *strings.Builder, wrapper, tag string, counts map[string]int, n int) {
	if len(counts) == 0 {
		return
	}
	type entry struct {
		name  string
		count int
	}
	entries := make([]entry, 0, len(counts))
	for name, count := range counts {
		entries = append(entries, entry{name, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].name < entries[j].name
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	fmt.Fprintf(b, "    <%s>\n", wrapper)
	for _, e := range entries {
		fmt.Fprintf(b, "      <%s count=\"%d\">%s</%s>\n", tag, e.count, xmlEscape(e.name), tag)
	}
	fmt.Fprintf(b, "    </%s>\n", wrapper)
}

func scoreRange(hits []result) (min, max float32) {
	if len(hits) == 0 {
		return 0, 0
	}
	min, max = hits[0].Score, hits[0].Score
	for _, h := range hits[1:] {
		if h.Score < min {
			min = h.Score
		}
		if h.Score > max {
			max = h.Score
		}
	}
	return min, max
}

func excerptOf(text string) string {
	return truncate(strings.TrimSpace(text), excerptMaxChars)
}

func titleOf(excerpt string) string {
	line := excerpt
	if idx := strings.IndexByte(excerpt, '\n'); idx >= 0 {
		line = excerpt[:idx]
	}
	return truncate(line, titleMaxChars)
}

func keyFindingOf(excerpt string) string {
	return strings.TrimSpace(truncate(excerpt, keyFindingChars))
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func xmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}

// relativeTime renders a timestamp per spec.md §4.L step 7: "today",
// "yesterday", or "Nd" for older dates.
func relativeTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	days := int(time.Since(t).Hours() / 24)
	switch {
	case days <= 0:
		return "today"
	case days == 1:
		return "yesterday"
	default:
		return fmt.Sprintf("%dd", days)
	}
}
