// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch

// Package metadata extracts structured fields (files touched, tools used,
// concepts, git changes) from a stream of transcript messages, for
// embedding into chunk payloads alongside the reconstructed text.
package metadata

import (
	"regexp"
	"strings"

	"github.com/northbound/reflect-index/internal/transcript"
)

const (
	maxFiles       = 20
	maxFilesSmall  = 10
	maxTools       = 20
	maxConcepts    = 15
	maxToolOutputs = 15
	maxOutputChars = 500
	conceptScanCap = 50 * 1024
)

// semantic tool-name classes. The assistant's actual tool names vary
// (Edit/Write/str_replace_editor/...), so classification is by prefix/
// substring match against this fixed dispatch table rather than an exact
// name enum -- this mirrors the "closed set of semantic roles, open set of
// literal tool names" shape described in spec.md §4.C/§9.
var (
	readToolNames   = []string{"read", "cat", "view", "file_read"}
	editToolNames   = []string{"edit", "str_replace", "notebookedit", "multiedit"}
	writeToolNames  = []string{"write", "create"}
	searchToolNames = []string{"grep", "search", "ripgrep"}
	shellToolNames  = []string{"bash", "shell", "exec", "run_command"}
	globToolNames   = []string{"glob", "find", "list_dir"}
	taskToolNames   = []string{"task", "subtask", "agent"}
	webToolNames    = []string{"websearch", "webfetch", "fetch_url"}
)

// Extracted is the metadata record attached to every chunk produced from
// one transcript file. A zero value is safe to use: all slices/maps read
// as empty, never nil-deref (spec.md §9 open question (d)).
type Extracted struct {
	MetadataVersion int
	FilesRead       []string
	FilesEdited     []string
	FilesCreated    []string
	ToolsSummary    map[string]int
	GrepSearches    []string
	BashCommands    []string
	GlobPatterns    []string
	TaskCalls       []string
	WebSearches     []string
	GitFileChanges  []GitFileChange
	ToolOutputs     []string
	Concepts        []string
}

// GitFileChange is one parsed line from a git diff/show/status output.
type GitFileChange struct {
	Path   string
	Status string // "modified", "added", "deleted", "renamed"
}

const CurrentMetadataVersion = 2

// Extractor accumulates metadata across all messages of a single
// transcript file.
type Extractor struct {
	files     map[string]string // normalized path -> classification
	tools     map[string]int
	grep      []string
	bash      []string
	glob      []string
	task      []string
	web       []string
	git       []GitFileChange
	outputs   []string
	textSoFar strings.Builder
}

// NewExtractor creates an empty extractor for one file.
func NewExtractor() *Extractor {
	return &Extractor{
		files: make(map[string]string),
		tools: make(map[string]int),
	}
}

// Observe feeds one reconstructed message into the extractor.
func (e *Extractor) Observe(msg transcript.Message) {
	for _, tu := range msg.ToolUses {
		e.observeToolUse(tu)
	}
	if e.textSoFar.Len() < conceptScanCap {
		e.textSoFar.WriteString(msg.Text)
		e.textSoFar.WriteString("\n")
	}
}

func (e *Extractor) observeToolUse(tu transcript.ToolUse) {
	class := classifyTool(tu.Name)
	e.tools[tu.Name]++

	path, _ := tu.Input["file_path"].(string)
	if path == "" {
		path, _ = tu.Input["path"].(string)
	}

	switch class {
	case "read":
		if path != "" {
			e.files[normalizePath(path)] = "read"
		}
	case "edit":
		if path != "" {
			e.files[normalizePath(path)] = "edited"
		}
	case "write":
		if path != "" {
			e.files[normalizePath(path)] = "created"
		}
	case "search":
		if pattern, ok := tu.Input["pattern"].(string); ok {
			e.grep = appendBounded(e.grep, truncate(pattern, 200), maxToolOutputs)
		} else if q, ok := tu.Input["query"].(string); ok {
			e.grep = appendBounded(e.grep, truncate(q, 200), maxToolOutputs)
		}
	case "shell":
		if cmd, ok := tu.Input["command"].(string); ok {
			e.bash = appendBounded(e.bash, truncate(cmd, 200), maxToolOutputs)
			e.git = append(e.git, ParseGitOutput(cmd, "")...)
		}
	case "glob":
		if pattern, ok := tu.Input["pattern"].(string); ok {
			e.glob = appendBounded(e.glob, pattern, maxToolOutputs)
		}
	case "task":
		if desc, ok := tu.Input["description"].(string); ok {
			e.task = appendBounded(e.task, truncate(desc, 200), maxToolOutputs)
		}
	case "web":
		if q, ok := tu.Input["query"].(string); ok {
			e.web = appendBounded(e.web, truncate(q, 200), maxToolOutputs)
		}
	}
}

// ObserveToolOutput attaches a tool's rendered output for git-change
// parsing and bounded preview capture. Called by the watcher once a
// tool_result is paired with its tool_use during transcript parsing.
func (e *Extractor) ObserveToolOutput(toolName, command, output string) {
	if output == "" {
		return
	}
	e.outputs = appendBounded(e.outputs, truncate(output, maxOutputChars), maxToolOutputs)
	e.git = append(e.git, ParseGitOutput(command, output)...)
}

// Finish produces the bounded, deduplicated Extracted record.
func (e *Extractor) Finish() Extracted {
	var read, edited, created []string
	for path, class := range e.files {
		switch class {
		case "read":
			read = append(read, path)
		case "edited":
			edited = append(edited, path)
		case "created":
			created = append(created, path)
		}
	}

	return Extracted{
		MetadataVersion: CurrentMetadataVersion,
		FilesRead:       boundSlice(read, maxFiles),
		FilesEdited:     boundSlice(edited, maxFilesSmall),
		FilesCreated:    boundSlice(created, maxFilesSmall),
		ToolsSummary:    e.tools,
		GrepSearches:    e.grep,
		BashCommands:    e.bash,
		GlobPatterns:    e.glob,
		TaskCalls:       e.task,
		WebSearches:     e.web,
		GitFileChanges:  e.git,
		ToolOutputs:     e.outputs,
		Concepts:        ExtractConcepts(e.textSoFar.String()),
	}
}

func classifyTool(name string) string {
	lower := strings.ToLower(name)
	// Namespaced tool-protocol tools (mcp__server__tool) fall through to
	// "other" unless their suffix matches a known semantic class.
	if idx := strings.LastIndex(lower, "__"); idx >= 0 {
		lower = lower[idx+2:]
	}
	switch {
	case matchesAny(lower, readToolNames):
		return "read"
	case matchesAny(lower, editToolNames):
		return "edit"
	case matchesAny(lower, writeToolNames):
		return "write"
	case matchesAny(lower, searchToolNames):
		return "search"
	case matchesAny(lower, shellToolNames):
		return "shell"
	case matchesAny(lower, globToolNames):
		return "glob"
	case matchesAny(lower, taskToolNames):
		return "task"
	case matchesAny(lower, webToolNames):
		return "web"
	default:
		return "other"
	}
}

func matchesAny(s string, candidates []string) bool {
	for _, c := range candidates {
		if strings.Contains(s, c) {
			return true
		}
	}
	return false
}

// normalizePath canonicalizes a file path the way spec.md §4.C requires:
// tilde-expanded home prefix, forward slashes, no duplicate slashes.
func normalizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if home := homeDir(); home != "" && strings.HasPrefix(path, home) {
		path = "~" + strings.TrimPrefix(path, home)
	}
	return path
}

func appendBounded(s []string, v string, max int) []string {
	if len(s) >= max {
		return s
	}
	return append(s, v)
}

func boundSlice(s []string, max int) []string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// conceptPatterns is the fixed taxonomy table from spec.md §4.C, each
// concept keyed to one or more case-insensitive regexes.
var conceptPatterns = map[string]*regexp.Regexp{
	"security":       regexp.MustCompile(`(?i)\b(security|vulnerab|auth(entication|orization)|csrf|xss|injection|exploit|cve)\b`),
	"performance":    regexp.MustCompile(`(?i)\b(performance|latency|throughput|optimi[sz]e|bottleneck|profil(e|ing))\b`),
	"testing":        regexp.MustCompile(`(?i)\b(test|unit test|integration test|mock|assert|testify)\b`),
	"docker":         regexp.MustCompile(`(?i)\b(docker|container|dockerfile|compose)\b`),
	"api":            regexp.MustCompile(`(?i)\b(api|endpoint|rest|graphql|grpc)\b`),
	"database":       regexp.MustCompile(`(?i)\b(database|sql|postgres|mysql|sqlite|query|schema|migration)\b`),
	"authentication": regexp.MustCompile(`(?i)\b(login|oauth|jwt|session|token|password)\b`),
	"debugging":      regexp.MustCompile(`(?i)\b(debug|traceback|stack trace|panic|crash|bug)\b`),
	"refactoring":    regexp.MustCompile(`(?i)\b(refactor|cleanup|rename|extract|simplify)\b`),
	"deployment":     regexp.MustCompile(`(?i)\b(deploy|release|rollout|ci/cd|pipeline)\b`),
	"git":            regexp.MustCompile(`(?i)\b(git (diff|commit|merge|rebase|branch)|pull request|pr #)\b`),
	"architecture":   regexp.MustCompile(`(?i)\b(architecture|design pattern|microservice|monolith)\b`),
	"tool-protocol":  regexp.MustCompile(`(?i)\b(mcp|tool protocol|tool[- ]use)\b`),
	"embeddings":     regexp.MustCompile(`(?i)\b(embedding|vector|cosine similarity|semantic search)\b`),
	"search":         regexp.MustCompile(`(?i)\b(search|query|ranking|relevance)\b`),
}

// ExtractConcepts scans text (capped at the first ~50KB per spec.md §4.C)
// and returns the matched concept names, bounded and in table order.
func ExtractConcepts(text string) []string {
	if len(text) > conceptScanCap {
		text = text[:conceptScanCap]
	}
	var found []string
	for _, name := range conceptOrder {
		if conceptPatterns[name].MatchString(text) {
			found = append(found, name)
			if len(found) >= maxConcepts {
				break
			}
		}
	}
	return found
}

// conceptOrder fixes iteration order so results are deterministic (Go map
// iteration order is not).
var conceptOrder = []string{
	"security", "performance", "testing", "docker", "api", "database",
	"authentication", "debugging", "refactoring", "deployment", "git",
	"architecture", "tool-protocol", "embeddings", "search",
}

// gitDiffStatLine matches "path/to/file.go | 12 +++---" style stat lines.
var gitDiffStatLine = regexp.MustCompile(`^\s*(\S+)\s+\|\s+\d+`)

// gitShowNameStatus matches "M\tpath/to/file.go" style name-status lines.
var gitShowNameStatus = regexp.MustCompile(`^([AMDR])\d*\s+(.+)$`)

// gitStatusPorcelain matches " M path/to/file.go" style porcelain lines.
var gitStatusPorcelain = regexp.MustCompile(`^([ MADRC?]{2})\s+(.+)$`)

// ParseGitOutput recognizes the three git subcommand output shapes the
// original implementation special-cased: `git diff --stat`, `git show
// --name-status`, and `git status --porcelain`. The command string only
// gates parsing (it must mention git); every output line is tried against
// the name-status, porcelain and diff-stat patterns in that fixed order
// whatever the subcommand, since commands are free-form shell strings.
func ParseGitOutput(command, output string) []GitFileChange {
	if output == "" || !strings.Contains(strings.ToLower(command), "git") {
		return nil
	}
	var changes []GitFileChange
	for _, line := range strings.Split(output, "\n") {
		if m := gitShowNameStatus.FindStringSubmatch(line); m != nil {
			changes = append(changes, GitFileChange{Path: m[2], Status: gitStatusName(m[1])})
			continue
		}
		if m := gitStatusPorcelain.FindStringSubmatch(line); m != nil {
			changes = append(changes, GitFileChange{Path: strings.TrimSpace(m[2]), Status: gitStatusName(strings.TrimSpace(m[1]))})
			continue
		}
		if m := gitDiffStatLine.FindStringSubmatch(line); m != nil {
			changes = append(changes, GitFileChange{Path: m[1], Status: "modified"})
		}
	}
	return changes
}

func gitStatusName(code string) string {
	switch {
	case strings.Contains(code, "A"):
		return "added"
	case strings.Contains(code, "D"):
		return "deleted"
	case strings.Contains(code, "R"):
		return "renamed"
	case strings.Contains(code, "M"):
		return "modified"
	case code == "??":
		return "added"
	default:
		return "modified"
	}
}
