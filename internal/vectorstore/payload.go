// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package vectorstore

import (
	"encoding/json"
	"fmt"
	"time"

	qdrant "github.com/qdrant/go-client/qdrant"

	"github.com/northbound/reflect-index/internal/chunker"
	"github.com/northbound/reflect-index/internal/metadata"
)

// toQdrantPayload flattens a chunk's text, identity fields, and extracted
// metadata into Qdrant's string-keyed payload map. List/struct fields are
// JSON-encoded into single string values, mirroring the teacher's own
// UpdatePayload tags-as-JSON-string convention rather than inventing a
// nested-payload shape qdrant-go-client would need extra plumbing for.
func toQdrantPayload(c chunker.Chunk) (map[string]*qdrant.Value, error) {
	payload := map[string]*qdrant.Value{
		"text":             strVal(c.Text),
		"chunk_index":      intVal(int64(c.Index)),
		"was_truncated":    boolVal(c.WasTruncated),
		"conversation_id":  strVal(c.ConversationID),
		"chunking_version": strVal(c.ChunkingVersion),
		"project":          strVal(c.Project),
		"source_file":      strVal(c.SourceFile),
		"timestamp":        strVal(c.Timestamp.UTC().Format(time.RFC3339)),
		"metadata_version": intVal(int64(c.MetadataVersion)),
		"type":             strVal(c.Type),
		"role":             strVal(c.Role),
		"project_path":     strVal(c.ProjectPath),
	}

	if err := putJSON(payload, "tags", c.Tags); err != nil {
		return nil, err
	}
	if err := putJSON(payload, "files_read", c.FilesRead); err != nil {
		return nil, err
	}
	if err := putJSON(payload, "files_edited", c.FilesEdited); err != nil {
		return nil, err
	}
	if err := putJSON(payload, "files_created", c.FilesCreated); err != nil {
		return nil, err
	}
	if err := putJSON(payload, "tools_summary", c.ToolsSummary); err != nil {
		return nil, err
	}
	if err := putJSON(payload, "grep_searches", c.GrepSearches); err != nil {
		return nil, err
	}
	if err := putJSON(payload, "bash_commands", c.BashCommands); err != nil {
		return nil, err
	}
	if err := putJSON(payload, "glob_patterns", c.GlobPatterns); err != nil {
		return nil, err
	}
	if err := putJSON(payload, "task_calls", c.TaskCalls); err != nil {
		return nil, err
	}
	if err := putJSON(payload, "web_searches", c.WebSearches); err != nil {
		return nil, err
	}
	if err := putJSON(payload, "git_file_changes", c.GitFileChanges); err != nil {
		return nil, err
	}
	if err := putJSON(payload, "tool_outputs", c.ToolOutputs); err != nil {
		return nil, err
	}
	if err := putJSON(payload, "concepts", c.Concepts); err != nil {
		return nil, err
	}

	return payload, nil
}

// fromQdrantPayload reverses toQdrantPayload. Any field absent or
// malformed in a stored payload (e.g. written by an older metadata
// version) is left at its zero value rather than failing the whole read.
func fromQdrantPayload(payload map[string]*qdrant.Value) chunker.Chunk {
	var c chunker.Chunk
	c.Text = getStr(payload, "text")
	c.Index = int(getInt(payload, "chunk_index"))
	c.WasTruncated = getBool(payload, "was_truncated")
	c.ConversationID = getStr(payload, "conversation_id")
	c.ChunkingVersion = getStr(payload, "chunking_version")
	c.Project = getStr(payload, "project")
	c.SourceFile = getStr(payload, "source_file")
	c.MetadataVersion = int(getInt(payload, "metadata_version"))
	c.Type = getStr(payload, "type")
	c.Role = getStr(payload, "role")
	c.ProjectPath = getStr(payload, "project_path")
	if ts := getStr(payload, "timestamp"); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			c.Timestamp = parsed
		}
	}

	getJSON(payload, "tags", &c.Tags)
	getJSON(payload, "files_read", &c.FilesRead)
	getJSON(payload, "files_edited", &c.FilesEdited)
	getJSON(payload, "files_created", &c.FilesCreated)
	getJSON(payload, "tools_summary", &c.ToolsSummary)
	getJSON(payload, "grep_searches", &c.GrepSearches)
	getJSON(payload, "bash_commands", &c.BashCommands)
	getJSON(payload, "glob_patterns", &c.GlobPatterns)
	getJSON(payload, "task_calls", &c.TaskCalls)
	getJSON(payload, "web_searches", &c.WebSearches)
	var git []metadata.GitFileChange
	getJSON(payload, "git_file_changes", &git)
	c.GitFileChanges = git
	getJSON(payload, "tool_outputs", &c.ToolOutputs)
	getJSON(payload, "concepts", &c.Concepts)

	return c
}

func toMatches(points []*qdrant.ScoredPoint, collection string) ([]Match, error) {
	matches := make([]Match, 0, len(points))
	for _, p := range points {
		var id uint64
		if p.Id != nil {
			id = p.Id.GetNum()
		}
		matches = append(matches, Match{
			ID:         id,
			Score:      p.Score,
			Payload:    fromQdrantPayload(p.Payload),
			Collection: collection,
		})
	}
	return matches, nil
}

func putJSON(payload map[string]*qdrant.Value, key string, v any) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("vectorstore: encode %s: %w", key, err)
	}
	payload[key] = strVal(string(encoded))
	return nil
}

func getJSON(payload map[string]*qdrant.Value, key string, dst any) {
	raw := getStr(payload, key)
	if raw == "" {
		return
	}
	_ = json.Unmarshal([]byte(raw), dst)
}

func strVal(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func intVal(i int64) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: i}}
}

func boolVal(b bool) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: b}}
}

func getStr(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok && v != nil {
		return v.GetStringValue()
	}
	return ""
}

func getInt(payload map[string]*qdrant.Value, key string) int64 {
	if v, ok := payload[key]; ok && v != nil {
		return v.GetIntegerValue()
	}
	return 0
}

func getBool(payload map[string]*qdrant.Value, key string) bool {
	if v, ok := payload[key]; ok && v != nil {
		return v.GetBoolValue()
	}
	return false
}
