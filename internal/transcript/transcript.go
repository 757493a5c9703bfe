// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch

// Package transcript streams newline-delimited conversation records from a
// coding assistant's JSONL transcript files and reconstructs typed
// messages from the three envelope shapes those files use.
package transcript

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
	"time"
)

// maxLineSize bounds a single scanned line; individual messages can run to
// several hundred KB (large tool outputs), so the default bufio.Scanner
// buffer is too small.
const maxLineSize = 8 * 1024 * 1024

// Role identifies who produced a message.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleTool       Role = "tool"
	RoleReflection Role = "user_reflection"
)

// ItemType tags one element of a structured content sequence.
type ItemType string

const (
	ItemText       ItemType = "text"
	ItemToolUse    ItemType = "tool_use"
	ItemToolResult ItemType = "tool_result"
)

// ContentItem is one element of a message's structured content sequence.
// Content is a sum type (Text(str) | Items(Seq<Item>)); ContentItem plays
// the role of Item, discriminated on Type.
type ContentItem struct {
	Type        ItemType
	Text        string
	ToolUseID   string
	ToolName    string
	ToolInput   map[string]any
	ToolResult  string
	ToolIsError bool
}

// ToolUse describes a tool invocation found in a message's content.
type ToolUse struct {
	Name  string
	Input map[string]any
}

// Message is one reconstructed entry in the conversation.
type Message struct {
	Role      Role
	Text      string
	ToolUses  []ToolUse
	Timestamp time.Time
	HasTime   bool
}

// rawRecord is the union of the three on-disk envelope shapes: a top-level
// {message:{role,content}} wrapper, a direct {role,content} object, or a
// bare event the parser otherwise ignores for text purposes.
type rawRecord struct {
	Message   *rawMessage `json:"message"`
	Role      string      `json:"role"`
	Content   any         `json:"content"`
	Timestamp string      `json:"timestamp"`
}

type rawMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type rawContentItem struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Input     any    `json:"input"`
	ToolUseID string `json:"tool_use_id"`
	Content   any    `json:"content"`
	IsError   bool   `json:"is_error"`
}

// ReadFunc is invoked once per successfully parsed message, in file order.
type ReadFunc func(Message)

// Parse streams r line by line and invokes fn for every message it can
// reconstruct. Malformed JSON lines and blank lines are skipped, never
// aborting the rest of the file; tool_result items are paired with their
// originating tool_use in a first pass over the buffered line slice, which
// keeps memory at O(file size) for one file at a time rather than O(corpus).
func Parse(r io.Reader, fn ReadFunc) error {
	lines, err := collectLines(r)
	if err != nil {
		return err
	}

	toolOutputs := buildToolOutputIndex(lines)

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec rawRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			// Malformed record: logged by the caller at debug level if it
			// wants to; the parser itself never aborts the file.
			continue
		}
		msg, ok := toMessage(rec, toolOutputs)
		if !ok {
			continue
		}
		fn(msg)
	}
	return nil
}

func collectLines(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return lines, err
	}
	return lines, nil
}

// buildToolOutputIndex does the first pass described in spec.md §4.B:
// collect tool_use_id -> rendered tool_result text across the whole file
// before any message is reconstructed, so a tool_use appearing earlier
// than its tool_result can still be annotated with its output.
func buildToolOutputIndex(lines []string) map[string]string {
	outputs := make(map[string]string)
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec rawRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		content := extractContent(rec)
		items, ok := content.([]any)
		if !ok {
			continue
		}
		for _, raw := range items {
			b, err := json.Marshal(raw)
			if err != nil {
				continue
			}
			var item rawContentItem
			if err := json.Unmarshal(b, &item); err != nil {
				continue
			}
			if item.Type != string(ItemToolResult) || item.ToolUseID == "" {
				continue
			}
			outputs[item.ToolUseID] = stringifyContent(item.Content)
		}
	}
	return outputs
}

func extractContent(rec rawRecord) any {
	if rec.Message != nil {
		return rec.Message.Content
	}
	return rec.Content
}

func extractRole(rec rawRecord) string {
	if rec.Message != nil && rec.Message.Role != "" {
		return rec.Message.Role
	}
	return rec.Role
}

func toMessage(rec rawRecord, toolOutputs map[string]string) (Message, bool) {
	role := extractRole(rec)
	if role == "" {
		return Message{}, false
	}
	content := extractContent(rec)

	msg := Message{Role: Role(role)}
	if rec.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339, rec.Timestamp); err == nil {
			msg.Timestamp = t
			msg.HasTime = true
		}
	}

	switch v := content.(type) {
	case string:
		msg.Text = v
	case []any:
		var textParts []string
		for _, raw := range v {
			b, err := json.Marshal(raw)
			if err != nil {
				continue
			}
			var item rawContentItem
			if err := json.Unmarshal(b, &item); err != nil {
				continue
			}
			switch ItemType(item.Type) {
			case ItemText:
				if item.Text != "" {
					textParts = append(textParts, item.Text)
				}
			case ItemToolUse:
				input, _ := item.Input.(map[string]any)
				msg.ToolUses = append(msg.ToolUses, ToolUse{Name: item.Name, Input: input})
				textParts = append(textParts, renderToolUse(item.Name, input))
				if out, ok := toolOutputs[item.ID]; ok && out != "" {
					textParts = append(textParts, out)
				}
			case ItemToolResult:
				// Rendered inline where the matching tool_use appears.
				// A tool_result without a tool_use_id contributes its own
				// text here; one that carries an id is not rendered
				// anywhere when no tool_use in the file has that id.
				if item.ToolUseID == "" {
					textParts = append(textParts, stringifyContent(item.Content))
				}
			}
		}
		msg.Text = strings.Join(textParts, "\n")
	case nil:
		// bare event with no content; still a valid, if textless, message
	}

	return msg, true
}

func renderToolUse(name string, input map[string]any) string {
	b, err := json.Marshal(input)
	if err != nil {
		return name
	}
	return name + " " + string(b)
}

func stringifyContent(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
