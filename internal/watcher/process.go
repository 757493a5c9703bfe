// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/northbound/reflect-index/internal/chunker"
	"github.com/northbound/reflect-index/internal/metadata"
	"github.com/northbound/reflect-index/internal/normalize"
	"github.com/northbound/reflect-index/internal/resources"
	"github.com/northbound/reflect-index/internal/retry"
	"github.com/northbound/reflect-index/internal/transcript"
	"github.com/northbound/reflect-index/internal/vectorstore"
)

// cleanupEveryNChunks matches spec.md §4.J's "memory cleanup every 10
// chunks" during a long file's processing.
const cleanupEveryNChunks = 10

// pointID derives the spec.md §3 63-bit point id from
// hash(conversation_id || "_" || chunk_index): a SHA-256 digest truncated
// to its first 8 bytes, with the sign bit cleared so the value always fits
// a positive int64 on the wire. Stable across repeated runs against
// unchanged source, which is what makes upserts idempotent.
func pointID(conversationID string, chunkIndex int) uint64 {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s_%d", conversationID, chunkIndex)))
	raw := binary.BigEndian.Uint64(sum[:8])
	return raw &^ (1 << 63)
}

// conversationIDFor derives a conversation id from a transcript file's
// basename, stripping the .jsonl extension.
func conversationIDFor(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// processFile implements spec.md §4.J's process_file/§4.B-F: parse the
// file once to reconstruct full text and metadata, ensure the target
// collection exists, then stream chunks and embed/upsert each one
// individually so a mid-file failure leaves already-written points intact
// for the idempotent next attempt. A chunk rejected with
// vectorstore.ErrDimensionMismatch is logged and skipped while the rest of
// the file is still written; the file is then reported as failed so it is
// not marked imported. Returns the number of chunks written.
func (w *Watcher) processFile(ctx context.Context, path string, mtime time.Time, project string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	extractor := metadata.NewExtractor()
	var full strings.Builder
	if err := transcript.Parse(f, func(msg transcript.Message) {
		extractor.Observe(msg)
		if msg.Text == "" {
			return
		}
		full.WriteString(msg.Text)
		full.WriteString("\n\n")
	}); err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}

	extracted := extractor.Finish()
	conversationID := conversationIDFor(path)
	collection := normalize.CollectionName(normalize.Hash(project), w.embedder.Suffix())
	dimension := w.embedder.Dimension()

	if err := w.store.EnsureCollection(ctx, collection, dimension); err != nil {
		return 0, fmt.Errorf("ensure collection %s: %w", collection, err)
	}

	written := 0
	var streamErr, skipErr error
	chunker.Stream(full.String(), func(c chunker.Chunk) {
		if streamErr != nil {
			return
		}
		c.ConversationID = conversationID
		c.ChunkingVersion = chunker.Version
		c.Timestamp = mtime
		c.Project = project
		c.SourceFile = path
		c.Extracted = extracted

		if err := w.embedAndUpsert(ctx, collection, dimension, c); err != nil {
			if errors.Is(err, vectorstore.ErrDimensionMismatch) {
				log.Printf("watcher: skipping chunk %d of %s: %v", c.Index, path, err)
				if skipErr == nil {
					skipErr = fmt.Errorf("chunk %d of %s: %w", c.Index, path, err)
				}
				return
			}
			streamErr = fmt.Errorf("chunk %d of %s: %w", c.Index, path, err)
			return
		}
		written++
		if written%cleanupEveryNChunks == 0 {
			resources.Cleanup()
		}
	})
	if streamErr == nil {
		streamErr = skipErr
	}
	if streamErr != nil {
		return written, streamErr
	}
	return written, nil
}

// embedAndUpsert embeds one chunk's text with retry and writes it as a
// single-point upsert, per spec.md §4.J ("embedding one at a time with
// retry, upserting each as its own single-point batch").
func (w *Watcher) embedAndUpsert(ctx context.Context, collection string, dimension int, c chunker.Chunk) error {
	vector, err := retry.Do(ctx, retry.DefaultPolicy(), func(ctx context.Context) ([]float32, error) {
		return w.embedder.EmbedText(ctx, c.Text)
	})
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}

	point := vectorstore.Point{
		ID:      pointID(c.ConversationID, c.Index),
		Vector:  vector,
		Payload: c,
	}
	return retry.Do(ctx, retry.DefaultPolicy(), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.store.Upsert(ctx, collection, dimension, point)
	})
}
