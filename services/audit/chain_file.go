// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/careos/careos/services/datatypes"
)

// GenesisHash is the PrevHash of the first record in a chain file.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// chainFileMode restricts the audit file to its owner. Audit entries name
// who looked at whose wellbeing data.
const chainFileMode = 0600

// maxLineBytes bounds a single JSONL record when reading the chain back.
const maxLineBytes = 1 << 20

// ChainRecord is one line of the chain file.
type ChainRecord struct {
	Sequence  int64           `json:"sequence"`
	PrevHash  string          `json:"prev_hash"`
	Entry     json.RawMessage `json:"entry"`
	EntryHash string          `json:"entry_hash"`
}

// ChainFile is a tamper-evident, append-only JSONL audit sink.
//
// # Description
//
// Each record carries the hash of the previous record, so editing or
// removing any line breaks the chain from that point on. On open the
// sequence and previous hash are recovered from the last record in the file.
//
// # Limitations
//
//   - Rotation must be handled externally; verifying a rotated chain needs
//     the previous files.
//   - Writes are synchronous and serialized.
//
// # Thread Safety
//
// Safe for concurrent use.
type ChainFile struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	sequence int64
	prevHash string
	logger   *slog.Logger
}

// OpenChainFile opens or creates the chain file at path.
func OpenChainFile(path string, logger *slog.Logger) (*ChainFile, error) {
	if logger == nil {
		logger = slog.Default()
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, chainFileMode)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit chain file: %w", err)
	}

	c := &ChainFile{
		file:     file,
		path:     path,
		prevHash: GenesisHash,
		logger:   logger,
	}
	last, err := readLastRecord(path)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to initialize chain state: %w", err)
	}
	if last != nil {
		c.sequence = last.Sequence
		c.prevHash = last.EntryHash
	}

	logger.Info("Audit chain file opened",
		"path", path,
		"starting_sequence", c.sequence)
	return c, nil
}

// AppendAuditEntry implements Store.
func (c *ChainFile) AppendAuditEntry(_ context.Context, entry datatypes.AuditLogEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	record := ChainRecord{
		Sequence: c.sequence + 1,
		PrevHash: c.prevHash,
		Entry:    payload,
	}
	record.EntryHash = computeRecordHash(record)

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal chain record: %w", err)
	}
	if _, err := c.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write chain record: %w", err)
	}

	c.sequence = record.Sequence
	c.prevHash = record.EntryHash
	return nil
}

// VerifyChain re-reads the file and checks every link.
//
// # Outputs
//
//   - valid: true when the whole chain verifies.
//   - breakIndex: zero-based index of the first bad record, -1 when valid.
//   - err: non-nil only when the file cannot be read.
func (c *ChainFile) VerifyChain() (valid bool, breakIndex int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return VerifyChainFile(c.path)
}

// VerifyChainFile verifies a chain file that is not currently open.
func VerifyChainFile(path string) (valid bool, breakIndex int64, err error) {
	file, err := os.Open(path)
	if err != nil {
		return false, -1, fmt.Errorf("failed to open audit chain for verification: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	prevHash := GenesisHash
	var index int64
	for scanner.Scan() {
		var record ChainRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			return false, index, nil
		}
		if record.Sequence != index+1 || record.PrevHash != prevHash {
			return false, index, nil
		}
		if computeRecordHash(record) != record.EntryHash {
			return false, index, nil
		}
		prevHash = record.EntryHash
		index++
	}
	if err := scanner.Err(); err != nil {
		return false, -1, fmt.Errorf("error reading audit chain: %w", err)
	}
	return true, -1, nil
}

// Sequence returns the sequence number of the last written record.
func (c *ChainFile) Sequence() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sequence
}

// Close closes the underlying file.
func (c *ChainFile) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.file.Close()
}

func readLastRecord(path string) (*ChainRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var last *ChainRecord
	for scanner.Scan() {
		var record ChainRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if record.Sequence > 0 {
			r := record
			last = &r
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return last, nil
}

// computeRecordHash hashes every field except EntryHash in a fixed order.
func computeRecordHash(record ChainRecord) string {
	h := sha256.New()
	h.Write([]byte(strconv.FormatInt(record.Sequence, 10)))
	h.Write([]byte{'|'})
	h.Write([]byte(record.PrevHash))
	h.Write([]byte{'|'})
	h.Write(record.Entry)
	return hex.EncodeToString(h.Sum(nil))
}
