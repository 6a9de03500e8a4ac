package agentmemdb

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

const (
	episodesLogFile     = "episodes.jsonl"
	metaFile            = "meta.json"
	exactCheckpointFile = "exact_checkpoint.json"
	diskSchemaVersion   = 1
)

// DiskOptions configures DiskOpen. The zero value is not valid; use
// DiskOptionsGraph or DiskOptionsExact to build one.
type DiskOptions struct {
	Dim           int
	Exact         bool
	MaxElements   int
	UseCheckpoint bool

	// Sync, when true, fsyncs the log file after every Store call.
	// Default false matches the documented "flush to the OS" behavior;
	// callers targeting strict durability should set this.
	Sync bool
}

// DiskOptionsGraph builds options for an approximate-index disk store.
func DiskOptionsGraph(dim, maxElements int) DiskOptions {
	return DiskOptions{Dim: dim, Exact: false, MaxElements: maxElements}
}

// DiskOptionsExact builds options for an exact-index disk store.
func DiskOptionsExact(dim int) DiskOptions {
	return DiskOptions{Dim: dim, Exact: true}
}

// DiskOptionsExactWithCheckpoint builds options for an exact-index disk
// store with checkpointing enabled, allowing Checkpoint to skip log
// replay on a subsequent open.
func DiskOptionsExactWithCheckpoint(dim int) DiskOptions {
	return DiskOptions{Dim: dim, Exact: true, UseCheckpoint: true}
}

type diskMeta struct {
	Dim                 int    `json:"dim"`
	IndexType           string `json:"index_type"`
	MaxElements         int    `json:"max_elements"`
	CheckpointLineCount int    `json:"checkpoint_line_count"`
	Version             int    `json:"version"`
}

type exactCheckpoint struct {
	Episodes []Episode `json:"episodes"`
}

// DiskStore is a disk-backed episodic memory store: an append-only JSONL
// log is the durable source of truth, and an in-memory Store mirrors it
// for fast query. Reopening replays the log (or loads a valid checkpoint)
// to rebuild the in-memory state.
type DiskStore struct {
	inner         *Store
	path          string
	logFile       *os.File
	useCheckpoint bool
	sync          bool
}

// DiskOpen opens or creates a disk-backed store at path using the
// approximate index with DefaultMaxElements capacity.
func DiskOpen(path string, dim int) (*DiskStore, error) {
	return DiskOpenWithOptions(path, DiskOptionsGraph(dim, DefaultMaxElements))
}

// DiskOpenWithOptions opens or creates a disk-backed store at path with
// explicit index-variant and checkpoint options.
func DiskOpenWithOptions(path string, opts DiskOptions) (*DiskStore, error) {
	if err := validateDim(opts.Dim); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, newError(KindIoError, "create store directory", err)
	}

	metaPath := filepath.Join(path, metaFile)
	logPath := filepath.Join(path, episodesLogFile)

	var inner *Store
	var err error

	if _, statErr := os.Stat(metaPath); statErr == nil {
		meta, err2 := readMeta(metaPath)
		if err2 != nil {
			return nil, err2
		}
		if meta.Dim != opts.Dim {
			return nil, newError(KindInvalidArgument, fmt.Sprintf("dimension mismatch: meta has %d, requested %d", meta.Dim, opts.Dim), nil)
		}

		if _, logStatErr := os.Stat(logPath); logStatErr == nil {
			checkpointPath := filepath.Join(path, exactCheckpointFile)
			tryCheckpoint := opts.UseCheckpoint && meta.IndexType == "exact"
			if _, cpStatErr := os.Stat(checkpointPath); cpStatErr != nil {
				tryCheckpoint = false
			}

			if tryCheckpoint {
				lineCount, cErr := countLogLines(logPath)
				if cErr != nil {
					return nil, cErr
				}
				if meta.CheckpointLineCount == lineCount {
					inner, err = loadFromCheckpoint(checkpointPath, meta.Dim)
				} else if lineCount > meta.CheckpointLineCount {
					inner, err = loadCheckpointThenReplayTail(checkpointPath, logPath, meta, meta.CheckpointLineCount)
				} else {
					log.Printf("[agentmemdb] checkpoint ahead of log (checkpoint=%d, log=%d lines); discarding checkpoint", meta.CheckpointLineCount, lineCount)
					inner, err = replayLog(logPath, meta)
				}
			} else {
				inner, err = replayLog(logPath, meta)
			}
			if err != nil {
				return nil, err
			}
		} else {
			inner, err = newInnerStore(meta.Dim, meta.IndexType, meta.MaxElements)
			if err != nil {
				return nil, err
			}
		}
	} else if os.IsNotExist(statErr) {
		indexType := "hnsw"
		if opts.Exact {
			indexType = "exact"
		}
		maxElements := opts.MaxElements
		if maxElements <= 0 {
			maxElements = DefaultMaxElements
		}
		meta := diskMeta{Dim: opts.Dim, IndexType: indexType, MaxElements: maxElements, Version: diskSchemaVersion}
		if err := writeMeta(metaPath, meta); err != nil {
			return nil, err
		}
		inner, err = newInnerStore(opts.Dim, indexType, maxElements)
		if err != nil {
			return nil, err
		}
	} else {
		return nil, newError(KindIoError, "stat meta.json", statErr)
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, newError(KindIoError, "open log file", err)
	}

	return &DiskStore{
		inner:         inner,
		path:          path,
		logFile:       logFile,
		useCheckpoint: opts.UseCheckpoint,
		sync:          opts.Sync,
	}, nil
}

func newInnerStore(dim int, indexType string, maxElements int) (*Store, error) {
	if indexType == "exact" {
		return NewExact(dim)
	}
	if maxElements <= 0 {
		maxElements = DefaultMaxElements
	}
	return NewWithMaxElements(dim, maxElements)
}

func readMeta(path string) (diskMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return diskMeta{}, newError(KindIoError, "read meta.json", err)
	}
	var meta diskMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return diskMeta{}, newError(KindMalformedSnapshot, "parse meta.json", err)
	}
	return meta, nil
}

func writeMeta(path string, meta diskMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return newError(KindIoError, "marshal meta.json", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return newError(KindIoError, "write meta.json", err)
	}
	return nil
}

func countLogLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, newError(KindIoError, "open log for line count", err)
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(trimSpace(scanner.Text())) > 0 {
			count++
		}
	}
	return count, nil
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\r' || b == '\n' }

// replayLog rebuilds an in-memory store by parsing every complete line in
// the log and inserting it. A partial trailing line (missing newline, or
// present but failing to parse) is discarded with a warning; earlier
// lines remain intact.
func replayLog(path string, meta diskMeta) (*Store, error) {
	s, err := newInnerStore(meta.Dim, meta.IndexType, meta.MaxElements)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(KindIoError, "read log for replay", err)
	}
	endsWithNewline := len(data) == 0 || data[len(data)-1] == '\n'

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	for i, line := range lines {
		trimmed := trimSpace(line)
		if trimmed == "" {
			continue
		}
		isLast := i == len(lines)-1
		if isLast && !endsWithNewline {
			log.Printf("[agentmemdb] discarding partial trailing log line")
			continue
		}
		var ep Episode
		if err := json.Unmarshal([]byte(trimmed), &ep); err != nil {
			if isLast {
				log.Printf("[agentmemdb] discarding unparseable trailing log line: %v", err)
				continue
			}
			return nil, newError(KindMalformedSnapshot, "parse log line", err)
		}
		if len(ep.StateEmbedding) != meta.Dim {
			return nil, newError(KindDimensionMismatch, "log episode embedding length disagrees with meta dim", nil)
		}
		if _, err := s.Store(ep); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func loadFromCheckpoint(path string, dim int) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(KindIoError, "read checkpoint", err)
	}
	var cp exactCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, newError(KindMalformedSnapshot, "parse checkpoint", err)
	}

	for _, ep := range cp.Episodes {
		if len(ep.StateEmbedding) != dim {
			return nil, newError(KindDimensionMismatch, "checkpoint episode embedding length mismatch", nil)
		}
	}

	return newExactFromCheckpoint(dim, cp.Episodes)
}

// loadCheckpointThenReplayTail loads the checkpoint and then replays only
// the log lines beyond the checkpoint watermark, calling Store on each
// (which appends to the index, not the log).
func loadCheckpointThenReplayTail(checkpointPath, logPath string, meta diskMeta, watermark int) (*Store, error) {
	s, err := loadFromCheckpoint(checkpointPath, meta.Dim)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(logPath)
	if err != nil {
		return nil, newError(KindIoError, "open log for tail replay", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	idx := 0
	for scanner.Scan() {
		idx++
		if idx <= watermark {
			continue
		}
		trimmed := trimSpace(scanner.Text())
		if trimmed == "" {
			continue
		}
		var ep Episode
		if err := json.Unmarshal([]byte(trimmed), &ep); err != nil {
			log.Printf("[agentmemdb] discarding unparseable trailing log line: %v", err)
			continue
		}
		if len(ep.StateEmbedding) != meta.Dim {
			return nil, newError(KindDimensionMismatch, "log episode embedding length disagrees with meta dim", nil)
		}
		if _, err := s.Store(ep); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// newExactFromCheckpoint builds an exact-index Store directly from
// checkpointed episodes, preserving their order as internal keys 0..n-1.
func newExactFromCheckpoint(dim int, episodes []Episode) (*Store, error) {
	s, err := NewExact(dim)
	if err != nil {
		return nil, err
	}
	for _, ep := range episodes {
		if _, err := s.Store(ep); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Dim returns the store's configured embedding dimension.
func (d *DiskStore) Dim() int { return d.inner.Dim() }

// Len returns the number of episodes currently held in memory.
func (d *DiskStore) Len() int { return d.inner.Len() }

// Store appends episode to the log, flushes, and applies the same
// in-memory insertion as Store.Store. If the in-memory insertion fails
// (e.g. CapacityExceeded), the log is truncated back to its pre-append
// length.
func (d *DiskStore) Store(ep Episode) (string, error) {
	if len(ep.StateEmbedding) != d.inner.Dim() {
		return "", newError(KindDimensionMismatch, "state_embedding length mismatch", nil)
	}
	if ep.ID == "" {
		fresh := NewEpisode(ep.TaskID, ep.StateEmbedding, ep.Reward)
		ep.ID = fresh.ID
	}

	line, err := json.Marshal(ep)
	if err != nil {
		return "", newError(KindIoError, "marshal episode", err)
	}

	preAppendOffset, err := d.logFile.Seek(0, io.SeekEnd)
	if err != nil {
		return "", newError(KindIoError, "seek log file", err)
	}

	if _, err := d.logFile.Write(append(line, '\n')); err != nil {
		return "", newError(KindIoError, "append log line", err)
	}
	if d.sync {
		if err := d.logFile.Sync(); err != nil {
			return "", newError(KindIoError, "sync log file", err)
		}
	}

	id, err := d.inner.Store(ep)
	if err != nil {
		if truncErr := d.logFile.Truncate(preAppendOffset); truncErr == nil {
			d.logFile.Seek(preAppendOffset, io.SeekStart)
		}
		return "", err
	}
	return id, nil
}

// StoreBatch stores each episode in order, stopping at the first error.
func (d *DiskStore) StoreBatch(eps []Episode) ([]string, error) {
	ids := make([]string, 0, len(eps))
	for _, ep := range eps {
		id, err := d.Store(ep)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Query runs the same query evaluator as Store.Query; disk plays no role
// after load.
func (d *DiskStore) Query(opts QueryOptions) ([]Episode, error) {
	return d.inner.Query(opts)
}

// QueryBatch runs Query for each entry in queries.
func (d *DiskStore) QueryBatch(queries []QueryOptions) ([][]Episode, error) {
	return d.inner.QueryBatch(queries)
}

// Checkpoint is a no-op for the approximate variant or when checkpointing
// is disabled. For the exact variant with checkpointing enabled, it
// atomically serializes the current episode set and records the log line
// count it covers, so the next open can skip replay. If the number of
// episodes held differs from the number of non-empty log lines, nothing
// is written and nil is returned.
func (d *DiskStore) Checkpoint() error {
	if !d.useCheckpoint || !d.inner.exact {
		return nil
	}

	logPath := filepath.Join(d.path, episodesLogFile)
	lineCount, err := countLogLines(logPath)
	if err != nil {
		return err
	}

	episodes := make([]Episode, 0, d.inner.Len())
	for key := 0; key < d.inner.backend.Len(); key++ {
		id, ok := d.inner.keyToID[key]
		if !ok {
			continue
		}
		ep, ok := d.inner.episodes[id]
		if !ok {
			continue
		}
		episodes = append(episodes, ep)
	}

	if len(episodes) != lineCount {
		// Stale relative to the log; skip this checkpoint attempt.
		return nil
	}

	cp := exactCheckpoint{Episodes: episodes}
	data, err := json.Marshal(cp)
	if err != nil {
		return newError(KindIoError, "marshal checkpoint", err)
	}
	checkpointPath := filepath.Join(d.path, exactCheckpointFile)
	if err := writeFileAtomic(checkpointPath, data); err != nil {
		return newError(KindIoError, "write checkpoint", err)
	}

	metaPath := filepath.Join(d.path, metaFile)
	meta, err := readMeta(metaPath)
	if err != nil {
		return err
	}
	meta.CheckpointLineCount = lineCount
	return writeMeta(metaPath, meta)
}

// PruneOlderThan performs the in-memory bulk rebuild and then compacts
// the log to contain only the surviving episodes, invalidating any
// checkpoint.
func (d *DiskStore) PruneOlderThan(cutoffMs int64) (int, error) {
	return d.pruneAndCompact(func() (int, error) { return d.inner.PruneOlderThan(cutoffMs) })
}

// PruneKeepNewest performs the in-memory bulk rebuild and then compacts
// the log.
func (d *DiskStore) PruneKeepNewest(n int) (int, error) {
	return d.pruneAndCompact(func() (int, error) { return d.inner.PruneKeepNewest(n) })
}

// PruneKeepHighestReward performs the in-memory bulk rebuild and then
// compacts the log.
func (d *DiskStore) PruneKeepHighestReward(n int) (int, error) {
	return d.pruneAndCompact(func() (int, error) { return d.inner.PruneKeepHighestReward(n) })
}

func (d *DiskStore) pruneAndCompact(prune func() (int, error)) (int, error) {
	removed, err := prune()
	if err != nil {
		return 0, err
	}
	if removed == 0 {
		return 0, nil
	}

	survivors := make([]Episode, 0, d.inner.Len())
	for key := 0; key < d.inner.backend.Len(); key++ {
		id, ok := d.inner.keyToID[key]
		if !ok {
			continue
		}
		if ep, ok := d.inner.episodes[id]; ok {
			survivors = append(survivors, ep)
		}
	}

	if err := d.compactLog(survivors); err != nil {
		return removed, err
	}
	if err := d.removeCheckpointIfExists(); err != nil {
		return removed, err
	}
	return removed, nil
}

// compactLog writes survivors to a temporary log file in rebuild order,
// fsyncs it, atomically replaces episodes.jsonl, and reopens the log
// handle for append.
func (d *DiskStore) compactLog(survivors []Episode) error {
	logPath := filepath.Join(d.path, episodesLogFile)

	var buf []byte
	for _, ep := range survivors {
		line, err := json.Marshal(ep)
		if err != nil {
			return newError(KindIoError, "marshal episode for compaction", err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}

	if err := writeFileAtomic(logPath, buf); err != nil {
		return newError(KindIoError, "compact log", err)
	}

	if err := d.logFile.Close(); err != nil {
		return newError(KindIoError, "close old log handle", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return newError(KindIoError, "reopen log after compaction", err)
	}
	d.logFile = logFile
	return nil
}

func (d *DiskStore) removeCheckpointIfExists() error {
	p := filepath.Join(d.path, exactCheckpointFile)
	if _, err := os.Stat(p); err == nil {
		if err := os.Remove(p); err != nil {
			return newError(KindIoError, "remove checkpoint", err)
		}
	}

	metaPath := filepath.Join(d.path, metaFile)
	meta, err := readMeta(metaPath)
	if err != nil {
		return err
	}
	if meta.CheckpointLineCount != 0 {
		meta.CheckpointLineCount = 0
		return writeMeta(metaPath, meta)
	}
	return nil
}

// Close flushes and closes the underlying log file handle.
func (d *DiskStore) Close() error {
	if err := d.logFile.Sync(); err != nil {
		return newError(KindIoError, "sync log file on close", err)
	}
	if err := d.logFile.Close(); err != nil {
		return newError(KindIoError, "close log file", err)
	}
	return nil
}
