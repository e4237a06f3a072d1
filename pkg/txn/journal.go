package txn

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/pakmux/pakmux/pkg/telemetry"
)

const (
	// DefaultRetain is how many terminal transaction records are kept.
	DefaultRetain = 10

	recordExt = ".toml"
)

// Journal is the write-ahead transaction log. Every record is one TOML
// file under the journal directory; a record exists on disk before the
// first effect executes, and every status change is durable before the
// engine moves on.
type Journal struct {
	dir        string
	backupsDir string

	// Retain is how many terminal records survive pruning. Pending
	// records are never pruned.
	Retain int

	logger *telemetry.Logger
	mu     sync.Mutex
}

// NewJournal opens (creating if needed) the journal at dir.
func NewJournal(dir string, logger *telemetry.Logger) (*Journal, error) {
	if logger == nil {
		logger = telemetry.NewNopTelemetry().Logger
	}
	j := &Journal{
		dir:        dir,
		backupsDir: filepath.Join(dir, "backups"),
		Retain:     DefaultRetain,
		logger:     logger.NewComponentLogger("journal"),
	}
	if err := os.MkdirAll(j.backupsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	return j, nil
}

// Dir returns the journal directory.
func (j *Journal) Dir() string {
	return j.dir
}

// Begin opens a new transaction and durably writes its Pending record.
// The record exists on disk before Begin returns; any crash after this
// point leaves evidence for Recover.
func (j *Journal) Begin(operation string) (*Transaction, error) {
	tx := &Transaction{
		ID:        newTransactionID(time.Now()),
		Operation: operation,
		Status:    StatusPending,
		StartedAt: time.Now().UTC(),
	}

	data, err := toml.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transaction record: %w", err)
	}

	// Exclusive create: a colliding ID means something is deeply wrong,
	// and silently overwriting another transaction's record is worse
	// than failing.
	path := j.recordPath(tx.ID)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction record: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write transaction record: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to sync transaction record: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close transaction record: %w", err)
	}

	j.logger.WithTransactionID(tx.ID).Debugf("transaction begun: %s", operation)
	return tx, nil
}

// Record appends an effect to the transaction and persists the record.
// The effect is durable before Record returns, so a crash between steps
// can never lose a change that already happened.
func (j *Journal) Record(tx *Transaction, eff Effect) error {
	if tx.Status != StatusPending {
		return fmt.Errorf("cannot record effect on %s transaction %s", tx.Status, tx.ID)
	}
	if err := eff.Validate(); err != nil {
		return fmt.Errorf("refusing to record invalid effect: %w", err)
	}
	if eff.RecordedAt.IsZero() {
		eff.RecordedAt = time.Now().UTC()
	}
	tx.Effects = append(tx.Effects, eff)
	if err := j.persist(tx); err != nil {
		// Keep the in-memory transaction consistent with disk.
		tx.Effects = tx.Effects[:len(tx.Effects)-1]
		return err
	}
	j.logger.WithTransactionID(tx.ID).Debugf("effect recorded: %s", eff.String())
	return nil
}

// Commit marks the transaction committed and prunes old records.
func (j *Journal) Commit(tx *Transaction) error {
	if err := j.finish(tx, StatusCommitted); err != nil {
		return err
	}
	j.logger.WithTransactionID(tx.ID).Infof("transaction committed with %d effects", len(tx.Effects))
	return j.Prune()
}

// MarkFailed marks the transaction failed without attempting rollback.
// Used when rollback itself is impossible (e.g. the inverter is gone).
func (j *Journal) MarkFailed(tx *Transaction) error {
	return j.finish(tx, StatusFailed)
}

// finish moves the transaction to a terminal status. Pending records may
// finish anywhere; Committed records may still move to rolled_back or
// failed (manual rollback). Rolled-back and failed records are frozen.
func (j *Journal) finish(tx *Transaction, status Status) error {
	switch tx.Status {
	case StatusRolledBack, StatusFailed:
		return fmt.Errorf("transaction %s already %s", tx.ID, tx.Status)
	case StatusCommitted:
		if status == StatusCommitted {
			return fmt.Errorf("transaction %s already committed", tx.ID)
		}
	}
	now := time.Now().UTC()
	tx.Status = status
	tx.FinishedAt = &now
	return j.persist(tx)
}

// persist durably rewrites the transaction record: write to a temp file,
// sync, then atomically rename over the record. A reader never observes
// a torn record.
func (j *Journal) persist(tx *Transaction) error {
	data, err := toml.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction record: %w", err)
	}

	path := j.recordPath(tx.ID)
	tmp, err := os.CreateTemp(j.dir, "."+tx.ID+".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create temp record: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp record: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace transaction record: %w", err)
	}
	return nil
}

// Get loads a transaction record by ID. The ID may be a unique prefix.
func (j *Journal) Get(id string) (*Transaction, error) {
	if tx, err := j.load(j.recordPath(id)); err == nil {
		return tx, nil
	}

	ids, err := j.recordIDs()
	if err != nil {
		return nil, err
	}
	var matches []string
	for _, candidate := range ids {
		if strings.HasPrefix(candidate, id) {
			matches = append(matches, candidate)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("transaction %s not found", id)
	case 1:
		return j.load(j.recordPath(matches[0]))
	default:
		return nil, fmt.Errorf("transaction id %s is ambiguous (%d matches)", id, len(matches))
	}
}

// List returns up to limit transactions, newest first. limit <= 0 means
// all records.
func (j *Journal) List(limit int) ([]*Transaction, error) {
	ids, err := j.recordIDs()
	if err != nil {
		return nil, err
	}
	// IDs are fixed-width timestamps, so lexicographic descending is
	// chronological descending.
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))

	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	txs := make([]*Transaction, 0, len(ids))
	for _, id := range ids {
		tx, err := j.load(j.recordPath(id))
		if err != nil {
			j.logger.WithError(err).Warnf("skipping unreadable record %s", id)
			continue
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// Pending returns all non-terminal records, oldest first. A non-empty
// result on startup means a previous process died mid-transaction.
func (j *Journal) Pending() ([]*Transaction, error) {
	txs, err := j.List(0)
	if err != nil {
		return nil, err
	}
	var pending []*Transaction
	for i := len(txs) - 1; i >= 0; i-- {
		if txs[i].Status == StatusPending {
			pending = append(pending, txs[i])
		}
	}
	return pending, nil
}

// Prune removes terminal records beyond the retention limit, oldest
// first, together with their backup directories.
func (j *Journal) Prune() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	txs, err := j.List(0)
	if err != nil {
		return err
	}

	var terminal []*Transaction
	for _, tx := range txs {
		if tx.Status.IsTerminal() {
			terminal = append(terminal, tx)
		}
	}
	if len(terminal) <= j.Retain {
		return nil
	}

	for _, tx := range terminal[j.Retain:] {
		if err := os.Remove(j.recordPath(tx.ID)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to prune record %s: %w", tx.ID, err)
		}
		if err := os.RemoveAll(filepath.Join(j.backupsDir, tx.ID)); err != nil {
			return fmt.Errorf("failed to prune backups for %s: %w", tx.ID, err)
		}
		j.logger.Debugf("pruned transaction record %s", tx.ID)
	}
	return nil
}

// BackupFile copies path into the transaction's backup directory and
// returns a ready file_modified effect carrying the backup location and
// its checksum. Call this before modifying the file, then Record the
// returned effect once the modification succeeds.
func (j *Journal) BackupFile(tx *Transaction, path string) (Effect, error) {
	dir := filepath.Join(j.backupsDir, tx.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Effect{}, fmt.Errorf("failed to create backup directory: %w", err)
	}

	backupPath := filepath.Join(dir, filepath.Base(path)+"."+fmt.Sprintf("%d", len(tx.Effects)))
	if err := copyFile(path, backupPath); err != nil {
		return Effect{}, fmt.Errorf("failed to back up %s: %w", path, err)
	}

	sum, err := fileChecksum(backupPath)
	if err != nil {
		return Effect{}, err
	}

	return Effect{
		Type:       EffectFileModified,
		Path:       path,
		BackupPath: backupPath,
		Checksum:   sum,
	}, nil
}

func (j *Journal) recordPath(id string) string {
	return filepath.Join(j.dir, id+recordExt)
}

func (j *Journal) load(path string) (*Transaction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction record: %w", err)
	}
	var tx Transaction
	if err := toml.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to parse transaction record %s: %w", filepath.Base(path), err)
	}
	return &tx, nil
}

func (j *Journal) recordIDs() ([]string, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal directory: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, recordExt) || strings.HasPrefix(name, ".") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, recordExt))
	}
	return ids, nil
}

func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}

	sourceInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.Chmod(dst, sourceInfo.Mode())
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s for checksum: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to checksum %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
