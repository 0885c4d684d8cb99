package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"memai/pkg/logx"
)

const (
	backupDirName = "backups"

	// DefaultBackupRetention bounds how many rotating backups are kept per
	// record key; the oldest is pruned first.
	DefaultBackupRetention = 3
)

// Store owns the on-disk records, one JSON file per model key under its
// directory. All record I/O goes through Load/Save, which is the sole
// synchronization boundary; within one process turns are sequential, and
// across processes the atomic-replace write keeps readers from ever seeing
// a partial file (last writer wins).
type Store struct {
	dir       string
	retention int
	logger    *logx.Logger
}

// NewStore creates a store rooted at dir, creating the directory tree as
// needed. backupRetention <= 0 selects the default.
func NewStore(dir string, backupRetention int) (*Store, error) {
	if backupRetention <= 0 {
		backupRetention = DefaultBackupRetention
	}
	if err := os.MkdirAll(filepath.Join(dir, backupDirName), 0o755); err != nil {
		return nil, logx.Wrap(err, "create memory directory")
	}
	return &Store{
		dir:       dir,
		retention: backupRetention,
		logger:    logx.NewLogger("store"),
	}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// ResolveKey maps a model id to a filesystem-safe, collision-resistant key:
// a normalized form of the id plus a short hash of the original id. Distinct
// ids that normalize to the same safe string still map to distinct keys; the
// same id always maps to the same key.
func ResolveKey(modelID string) string {
	id := modelID
	if id == "" {
		id = "unknown"
	}

	safe := strings.NewReplacer(
		":", "-", "/", "-", "\\", "-", " ", "_", ".", "-",
	).Replace(strings.ToLower(id))

	var b strings.Builder
	for _, r := range safe {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	sum := sha256.Sum256([]byte(modelID))
	return fmt.Sprintf("%s_%s", b.String(), hex.EncodeToString(sum[:4]))
}

func (s *Store) recordPath(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Load returns the record for a model. A missing file yields a fresh empty
// record, never an error. A file that fails parsing or validation is
// archived for forensics, then the most recent valid backup is restored;
// with no usable backup the caller gets a fresh record. Corruption degrades
// to "start fresh", it never aborts.
func (s *Store) Load(modelID string) ConversationRecord {
	key := ResolveKey(modelID)
	path := s.recordPath(key)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewRecord(modelID)
	}
	if err != nil {
		s.logger.Warn("read %s: %v, starting fresh", path, err)
		return NewRecord(modelID)
	}

	rec, decodeErr := decodeRecord(data)
	if decodeErr == nil {
		return rec
	}
	s.logger.Warn("record %s corrupt: %v", key, decodeErr)

	s.archiveCorrupted(path, key)

	if backup, ok := s.loadLatestBackup(key); ok {
		s.logger.Info("restored %s from backup (%d exchanges)", key, len(backup.CurrentConversation))
		return backup
	}

	s.logger.Info("no usable backup for %s, starting fresh", key)
	return NewRecord(modelID)
}

// Save writes a record via staging-then-replace: marshal to a temp file in
// the same directory, re-read and re-validate the staged bytes, rotate a
// backup of the previous valid file, then atomically rename into place.
// Returns false on any failure, leaving the previous version intact; it
// never panics or raises.
func (s *Store) Save(modelID string, rec ConversationRecord) bool {
	if err := rec.Validate(); err != nil {
		s.logger.Error("refusing to save invalid record for %s: %v", modelID, err)
		return false
	}

	key := ResolveKey(modelID)
	path := s.recordPath(key)

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		s.logger.Error("marshal record for %s: %v", modelID, err)
		return false
	}

	tmp, err := os.CreateTemp(s.dir, key+"-*.tmp")
	if err != nil {
		s.logger.Error("stage record for %s: %v", modelID, err)
		return false
	}
	tmpPath := tmp.Name()

	if _, err = tmp.Write(data); err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		s.logger.Error("write staged record for %s: %v", modelID, err)
		_ = os.Remove(tmpPath)
		return false
	}

	// Verify the staged bytes survive a full read-parse-validate cycle
	// before they replace anything.
	staged, err := os.ReadFile(tmpPath)
	if err == nil {
		_, err = decodeRecord(staged)
	}
	if err != nil {
		s.logger.Error("verify staged record for %s: %v", modelID, err)
		_ = os.Remove(tmpPath)
		return false
	}

	s.rotateBackup(key, path)

	if err := os.Rename(tmpPath, path); err != nil {
		s.logger.Error("replace record for %s: %v", modelID, err)
		_ = os.Remove(tmpPath)
		return false
	}

	s.logger.Debug("saved %s (%d exchanges)", key, len(rec.CurrentConversation))
	return true
}

// Clear archives the current conversation into summarized_conversations and
// persists a record with an empty current conversation. History is never
// silently deleted; a clear leaves an auditable summary behind.
func (s *Store) Clear(modelID string) error {
	rec := s.Load(modelID)

	if len(rec.CurrentConversation) > 0 {
		rec.SummarizedConversations = append(rec.SummarizedConversations,
			NewSummaryBlock(rec.CurrentConversation,
				fmt.Sprintf("[%d exchanges archived by clear]", len(rec.CurrentConversation))))
		rec.CurrentConversation = []Exchange{}
	}
	rec.LastUpdatedAt = time.Now().UTC()

	if !s.Save(modelID, rec) {
		return logx.Errorf("clear %s: save failed", modelID)
	}
	return nil
}

// ListModels returns the model ids of every valid record in the store,
// sorted. Corrupt files are skipped, not touched.
func (s *Store) ListModels() []string {
	entries, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil
	}

	var models []string
	for _, path := range entries {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		rec, err := decodeRecord(data)
		if err != nil {
			continue
		}
		models = append(models, rec.ModelID)
	}
	sort.Strings(models)
	return models
}

func decodeRecord(data []byte) (ConversationRecord, error) {
	var rec ConversationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return ConversationRecord{}, fmt.Errorf("parse record: %w", err)
	}
	if err := rec.Validate(); err != nil {
		return ConversationRecord{}, fmt.Errorf("validate record: %w", err)
	}
	rec.normalize()
	return rec, nil
}

// archiveCorrupted moves a corrupt record aside for forensics rather than
// overwriting it.
func (s *Store) archiveCorrupted(path, key string) {
	sidecar := fmt.Sprintf("%s.corrupted.%d", path, time.Now().UnixNano())
	if err := os.Rename(path, sidecar); err != nil {
		s.logger.Warn("archive corrupt record %s: %v", key, err)
		return
	}
	s.logger.Info("corrupt record archived to %s", sidecar)
}

// rotateBackup copies the current valid file into the backup directory and
// prunes the oldest backups beyond the retention bound.
func (s *Store) rotateBackup(key, path string) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return // first save, nothing to back up
	}
	if err != nil {
		s.logger.Warn("read previous record for backup %s: %v", key, err)
		return
	}

	backupPath := filepath.Join(s.dir, backupDirName,
		fmt.Sprintf("%s_%d.json", key, time.Now().UnixNano()))
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		s.logger.Warn("write backup %s: %v", key, err)
		return
	}

	backups := s.backupsForKey(key)
	for len(backups) > s.retention {
		if err := os.Remove(backups[0]); err != nil {
			s.logger.Warn("prune backup %s: %v", backups[0], err)
			break
		}
		backups = backups[1:]
	}
}

// backupsForKey returns the key's backup paths, oldest first. The UnixNano
// suffix is fixed-width, so lexical order is chronological order. Only files
// whose remainder after the key is a bare timestamp count: the glob alone
// would also match backups of any other key that has this key plus "_" as a
// prefix.
func (s *Store) backupsForKey(key string) []string {
	paths, err := filepath.Glob(filepath.Join(s.dir, backupDirName, key+"_*.json"))
	if err != nil {
		return nil
	}
	matches := paths[:0]
	for _, p := range paths {
		stamp := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(p), key+"_"), ".json")
		if isTimestamp(stamp) {
			matches = append(matches, p)
		}
	}
	sort.Strings(matches)
	return matches
}

func isTimestamp(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// loadLatestBackup walks the key's backups newest first and returns the
// first one that parses and validates.
func (s *Store) loadLatestBackup(key string) (ConversationRecord, bool) {
	backups := s.backupsForKey(key)
	for i := len(backups) - 1; i >= 0; i-- {
		data, err := os.ReadFile(backups[i])
		if err != nil {
			continue
		}
		rec, err := decodeRecord(data)
		if err != nil {
			s.logger.Warn("backup %s unusable: %v", backups[i], err)
			continue
		}
		return rec, true
	}
	return ConversationRecord{}, false
}
