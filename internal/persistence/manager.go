// Package persistence saves and restores the active goal set as one JSON
// state document. Saves are atomic (temp file then rename) and the previous
// document is rotated into a backups directory first, so a crash mid-write
// can always fall back to the newest parseable backup.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"goalforge/internal/config"
	"goalforge/internal/goal"
	"goalforge/internal/logging"
)

const stateVersion = 1

// CorruptStateError reports that the state document and every backup failed
// to parse. This is the only unrecoverable load outcome.
type CorruptStateError struct {
	Path           string
	BackupsChecked int
	Err            error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("state file %s corrupt and %d backups unusable: %v", e.Path, e.BackupsChecked, e.Err)
}

func (e *CorruptStateError) Unwrap() error { return e.Err }

// envelope is the on-disk document.
type envelope struct {
	SavedAt   time.Time    `json:"saved_at"`
	Version   int          `json:"version"`
	GoalCount int          `json:"goal_count"`
	Goals     []*goal.Goal `json:"goals"`
}

// Manager owns the state file and its backup rotation.
type Manager struct {
	statePath string
	backupDir string
	retention int
	log       *zap.Logger
}

// New creates a manager rooted at dataDir.
func New(dataDir string, cfg config.PersistenceConfig) *Manager {
	retention := cfg.BackupRetention
	if retention <= 0 {
		retention = 10
	}
	name := cfg.StateFile
	if name == "" {
		name = "goals_state.json"
	}
	return &Manager{
		statePath: filepath.Join(dataDir, name),
		backupDir: filepath.Join(dataDir, "backups"),
		retention: retention,
		log:       logging.Get(logging.CategoryPersistence),
	}
}

// StatePath returns the primary document path.
func (m *Manager) StatePath() string { return m.statePath }

// Save writes the goal set atomically, backing up the previous document
// first. Goal order in the document follows the input.
func (m *Manager) Save(goals []*goal.Goal) error {
	if err := os.MkdirAll(filepath.Dir(m.statePath), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	if err := m.backupCurrent(); err != nil {
		// A failed backup is logged, not fatal: the save itself is atomic.
		m.log.Warn("backup of previous state failed", zap.Error(err))
	}

	env := envelope{
		SavedAt:   time.Now(),
		Version:   stateVersion,
		GoalCount: len(goals),
		Goals:     goals,
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := m.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state temp file: %w", err)
	}
	if err := os.Rename(tmp, m.statePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace state file: %w", err)
	}

	m.log.Info("state saved",
		zap.Int("goals", len(goals)),
		zap.String("path", m.statePath))
	return nil
}

// Load restores the goal set for resumption. Terminal goals are dropped;
// pending or in-progress goals past their deadline are marked abandoned and
// dropped as well; only the rest resume. A missing file is an empty set. A
// corrupt primary falls back to the newest parseable backup; with none left
// the load fails with CorruptStateError.
func (m *Manager) Load() ([]*goal.Goal, error) {
	env, err := m.readEnvelope(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		m.log.Error("state file unreadable, trying backups", zap.Error(err))
		env, err = m.loadFromBackups(err)
		if err != nil {
			return nil, err
		}
	}

	var out []*goal.Goal
	dropped, abandoned := 0, 0
	for _, g := range env.Goals {
		if g.Status.Terminal() {
			dropped++
			continue
		}
		if g.IsOverdue() {
			g.Status = goal.StatusAbandoned
			abandoned++
			continue
		}
		out = append(out, g)
	}

	m.log.Info("state loaded",
		zap.Int("resumed", len(out)),
		zap.Int("dropped_terminal", dropped),
		zap.Int("abandoned_overdue", abandoned),
		zap.Time("saved_at", env.SavedAt))
	return out, nil
}

func (m *Manager) readEnvelope(path string) (*envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &env, nil
}

// loadFromBackups tries backups newest first.
func (m *Manager) loadFromBackups(cause error) (*envelope, error) {
	backups, _ := m.Backups()
	for i := len(backups) - 1; i >= 0; i-- {
		env, err := m.readEnvelope(backups[i])
		if err == nil {
			m.log.Warn("recovered state from backup", zap.String("backup", backups[i]))
			return env, nil
		}
		m.log.Warn("backup unusable", zap.String("backup", backups[i]), zap.Error(err))
	}
	return nil, &CorruptStateError{Path: m.statePath, BackupsChecked: len(backups), Err: cause}
}

// backupCurrent copies the existing document into the backup directory with a
// timestamped name and prunes old backups past the retention limit.
func (m *Manager) backupCurrent() error {
	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := os.MkdirAll(m.backupDir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("goals_state_%s.json", time.Now().Format("20060102_150405.000"))
	if err := os.WriteFile(filepath.Join(m.backupDir, name), data, 0o644); err != nil {
		return err
	}
	return m.prune()
}

// Backups lists backup paths, oldest first.
func (m *Manager) Backups() ([]string, error) {
	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		out = append(out, filepath.Join(m.backupDir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func (m *Manager) prune() error {
	backups, err := m.Backups()
	if err != nil {
		return err
	}
	for len(backups) > m.retention {
		if err := os.Remove(backups[0]); err != nil {
			return err
		}
		backups = backups[1:]
	}
	return nil
}
