// Package artifact persists benchmark output: per-tier result documents,
// per-run manifests, a top-level run index, and a sqlite run history.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/tokensweep/tokensweep/pkg/models"
)

const (
	runsDirName  = "runs"
	manifestName = "manifest.json"
	indexName    = "index.json"
)

// Store writes benchmark artifacts under a root directory:
//
//	<root>/index.json
//	<root>/runs/<run_id>/manifest.json
//	<root>/runs/<run_id>/<target_id>_<scenario>.json
type Store struct {
	root   string
	logger *slog.Logger

	// guards index.json read-modify-write cycles
	mu sync.Mutex
}

// NewStore creates the artifact root if needed
func NewStore(root string, logger *slog.Logger) (*Store, error) {
	if root == "" {
		return nil, errors.New("artifact root is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Join(root, runsDirName), 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root: %w", err)
	}
	return &Store{root: root, logger: logger}, nil
}

// Root returns the artifact root directory
func (s *Store) Root() string {
	return s.root
}

// RunDir returns the directory holding one run's artifacts
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.root, runsDirName, runID)
}

// WriteTierResult persists one tier result as soon as it exists, so a
// crash later in the run cannot lose finished measurements. Returns the
// written filename relative to the run directory.
func (s *Store) WriteTierResult(result *models.TierResult) (string, error) {
	dir := s.RunDir(result.RunID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s.json", result.TargetID, result.ScenarioKey())
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal tier result: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), append(data, '\n'), 0644); err != nil {
		return "", fmt.Errorf("failed to write tier result: %w", err)
	}

	s.logger.Debug("tier result written",
		"run_id", result.RunID,
		"target_id", result.TargetID,
		"scenario", result.ScenarioKey())
	return name, nil
}

// WriteUnavailable writes the placeholder document for a (target, tier)
// pair that produced no measurement, keeping the artifact set complete.
func (s *Store) WriteUnavailable(runID, targetID string, tier models.Tier, reason string) (string, error) {
	return s.WriteTierResult(&models.TierResult{
		RunID:       runID,
		TargetID:    targetID,
		Tier:        tier,
		Timestamp:   time.Now().UTC(),
		Unavailable: true,
		Error:       reason,
	})
}

// ReadTierResult loads one tier result document by its relative filename
func (s *Store) ReadTierResult(runID, name string) (*models.TierResult, error) {
	data, err := os.ReadFile(filepath.Join(s.RunDir(runID), name))
	if err != nil {
		return nil, fmt.Errorf("failed to read tier result: %w", err)
	}
	var result models.TierResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse tier result: %w", err)
	}
	return &result, nil
}

// ReadRunResults loads every tier result of a run, skipping the manifest
func (s *Store) ReadRunResults(runID string) ([]*models.TierResult, error) {
	entries, err := os.ReadDir(s.RunDir(runID))
	if err != nil {
		return nil, fmt.Errorf("failed to read run directory: %w", err)
	}

	var results []*models.TierResult
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == manifestName || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		result, err := s.ReadTierResult(runID, entry.Name())
		if err != nil {
			s.logger.Warn("skipping unreadable artifact",
				"run_id", runID,
				"file", entry.Name(),
				"error", err)
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

// WriteManifest persists the run manifest, stamping UpdatedAt
func (s *Store) WriteManifest(m *models.RunManifest) error {
	m.UpdatedAt = time.Now().UTC()
	dir := s.RunDir(m.RunID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestName), append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads a run manifest
func (s *Store) ReadManifest(runID string) (*models.RunManifest, error) {
	data, err := os.ReadFile(filepath.Join(s.RunDir(runID), manifestName))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m models.RunManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

// IndexEntry is one run's line in the top-level index
type IndexEntry struct {
	RunID     string               `json:"run_id"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
	Status    models.RunStatus     `json:"status"`
	Mode      models.ExecutionMode `json:"mode"`
	Targets   []string             `json:"targets"`
	Tiers     int                  `json:"tiers"`
	Results   int                  `json:"results"`
	Error     string               `json:"error,omitempty"`
}

// UpdateIndex upserts the run's entry in index.json, newest first
func (s *Store) UpdateIndex(m *models.RunManifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readIndex()
	if err != nil {
		return err
	}

	entry := IndexEntry{
		RunID:     m.RunID,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		Status:    m.Status,
		Mode:      m.Mode,
		Tiers:     len(m.Tiers),
		Results:   len(m.ArtifactPaths),
		Error:     m.Error,
	}
	for _, target := range m.Targets {
		entry.Targets = append(entry.Targets, target.ID)
	}

	replaced := false
	for i := range entries {
		if entries[i].RunID == m.RunID {
			entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.root, indexName), append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	return nil
}

// ReadIndex returns the top-level run index, newest first. A missing
// index file reads as empty.
func (s *Store) ReadIndex() ([]IndexEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readIndex()
}

func (s *Store) readIndex() ([]IndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(s.root, indexName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	var entries []IndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse index: %w", err)
	}
	return entries, nil
}

// RemoveRun deletes a run's artifacts and its index entry
func (s *Store) RemoveRun(runID string) error {
	if err := os.RemoveAll(s.RunDir(runID)); err != nil {
		return fmt.Errorf("failed to remove run directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.readIndex()
	if err != nil {
		return err
	}
	kept := entries[:0]
	for _, entry := range entries {
		if entry.RunID != runID {
			kept = append(kept, entry)
		}
	}
	data, err := json.MarshalIndent(kept, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.root, indexName), append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	return nil
}
