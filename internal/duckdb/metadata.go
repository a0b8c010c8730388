package duckdb

import (
	"fmt"
	"os"
	"time"
)

// FileFingerprint holds stat-based identity for a file.
type FileFingerprint struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// StatFile creates a FileFingerprint from an on-disk file.
func StatFile(path string) (FileFingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileFingerprint{}, err
	}
	return FileFingerprint{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// RecordInputs replaces the stored input fingerprints, keyed by role
// (e.g. "manifest", "egt").
func (s *Store) RecordInputs(inputs map[string]FileFingerprint) error {
	if _, err := s.db.Exec("DELETE FROM run_inputs"); err != nil {
		return fmt.Errorf("clear run inputs: %w", err)
	}
	for role, fp := range inputs {
		if _, err := s.db.Exec("INSERT INTO run_inputs VALUES (?, ?, ?, ?)",
			role, fp.Path, fp.Size, fp.ModTime.UTC()); err != nil {
			return fmt.Errorf("record input %s: %w", role, err)
		}
	}
	return nil
}

// Inputs returns the stored input fingerprints keyed by role.
func (s *Store) Inputs() (map[string]FileFingerprint, error) {
	rows, err := s.db.Query("SELECT role, path, size, mod_time FROM run_inputs")
	if err != nil {
		return nil, fmt.Errorf("query run inputs: %w", err)
	}
	defer rows.Close()

	inputs := make(map[string]FileFingerprint)
	for rows.Next() {
		var role string
		var fp FileFingerprint
		if err := rows.Scan(&role, &fp.Path, &fp.Size, &fp.ModTime); err != nil {
			return nil, fmt.Errorf("scan run input: %w", err)
		}
		inputs[role] = fp
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run inputs: %w", err)
	}
	return inputs, nil
}

// InputsMatch reports whether the stored fingerprints equal inputs, so
// that stored metrics were computed from the same files. An empty store
// matches anything.
func (s *Store) InputsMatch(inputs map[string]FileFingerprint) (bool, error) {
	stored, err := s.Inputs()
	if err != nil {
		return false, err
	}
	if len(stored) == 0 {
		return true, nil
	}
	if len(stored) != len(inputs) {
		return false, nil
	}
	for role, fp := range inputs {
		got, ok := stored[role]
		if !ok || got.Size != fp.Size || !got.ModTime.Equal(fp.ModTime.UTC().Truncate(time.Microsecond)) {
			return false, nil
		}
	}
	return true, nil
}
