package store

import (
	"database/sql"
	"strconv"
	"time"
)

// CatalogInfo describes the most recently loaded topic catalog.
type CatalogInfo struct {
	Path     string    `json:"path"`
	Lectures int       `json:"lectures"`
	Topics   int       `json:"topics"`
	LoadedAt time.Time `json:"loaded_at"`
}

// SetMetadata upserts a key-value pair in the metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetCatalogInfo stores all CatalogInfo fields as metadata rows.
func (s *Store) SetCatalogInfo(info CatalogInfo) error {
	pairs := []struct{ k, v string }{
		{"catalog_path", info.Path},
		{"catalog_lectures", strconv.Itoa(info.Lectures)},
		{"catalog_topics", strconv.Itoa(info.Topics)},
		{"catalog_loaded_at", info.LoadedAt.UTC().Format(time.RFC3339)},
	}
	for _, p := range pairs {
		if err := s.SetMetadata(p.k, p.v); err != nil {
			return err
		}
	}
	return nil
}

// GetCatalogInfo reads CatalogInfo from metadata. A zero value is returned
// when no catalog was recorded.
func (s *Store) GetCatalogInfo() (CatalogInfo, error) {
	var info CatalogInfo
	var err error

	if info.Path, err = s.GetMetadata("catalog_path"); err != nil {
		return info, err
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"catalog_lectures", &info.Lectures},
		{"catalog_topics", &info.Topics},
	}
	for _, f := range ints {
		v, err := s.GetMetadata(f.key)
		if err != nil {
			return info, err
		}
		if v == "" {
			continue
		}
		if *f.dst, err = strconv.Atoi(v); err != nil {
			return info, err
		}
	}
	loaded, err := s.GetMetadata("catalog_loaded_at")
	if err != nil {
		return info, err
	}
	if loaded != "" {
		if info.LoadedAt, err = time.Parse(time.RFC3339, loaded); err != nil {
			return info, err
		}
	}
	return info, nil
}

// GetImportedFileHash returns the content hash recorded for path, or an
// empty string if the file was never imported.
func (s *Store) GetImportedFileHash(path string) (string, error) {
	var hash string
	err := s.db.QueryRow(`SELECT hash FROM imported_files WHERE path = ?`, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

// SetImportedFileHash records the content hash of an imported file.
func (s *Store) SetImportedFileHash(path, hash string) error {
	_, err := s.db.Exec(
		`INSERT INTO imported_files (path, hash, imported_at) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET hash = ?, imported_at = ?`,
		path, hash, time.Now(), hash, time.Now(),
	)
	return err
}
