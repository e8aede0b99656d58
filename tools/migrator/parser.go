package migrator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Migration represents a single versioned schema change loaded from disk.
type Migration struct {
	Version       int
	Name          string
	UpSQL         string
	Checksum      string
	NoTransaction bool
}

var (
	filenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_-]+)\.sql$`)
	upMarkerRegex = regexp.MustCompile(`^--\s*\+migrate\s+Up(\s+notransaction)?\s*$`)
)

// ParseMigrationFile parses a single migration file and returns a Migration struct.
func ParseMigrationFile(path string) (*Migration, error) {
	// Parse filename
	filename := filepath.Base(path)
	matches := filenameRegex.FindStringSubmatch(filename)
	if matches == nil {
		return nil, fmt.Errorf("invalid migration filename format: %s (expected NNN_name.sql)", filename)
	}

	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid version number in filename: %s", matches[1])
	}

	name := matches[2]

	// Read file content
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration file: %w", err)
	}

	lines := strings.Split(string(content), "\n")

	// Find Up marker
	upMarkerFound := false
	noTransaction := false
	upMarkerLine := -1

	for i, line := range lines {
		if upMarkerRegex.MatchString(line) {
			upMarkerFound = true
			upMarkerLine = i
			matches := upMarkerRegex.FindStringSubmatch(line)
			if len(matches) > 1 && strings.TrimSpace(matches[1]) == "notransaction" {
				noTransaction = true
			}
			break
		}
	}

	if !upMarkerFound {
		return nil, fmt.Errorf("missing '-- +migrate Up' marker in migration file: %s", filename)
	}

	// SQL starts at the first line after the marker that is neither blank nor
	// a comment.
	sqlStartLine := len(lines)
	for i := upMarkerLine + 1; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		sqlStartLine = i
		break
	}

	sql := strings.TrimSpace(strings.Join(lines[sqlStartLine:], "\n"))
	if sql == "" {
		return nil, fmt.Errorf("migration file contains no SQL statements: %s", filename)
	}

	return &Migration{
		Version:       version,
		Name:          name,
		UpSQL:         sql,
		Checksum:      checksum(sql),
		NoTransaction: noTransaction,
	}, nil
}

// checksum returns the hex-encoded SHA-256 digest of the migration SQL. It is
// recorded on apply and compared on every later run to catch edits to
// already-applied files.
func checksum(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:])
}

// LoadMigrations loads all migrations from a directory, validates them, and returns them sorted by version.
func LoadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		// Only process files that match the migration naming pattern
		if !filenameRegex.MatchString(entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		migration, err := ParseMigrationFile(path)
		if err != nil {
			return nil, err
		}

		migrations = append(migrations, *migration)
	}

	// Sort by version
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	// Validate sequence (no gaps, no duplicates)
	if len(migrations) > 0 {
		versionsSeen := make(map[int]bool)
		expectedVersion := 1

		for _, m := range migrations {
			if versionsSeen[m.Version] {
				return nil, fmt.Errorf("duplicate migration version: %d", m.Version)
			}
			versionsSeen[m.Version] = true

			if m.Version != expectedVersion {
				return nil, fmt.Errorf("gap in migration versions: expected %d, found %d", expectedVersion, m.Version)
			}
			expectedVersion++
		}
	}

	return migrations, nil
}
