package migration

import (
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// MigrationFile is one migration script.
type MigrationFile struct {
	Version   int64
	Name      string
	Direction string // "up" or "down"
	FilePath  string // path inside the migrations FS
}

var migrationFilenameRegex = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// DiscoverMigrations lists migration scripts in dir of fsys, sorted by
// version with "down" before "up" for the same version. A missing dir yields
// an empty list.
func DiscoverMigrations(fsys fs.FS, dir string) ([]MigrationFile, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		if errorsIsNotExist(err) {
			return []MigrationFile{}, nil
		}
		return nil, fmt.Errorf("failed to read migrations directory %s: %w", dir, err)
	}

	var migrations []MigrationFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationFilenameRegex.FindStringSubmatch(entry.Name())
		if len(match) != 4 {
			continue
		}
		version, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			// version overflows int64
			continue
		}
		migrations = append(migrations, MigrationFile{
			Version:   version,
			Name:      match[2],
			Direction: match[3],
			FilePath:  path.Join(dir, entry.Name()),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		if migrations[i].Version != migrations[j].Version {
			return migrations[i].Version < migrations[j].Version
		}
		return migrations[i].Direction < migrations[j].Direction
	})
	return migrations, nil
}

// SplitStatements breaks a script into statements on ';' at end of line.
// Comment-only chunks are dropped. Statements must not embed ";\n" in literals.
func SplitStatements(script string) []string {
	var out []string
	for _, chunk := range strings.Split(script, ";\n") {
		stmt := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(chunk), ";"))
		if stmt == "" || onlyComments(stmt) {
			continue
		}
		out = append(out, stmt)
	}
	return out
}

func onlyComments(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}
