// Package submissions loads candidate submission files from disk and
// writes the optimizer's output artifacts.
package submissions

import (
	"encoding/csv"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/lexera/go-perplex/internal/domain"
)

// Discover walks baseDir recursively and loads every CSV whose filename
// contains "submission" (case-insensitive). Files that fail to parse or
// lack the required id/text columns are skipped with a warning; only an
// empty result is terminal.
func Discover(baseDir string) ([]domain.CandidateSet, error) {
	var paths []string
	err := filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := strings.ToLower(d.Name())
		if strings.HasSuffix(name, ".csv") && strings.Contains(name, "submission") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", baseDir, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w under %s", domain.ErrNoSubmissionsFound, baseDir)
	}

	log.Info().Int("count", len(paths)).Str("dir", baseDir).
		Msg("discovered potential submission files")

	sets := make([]domain.CandidateSet, 0, len(paths))
	for _, path := range paths {
		set, err := LoadSet(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("skipping submission file")
			continue
		}
		log.Info().Str("path", path).Int("rows", set.Len()).Msg("loaded submission")
		sets = append(sets, set)
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("%w under %s", domain.ErrNoValidSubmissions, baseDir)
	}
	return sets, nil
}

// LoadSet parses one submission CSV into a candidate set. The file must
// carry id and text columns; extra columns are ignored. A UTF-8 BOM is
// tolerated so spreadsheet exports load cleanly.
func LoadSet(path string) (domain.CandidateSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.CandidateSet{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	decoder := unicode.UTF8.NewDecoder()
	reader := csv.NewReader(transform.NewReader(f, unicode.BOMOverride(decoder)))

	records, err := reader.ReadAll()
	if err != nil {
		return domain.CandidateSet{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(records) == 0 {
		return domain.CandidateSet{}, fmt.Errorf("%s is empty (no header row)", path)
	}

	idCol, textCol := -1, -1
	for i, h := range records[0] {
		switch h {
		case "id":
			idCol = i
		case "text":
			textCol = i
		}
	}
	if idCol < 0 || textCol < 0 {
		return domain.CandidateSet{}, fmt.Errorf("%s: missing required id/text columns", path)
	}

	candidates := make([]domain.Candidate, 0, len(records)-1)
	for _, record := range records[1:] {
		candidates = append(candidates, domain.Candidate{
			ID:   record[idCol],
			Text: record[textCol],
		})
	}

	return domain.CandidateSet{SourceID: path, Candidates: candidates}, nil
}
