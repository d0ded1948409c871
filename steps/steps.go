// Package steps loads migration step definitions at process start.
//
// Structural steps come from a YAML manifest naming the external engine
// invocation per sequence. Schema steps are discovered by scanning a
// directory of NNNN_name.sql files. Both carry a hex SHA-256 checksum of
// their definition so that drift against the ledger can be detected.
package steps

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

	"gopkg.in/yaml.v3"

	migrator "github.com/daybook/migrate-orchestrator"
)

type manifest struct {
	Structural []manifestStep `yaml:"structural"`
}

type manifestStep struct {
	Sequence    int64    `yaml:"sequence"`
	Description string   `yaml:"description"`
	Command     string   `yaml:"command"`
	Args        []string `yaml:"args"`
}

var schemaFileRegex = regexp.MustCompile(`^(\d+)_(.+)\.sql$`)

// LoadStructural reads the structural step manifest.
// The checksum covers the command and arguments; the description is
// cosmetic and does not participate in drift detection.
func LoadStructural(path string) ([]migrator.Step, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read structural manifest: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse structural manifest: %w", err)
	}

	steps := make([]migrator.Step, 0, len(m.Structural))
	for _, ms := range m.Structural {
		if ms.Sequence <= 0 {
			return nil, fmt.Errorf("structural step %q has invalid sequence %d", ms.Description, ms.Sequence)
		}
		if ms.Command == "" {
			return nil, fmt.Errorf("structural step sequence %d has no command", ms.Sequence)
		}

		steps = append(steps, migrator.Step{
			Engine:      migrator.EngineStructural,
			Sequence:    ms.Sequence,
			Checksum:    checksum(ms.Command + "\x00" + strings.Join(ms.Args, "\x1f")),
			Description: ms.Description,
			Command:     ms.Command,
			Args:        ms.Args,
		})
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i].Sequence < steps[j].Sequence })
	return steps, nil
}

// LoadSchema scans a directory of NNNN_name.sql files, the versioned step
// set of the schema engine. The sequence comes from the numeric prefix and
// the checksum covers the file content.
func LoadSchema(dir string) ([]migrator.Step, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema directory: %w", err)
	}

	var steps []migrator.Step
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		match := schemaFileRegex.FindStringSubmatch(entry.Name())
		if match == nil {
			return nil, fmt.Errorf("schema file %q does not match NNNN_name.sql", entry.Name())
		}

		sequence, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("schema file %q has invalid sequence: %w", entry.Name(), err)
		}

		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read schema file %q: %w", entry.Name(), err)
		}

		steps = append(steps, migrator.Step{
			Engine:      migrator.EngineSchema,
			Sequence:    sequence,
			Checksum:    checksum(string(content)),
			Description: strings.ReplaceAll(match[2], "_", " "),
			SQL:         string(content),
		})
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i].Sequence < steps[j].Sequence })
	return steps, nil
}

// Load combines the structural manifest and the schema directory into one
// step set. An empty path skips that engine's steps.
func Load(manifestPath, schemaDir string) ([]migrator.Step, error) {
	var steps []migrator.Step

	if manifestPath != "" {
		structural, err := LoadStructural(manifestPath)
		if err != nil {
			return nil, err
		}
		steps = append(steps, structural...)
	}

	if schemaDir != "" {
		schema, err := LoadSchema(schemaDir)
		if err != nil {
			return nil, err
		}
		steps = append(steps, schema...)
	}

	return steps, nil
}

func checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
