package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
)

// Candidates are the configuration files looked up in the workspace root, in order.
var Candidates = []string{"wpk.config.cue", "wpk.config.yaml", "wpk.config.yml", "wpk.config.json"}

// Loader finds, parses and validates configuration files.
type Loader struct {
	parser *CUEParser
}

// NewLoader creates a loader with the built-in schema.
func NewLoader() (*Loader, error) {
	parser, err := NewCUEParser()
	if err != nil {
		return nil, engine.NewUnexpectedError("failed to initialise config parser", err)
	}
	return &Loader{parser: parser}, nil
}

// Discover returns the first candidate present in root.
func (l *Loader) Discover(root string) (string, error) {
	for _, name := range Candidates {
		p := filepath.Join(root, name)
		info, err := os.Stat(p)
		if err == nil && !info.IsDir() {
			return p, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", engine.NewEnvironmentalError("failed to inspect "+p, err)
		}
	}
	return "", engine.NewEnvironmentalError(
		fmt.Sprintf("no configuration found in %s (looked for %s)", root, strings.Join(Candidates, ", ")), nil,
	).WithCode(ErrCodeConfig)
}

// Load reads the explicit path, or the discovered candidate when explicit is
// empty. A relative explicit path is resolved against root.
func (l *Loader) Load(root, explicit string) (*Loaded, error) {
	source := explicit
	if source == "" {
		found, err := l.Discover(root)
		if err != nil {
			return nil, err
		}
		source = found
	} else if !filepath.IsAbs(source) {
		source = filepath.Join(root, source)
	}

	data, err := os.ReadFile(source)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, engine.NewEnvironmentalError("configuration file not found: "+source, err).WithCode(ErrCodeConfig)
	}
	if err != nil {
		return nil, engine.NewEnvironmentalError("failed to read configuration "+source, err)
	}

	format, err := FormatOf(source)
	if err != nil {
		return nil, err
	}
	cfg, err := l.Parse(data, source, format)
	if err != nil {
		return nil, err
	}
	return &Loaded{Config: cfg, SourcePath: source, Format: string(format)}, nil
}

// Parse decodes and validates data. Every problem is reported in one
// validation error.
func (l *Loader) Parse(data []byte, source string, format Format) (*Config, error) {
	cfg, problems, err := l.parser.Parse(data, source, format)
	if err != nil {
		return nil, engine.NewUnexpectedError("failed to evaluate configuration "+source, err)
	}
	if len(problems) > 0 {
		return nil, NewProblemsError(source, problems)
	}
	if err := Validate(cfg, source); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FormatOf infers the format from the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return FormatCUE, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", engine.NewValidationError("unsupported configuration file "+path, nil).WithCode(ErrCodeConfig)
	}
}
