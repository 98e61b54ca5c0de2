package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

// Format names a configuration source format.
type Format string

const (
	FormatCUE  Format = "cue"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// CUEParser evaluates configuration sources against the #Config schema.
// JSON sources compile as CUE directly; YAML is decoded with yaml.v3 first.
type CUEParser struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

// NewCUEParser compiles the built-in schema.
func NewCUEParser() (*CUEParser, error) {
	ctx := cuecontext.New()
	schema, err := compileSchema(ctx)
	if err != nil {
		return nil, err
	}
	return &CUEParser{ctx: ctx, schema: schema}, nil
}

// Parse evaluates data and decodes it into a Config. Problems with the source
// are returned as ValidationErrors; err is reserved for internal failures.
func (cp *CUEParser) Parse(data []byte, filename string, format Format) (*Config, []ValidationError, error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	val, problems := cp.compile(data, filename, format)
	if len(problems) > 0 {
		return nil, problems, nil
	}

	unified := cp.schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEErrors(err, filename), nil
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return nil, convertCUEErrors(err, filename), nil
	}
	return &cfg, nil, nil
}

func (cp *CUEParser) compile(data []byte, filename string, format Format) (cue.Value, []ValidationError) {
	switch format {
	case FormatCUE, FormatJSON:
		val := cp.ctx.CompileBytes(data, cue.Filename(filename))
		if err := val.Err(); err != nil {
			return cue.Value{}, convertCUEErrors(err, filename)
		}
		return val, nil
	case FormatYAML:
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return cue.Value{}, []ValidationError{yamlError(err, filename)}
		}
		if doc == nil {
			doc = map[string]any{}
		}
		val := cp.ctx.Encode(doc)
		if err := val.Err(); err != nil {
			return cue.Value{}, convertCUEErrors(err, filename)
		}
		return val, nil
	default:
		return cue.Value{}, []ValidationError{{File: filename, Message: fmt.Sprintf("unsupported configuration format %q", format)}}
	}
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error, filename string) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{File: filename, Message: cueerrors.Details(e, nil)}
		if pos := cueerrors.Positions(e); len(pos) > 0 && pos[0].Filename() == filename {
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		if path := e.Path(); len(path) > 0 {
			ve.Path = strings.Join(path, ".")
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{File: filename, Message: err.Error()})
	}
	return out
}

var yamlLine = regexp.MustCompile(`line (\d+):`)

func yamlError(err error, filename string) ValidationError {
	ve := ValidationError{File: filename, Message: err.Error()}
	if m := yamlLine.FindStringSubmatch(err.Error()); m != nil {
		ve.Line, _ = strconv.Atoi(m[1])
	}
	return ve
}
