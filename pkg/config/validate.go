package config

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
)

// ErrCodeConfig marks configuration validation failures.
const ErrCodeConfig = "CONFIG_INVALID"

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugPattern.MatchString(fl.Field().String())
	})
	return v
}

var structValidator = newValidator()

// routeMethods lists the methods each route kind accepts.
var routeMethods = map[string][]string{
	"list":   {"GET"},
	"get":    {"GET"},
	"create": {"POST"},
	"update": {"PUT", "PATCH"},
	"remove": {"DELETE"},
}

// itemRoutes address a single item and must carry the identity parameter.
var itemRoutes = map[string]bool{"get": true, "update": true, "remove": true}

// Problems returns every struct-tag and semantic problem of cfg.
func Problems(cfg *Config) []ValidationError {
	var problems []ValidationError

	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				problems = append(problems, ValidationError{
					Path:    strings.TrimPrefix(fe.Namespace(), "Config."),
					Message: fmt.Sprintf("failed %q validation", fe.Tag()),
				})
			}
		} else {
			problems = append(problems, ValidationError{Message: err.Error()})
		}
	}

	seenRoutes := make(map[string]string)
	for _, key := range cfg.ResourceNames() {
		res := cfg.Resources[key]
		base := "resources." + key

		if res.Schema != "" && res.Schema != "auto" {
			if _, ok := cfg.Schemas[res.Schema]; !ok {
				problems = append(problems, ValidationError{
					Path:    base + ".schema",
					Message: fmt.Sprintf("unknown schema %q", res.Schema),
				})
			}
		}

		param := "id"
		if res.Identity != nil && res.Identity.Param != "" {
			param = res.Identity.Param
		}

		for _, kind := range sortedKeys(res.Routes) {
			route := res.Routes[kind]
			path := base + ".routes." + kind

			if allowed, ok := routeMethods[kind]; ok && !contains(allowed, route.Method) {
				problems = append(problems, ValidationError{
					Path:    path + ".method",
					Message: fmt.Sprintf("%s routes must use %s, got %s", kind, strings.Join(allowed, " or "), route.Method),
				})
			}
			if itemRoutes[kind] && res.Identity != nil && !strings.Contains(route.Path, "(?P<"+param+">") {
				problems = append(problems, ValidationError{
					Path:    path + ".path",
					Message: fmt.Sprintf("route path %s does not capture identity parameter %q", route.Path, param),
				})
			}
			if route.Capability != "" {
				if _, ok := res.Capabilities[route.Capability]; !ok {
					problems = append(problems, ValidationError{
						Path:    path + ".capability",
						Message: fmt.Sprintf("unknown capability %q", route.Capability),
					})
				}
			}

			signature := route.Method + " " + route.Path
			if owner, dup := seenRoutes[signature]; dup {
				problems = append(problems, ValidationError{
					Path:    path,
					Message: fmt.Sprintf("route %s is already declared by %s", signature, owner),
				})
			} else {
				seenRoutes[signature] = path
			}
		}
	}

	scripts := make(map[string]bool)
	for i, s := range cfg.Scripts {
		if scripts[s.Name] {
			problems = append(problems, ValidationError{
				Path:    fmt.Sprintf("scripts[%d].name", i),
				Message: fmt.Sprintf("duplicate script %q", s.Name),
			})
		}
		scripts[s.Name] = true
	}

	return problems
}

// Validate returns a validation KernelError listing every problem of cfg.
func Validate(cfg *Config, source string) error {
	problems := Problems(cfg)
	if len(problems) == 0 {
		return nil
	}
	for i := range problems {
		if problems[i].File == "" {
			problems[i].File = source
		}
	}
	return NewProblemsError(source, problems)
}

// NewProblemsError reports problems found in source as one validation error.
func NewProblemsError(source string, problems []ValidationError) *engine.KernelError {
	lines := make([]string, len(problems))
	for i, p := range problems {
		lines[i] = "  - " + p.String()
	}
	msg := fmt.Sprintf("Invalid configuration %s:\n%s", source, strings.Join(lines, "\n"))
	return engine.NewValidationError(msg, nil).
		WithCode(ErrCodeConfig).
		WithDetail("problems", problems)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
