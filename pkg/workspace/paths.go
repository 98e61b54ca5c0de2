package workspace

import (
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
)

// Clean canonicalises a workspace-relative path: slash separated, NFC
// normalised, no leading "./" and no "..". Absolute paths are rejected.
func Clean(p string) (string, error) {
	if p == "" {
		return "", engine.NewValidationError("workspace path is empty", nil)
	}
	p = norm.NFC.String(filepath.ToSlash(p))
	if path.IsAbs(p) || filepath.IsAbs(p) {
		return "", engine.NewValidationError("workspace path must be relative: "+p, nil).
			WithDetail("path", p)
	}
	for _, segment := range strings.Split(p, "/") {
		if segment == ".." {
			return "", engine.NewValidationError("workspace path escapes the workspace root: "+p, nil).
				WithDetail("path", p)
		}
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return "", engine.NewValidationError("workspace path names the workspace root", nil)
	}
	return cleaned, nil
}

// Relative converts an absolute path under root into a cleaned workspace path.
func Relative(root, abs string) (string, error) {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", engine.NewValidationError("path is not inside the workspace: "+abs, err)
	}
	return Clean(rel)
}
