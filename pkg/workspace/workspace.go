package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
)

// WriteOptions controls a single write.
type WriteOptions struct {
	// EnsureDir creates missing parent directories.
	EnsureDir bool
}

// Changes lists the workspace paths a transaction wrote and deleted, sorted.
type Changes struct {
	Writes  []string `json:"writes"`
	Deletes []string `json:"deletes"`
}

// Empty reports whether no path was touched.
func (c Changes) Empty() bool {
	return len(c.Writes) == 0 && len(c.Deletes) == 0
}

// FS is the workspace contract used by builders and the patch applier.
//
// Paths are workspace-relative. Read of a missing file returns an error
// satisfying errors.Is(err, fs.ErrNotExist).
type FS interface {
	Root() string
	Resolve(p string) (string, error)
	Read(p string) ([]byte, error)
	ReadText(p string) (string, error)
	Exists(p string) (bool, error)
	Write(p string, contents []byte, opts WriteOptions) error
	WriteJSON(p string, value any) error
	Rm(p string) error
	Hash(p string) (string, error)

	Begin(label string) error
	Commit(label string) (Changes, error)
	Rollback(label string) error
	Pending(label string) (Changes, error)
}

// stagedFile is one entry of a transaction's write-set.
type stagedFile struct {
	contents  []byte
	deleted   bool
	ensureDir bool
}

type transaction struct {
	label string
	files map[string]*stagedFile
}

// Workspace is a directory-backed FS with a stack of labelled transactions.
//
// Outside a transaction writes go straight to disk. Inside one they are staged
// by the innermost open transaction and only reach disk when the outermost
// transaction commits. Reads see the staged overlay.
type Workspace struct {
	root string

	mu    sync.Mutex
	stack []*transaction
}

var _ FS = (*Workspace)(nil)

// New returns a workspace rooted at root.
func New(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, engine.NewEnvironmentalError("failed to resolve workspace root", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, engine.NewEnvironmentalError("workspace root is not accessible: "+abs, err)
	}
	if !info.IsDir() {
		return nil, engine.NewEnvironmentalError("workspace root is not a directory: "+abs, nil)
	}
	return &Workspace{root: abs}, nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string {
	return w.root
}

// Resolve returns the absolute path of p.
func (w *Workspace) Resolve(p string) (string, error) {
	rel, err := Clean(p)
	if err != nil {
		return "", err
	}
	return filepath.Join(w.root, filepath.FromSlash(rel)), nil
}

// lookup returns the staged entry for rel, searching the innermost transaction first.
func (w *Workspace) lookup(rel string) (*stagedFile, bool) {
	for i := len(w.stack) - 1; i >= 0; i-- {
		if f, ok := w.stack[i].files[rel]; ok {
			return f, true
		}
	}
	return nil, false
}

// Read returns the contents of p.
func (w *Workspace) Read(p string) ([]byte, error) {
	rel, err := Clean(p)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	staged, ok := w.lookup(rel)
	w.mu.Unlock()
	if ok {
		if staged.deleted {
			return nil, &fs.PathError{Op: "read", Path: rel, Err: fs.ErrNotExist}
		}
		return append([]byte{}, staged.contents...), nil
	}

	return os.ReadFile(filepath.Join(w.root, filepath.FromSlash(rel)))
}

// ReadText returns the contents of p as a string.
func (w *Workspace) ReadText(p string) (string, error) {
	data, err := w.Read(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Exists reports whether p exists, taking staged writes and deletes into account.
func (w *Workspace) Exists(p string) (bool, error) {
	rel, err := Clean(p)
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	staged, ok := w.lookup(rel)
	w.mu.Unlock()
	if ok {
		return !staged.deleted, nil
	}

	_, err = os.Stat(filepath.Join(w.root, filepath.FromSlash(rel)))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Write writes contents to p, staging it when a transaction is open.
func (w *Workspace) Write(p string, contents []byte, opts WriteOptions) error {
	rel, err := Clean(p)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if top := w.top(); top != nil {
		top.files[rel] = &stagedFile{contents: append([]byte{}, contents...), ensureDir: opts.EnsureDir}
		return nil
	}
	return w.writeFile(rel, contents, opts.EnsureDir)
}

// WriteJSON writes value as indented JSON with a trailing newline.
func (w *Workspace) WriteJSON(p string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", p, err)
	}
	return w.Write(p, append(data, '\n'), WriteOptions{EnsureDir: true})
}

// Rm removes p. Removing a missing path is not an error.
func (w *Workspace) Rm(p string) error {
	rel, err := Clean(p)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if top := w.top(); top != nil {
		top.files[rel] = &stagedFile{deleted: true}
		return nil
	}
	return w.removeFile(rel)
}

// Hash returns the hex SHA-256 digest of p.
func (w *Workspace) Hash(p string) (string, error) {
	data, err := w.Read(p)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (w *Workspace) top() *transaction {
	if len(w.stack) == 0 {
		return nil
	}
	return w.stack[len(w.stack)-1]
}

// Begin opens a transaction. A label may not be reused while it is open.
func (w *Workspace) Begin(label string) error {
	if label == "" {
		return engine.NewDeveloperError("transaction label is empty", nil).WithCode(engine.ErrCodeTransaction)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, tx := range w.stack {
		if tx.label == label {
			return engine.NewDeveloperError(
				fmt.Sprintf("transaction %q is already open", label), nil,
			).WithCode(engine.ErrCodeTransaction)
		}
	}
	w.stack = append(w.stack, &transaction{label: label, files: make(map[string]*stagedFile)})
	return nil
}

// checkTop verifies label names the innermost open transaction.
func (w *Workspace) checkTop(label string) (*transaction, error) {
	top := w.top()
	if top == nil || top.label != label {
		return nil, engine.NewDeveloperError(
			fmt.Sprintf("transaction %q is not the innermost open transaction", label), nil,
		).WithCode(engine.ErrCodeTransaction)
	}
	return top, nil
}

// Pending returns what committing label would change, without committing.
func (w *Workspace) Pending(label string) (Changes, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, tx := range w.stack {
		if tx.label == label {
			return changesOf(tx), nil
		}
	}
	return Changes{}, engine.NewDeveloperError(
		fmt.Sprintf("transaction %q is not open", label), nil,
	).WithCode(engine.ErrCodeTransaction)
}

// Commit closes label. When an outer transaction is open the staged set is
// merged into it; otherwise it is flushed to disk.
//
// Flushing writes each file through a temp file and rename, so readers see
// either the old or the new contents of a file.
func (w *Workspace) Commit(label string) (Changes, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	tx, err := w.checkTop(label)
	if err != nil {
		return Changes{}, err
	}
	w.stack = w.stack[:len(w.stack)-1]
	changes := changesOf(tx)

	if parent := w.top(); parent != nil {
		for rel, f := range tx.files {
			parent.files[rel] = f
		}
		return changes, nil
	}

	for _, rel := range changes.Writes {
		f := tx.files[rel]
		if err := w.writeFile(rel, f.contents, f.ensureDir); err != nil {
			return changes, fmt.Errorf("failed to commit transaction %s: %w", label, err)
		}
	}
	for _, rel := range changes.Deletes {
		if err := w.removeFile(rel); err != nil {
			return changes, fmt.Errorf("failed to commit transaction %s: %w", label, err)
		}
	}
	return changes, nil
}

// Rollback discards every write staged under label.
func (w *Workspace) Rollback(label string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.checkTop(label); err != nil {
		return err
	}
	w.stack = w.stack[:len(w.stack)-1]
	return nil
}

func changesOf(tx *transaction) Changes {
	changes := Changes{Writes: []string{}, Deletes: []string{}}
	for rel, f := range tx.files {
		if f.deleted {
			changes.Deletes = append(changes.Deletes, rel)
		} else {
			changes.Writes = append(changes.Writes, rel)
		}
	}
	sort.Strings(changes.Writes)
	sort.Strings(changes.Deletes)
	return changes
}

func (w *Workspace) writeFile(rel string, contents []byte, ensureDir bool) error {
	target := filepath.Join(w.root, filepath.FromSlash(rel))
	dir := filepath.Dir(target)
	if ensureDir {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", rel, err)
		}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(contents); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	return nil
}

func (w *Workspace) removeFile(rel string) error {
	err := os.RemoveAll(filepath.Join(w.root, filepath.FromSlash(rel)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", rel, err)
	}
	return nil
}

// DryRunResult is the outcome of DryRun.
type DryRunResult[T any] struct {
	Result   T
	Manifest Changes
}

// DryRun runs fn inside a fresh transaction that is always rolled back and
// reports what fn would have written. fn receives the transaction label.
func DryRun[T any](w FS, fn func(label string) (T, error)) (DryRunResult[T], error) {
	label := "dry-run-" + uuid.NewString()
	if err := w.Begin(label); err != nil {
		return DryRunResult[T]{}, err
	}

	result, fnErr := fn(label)
	manifest, pendingErr := w.Pending(label)
	if err := w.Rollback(label); err != nil {
		return DryRunResult[T]{}, err
	}
	if fnErr != nil {
		return DryRunResult[T]{Result: result}, fnErr
	}
	if pendingErr != nil {
		return DryRunResult[T]{}, pendingErr
	}
	return DryRunResult[T]{Result: result, Manifest: manifest}, nil
}
