package workspace

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
)

func newWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := New(t.TempDir())
	require.NoError(t, err)
	return ws
}

func TestClean(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "src/index.ts", want: "src/index.ts"},
		{in: "./src//index.ts", want: "src/index.ts"},
		{in: "src/./a/b.php", want: "src/a/b.php"},
		{in: "Café.txt", want: "Café.txt"},
		{in: "../outside.txt", wantErr: true},
		{in: "src/../../outside.txt", wantErr: true},
		{in: "/etc/passwd", wantErr: true},
		{in: ".", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Clean(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, engine.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWorkspace_DirectWrites(t *testing.T) {
	ws := newWorkspace(t)

	require.NoError(t, ws.Write("src/a.ts", []byte("a"), WriteOptions{EnsureDir: true}))
	got, err := ws.ReadText("src/a.ts")
	require.NoError(t, err)
	assert.Equal(t, "a", got)

	require.NoError(t, ws.Rm("src/a.ts"))
	exists, err := ws.Exists("src/a.ts")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = ws.Read("src/a.ts")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestWorkspace_WriteWithoutEnsureDirFails(t *testing.T) {
	ws := newWorkspace(t)
	err := ws.Write("missing/dir/a.ts", []byte("a"), WriteOptions{})
	assert.Error(t, err)
}

func TestWorkspace_TransactionStagesWrites(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, ws.Begin("generate"))
	require.NoError(t, ws.Write("a.txt", []byte("staged"), WriteOptions{EnsureDir: true}))

	got, err := ws.ReadText("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "staged", got, "reads inside the transaction see staged content")

	_, err = os.Stat(filepath.Join(ws.Root(), "a.txt"))
	assert.True(t, os.IsNotExist(err), "staged writes must not reach disk before commit")

	changes, err := ws.Commit("generate")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, changes.Writes)

	data, err := os.ReadFile(filepath.Join(ws.Root(), "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "staged", string(data))
}

func TestWorkspace_RollbackDiscardsWrites(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, ws.Begin("generate"))
	for _, f := range []string{"one.ts", "two.ts", "three.ts"} {
		require.NoError(t, ws.Write("out/"+f, []byte(f), WriteOptions{EnsureDir: true}))
	}
	require.NoError(t, ws.Rollback("generate"))

	for _, f := range []string{"one.ts", "two.ts", "three.ts"} {
		exists, err := ws.Exists("out/" + f)
		require.NoError(t, err)
		assert.False(t, exists, f)
	}
}

func TestWorkspace_StagedDeleteMasksDisk(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, ws.Write("a.txt", []byte("disk"), WriteOptions{}))

	require.NoError(t, ws.Begin("apply"))
	require.NoError(t, ws.Rm("a.txt"))
	exists, err := ws.Exists("a.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	pending, err := ws.Pending("apply")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, pending.Deletes)

	require.NoError(t, ws.Rollback("apply"))
	got, err := ws.ReadText("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "disk", got)
}

func TestWorkspace_NestedCommitMergesIntoParent(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, ws.Begin("outer"))
	require.NoError(t, ws.Begin("inner"))
	require.NoError(t, ws.Write("a.txt", []byte("a"), WriteOptions{}))
	_, err := ws.Commit("inner")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(ws.Root(), "a.txt"))
	assert.True(t, os.IsNotExist(err), "inner commit must not flush while outer is open")

	require.NoError(t, ws.Rollback("outer"))
	exists, err := ws.Exists("a.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestWorkspace_LabelRules(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, ws.Begin("generate"))

	err := ws.Begin("generate")
	require.Error(t, err)
	assert.True(t, engine.IsDeveloper(err))

	_, err = ws.Commit("other")
	assert.True(t, engine.IsDeveloper(err))

	require.NoError(t, ws.Rollback("generate"))
	require.NoError(t, ws.Begin("generate"), "a label can be reused once closed")
}

func TestDryRun_NeverTouchesDisk(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, ws.Write("keep.txt", []byte("keep"), WriteOptions{}))

	res, err := DryRun(ws, func(string) (int, error) {
		if err := ws.Write("new/file.ts", []byte("x"), WriteOptions{EnsureDir: true}); err != nil {
			return 0, err
		}
		if err := ws.Rm("keep.txt"); err != nil {
			return 0, err
		}
		return 7, nil
	})
	require.NoError(t, err)

	assert.Equal(t, 7, res.Result)
	assert.Equal(t, []string{"new/file.ts"}, res.Manifest.Writes)
	assert.Equal(t, []string{"keep.txt"}, res.Manifest.Deletes)

	exists, err := ws.Exists("new/file.ts")
	require.NoError(t, err)
	assert.False(t, exists)
	got, err := ws.ReadText("keep.txt")
	require.NoError(t, err)
	assert.Equal(t, "keep", got)
}

func TestDryRun_PropagatesError(t *testing.T) {
	ws := newWorkspace(t)
	boom := errors.New("boom")
	_, err := DryRun(ws, func(string) (struct{}, error) {
		_ = ws.Write("a.txt", []byte("a"), WriteOptions{})
		return struct{}{}, boom
	})
	assert.ErrorIs(t, err, boom)

	exists, err := ws.Exists("a.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestWorkspace_Hash(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, ws.Write("a.txt", []byte("abc"), WriteOptions{}))
	sum, err := ws.Hash("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)
}
