package materialize

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ernesto27/npm-bazel/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTree(t *testing.T) *tree.Tree {
	t.Helper()
	tr := tree.New("app", "1.0.0")
	add := func(parent tree.NodeID, name, ver string) tree.NodeID {
		n, err := tr.Add(parent, name, ver)
		require.NoError(t, err)
		return n.ID
	}
	a := add(tree.RootID, "a", "1.0.0")
	add(a, "c", "1.0.0")
	b := add(tree.RootID, "b", "1.0.0")
	add(b, "c", "2.0.0")
	add(tree.RootID, "c", "3.0.0")
	add(tree.RootID, "@scope/d", "1.0.0")
	add(tree.RootID, "@scope/e", "1.0.0")
	return tr
}

type recordingInstaller struct {
	mu      sync.Mutex
	targets map[string]string
	fail    string
}

var errBoom = errors.New("boom")

func (r *recordingInstaller) Install(_ context.Context, target string, node *tree.Node) error {
	if node.Name == r.fail {
		return errBoom
	}
	if err := os.MkdirAll(target, 0755); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[target] = node.Version
	return os.WriteFile(filepath.Join(target, "package.json"), []byte(`{"name":"`+node.Name+`"}`), 0644)
}

func TestMaterialize(t *testing.T) {
	outDir := t.TempDir()
	inst := &recordingInstaller{targets: make(map[string]string)}
	m := New(inst, 2)

	stats, err := m.Materialize(context.Background(), sampleTree(t), outDir)
	require.NoError(t, err)
	assert.Equal(t, Stats{Installed: 7, Skipped: 0}, stats)

	nm := filepath.Join(outDir, "node_modules")
	assert.Equal(t, map[string]string{
		filepath.Join(nm, "a"):                      "1.0.0",
		filepath.Join(nm, "a", "node_modules", "c"): "1.0.0",
		filepath.Join(nm, "b"):                      "1.0.0",
		filepath.Join(nm, "b", "node_modules", "c"): "2.0.0",
		filepath.Join(nm, "c"):                      "3.0.0",
		filepath.Join(nm, "@scope", "d"):            "1.0.0",
		filepath.Join(nm, "@scope", "e"):            "1.0.0",
	}, inst.targets)

	// a second run installs nothing
	again := &recordingInstaller{targets: make(map[string]string)}
	stats, err = New(again, 2).Materialize(context.Background(), sampleTree(t), outDir)
	require.NoError(t, err)
	assert.Equal(t, Stats{Installed: 0, Skipped: 7}, stats)
	assert.Empty(t, again.targets)
}

func TestMaterialize_ExistingTargetStillDescends(t *testing.T) {
	outDir := t.TempDir()
	// a is already there, e.g. extracted with its bundled dependencies
	require.NoError(t, os.MkdirAll(filepath.Join(outDir, "node_modules", "a"), 0755))

	inst := &recordingInstaller{targets: make(map[string]string)}
	stats, err := New(inst, 4).Materialize(context.Background(), sampleTree(t), outDir)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 6, stats.Installed)
	assert.Contains(t, inst.targets, filepath.Join(outDir, "node_modules", "a", "node_modules", "c"))
}

func TestMaterialize_InstallerFailure(t *testing.T) {
	outDir := t.TempDir()
	inst := &recordingInstaller{targets: make(map[string]string), fail: "c"}

	_, err := New(inst, 1).Materialize(context.Background(), sampleTree(t), outDir)
	require.ErrorIs(t, err, ErrInstallerFailure)
	assert.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "c@")

	// rerun after fixing the installer completes the tree
	inst.fail = ""
	stats, err := New(inst, 1).Materialize(context.Background(), sampleTree(t), outDir)
	require.NoError(t, err)
	assert.Equal(t, 7, stats.Installed+stats.Skipped)
}

func TestMaterialize_BoundedInstalls(t *testing.T) {
	var current, peak atomic.Int32
	inst := InstallerFunc(func(_ context.Context, target string, _ *tree.Node) error {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		current.Add(-1)
		return os.MkdirAll(target, 0755)
	})

	_, err := New(inst, 2).Materialize(context.Background(), sampleTree(t), t.TempDir())
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}
