package repoview_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kbarone/raidme/internal/repoview"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestListRootFiles_ExcludesHiddenAndBinary(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "README.md", "Hello")
	writeFile(t, root, ".hidden", "secret")
	writeFile(t, root, "bin.dat", "abc\x00def")

	v := repoview.New(root, nil)
	files, err := v.ListRootFiles(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "README.md", files[0].Path)
}

func TestListRootFiles_HonorsExtraGlobs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "README.md", "Hello")
	writeFile(t, root, "generated.pb.go", "package x")

	v := repoview.New(root, []string{"*.pb.go"})
	files, err := v.ListRootFiles(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "README.md", files[0].Path)
}

func TestListDocs_FindsConventionalLocations(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "README.md", "Hello")
	writeFile(t, root, "CHANGELOG.md", "v1")
	writeFile(t, root, "docs/guide.md", "guide")
	writeFile(t, root, "src/notes.md", "not a doc location")

	v := repoview.New(root, nil)
	docs, err := v.ListDocs(context.Background(), 0, 0)
	require.NoError(t, err)

	var paths []string
	for _, d := range docs {
		paths = append(paths, d.Path)
	}
	require.Contains(t, paths, "README.md")
	require.Contains(t, paths, "CHANGELOG.md")
	require.Contains(t, paths, "docs/guide.md")
	require.NotContains(t, paths, "src/notes.md")
}

func TestListDocs_BoundedByCount(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "docs/a.md", "a")
	writeFile(t, root, "docs/b.md", "b")
	writeFile(t, root, "docs/c.md", "c")

	v := repoview.New(root, nil)
	docs, err := v.ListDocs(context.Background(), 2, 0)
	require.NoError(t, err)
	require.Len(t, docs, 2)
}

func TestListDocs_BoundedByTotalBytes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "docs/a.md", "12345")
	writeFile(t, root, "docs/b.md", "12345")

	v := repoview.New(root, nil)
	docs, err := v.ListDocs(context.Background(), 0, 5)
	require.NoError(t, err)
	require.Len(t, docs, 1)
}

func TestWalkLevels_EmitsDepthsInOrder(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/a.rs", "")
	writeFile(t, root, "docs/guide.md", "")
	writeFile(t, root, "src/nested/b.rs", "")

	v := repoview.New(root, nil)
	var got []struct {
		depth int
		dirs  []string
	}
	err := v.WalkLevels(context.Background(), 3, func(depth int, dirs []string) error {
		cp := make([]string, len(dirs))
		copy(cp, dirs)
		got = append(got, struct {
			depth int
			dirs  []string
		}{depth, cp})
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 1, got[0].depth)
	require.Equal(t, []string{"docs", "src"}, got[0].dirs)
	require.Equal(t, 2, got[1].depth)
	require.Equal(t, []string{"src/nested"}, got[1].dirs)
}

func TestWalkLevels_OmitsIgnoredDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/a.rs", "")
	writeFile(t, root, "node_modules/pkg/index.js", "")

	v := repoview.New(root, nil)
	var dirsAtDepth1 []string
	err := v.WalkLevels(context.Background(), 2, func(depth int, dirs []string) error {
		if depth == 1 {
			dirsAtDepth1 = dirs
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"src"}, dirsAtDepth1)
}

func TestWalkLevels_StopsWhenNoDeeperDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/a.rs", "")

	v := repoview.New(root, nil)
	var depths []int
	err := v.WalkLevels(context.Background(), 10, func(depth int, dirs []string) error {
		depths = append(depths, depth)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{1}, depths)
}

func TestDescribeDir_BoundedHeadAndBudget(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pkg/a.go", "package pkg\n// aaaaaaaaaaaaaaaaaaaaaaaa")
	writeFile(t, root, "pkg/b.go", "package pkg\n// bbbbbbbbbbbbbbbbbbbbbbbb")
	writeFile(t, root, "pkg/sub", "")
	os.Remove(filepath.Join(root, "pkg", "sub"))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg", "sub"), 0o755))

	v := repoview.New(root, nil)
	summary, err := v.DescribeDir(context.Background(), "pkg", 8, 12)
	require.NoError(t, err)
	require.Equal(t, []string{"sub"}, summary.Dirs)
	require.Equal(t, 2, summary.FileCount)
	require.Len(t, summary.Files, 2)
	require.LessOrEqual(t, len(summary.Files[0].Head)+len(summary.Files[1].Head), 12)
}

func TestDescribeDir_FlagsBinaryFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pkg/bin.dat", "abc\x00def")

	v := repoview.New(root, nil)
	summary, err := v.DescribeDir(context.Background(), "pkg", 100, 100)
	require.NoError(t, err)
	require.Len(t, summary.Files, 1)
	require.True(t, summary.Files[0].Binary)
	require.Empty(t, summary.Files[0].Head)
}

func TestReadText_RefusesBinary(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "bin.dat", "abc\x00def")

	v := repoview.New(root, nil)
	_, err := v.ReadText(context.Background(), "bin.dat", 100)
	require.Error(t, err)
}

func TestReadText_BoundsBySize(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "big.txt", "0123456789")

	v := repoview.New(root, nil)
	text, err := v.ReadText(context.Background(), "big.txt", 4)
	require.NoError(t, err)
	require.Equal(t, "0123", text)
}
