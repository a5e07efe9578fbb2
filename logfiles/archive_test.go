package logfiles

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sushazhi/fnos-logmanager/pathguard"
)

func requireTool(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not installed", name)
	}
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// recordCommands replaces the decompressor with name/args from fn and
// remembers what would have been run.
func recordCommands(svc *Service, fn func(ctx context.Context) *exec.Cmd) *[][]string {
	var calls [][]string
	svc.command = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		calls = append(calls, append([]string{name}, args...))
		return fn(ctx)
	}
	return &calls
}

func TestFormatOf(t *testing.T) {
	for p, want := range map[string]string{
		"/x/app.log.tar.gz": ".tar.gz",
		"/x/app.TGZ":        ".tgz",
		"/x/app.log.1.gz":   ".gz",
		"/x/app.tar":        ".tar",
		"/x/app.log.xz":     ".xz",
		"/x/app.7z":         ".7z",
	} {
		fm, ok := formatOf(p)
		require.True(t, ok, p)
		assert.Equal(t, want, fm.suffix, p)
	}
	_, ok := formatOf("/x/app.log")
	assert.False(t, ok)
}

func TestListArchives(t *testing.T) {
	f := newFixture(t)
	files, err := f.svc.ListArchives(context.Background(), 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(f.other, "old.log.gz"),
		filepath.Join(f.other, "new.log.gz"),
	}, paths(files))
	for _, file := range files {
		assert.Equal(t, ".gz", file.Format)
	}

	files, err = f.svc.ListArchives(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestReadArchiveGzip(t *testing.T) {
	requireTool(t, "zcat")
	f := newFixture(t)
	p := filepath.Join(f.other, "rotated.log.1.gz")
	require.NoError(t, os.WriteFile(p, gzipBytes(t, []byte("one\ntwo\nthree\n")), 0o644))

	c, err := f.svc.ReadArchive(context.Background(), p, 0)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree", c.Content)
	assert.Equal(t, 3, c.Lines)
	assert.Equal(t, ".gz", c.Format)
	assert.False(t, c.Truncated)

	c, err = f.svc.ReadArchive(context.Background(), p, 2)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo", c.Content)
	assert.True(t, c.Truncated)
}

func TestReadArchiveTarGz(t *testing.T) {
	requireTool(t, "tar")
	f := newFixture(t)

	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	body := []byte("alpha\nbeta\n")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "app.log", Mode: 0o644, Size: int64(len(body))}))
	_, err := tw.Write(body)
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	p := filepath.Join(f.other, "bundle.tar.gz")
	require.NoError(t, os.WriteFile(p, gzipBytes(t, tarBuf.Bytes()), 0o644))

	c, err := f.svc.ReadArchive(context.Background(), p, 10)
	require.NoError(t, err)
	assert.Equal(t, "alpha\nbeta", c.Content)
}

func TestReadArchiveCorrupt(t *testing.T) {
	requireTool(t, "zcat")
	f := newFixture(t)
	_, err := f.svc.ReadArchive(context.Background(), filepath.Join(f.other, "old.log.gz"), 10)
	assert.ErrorIs(t, err, ErrArchiveFailed)
}

func TestReadArchiveKillsOnTimeout(t *testing.T) {
	requireTool(t, "sleep")
	f := newFixture(t)
	f.svc.archiveTimeout = 100 * time.Millisecond
	recordCommands(f.svc, func(ctx context.Context) *exec.Cmd {
		return exec.CommandContext(ctx, "sleep", "30")
	})

	start := time.Now()
	_, err := f.svc.ReadArchive(context.Background(), filepath.Join(f.other, "new.log.gz"), 10)
	assert.ErrorIs(t, err, ErrArchiveTimeout)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestReadArchiveStopsEndlessOutput(t *testing.T) {
	requireTool(t, "yes")
	f := newFixture(t)
	recordCommands(f.svc, func(ctx context.Context) *exec.Cmd {
		return exec.CommandContext(ctx, "yes", "spam")
	})

	c, err := f.svc.ReadArchive(context.Background(), filepath.Join(f.other, "new.log.gz"), 5)
	require.NoError(t, err)
	assert.Equal(t, 5, c.Lines)
	assert.True(t, c.Truncated)
}

func TestReadArchiveToolMissing(t *testing.T) {
	f := newFixture(t)
	recordCommands(f.svc, func(ctx context.Context) *exec.Cmd {
		return exec.CommandContext(ctx, "logmanager-missing-decompressor")
	})
	_, err := f.svc.ReadArchive(context.Background(), filepath.Join(f.other, "new.log.gz"), 5)
	assert.ErrorIs(t, err, ErrArchiveToolMissing)
}

func TestReadArchiveRejectsBeforeSpawning(t *testing.T) {
	f := newFixture(t)
	calls := recordCommands(f.svc, func(ctx context.Context) *exec.Cmd {
		return exec.CommandContext(ctx, "true")
	})
	ctx := context.Background()

	_, err := f.svc.ReadArchive(ctx, f.other+"/../../etc/shadow.gz", 5)
	assert.ErrorIs(t, err, pathguard.ErrPathRejected)
	_, err = f.svc.ReadArchive(ctx, "/etc/passwd.gz", 5)
	assert.ErrorIs(t, err, pathguard.ErrPathRejected)
	_, err = f.svc.ReadArchive(ctx, filepath.Join(f.root, "photos", "app.log"), 5)
	assert.ErrorIs(t, err, ErrNotArchive)
	_, err = f.svc.ReadArchive(ctx, filepath.Join(f.other, "gone.gz"), 5)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Empty(t, *calls)
}

func TestReadArchivePassesOnlyTheCleanPath(t *testing.T) {
	f := newFixture(t)
	calls := recordCommands(f.svc, func(ctx context.Context) *exec.Cmd {
		return exec.CommandContext(ctx, "true")
	})
	_, err := f.svc.ReadArchive(context.Background(), f.other+"/./sub/../new.log.gz", 5)
	require.NoError(t, err)
	require.Len(t, *calls, 1)
	assert.Equal(t, []string{"zcat", filepath.Join(f.other, "new.log.gz")}, (*calls)[0])
}

func TestDeleteArchive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := filepath.Join(f.other, "old.log.gz")

	clean, err := f.svc.DeleteArchive(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, p, clean)
	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))

	_, err = f.svc.DeleteArchive(ctx, filepath.Join(f.root, "photos", "app.log"))
	assert.ErrorIs(t, err, ErrNotArchive)
	_, err = f.svc.DeleteArchive(ctx, f.root+"/../../etc/old.gz")
	assert.ErrorIs(t, err, pathguard.ErrPathRejected)
}
