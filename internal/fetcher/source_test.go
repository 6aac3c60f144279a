package fetcher

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ecoparse/internal/config"
)

type mockFetcher struct{ mock.Mock }

func (m *mockFetcher) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	args := m.Called(ctx, url)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *mockFetcher) DownloadToFile(ctx context.Context, url string, path string) (int64, error) {
	args := m.Called(ctx, url, path)
	return args.Get(0).(int64), args.Error(1)
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func TestExtractPDF(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "bundle.zip")
	writeZip(t, zipPath, map[string]string{
		"readme.txt":         "notes",
		"reports/b.pdf":      "second",
		"reports/a_main.PDF": "first",
	})

	out := filepath.Join(dir, "out")
	path, err := ExtractPDF(zipPath, out)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "reports", "a_main.PDF"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}

func TestExtractPDF_Errors(t *testing.T) {
	dir := t.TempDir()

	noPDF := filepath.Join(dir, "none.zip")
	writeZip(t, noPDF, map[string]string{"a.txt": "x"})
	_, err := ExtractPDF(noPDF, dir)
	assert.ErrorContains(t, err, "no pdf")

	slip := filepath.Join(dir, "slip.zip")
	writeZip(t, slip, map[string]string{"../../evil.pdf": "x"})
	_, err = ExtractPDF(slip, filepath.Join(dir, "out"))
	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "out", "..", "..", "evil.pdf"))

	_, err = ExtractPDF(filepath.Join(dir, "missing.zip"), dir)
	assert.Error(t, err)
}

func TestResolve_LocalPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "survey.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o644))

	r := NewResolver(config.FetchConfig{}, nil)
	src, err := r.Resolve(context.Background(), path)
	require.NoError(t, err)
	defer src.Cleanup()

	assert.Equal(t, path, src.Path)
	assert.Equal(t, "survey.pdf", src.Name())
	assert.Empty(t, src.tempDir)
}

func TestResolve_MissingLocal(t *testing.T) {
	r := NewResolver(config.FetchConfig{}, nil)
	_, err := r.Resolve(context.Background(), filepath.Join(t.TempDir(), "nope.pdf"))
	assert.Error(t, err)
}

func TestResolve_HTTP(t *testing.T) {
	httpF := &mockFetcher{}
	httpF.On("DownloadToFile", mock.Anything, "https://example.org/pubs/flora.pdf?v=2", mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) {
			require.NoError(t, os.WriteFile(args.String(2), []byte("%PDF"), 0o644))
		}).
		Return(int64(4), nil)

	tmp := t.TempDir()
	r := NewResolverWith(httpF, &mockFetcher{}, tmp)
	src, err := r.Resolve(context.Background(), "https://example.org/pubs/flora.pdf?v=2")
	require.NoError(t, err)

	assert.Equal(t, "flora.pdf", src.Name())
	assert.Equal(t, "flora.pdf", filepath.Base(src.Path))
	assert.True(t, strings.HasPrefix(src.Path, tmp))
	assert.FileExists(t, src.Path)

	src.Cleanup()
	assert.NoFileExists(t, src.Path)
	httpF.AssertExpectations(t)
}

func TestResolve_FTPZip(t *testing.T) {
	ftpF := &mockFetcher{}
	ftpF.On("DownloadToFile", mock.Anything, "ftp://ftp.example.org/pub/bundle.zip", mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) {
			writeZip(t, args.String(2), map[string]string{"doc.pdf": "%PDF zipped"})
		}).
		Return(int64(100), nil)

	r := NewResolverWith(&mockFetcher{}, ftpF, t.TempDir())
	src, err := r.Resolve(context.Background(), "ftp://ftp.example.org/pub/bundle.zip")
	require.NoError(t, err)
	defer src.Cleanup()

	assert.Equal(t, "doc.pdf", filepath.Base(src.Path))
	data, err := os.ReadFile(src.Path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF zipped", string(data))
}

func TestResolve_DownloadError(t *testing.T) {
	httpF := &mockFetcher{}
	httpF.On("DownloadToFile", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), assert.AnError)

	tmp := t.TempDir()
	r := NewResolverWith(httpF, &mockFetcher{}, tmp)
	_, err := r.Resolve(context.Background(), "http://example.org/a.pdf")
	assert.ErrorIs(t, err, assert.AnError)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
