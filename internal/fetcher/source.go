package fetcher

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ecoparse/internal/config"
	"github.com/sells-group/ecoparse/internal/resilience"
)

// Source is a document available on local disk.
type Source struct {
	// Path is the local file to read.
	Path string
	// Ref is the reference the caller supplied.
	Ref string

	tempDir string
}

// Name returns the file name of the original reference.
func (s *Source) Name() string {
	if u, err := url.Parse(s.Ref); err == nil && u.Scheme != "" && u.Path != "" {
		return path.Base(u.Path)
	}
	return filepath.Base(s.Ref)
}

// Cleanup removes any temporary files created for the source.
func (s *Source) Cleanup() {
	if s.tempDir == "" {
		return
	}
	if err := os.RemoveAll(s.tempDir); err != nil {
		zap.L().Warn("fetcher: cleanup failed", zap.String("dir", s.tempDir), zap.Error(err))
	}
}

// Resolver turns document references into local files.
type Resolver struct {
	http    Fetcher
	ftp     Fetcher
	tempDir string
}

// NewResolver creates a Resolver from fetch configuration. guard may be nil.
func NewResolver(cfg config.FetchConfig, guard *resilience.Guard) *Resolver {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	return &Resolver{
		http:    NewHTTPFetcher(HTTPOptions{Timeout: timeout, Guard: guard}),
		ftp:     NewFTPFetcher(FTPOptions{Timeout: timeout}),
		tempDir: cfg.TempDir,
	}
}

// NewResolverWith creates a Resolver over explicit fetchers.
func NewResolverWith(httpFetcher, ftpFetcher Fetcher, tempDir string) *Resolver {
	return &Resolver{http: httpFetcher, ftp: ftpFetcher, tempDir: tempDir}
}

// Resolve makes ref available locally. Local paths are used in place;
// http(s) and ftp URLs are downloaded into a temporary directory. A zip
// archive, local or remote, is replaced by the PDF it contains. Callers
// must call Cleanup on the result.
func (r *Resolver) Resolve(ctx context.Context, ref string) (*Source, error) {
	src := &Source{Ref: ref, Path: ref}

	var f Fetcher
	if u, err := url.Parse(ref); err == nil {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			f = r.http
		case "ftp":
			f = r.ftp
		}
	}

	if f != nil {
		dir, err := r.mkTemp()
		if err != nil {
			return nil, err
		}
		src.tempDir = dir

		dest := filepath.Join(dir, sanitizeName(src.Name()))
		n, err := f.DownloadToFile(ctx, ref, dest)
		if err != nil {
			src.Cleanup()
			return nil, err
		}
		zap.L().Info("fetcher: downloaded", zap.String("ref", ref), zap.Int64("bytes", n))
		src.Path = dest
	} else if _, err := os.Stat(ref); err != nil {
		return nil, eris.Wrapf(err, "fetcher: open %s", ref)
	}

	if strings.EqualFold(filepath.Ext(src.Path), ".zip") {
		if src.tempDir == "" {
			dir, err := r.mkTemp()
			if err != nil {
				return nil, err
			}
			src.tempDir = dir
		}
		pdf, err := ExtractPDF(src.Path, src.tempDir)
		if err != nil {
			src.Cleanup()
			return nil, err
		}
		src.Path = pdf
	}
	return src, nil
}

func (r *Resolver) mkTemp() (string, error) {
	if r.tempDir != "" {
		if err := os.MkdirAll(r.tempDir, 0o755); err != nil {
			return "", eris.Wrap(err, "fetcher: create temp root")
		}
	}
	dir, err := os.MkdirTemp(r.tempDir, "ecoparse-")
	if err != nil {
		return "", eris.Wrap(err, "fetcher: create temp dir")
	}
	return dir, nil
}

func sanitizeName(name string) string {
	name = filepath.Base(name)
	if name == "." || name == "/" || name == "" {
		return "document.pdf"
	}
	return name
}
