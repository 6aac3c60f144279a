package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// ExtractPDF extracts the PDF from a zip archive into destDir. Archives
// holding several PDFs yield the alphabetically first one.
func ExtractPDF(zipPath, destDir string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", eris.Wrap(err, "fetcher: open zip")
	}
	defer r.Close() //nolint:errcheck

	var pdfs []*zip.File
	for _, f := range r.File {
		if !f.FileInfo().IsDir() && strings.EqualFold(filepath.Ext(f.Name), ".pdf") {
			pdfs = append(pdfs, f)
		}
	}
	if len(pdfs) == 0 {
		return "", eris.Errorf("fetcher: no pdf in %s", filepath.Base(zipPath))
	}
	sort.Slice(pdfs, func(i, j int) bool { return pdfs[i].Name < pdfs[j].Name })
	return extractEntry(pdfs[0], destDir)
}

func extractEntry(f *zip.File, destDir string) (string, error) {
	dest := filepath.Join(destDir, f.Name)
	if !strings.HasPrefix(filepath.Clean(dest), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("fetcher: illegal zip path %q", f.Name)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", eris.Wrap(err, "fetcher: create directory")
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrap(err, "fetcher: open zip entry")
	}
	defer rc.Close() //nolint:errcheck

	if _, err := copyToFile(io.LimitReader(rc, maxEntryBytes), dest); err != nil {
		return "", err
	}
	return dest, nil
}

// maxEntryBytes bounds decompressed entries.
const maxEntryBytes = 1 << 30
