package gateway

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/oktetlabs/test-environment-sub007/internal/models"
)

const fileChunkSize = 16 << 10

// errNoHTTPRoot is reported as 503 with a fixed body.
var errNoHTTPRoot = errors.New("HTTP dir not configured")

// FileServer resolves GET paths under the ACS http_root.
type FileServer struct {
	fs afero.Fs
}

func NewFileServer(fsys afero.Fs) *FileServer {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &FileServer{fs: fsys}
}

// Open resolves reqPath for acs and opens the file. On failure it returns
// the HTTP status to answer with.
func (f *FileServer) Open(acs *models.Acs, reqPath string) (afero.File, int64, int, error) {
	if acs.HTTPRoot == "" {
		return nil, 0, http.StatusServiceUnavailable, errNoHTTPRoot
	}

	rel := reqPath
	if acs.URL != "" {
		if !strings.HasPrefix(reqPath, acs.URL) {
			return nil, 0, http.StatusNotFound, fmt.Errorf("%s is outside %s", reqPath, acs.URL)
		}
		rel = strings.TrimPrefix(reqPath, acs.URL)
	}

	if strings.IndexByte(rel, 0) >= 0 || hasDotDot(rel) {
		return nil, 0, http.StatusBadRequest, fmt.Errorf("bad path %q", reqPath)
	}
	full := filepath.Join(acs.HTTPRoot, filepath.FromSlash(path.Clean("/"+rel)))

	file, err := f.fs.Open(full)
	if err != nil {
		return nil, 0, statusFor(err), err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, statusFor(err), err
	}
	if info.IsDir() {
		file.Close()
		return nil, 0, http.StatusInternalServerError, fmt.Errorf("%s is a directory", full)
	}
	return file, info.Size(), http.StatusOK, nil
}

func hasDotDot(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, fs.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, fs.ErrInvalid):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
