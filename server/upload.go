package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/mscno/ghdrive/pkg/errs"
)

// uploadForm collects the parts of an upload. The file is spooled to disk
// because GitHub needs its exact size up front.
type uploadForm struct {
	fields      map[string]string
	file        *os.File
	filename    string
	contentType string
	size        int64
}

// value prefers the multipart field and falls back to the query string.
func (f *uploadForm) value(r *http.Request, name string) string {
	if v, ok := f.fields[name]; ok {
		return v
	}
	return r.URL.Query().Get(name)
}

func (f *uploadForm) spool(part *multipart.Part, limit int64) error {
	tmp, err := os.CreateTemp("", "ghdrive-upload-*")
	if err != nil {
		return fmt.Errorf("creating upload spool: %w", err)
	}
	f.file = tmp

	n, err := io.Copy(tmp, io.LimitReader(part, limit+1))
	if err != nil {
		return uploadReadError(err)
	}
	if n > limit {
		return errs.New(errs.KindTooLarge, "file too large")
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding upload spool: %w", err)
	}
	f.filename = part.FileName()
	f.contentType = part.Header.Get("Content-Type")
	f.size = n
	return nil
}

func (f *uploadForm) cleanup() {
	if f.file == nil {
		return
	}
	f.file.Close()
	os.Remove(f.file.Name())
}

func uploadReadError(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return errs.New(errs.KindTooLarge, "file too large")
	}
	return errs.Wrap(errs.KindInvalidInput, "invalid multipart form", err)
}
