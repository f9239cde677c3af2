// Package transfer streams a remote response body into a local file.
package transfer

import (
	"io"
	"os"
)

// Writer saves readers to files. It is a distinct type so the workflow can
// swap it for a fake in tests.
type Writer struct{}

func NewWriter() *Writer { return &Writer{} }

// Save creates (or truncates) dest and copies r into it. The file handle is
// closed on every path; underlying I/O errors are returned unmodified, the
// caller decides how much detail to surface.
func (w *Writer) Save(r io.Reader, dest string) (err error) {
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	_, err = io.Copy(f, r)
	return err
}
