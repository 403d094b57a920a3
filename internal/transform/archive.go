package transform

import (
	"archive/zip"
	"fmt"
	"io"
	"time"
)

// PageName is the archive entry name of the 1-based page i.
func PageName(i int, ext string) string {
	return fmt.Sprintf("page-%d.%s", i, ext)
}

// WriteArchive writes a zip with one entry per blob, named page-1.<ext>,
// page-2.<ext> and so on in blob order.
func WriteArchive(w io.Writer, blobs [][]byte, ext string) error {
	zw := zip.NewWriter(w)
	modified := time.Now()
	for i, b := range blobs {
		f, err := zw.CreateHeader(&zip.FileHeader{
			Name:     PageName(i+1, ext),
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", PageName(i+1, ext), err)
		}
		if _, err := f.Write(b); err != nil {
			return fmt.Errorf("failed to write %s: %w", PageName(i+1, ext), err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}
