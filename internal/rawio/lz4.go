// Package rawio reads the raw hourly source files: LZ4-framed,
// line-delimited JSON under <raw_dir>/<dataset_path>/YYYYMMDD/HH.lz4. It
// streams lines without holding a whole file in memory and enumerates the
// dates and files available on disk.
package rawio

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/pierrec/lz4/v4"
)

// ScanLines decompresses the LZ4 file at path and calls fn once per
// non-blank line. Lines are streamed; the buffer passed to fn is only valid
// during the call. A non-nil error from fn stops the scan and is returned.
func ScanLines(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("rawio: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(lz4.NewReader(f), 1<<20)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			trimmed := bytes.TrimSpace(line)
			if len(trimmed) > 0 {
				if ferr := fn(trimmed); ferr != nil {
					return ferr
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("rawio: read %s: %w", path, err)
		}
	}
}

// CountLines returns the number of non-blank lines in the LZ4 file at path.
func CountLines(path string) (int64, error) {
	var n int64
	err := ScanLines(path, func([]byte) error {
		n++
		return nil
	})
	return n, err
}
