package traceio

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	lferrors "github.com/logflow/tracemine/pkg/errors"
)

// openFile opens path, decompressing it when the name ends in .gz. The
// caller must call the returned cleanup function when done reading.
func openFile(path string) (io.Reader, func() error, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, lferrors.Wrap(err, lferrors.CodeEmptyInput, "failed to open input").
			WithContext("path", path)
	}

	if !isGzip(path) {
		return file, file.Close, nil
	}
	gz, err := gzip.NewReader(file)
	if err != nil {
		file.Close()
		return nil, nil, lferrors.Wrap(err, lferrors.CodeInvalidFormat, "failed to open gzip stream").
			WithContext("path", path)
	}
	cleanup := func() error {
		gz.Close()
		return file.Close()
	}
	return gz, cleanup, nil
}

func isGzip(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}

// baseExt returns the format extension after stripping compression,
// e.g. "run.jsonl.gz" -> "jsonl".
func baseExt(path string) string {
	if isGzip(path) {
		path = path[:len(path)-3]
	}
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}
