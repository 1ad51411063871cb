package trace

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/golang/snappy"
	"github.com/sirupsen/logrus"
)

const plainSuffix = ".json"

// CompressedName returns the compressed file name for a plain trace path.
func CompressedName(path string) (string, error) {
	if !strings.HasSuffix(path, plainSuffix) || strings.HasSuffix(path, CompressedSuffix) {
		return "", fmt.Errorf("%s: expected a %s trace", path, plainSuffix)
	}
	return strings.TrimSuffix(path, plainSuffix) + CompressedSuffix, nil
}

// PlainName returns the uncompressed file name for a compressed trace path.
func PlainName(path string) (string, error) {
	if !strings.HasSuffix(path, CompressedSuffix) {
		return "", fmt.Errorf("%s: expected a %s trace", path, CompressedSuffix)
	}
	return strings.TrimSuffix(path, CompressedSuffix) + plainSuffix, nil
}

// CompressFile writes src in snappy framed format next to it and returns the
// new path. src must parse as a trace; nothing is written otherwise.
func CompressFile(src string) (string, error) {
	dst, err := CompressedName(src)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("reading trace: %w", err)
	}
	if _, err := Parse(bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("%s: %w", src, err)
	}

	var buf bytes.Buffer
	w := snappy.NewBufferedWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return "", fmt.Errorf("compressing %s: %w", src, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("compressing %s: %w", src, err)
	}
	if err := os.WriteFile(dst, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("writing %s: %w", dst, err)
	}
	logrus.Debugf("CompressFile: %s (%d bytes) -> %s (%d bytes)", src, len(data), dst, buf.Len())
	return dst, nil
}

// DecompressFile expands a snappy framed trace into a plain JSON file next to
// it and returns the new path.
func DecompressFile(src string) (string, error) {
	dst, err := PlainName(src)
	if err != nil {
		return "", err
	}
	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("opening trace: %w", err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(snappy.NewReader(f))
	if err != nil {
		return "", fmt.Errorf("decompressing %s: %w", src, err)
	}
	if _, err := Parse(bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("%s: %w", src, err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return "", fmt.Errorf("writing %s: %w", dst, err)
	}
	logrus.Debugf("DecompressFile: %s -> %s (%d bytes)", src, dst, len(data))
	return dst, nil
}
