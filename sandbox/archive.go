package sandbox

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// UnpackArchive decodes a tar.gz archive into workdir-relative files, e.g.
// auxiliary data files a notebook reads. Entries that would escape the
// workdir (absolute paths, ".." traversal) are rejected.
func UnpackArchive(data []byte) (map[string][]byte, error) {
	gzipReader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	files := make(map[string][]byte)
	tarReader := tar.NewReader(gzipReader)

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading tar: %w", err)
		}

		if filepath.IsAbs(header.Name) {
			return nil, fmt.Errorf("absolute path not allowed in tar: %s", header.Name)
		}
		cleanName := filepath.Clean(header.Name)
		if cleanName == ".." || strings.HasPrefix(cleanName, ".."+string(filepath.Separator)) {
			return nil, fmt.Errorf("unsafe relative path in tar: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			// Directories are implied by file paths.
		case tar.TypeReg:
			content := make([]byte, header.Size)
			if _, err := io.ReadFull(tarReader, content); err != nil {
				return nil, fmt.Errorf("failed to read file content: %w", err)
			}
			files[cleanName] = content
		default:
			return nil, fmt.Errorf("unsupported file type in tar: %c", header.Typeflag)
		}
	}

	return files, nil
}
