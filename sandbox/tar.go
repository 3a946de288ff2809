package sandbox

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// FilePermission is the mode source files carry inside a sandbox. The
// sandbox user must be able to read them; nothing needs to write.
const FilePermission = 0o644

// FileArchive packs a single file into an in-memory tar stream for CopyIn.
// Archive transfer lands the file atomically, so the sandbox can never
// observe a half-written source file.
func FileArchive(name string, content []byte) (io.Reader, error) {
	clean := path.Clean(name)
	if clean == "." || clean == "/" || clean == "" || path.IsAbs(clean) ||
		clean != name || strings.HasPrefix(clean, "..") {
		return nil, fmt.Errorf("invalid archive file name: %q", name)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name:    clean,
		Mode:    FilePermission,
		Size:    int64(len(content)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, fmt.Errorf("write tar header: %w", err)
	}
	if _, err := tw.Write(content); err != nil {
		return nil, fmt.Errorf("write tar content: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	return &buf, nil
}

// ReadArchiveCapped drains a tar stream (e.g. from CopyOut) into memory,
// failing once it exceeds limit bytes so a sandbox cannot exfiltrate an
// unbounded artifact.
func ReadArchiveCapped(rc io.ReadCloser, limit int64) ([]byte, error) {
	defer rc.Close()
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	if n > limit {
		return nil, fmt.Errorf("archive exceeds size limit (%d bytes)", limit)
	}
	return buf.Bytes(), nil
}
