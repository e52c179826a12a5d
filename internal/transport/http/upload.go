package http

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quickchat/quickchat/internal/proto"
)

// Uploader is the upload collaborator: it turns a raw file into a fetchable
// URL plus descriptive metadata. The sync core only ever sees the reference.
type Uploader struct {
	dir      string
	maxBytes int64
}

// NewUploader creates an uploader rooted at dir, creating it if needed.
func NewUploader(dir string, maxBytes int64) (*Uploader, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Uploader{dir: dir, maxBytes: maxBytes}, nil
}

// Dir returns the directory uploaded files are stored in.
func (u *Uploader) Dir() string {
	return u.dir
}

// Save stores the uploaded file under a timestamp-prefixed name and returns
// the attachment reference served under /uploads/.
func (u *Uploader) Save(fh *multipart.FileHeader) (*proto.Attachment, error) {
	if u.maxBytes > 0 && fh.Size > u.maxBytes {
		return nil, fmt.Errorf("file exceeds %d byte limit", u.maxBytes)
	}

	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	stored := fmt.Sprintf("%d-%s", time.Now().UnixMilli(), sanitizeFilename(fh.Filename))
	dstPath := filepath.Join(u.dir, stored)

	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(dstPath)
		return nil, fmt.Errorf("write upload: %w", err)
	}

	return &proto.Attachment{
		Name: fh.Filename,
		URL:  "/uploads/" + stored,
		Type: fh.Header.Get("Content-Type"),
		Size: fh.Size,
	}, nil
}

// sanitizeFilename strips path separators and anything else unsafe to put on
// disk, keeping the name recognizable.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
