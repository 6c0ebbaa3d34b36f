package blob

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
)

// Store persists attachment files and returns the URL recorded on the
// attachment.
type Store interface {
	Put(ctx context.Context, key, contentType string, r io.Reader) (string, error)
}

// Key builds the object key for an attachment upload.
func Key(applicationID, attachmentID, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	switch name {
	case "", ".", "..", "/":
		name = "file"
	}
	return fmt.Sprintf("applications/%s/attachments/%s/%s", applicationID, attachmentID, name)
}

func cleanKey(key string) (string, error) {
	k := path.Clean("/" + key)[1:]
	if k == "" {
		return "", fmt.Errorf("empty blob key")
	}
	return k, nil
}
