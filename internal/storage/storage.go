// Package storage keeps uploaded packages and their unpacked content in
// named areas. An area is a key prefix such as "modules/3/content/2/".
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrNotFound = errors.New("storage: object not found")

// Storage is a flat object store addressed by slash-separated keys.
type Storage interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// List returns every key under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	DeletePrefix(ctx context.Context, prefix string) error
}

func DraftArea(userID int64, draftID string) string {
	return fmt.Sprintf("drafts/%d/%s/", userID, draftID)
}

func ContentArea(moduleID int64, version int) string {
	return fmt.Sprintf("modules/%d/content/%d/", moduleID, version)
}

// cleanKey rejects keys that could escape the store root.
func cleanKey(key string) (string, error) {
	key = strings.TrimLeft(strings.ReplaceAll(key, "\\", "/"), "/")
	if key == "" {
		return "", fmt.Errorf("storage: empty key")
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("storage: invalid key %q", key)
		}
	}
	return key, nil
}

func areaPrefix(area string) string {
	area = strings.TrimLeft(area, "/")
	if area != "" && !strings.HasSuffix(area, "/") {
		area += "/"
	}
	return area
}
