// Package blobstore хранит изображения товаров в локальном каталоге и формирует их публичные URL.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrInvalidKey возвращается для ключей, выходящих за пределы хранилища.
var ErrInvalidKey = errors.New("invalid blob key")

// Local хранит файлы на диске и выдаёт их публичные URL.
type Local struct {
	root      string
	urlPrefix string
}

// NewLocal создаёт хранилище в каталоге root. Файлы раздаются по префиксу urlPrefix.
func NewLocal(root, urlPrefix string) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Local{
		root:      root,
		urlPrefix: strings.TrimRight(urlPrefix, "/"),
	}, nil
}

// Root возвращает каталог хранилища.
func (l *Local) Root() string { return l.root }

func cleanKey(key string) (string, error) {
	k := path.Clean("/" + key)
	if k == "/" || strings.Contains(key, "..") {
		return "", ErrInvalidKey
	}
	return strings.TrimPrefix(k, "/"), nil
}

// Put записывает содержимое r под ключом key и возвращает публичный URL.
func (l *Local) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dst := filepath.Join(l.root, filepath.FromSlash(k))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("store blob: %w", err)
	}

	return l.PublicURL(k), nil
}

// PublicURL возвращает URL, по которому доступен ключ.
func (l *Local) PublicURL(key string) string {
	return l.urlPrefix + "/" + strings.TrimPrefix(key, "/")
}
