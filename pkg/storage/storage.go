// Package storage puts uploaded files somewhere the canvas can fetch them.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	storage_go "github.com/supabase-community/storage-go"
)

var ErrInvalidPath = errors.New("invalid storage path")

// Store is a bucketed blob store.
type Store interface {
	Upload(ctx context.Context, bucket, objectPath, contentType string, data []byte) error
	Delete(ctx context.Context, bucket, objectPath string) error
	PublicURL(bucket, objectPath string) string
}

func cleanObjectPath(p string) (string, error) {
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if p == "" || p == "." {
		return "", ErrInvalidPath
	}
	return p, nil
}

// Supabase stores objects in Supabase Storage.
type Supabase struct {
	client *storage_go.Client
}

// NewSupabase builds a store for the project at projectURL, authenticating
// with the service role key.
func NewSupabase(projectURL, serviceKey string) *Supabase {
	endpoint := strings.TrimRight(projectURL, "/") + "/storage/v1"
	return &Supabase{
		client: storage_go.NewClient(endpoint, serviceKey, map[string]string{"apikey": serviceKey}),
	}
}

func (s *Supabase) Upload(ctx context.Context, bucket, objectPath, contentType string, data []byte) error {
	p, err := cleanObjectPath(objectPath)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	upsert := false
	if _, err := s.client.UploadFile(bucket, p, bytes.NewReader(data), storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	}); err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, p, err)
	}
	return nil
}

func (s *Supabase) Delete(ctx context.Context, bucket, objectPath string) error {
	p, err := cleanObjectPath(objectPath)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.client.RemoveFile(bucket, []string{p}); err != nil {
		return fmt.Errorf("remove %s/%s: %w", bucket, p, err)
	}
	return nil
}

func (s *Supabase) PublicURL(bucket, objectPath string) string {
	return s.client.GetPublicUrl(bucket, objectPath).SignedURL
}

// Local stores objects under a directory and serves them below baseURL.
type Local struct {
	Root    string
	BaseURL string
}

func NewLocal(root, baseURL string) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Local{Root: root, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (l *Local) file(bucket, objectPath string) (string, error) {
	b, err := cleanObjectPath(bucket)
	if err != nil || strings.Contains(b, "/") {
		return "", ErrInvalidPath
	}
	p, err := cleanObjectPath(objectPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.Root, b, filepath.FromSlash(p)), nil
}

func (l *Local) Upload(ctx context.Context, bucket, objectPath, contentType string, data []byte) error {
	name, err := l.file(bucket, objectPath)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create object %s/%s: %w", bucket, objectPath, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return fmt.Errorf("write object %s/%s: %w", bucket, objectPath, err)
	}
	return f.Close()
}

func (l *Local) Delete(ctx context.Context, bucket, objectPath string) error {
	name, err := l.file(bucket, objectPath)
	if err != nil {
		return err
	}
	if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove object %s/%s: %w", bucket, objectPath, err)
	}
	return nil
}

func (l *Local) PublicURL(bucket, objectPath string) string {
	p, err := cleanObjectPath(objectPath)
	if err != nil {
		return ""
	}
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return l.BaseURL + "/files/" + url.PathEscape(bucket) + "/" + strings.Join(segments, "/")
}
