package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// Target addresses a container in a specific object store.
type Target struct {
	ConnectionString string
	Container        string
}

// BlobStorageError is returned for any failure to store a blob.
type BlobStorageError struct {
	Container string
	Name      string
	Err       error
}

func (e *BlobStorageError) Error() string {
	return fmt.Sprintf("blob storage: upload %s/%s: %v", e.Container, e.Name, e.Err)
}

func (e *BlobStorageError) Unwrap() error {
	return e.Err
}

// Opener builds a client for a parsed connection string.
type Opener func(cfg Config) (Client, error)

// Uploader writes blobs to the store named by a connection string. Clients
// are opened on first use and reused for later uploads.
type Uploader struct {
	open Opener

	mu      sync.Mutex
	clients map[string]Client
}

// NewUploader returns an Uploader. A nil open uses New.
func NewUploader(open Opener) *Uploader {
	if open == nil {
		open = New
	}
	return &Uploader{
		open:    open,
		clients: map[string]Client{},
	}
}

// Upload creates or overwrites target.Container/name with data, tagging it
// with tags. A single attempt is made.
func (u *Uploader) Upload(ctx context.Context, target Target, name string, data []byte, tags map[string]string) error {
	client, err := u.client(target.ConnectionString)
	if err != nil {
		return &BlobStorageError{Container: target.Container, Name: name, Err: err}
	}

	err = client.Put(ctx, Object{
		Container:   target.Container,
		Name:        name,
		Body:        bytes.NewReader(data),
		Size:        int64(len(data)),
		ContentType: http.DetectContentType(data),
		Metadata:    tags,
	})
	if err != nil {
		return &BlobStorageError{Container: target.Container, Name: name, Err: err}
	}
	return nil
}

// client returns the cached client for connectionString, opening one if
// needed. Opening happens outside the lock so a slow store does not stall
// uploads to other stores; a client that loses the race is closed.
func (u *Uploader) client(connectionString string) (Client, error) {
	u.mu.Lock()
	c, ok := u.clients[connectionString]
	u.mu.Unlock()
	if ok {
		return c, nil
	}

	cfg, err := ParseConnectionString(connectionString)
	if err != nil {
		return nil, err
	}
	c, err = u.open(cfg)
	if err != nil {
		return nil, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if existing, ok := u.clients[connectionString]; ok {
		c.Close() //nolint:errcheck
		return existing, nil
	}
	u.clients[connectionString] = c
	return c, nil
}

// Close releases every opened client.
func (u *Uploader) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	var errs []error
	for key, c := range u.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(u.clients, key)
	}
	return errors.Join(errs...)
}
