package server

import "context"

// ObjectStorage is the boundary to the upload backend. The engine only
// needs to learn an object's byte size when crediting or debiting a
// session's quota and to drop the object when its attachment record goes
// away; presigning and the uploads themselves happen outside this core.
type ObjectStorage interface {
	ObjectSize(ctx context.Context, fileKey string) (int64, error)
	DeleteObject(ctx context.Context, fileKey string) error
}

// NoopObjectStorage satisfies ObjectStorage for deployments without an
// upload backend and for tests.
type NoopObjectStorage struct{}

func (NoopObjectStorage) ObjectSize(context.Context, string) (int64, error) {
	return 0, nil
}

func (NoopObjectStorage) DeleteObject(context.Context, string) error {
	return nil
}
