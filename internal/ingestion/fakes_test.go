package ingestion

import (
	"context"
	"sync"

	"github.com/your-org/imageflow/pkg/storage/objectstore"
	"github.com/your-org/imageflow/pkg/storage/recordstore"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type blobCall struct {
	target objectstore.Target
	name   string
	data   []byte
	tags   map[string]string
}

type fakeBlobs struct {
	log   *callLog
	err   error
	calls []blobCall
}

func (f *fakeBlobs) Upload(_ context.Context, target objectstore.Target, name string, data []byte, tags map[string]string) error {
	f.log.add("upload")
	f.calls = append(f.calls, blobCall{target: target, name: name, data: data, tags: tags})
	if f.err != nil {
		return &objectstore.BlobStorageError{Container: target.Container, Name: name, Err: f.err}
	}
	return nil
}

type recordCall struct {
	table recordstore.Target
	rec   recordstore.Record
	mode  recordstore.Mode
}

type fakeRecords struct {
	log   *callLog
	err   error
	calls []recordCall
}

func (f *fakeRecords) Upsert(_ context.Context, target recordstore.Target, rec recordstore.Record, mode recordstore.Mode) error {
	f.log.add("record")
	f.calls = append(f.calls, recordCall{table: target, rec: rec, mode: mode})
	if f.err != nil {
		return &recordstore.TableStorageError{Table: target.Table, PartitionKey: rec[recordstore.PartitionKey], RowKey: rec[recordstore.RowKey], Err: f.err}
	}
	return nil
}

type publishedMessage struct {
	key     []byte
	value   []byte
	headers map[string]string
}

type fakePublisher struct {
	err      error
	messages []publishedMessage
	closed   bool
}

func (f *fakePublisher) Publish(_ context.Context, key []byte, value []byte, headers map[string]string) error {
	f.messages = append(f.messages, publishedMessage{key: key, value: value, headers: headers})
	return f.err
}

func (f *fakePublisher) Close(context.Context) error {
	f.closed = true
	return nil
}

func newFakes() (*callLog, *fakeBlobs, *fakeRecords) {
	log := &callLog{}
	return log, &fakeBlobs{log: log}, &fakeRecords{log: log}
}
