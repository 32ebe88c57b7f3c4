package storageprovider

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/dgraph-io/badger/v4"
	"github.com/profiletools/mojo/internal/storageutil"
)

// Badger implements storageutil.ObjectHandler on an embedded badger
// database, used for local development and tests.
type Badger struct {
	DB *badger.DB
}

// Put writes a file to the storage provider with name being the path.
func (b *Badger) Put(ctx context.Context, name string) (io.WriteCloser, error) {
	return &badgerWriter{
		buf:  &bytes.Buffer{},
		txn:  b.DB.NewTransaction(true),
		name: name,
	}, nil
}

// Get reads a file from the storage provider with name being the path.
// If a key was not found, it will return ErrObjectNotFound.
func (b *Badger) Get(ctx context.Context, name string) (storageutil.ReadSizeCloser, error) {
	txn := b.DB.NewTransaction(false)
	item, err := txn.Get([]byte(name))
	if err != nil {
		txn.Discard()
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, storageutil.ErrObjectNotFound
		}
		return nil, err
	}

	value, err := item.ValueCopy(nil)
	if err != nil {
		txn.Discard()
		return nil, err
	}

	return &badgerReader{
		txn:    txn,
		reader: bytes.NewReader(value),
		size:   int64(len(value)),
	}, nil
}

type badgerWriter struct {
	buf  *bytes.Buffer
	txn  *badger.Txn
	name string
}

func (bw *badgerWriter) Write(b []byte) (int, error) {
	return bw.buf.Write(b)
}

func (bw *badgerWriter) Close() error {
	if err := bw.txn.Set([]byte(bw.name), bw.buf.Bytes()); err != nil {
		bw.txn.Discard()
		return err
	}
	return bw.txn.Commit()
}

type badgerReader struct {
	txn    *badger.Txn
	reader *bytes.Reader
	size   int64
}

func (br *badgerReader) Read(p []byte) (int, error) {
	return br.reader.Read(p)
}

func (br *badgerReader) Close() error {
	br.txn.Discard()
	return nil
}

func (br *badgerReader) Size() int64 {
	return br.size
}
