// Copyright 2017 Northern.tech AS
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.
package store

import (
	"io"

	"github.com/pkg/errors"
)

var NoTransactionSupport error = errors.New("no transaction support in this store")

// WriteCloserCommitter wraps io.WriteCloser with a Commit method; writes are
// only made durable once Commit returns nil.
type WriteCloserCommitter interface {
	io.WriteCloser
	Commit() error
}

type Transaction interface {
	ReadAll(name string) ([]byte, error)
	WriteAll(name string, data []byte) error
	Remove(name string) error
}

// Store is the updater's keyed byte-store: the persisted update state
// record (C7) and the device key both live behind this interface, backed by
// DBStore (LMDB) in production and MemStore/DirStore in tests. Errors
// preserve os I/O semantics: OpenRead on a missing entry returns
// os.ErrNotExist.
type Store interface {
	Transaction

	OpenRead(name string) (io.ReadCloser, error)
	OpenWrite(name string) (WriteCloserCommitter, error)

	Close() error

	// WriteTransaction and ReadTransaction run txnFunc atomically. Stores
	// without transaction support (DirStore) return NoTransactionSupport.
	WriteTransaction(txnFunc func(txn Transaction) error) error
	ReadTransaction(txnFunc func(txn Transaction) error) error
}
