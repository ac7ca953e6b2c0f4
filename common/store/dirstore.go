// Copyright 2021 Northern.tech AS
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
	"io/ioutil"
	"os"
	"path"
	"sync"

	log "github.com/sirupsen/logrus"
)

// DirStore is a Store backed by plain files in a directory. Unlike the
// LMDB-backed store used by the updater (see store.DBStore), the privileged
// authmanager process only ever keeps a handful of small entries (the device
// key, the cached token), so a directory of files with atomic rename-based
// commits is simpler and avoids pulling in LMDB for a second, much smaller
// keyspace.
type DirStore struct {
	basepath string
	mu       sync.Mutex
}

type dirFile struct {
	io.WriteCloser
	name     string
	dirstore *DirStore
}

func NewDirStore(basepath string) *DirStore {
	return &DirStore{basepath: basepath}
}

func (d *DirStore) Close() error {
	return nil
}

func (d *DirStore) ReadAll(name string) ([]byte, error) {
	in, err := d.OpenRead(name)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	return ioutil.ReadAll(in)
}

func (d *DirStore) WriteAll(name string, data []byte) error {
	out, err := d.OpenWrite(name)
	if err != nil {
		return err
	}
	if _, err = out.Write(data); err != nil {
		out.Close()
		return err
	}
	out.Close()
	return out.Commit()
}

// OpenRead opens an entry for reading. An absolute name is opened as-is,
// without joining it to basepath.
func (d *DirStore) OpenRead(name string) (io.ReadCloser, error) {
	var p string
	if path.IsAbs(name) {
		p = name
	} else {
		p = d.getPath(name)
	}
	f, err := os.Open(p)
	if err != nil {
		log.Debugf("authmanager store: read error for entry %v: %v", name, err)
		return nil, err
	}
	return f, nil
}

// OpenWrite opens a temporary "name~" file; the caller commits it by renaming
// it over the real entry via WriteCloserCommitter.Commit().
func (d *DirStore) OpenWrite(name string) (WriteCloserCommitter, error) {
	f, err := os.OpenFile(d.getTempPath(name), os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		log.Errorf("authmanager store: write error for entry %v: %v", name, err)
		return nil, err
	}
	return &dirFile{WriteCloser: f, name: name, dirstore: d}, nil
}

func (d *DirStore) Remove(name string) error {
	err := os.Remove(d.getPath(name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (d *DirStore) getPath(name string) string {
	return path.Join(d.basepath, name)
}

func (d *DirStore) getTempPath(name string) string {
	return d.getPath(name) + "~"
}

func (d *DirStore) commit(name string) error {
	if err := os.Rename(d.getTempPath(name), d.getPath(name)); err != nil {
		log.Errorf("authmanager store: commit error for entry %v: %v", name, err)
		return err
	}
	return nil
}

func (f *dirFile) Commit() error {
	return f.dirstore.commit(f.name)
}

// WriteTransaction and ReadTransaction give the authmanager process the same
// atomic read-modify-write contract C7 requires of the updater's datastore,
// serialized behind a single mutex rather than LMDB's MVCC: the authmanager
// keyspace never sees concurrent writers from more than one goroutine, so a
// mutex-guarded closure is sufficient and keeps this package LMDB-free.
func (d *DirStore) WriteTransaction(txnFunc func(txn Transaction) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return txnFunc(d)
}

func (d *DirStore) ReadTransaction(txnFunc func(txn Transaction) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return txnFunc(d)
}
