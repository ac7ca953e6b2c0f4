// Copyright 2023 Northern.tech AS
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

package artifact

import (
	"archive/tar"
	"io"
)

// TarEntry is one entry of a tar stream: its declared name, size, and a
// reader bounded to exactly that many bytes. The reader is only valid
// until the next call to TarReader.Next; it is not re-readable afterward.
type TarEntry struct {
	Name string
	Size int64
	Body io.Reader
}

// TarReader presents a POSIX tar byte stream as a one-way sequence of
// entries: no random access, no re-reading a finished entry. It is a thin
// adapter over archive/tar so that the rest of this package depends on a
// narrow interface rather than *tar.Reader directly.
type TarReader struct {
	tr *tar.Reader
}

func NewTarReader(r io.Reader) *TarReader {
	return &TarReader{tr: tar.NewReader(r)}
}

// Next returns the next entry, or (nil, io.EOF) when the stream is
// exhausted. A malformed tar stream surfaces as a parse error.
func (t *TarReader) Next() (*TarEntry, error) {
	hdr, err := t.tr.Next()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, wrapParseError(err, "artifact: malformed tar stream")
	}
	return &TarEntry{Name: hdr.Name, Size: hdr.Size, Body: t.tr}, nil
}
