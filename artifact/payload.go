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

import "io"

// PayloadFile is one file within a payload's data/NNNN.tar, its body bound
// to a checksum reader that will fail at read time if the stream does not
// match its recorded manifest digest.
type PayloadFile struct {
	Name string
	Size int64
	Body io.Reader
}

// Payload is one data/NNNN.tar entry: the inner tar of files belonging to
// a single update module invocation.
type Payload struct {
	Index int
	files *TarReader
	a     *Artifact
}

// Next returns the next file within this payload, wrapping its body in a
// checksum reader bound to the manifest entry recorded for it.
func (p *Payload) Next() (*PayloadFile, error) {
	entry, err := p.files.Next()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	canonical := stripCompressionSuffix(entry.Name)
	digest := p.a.manifest.Get(canonical)
	if digest == "" {
		return nil, newParseError("no manifest entry for payload file %q", canonical)
	}
	return &PayloadFile{
		Name: canonical,
		Size: entry.Size,
		Body: NewChecksumReader(entry.Body, digest),
	}, nil
}

// View returns the sub-header at index, or an error if index is out of
// range. This is the corrected form of the reference implementation's
// bounds check: it rejects precisely when index >= the number of
// sub-headers, never the inverse.
func (a *Artifact) View(index int) (*SubHeader, error) {
	if index < 0 || index >= len(a.SubHeaders) {
		return nil, newParseError("payload index %d out of range (have %d payloads)",
			index, len(a.SubHeaders))
	}
	return &a.SubHeaders[index], nil
}
