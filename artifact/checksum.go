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
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// ChecksumReader wraps an underlying byte source, feeding every byte read
// through a SHA-256 hasher before returning it unchanged to the caller. It
// is not seekable and not safe for concurrent use; exactly one reader
// drives it at a time.
//
// Constructed with an expected digest, it refuses to report EOF until the
// finalized hash matches; on mismatch it returns an integrity error (see
// IsIntegrityError) naming both digests instead of io.EOF. Constructed without one, the finalized digest becomes
// available via Digest once the underlying reader is exhausted.
type ChecksumReader struct {
	r        io.Reader
	h        hash.Hash
	expected string
	digest   string
	done     bool
}

// NewChecksumReader returns a ChecksumReader that verifies the stream
// against expected (lowercase hex SHA-256) as it is read to completion.
func NewChecksumReader(r io.Reader, expected string) *ChecksumReader {
	h := sha256.New()
	return &ChecksumReader{
		r:        io.TeeReader(r, h),
		h:        h,
		expected: expected,
	}
}

// NewChecksumAccumulator returns a ChecksumReader with no expected digest;
// call Digest after reading to EOF to retrieve the computed hash.
func NewChecksumAccumulator(r io.Reader) *ChecksumReader {
	h := sha256.New()
	return &ChecksumReader{
		r: io.TeeReader(r, h),
		h: h,
	}
}

func (c *ChecksumReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if err == io.EOF {
		if verr := c.finalize(); verr != nil {
			return n, verr
		}
	}
	return n, err
}

func (c *ChecksumReader) finalize() error {
	if c.done {
		return nil
	}
	c.done = true
	c.digest = hex.EncodeToString(c.h.Sum(nil))
	if c.expected != "" && c.digest != c.expected {
		return newIntegrityError(
			"The checksum of the read byte-stream does not match the expected "+
				"checksum, (expected): %s (calculated): %s",
			c.expected, c.digest)
	}
	return nil
}

// Digest returns the finalized, lowercase-hex SHA-256 digest of everything
// read so far. Idempotent: safe to call repeatedly once finalized, and it
// forces finalization (without the expected-digest check) if the
// underlying reader has not yet reached EOF through Read.
func (c *ChecksumReader) Digest() string {
	if !c.done {
		c.done = true
		c.digest = hex.EncodeToString(c.h.Sum(nil))
	}
	return c.digest
}
