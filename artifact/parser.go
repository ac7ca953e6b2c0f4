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
	"compress/gzip"
	"encoding/hex"
	"io"
	"io/ioutil"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Decompressor turns a (possibly) compressed entry body into a plain byte
// stream. Registered per file-extension suffix; the parser looks one up by
// matching the suffix on an entry name.
type Decompressor func(io.Reader) (io.Reader, error)

var decompressors = map[string]Decompressor{
	".gz": func(r io.Reader) (io.Reader, error) {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, wrapParseError(err, "artifact: failed to open gzip stream")
		}
		return gz, nil
	},
}

// RegisterDecompressor wires a new compression codec (".xz", ".zst", ...)
// into the parser. Unregistered suffixes fail as a clean ParseError rather
// than panicking, so a host that never links in an xz/zstd binding simply
// cannot accept artifacts compressed that way.
func RegisterDecompressor(suffix string, fn Decompressor) {
	decompressors[suffix] = fn
}

func decompress(name string, r io.Reader) (io.Reader, error) {
	for suffix, fn := range decompressors {
		if strings.HasSuffix(name, suffix) {
			return fn(r)
		}
	}
	for _, suffix := range []string{".xz", ".zst"} {
		if strings.HasSuffix(name, suffix) {
			return nil, newParseError("artifact: no decompressor registered for %q", suffix)
		}
	}
	return r, nil
}

var (
	payloadEntryRegexp = regexp.MustCompile(`^data/(\d{4})\.tar(\.gz|\.xz|\.zst)?$`)
	subHeaderDirRegexp = regexp.MustCompile(`^headers/(\d{4})/(type-info|meta-data)$`)
	scriptEntryRegexp  = regexp.MustCompile(
		`^scripts/Artifact(Install|Reboot|Rollback|RollbackReboot|Commit|Failure)` +
			`_(Enter|Leave|Error)_\d{2}(_[A-Za-z0-9_-]+)?$`)
)

func isHeaderEntry(name string) bool {
	switch name {
	case "header.tar", "header.tar.gz", "header.tar.xz", "header.tar.zst":
		return true
	}
	return false
}

func isHeaderAugmentEntry(name string) bool {
	switch name {
	case "header-augment.tar", "header-augment.tar.gz",
		"header-augment.tar.xz", "header-augment.tar.zst":
		return true
	}
	return false
}

// Artifact is the typed, immutable-after-parse view of an Artifact file:
// version, manifest, optional signature, header, and a lazy payload
// sequence. Payloads must be consumed through NextPayload in order; this
// parser never buffers a whole payload body in memory.
type Artifact struct {
	Version           Version
	ManifestDigest    string
	ManifestSignature []byte
	HeaderInfo        *HeaderInfo
	SubHeaders        []SubHeader
	Scripts           []string

	manifest     *Manifest
	outer        *TarReader
	pendingEntry *TarEntry
	nextPayload  int
	payloadCount int
}

// Parse drives a single pass over r, validating the fixed entry order,
// the manifest checksum, and (depending on policy) the detached
// signature, and returns an Artifact whose payload sequence is ready to be
// consumed via NextPayload. Any ParseError/IntegrityError aborts parsing.
func Parse(r io.Reader, policy SignaturePolicy, keys []Verifier) (*Artifact, error) {
	outer := NewTarReader(r)
	a := &Artifact{outer: outer}

	entry, err := expect(outer, "version")
	if err != nil {
		return nil, err
	}
	v, err := parseVersion(entry.Body)
	if err != nil {
		return nil, err
	}
	a.Version = v

	entry, err = expect(outer, "manifest")
	if err != nil {
		return nil, err
	}
	cr := NewChecksumAccumulator(entry.Body)
	raw, err := ioutil.ReadAll(cr)
	if err != nil {
		return nil, wrapParseError(err, "artifact: failed to read manifest")
	}
	m, err := parseManifest(newByteReader(raw))
	if err != nil {
		return nil, err
	}
	a.manifest = m
	a.ManifestDigest = cr.Digest()

	entry, err = outer.Next()
	if err != nil && err != io.EOF {
		return nil, err
	}

	if err == nil && entry.Name == "manifest.sig" {
		sig, rerr := ioutil.ReadAll(entry.Body)
		if rerr != nil {
			return nil, wrapParseError(rerr, "artifact: failed to read manifest.sig")
		}
		a.ManifestSignature = sig
		entry, err = outer.Next()
		if err != nil && err != io.EOF {
			return nil, err
		}
	}

	if err == nil && entry.Name == "manifest-augment" {
		if _, rerr := ioutil.ReadAll(entry.Body); rerr != nil {
			return nil, wrapParseError(rerr, "artifact: failed to read manifest-augment")
		}
		entry, err = outer.Next()
		if err != nil && err != io.EOF {
			return nil, err
		}
	}

	if err == io.EOF || !isHeaderEntry(entry.Name) {
		name := "<end of archive>"
		if err == nil {
			name = entry.Name
		}
		return nil, newParseError("artifact: expected the header entry, got %q", name)
	}

	if verr := verifyManifestSignature(a, policy, keys); verr != nil {
		return nil, verr
	}
	if herr := a.parseHeaderTar(entry); herr != nil {
		return nil, herr
	}

	entry, err = outer.Next()
	if err != nil && err != io.EOF {
		return nil, err
	}

	if err == nil && isHeaderAugmentEntry(entry.Name) {
		if _, rerr := ioutil.ReadAll(entry.Body); rerr != nil {
			return nil, wrapParseError(rerr, "artifact: failed to read header-augment")
		}
		entry, err = outer.Next()
		if err != nil && err != io.EOF {
			return nil, err
		}
	}

	if err != io.EOF {
		a.pendingEntry = entry
	}
	return a, nil
}

// expect reads the next outer entry and requires it to be named `name`.
func expect(outer *TarReader, name string) (*TarEntry, error) {
	entry, err := outer.Next()
	if err == io.EOF {
		return nil, newParseError("artifact: expected entry %q, got end of archive", name)
	}
	if err != nil {
		return nil, err
	}
	if entry.Name != name {
		return nil, newParseError("artifact: expected entry %q, got %q", name, entry.Name)
	}
	return entry, nil
}

func verifyManifestSignature(a *Artifact, policy SignaturePolicy, keys []Verifier) error {
	switch policy {
	case PolicySkip:
		return nil
	case PolicyVerify:
		if len(a.ManifestSignature) == 0 {
			return newIntegrityError("artifact: signature policy requires a " +
				"manifest.sig entry, none was present")
		}
		digest, err := hex.DecodeString(a.ManifestDigest)
		if err != nil {
			return wrapParseError(err, "artifact: invalid manifest digest")
		}
		return VerifySignature(digest, a.ManifestSignature, keys)
	default:
		return errors.Errorf("artifact: unknown signature policy %v", policy)
	}
}

// parseHeaderTar consumes the (possibly compressed) inner header.tar
// entry, populating HeaderInfo, SubHeaders, and Scripts.
func (a *Artifact) parseHeaderTar(entry *TarEntry) error {
	body, err := decompress(entry.Name, entry.Body)
	if err != nil {
		return err
	}
	inner := NewTarReader(body)

	subHeaders := map[int]*SubHeader{}
	sawHeaderInfo := false

	for {
		e, err := inner.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		switch {
		case e.Name == "header-info":
			hi, herr := parseHeaderInfo(e.Body)
			if herr != nil {
				return herr
			}
			a.HeaderInfo = hi
			sawHeaderInfo = true

		case scriptEntryRegexp.MatchString(e.Name):
			a.Scripts = append(a.Scripts, e.Name)
			if _, rerr := ioutil.ReadAll(e.Body); rerr != nil {
				return wrapParseError(rerr, "artifact: failed to read script "+e.Name)
			}

		case subHeaderDirRegexp.MatchString(e.Name):
			m := subHeaderDirRegexp.FindStringSubmatch(e.Name)
			idx, _ := strconv.Atoi(m[1])
			sh := subHeaders[idx]
			if sh == nil {
				sh = &SubHeader{}
				subHeaders[idx] = sh
			}
			switch m[2] {
			case "type-info":
				ti, terr := parseTypeInfo(e.Body)
				if terr != nil {
					return terr
				}
				sh.TypeInfo = ti
			case "meta-data":
				md, merr := parseMetaData(e.Body)
				if merr != nil {
					return merr
				}
				sh.MetaData = md
			}

		default:
			return newParseError("artifact: unexpected header entry %q", e.Name)
		}
	}

	if !sawHeaderInfo {
		return newParseError("artifact: header.tar missing header-info")
	}
	if len(subHeaders) != len(a.HeaderInfo.Payloads) {
		return newParseError(
			"artifact: header-info declares %d payload(s) but found %d sub-header(s)",
			len(a.HeaderInfo.Payloads), len(subHeaders))
	}
	ordered := make([]SubHeader, len(subHeaders))
	for i := range ordered {
		sh, ok := subHeaders[i]
		if !ok {
			return newParseError("artifact: missing sub-header for payload index %04d", i)
		}
		if sh.TypeInfo == nil {
			return newParseError("artifact: missing type-info for payload index %04d", i)
		}
		ordered[i] = *sh
	}
	a.SubHeaders = ordered
	a.payloadCount = len(ordered)
	return nil
}

// NextPayload returns the next payload's file iterator, or io.EOF once all
// header_info.payloads entries have been consumed. The previous payload's
// files must already be fully read (or abandoned) before calling this.
func (a *Artifact) NextPayload() (*Payload, error) {
	var entry *TarEntry
	var err error

	if a.pendingEntry != nil {
		entry, a.pendingEntry = a.pendingEntry, nil
	} else {
		entry, err = a.outer.Next()
		if err == io.EOF {
			if a.nextPayload != a.payloadCount {
				return nil, newParseError(
					"artifact: expected %d payload(s), got %d",
					a.payloadCount, a.nextPayload)
			}
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
	}

	match := payloadEntryRegexp.FindStringSubmatch(entry.Name)
	if match == nil {
		return nil, newParseError("artifact: expected a payload entry, got %q", entry.Name)
	}
	idx, _ := strconv.Atoi(match[1])
	if idx != a.nextPayload {
		return nil, newParseError(
			"artifact: payload entries out of order: expected index %04d, got %04d",
			a.nextPayload, idx)
	}
	body, err := decompress(entry.Name, entry.Body)
	if err != nil {
		return nil, err
	}
	a.nextPayload++
	return &Payload{Index: idx, files: NewTarReader(body), a: a}, nil
}

// VerifyComplete checks that the outer archive has no trailing bytes once
// the caller believes it has consumed every payload.
func (a *Artifact) VerifyComplete() error {
	if _, err := a.outer.Next(); err != io.EOF {
		if err == nil {
			return ErrTarExtraData
		}
		return err
	}
	return nil
}

func newByteReader(b []byte) io.Reader {
	return &byteReader{b: b}
}

type byteReader struct {
	b []byte
	i int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.i:])
	r.i += n
	return n, nil
}
