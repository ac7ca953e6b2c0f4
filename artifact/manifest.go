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
	"bufio"
	"io"
	"regexp"
	"strings"
)

const (
	shasumLength  = 64
	whitespaceLen = 2
	// maxManifestLineLength bounds regex work: 64-byte shasum + 2 spaces
	// + a 100-byte path is the longest line this parser will consider.
	maxManifestLineLength = shasumLength + whitespaceLen + 100
)

var manifestLineRegexp = regexp.MustCompile(`^([0-9a-f]{64})  ([/.0-9A-Za-z_-]+)$`)

var compressionSuffixes = []string{".gz", ".xz", ".zst"}

// stripCompressionSuffix removes a trailing .gz/.xz/.zst suffix from a
// manifest path, so manifest lookups use the canonical (uncompressed) name
// regardless of how the payload happens to be stored in the archive.
func stripCompressionSuffix(name string) string {
	for _, suf := range compressionSuffixes {
		if strings.HasSuffix(name, suf) {
			return strings.TrimSuffix(name, suf)
		}
	}
	return name
}

// Manifest maps a canonical entry path to its lowercase-hex SHA-256 digest.
type Manifest struct {
	entries map[string]string
}

// Get returns the digest recorded for path, or "" if path is not present.
func (m *Manifest) Get(path string) string {
	if m == nil {
		return ""
	}
	return m.entries[path]
}

// Len reports the number of manifest entries.
func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// parseManifest reads manifest lines of the form "<hex64>  <path>" until
// EOF. Each line longer than maxManifestLineLength is rejected before the
// regex even runs, bounding worst-case work on adversarial input.
func parseManifest(r io.Reader) (*Manifest, error) {
	m := &Manifest{entries: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxManifestLineLength+1)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if len(line) > maxManifestLineLength {
			return nil, newParseError(
				"Line (%s) exceeds the maximum manifest line length", line)
		}
		match := manifestLineRegexp.FindStringSubmatch(line)
		if match == nil {
			return nil, newParseError(
				"Line (%s) is not in the expected manifest format: %s",
				line, manifestLineRegexp.String())
		}
		sum, path := match[1], stripCompressionSuffix(match[2])
		if _, exists := m.entries[path]; exists {
			return nil, newParseError("duplicate manifest entry: %s", path)
		}
		m.entries[path] = sum
	}
	if err := scanner.Err(); err != nil {
		return nil, wrapParseError(err, "artifact: failed to read manifest")
	}
	return m, nil
}
