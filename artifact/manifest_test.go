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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseManifestLine(t *testing.T) {
	m, err := parseManifest(strings.NewReader(
		"aec070645fe53ee3b3763059376134f058cc337247c978add178b6ccdfb0019f  data/0000/foo\n"))
	require.NoError(t, err)
	assert.Equal(t,
		"aec070645fe53ee3b3763059376134f058cc337247c978add178b6ccdfb0019f",
		m.Get("data/0000/foo"))
}

func TestParseManifestStripsCompressionSuffix(t *testing.T) {
	m, err := parseManifest(strings.NewReader(
		"aec070645fe53ee3b3763059376134f058cc337247c978add178b6ccdfb0019f  data/0000/foo.gz\n"))
	require.NoError(t, err)
	assert.Equal(t,
		"aec070645fe53ee3b3763059376134f058cc337247c978add178b6ccdfb0019f",
		m.Get("data/0000/foo"))
	assert.Equal(t, "", m.Get("data/0000/foo.gz"))
}

func TestParseManifestLineTooLong(t *testing.T) {
	longPath := strings.Repeat("a", 200)
	line := strings.Repeat("0", 64) + "  " + longPath + "\n"
	_, err := parseManifest(strings.NewReader(line))
	require.Error(t, err)
	assert.True(t, IsParseError(err))
}

func TestParseManifestMalformedLine(t *testing.T) {
	_, err := parseManifest(strings.NewReader("not-a-valid-manifest-line\n"))
	require.Error(t, err)
	assert.True(t, IsParseError(err))
}
