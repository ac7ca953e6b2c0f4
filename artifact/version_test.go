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

func TestParseVersionAccepted(t *testing.T) {
	v, err := parseVersion(strings.NewReader(`{"version":3,"format":"mender"}`))
	require.NoError(t, err)
	assert.Equal(t, 3, v.Version)
	assert.Equal(t, "mender", v.Format)
}

func TestParseVersionWrongVersion(t *testing.T) {
	_, err := parseVersion(strings.NewReader(`{"version":2,"format":"mender"}`))
	require.Error(t, err)
	assert.Equal(t, "Only version 3 is supported, received version 2", err.Error())
	assert.True(t, IsParseError(err))
}

func TestParseVersionWrongFormat(t *testing.T) {
	_, err := parseVersion(strings.NewReader(`{"version":3,"format":"foobar"}`))
	require.Error(t, err)
	assert.Equal(t,
		"The client only understands the 'mender' Artifact type. Got format: foobar",
		err.Error())
}
