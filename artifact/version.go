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
	"encoding/json"
	"io"
)

// SupportedVersion and SupportedFormat are the only version/format pair
// this parser accepts; anything else is a parse error.
const (
	SupportedVersion = 3
	SupportedFormat  = "mender"
)

// Version is the parsed content of the outer "version" entry.
type Version struct {
	Version int    `json:"version"`
	Format  string `json:"format"`
}

// parseVersion reads and validates the "version" entry. Error text matches
// the reference implementation's wording exactly, scenario-for-scenario.
func parseVersion(r io.Reader) (Version, error) {
	var v Version
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return Version{}, wrapParseError(err, "Failed to parse the version header JSON")
	}
	if v.Version != SupportedVersion {
		return Version{}, newParseError(
			"Only version %d is supported, received version %d",
			SupportedVersion, v.Version)
	}
	if v.Format != SupportedFormat {
		return Version{}, newParseError(
			"The client only understands the '%s' Artifact type. Got format: %s",
			SupportedFormat, v.Format)
	}
	return v, nil
}
