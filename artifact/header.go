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

// PayloadTypeName names one payload's update-module type within
// header-info's ordered payload list.
type PayloadTypeName struct {
	Type string `json:"type"`
}

// Provides declares what an artifact (or one of its payloads) offers for
// future dependency resolution.
type Provides struct {
	ArtifactName  string `json:"artifact_name"`
	ArtifactGroup string `json:"artifact_group,omitempty"`
}

// Depends declares what an artifact requires of the device or of
// previously installed artifacts before it may be applied.
type Depends struct {
	DeviceTypes   []string `json:"device_type"`
	ArtifactNames []string `json:"artifact_name,omitempty"`
	ArtifactGroup []string `json:"artifact_group,omitempty"`
}

// HeaderInfo is the parsed "header-info" entry of the inner header tar.
type HeaderInfo struct {
	Payloads []PayloadTypeName `json:"payloads"`
	Provides Provides          `json:"provides"`
	Depends  Depends           `json:"depends"`
}

func parseHeaderInfo(r io.Reader) (*HeaderInfo, error) {
	var hi HeaderInfo
	if err := json.NewDecoder(r).Decode(&hi); err != nil {
		return nil, wrapParseError(err, "artifact: failed to parse header-info")
	}
	if len(hi.Depends.DeviceTypes) == 0 {
		return nil, newParseError("header-info: depends.device_type must be non-empty")
	}
	return &hi, nil
}

// TypeInfo is the parsed "headers/NNNN/type-info" entry for one payload.
type TypeInfo struct {
	Type                   string              `json:"type"`
	ArtifactProvides       map[string]string   `json:"artifact_provides,omitempty"`
	ArtifactDepends        map[string][]string `json:"artifact_depends,omitempty"`
	ClearsArtifactProvides []string            `json:"clears_artifact_provides,omitempty"`
}

func parseTypeInfo(r io.Reader) (*TypeInfo, error) {
	var ti TypeInfo
	if err := json.NewDecoder(r).Decode(&ti); err != nil {
		return nil, wrapParseError(err, "artifact: failed to parse type-info")
	}
	return &ti, nil
}

// parseMetaData parses the optional "headers/NNNN/meta-data" entry. Per
// this parser's resolution of the format's one ambiguity here: the field
// is accepted only when absent, or when it decodes to a JSON object; any
// other JSON value (string, number, array, bool, null) is a ParseError.
func parseMetaData(r io.Reader) (map[string]interface{}, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, wrapParseError(err, "artifact: failed to parse meta-data")
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, newParseError("meta-data: must be a JSON object when present")
	}
	return obj, nil
}

// SubHeader is the parsed per-payload header: its type-info and optional
// meta-data.
type SubHeader struct {
	TypeInfo *TypeInfo
	MetaData map[string]interface{}
}
