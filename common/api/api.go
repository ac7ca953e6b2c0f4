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
package api

import (
	"encoding/json"
	"io"
	"io/ioutil"
	"strings"
)

// ApiPrefix is the device API path shared by the updater and the authmanager
// process; both build requests as ApiPrefix + a resource-specific suffix.
const ApiPrefix = "/api/devices/v1"

type errorMessage struct {
	Error string `json:"error"`
}

// unmarshalErrorMessage extracts a human readable error from a Mender server
// error response body. The server usually replies with {"error": "..."} but
// some endpoints (and most non-Mender intermediaries, e.g. a misconfigured
// reverse proxy) just return plain text, so fall back to the raw body.
func unmarshalErrorMessage(r io.Reader) string {
	body, err := ioutil.ReadAll(r)
	if err != nil {
		return err.Error()
	}

	var msg errorMessage
	if err := json.Unmarshal(body, &msg); err == nil && msg.Error != "" {
		return msg.Error
	}
	return strings.TrimSpace(string(body))
}
