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
	"context"
	"testing"

	dbustest "github.com/mendersoftware/mender-sub003/common/dbus/test"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildApiURL(t *testing.T) {
	testCases := map[string]struct {
		server   string
		url      string
		expected string
	}{
		"bare host": {
			server:   "mender.io",
			url:      "/authentication/auth_requests",
			expected: "https://mender.io/api/devices/v1/authentication/auth_requests",
		},
		"https already present": {
			server:   "https://mender.io/",
			url:      "authentication/auth_requests",
			expected: "https://mender.io/api/devices/v1/authentication/auth_requests",
		},
		"http already present": {
			server:   "http://mender.io",
			url:      "/authentication/auth_requests",
			expected: "http://mender.io/api/devices/v1/authentication/auth_requests",
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, BuildApiURL(tc.server, tc.url))
		})
	}
}

func TestSetupServerURLProxy(t *testing.T) {
	dbusServer := dbustest.NewDBusTestServer()
	defer dbusServer.Close()
	dbusAPI := dbusServer.GetDBusAPI()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dbustest.RegisterAndServeIoMenderProxy(dbusServer, ctx, "https://proxy.local")

	am := NewApiAuthManager(dbusAPI)
	// give the mock interface a moment to register before calling it.
	proxyURL, err := waitForProxyURL(am)
	require.NoError(t, err)
	assert.Equal(t, "https://proxy.local", proxyURL)
}

// waitForProxyURL retries SetupServerURLProxy until the mock DBus interface
// registered by RegisterAndServeIoMenderProxy has finished coming up.
func waitForProxyURL(am *ApiAuthManager) (string, error) {
	var (
		url string
		err error
	)
	for i := 0; i < 50; i++ {
		url, err = am.SetupServerURLProxy("https://mender.io", "token")
		if err == nil {
			return url, nil
		}
	}
	return url, err
}
