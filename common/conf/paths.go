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

package conf

import "path"

// Paths shared by the updater and authmanager processes. Each process keeps
// its own conf.MenderConfig/conf.AuthConfig on top of this common.Config, but
// both resolve their data directory and device key relative to the same
// filesystem layout.
var (
	DefaultPathDataDir = "/usr/share/mender"
	DefaultDataStore   = "/var/lib/mender"
	DefaultKeyFile     = "authmanager-agent.pem"
)

func GetConfDirPath() string {
	return "/etc/mender"
}

func GetStateDirPath() string {
	return DefaultDataStore
}

func DefaultConfFile() string {
	return path.Join(GetConfDirPath(), "authmanager.conf")
}

func DefaultFallbackConfFile() string {
	return path.Join(GetStateDirPath(), "authmanager.conf")
}
