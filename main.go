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
package main

import (
	"os"

	"github.com/mendersoftware/mender-sub003/cli"
	"github.com/mendersoftware/mender-sub003/installer"
	"github.com/mendersoftware/mender-sub003/log"
)

func doMain() int {
	err := cli.SetupCLI(os.Args)
	if err == nil {
		return 0
	}
	if err == installer.ErrorNothingToCommit {
		log.Warnln(err.Error())
		return 2
	}
	log.Errorln(err.Error())
	return 1
}

func main() {
	os.Exit(doMain())
}
