// Copyright 2016 Mender Software AS
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

package statescript

import (
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mendersoftware/mender-sub003/log"
	"github.com/pkg/errors"
)

type Executor interface {
	ExecuteAll(state, action string, ignoreError bool) error
	CheckRootfsScriptsVersion() error
}

// retryExitStatus is the exit code a lifecycle script returns to ask the
// runner to retry it after RetryInterval, rather than treating it as success
// or failure. Not configurable; part of the update-module wire contract.
const retryExitStatus = 21

type Launcher struct {
	ArtScriptsPath          string
	RootfsScriptsPath       string
	SupportedScriptVersions []int
	Timeout                 int

	// RetryInterval is how long to wait between successive retries of a
	// script exiting with retryExitStatus. Defaults to 60s if zero.
	RetryInterval int
	// RetryTimeout bounds the total time a single script may spend being
	// retried before the runner gives up and treats it as a failure.
	// Defaults to 0 (no retries) if zero.
	RetryTimeout int
}

//TODO: we can optimize for reading directories once and then creating
// a map with all the scripts that needs to be executed.

func (l Launcher) CheckRootfsScriptsVersion() error {
	ver, err := readVersion(filepath.Join(l.RootfsScriptsPath, "version"))
	if err != nil && os.IsNotExist(err) {
		// no scripts; no error
		return nil
	} else if err != nil {
		return errors.Wrap(err, "statescript: can not read rootfs scripts version")
	}

	for _, v := range l.SupportedScriptVersions {
		if v == ver {
			return nil
		}
	}
	return errors.Errorf("statescript: unsupported scripts version: %v", ver)
}

func (l Launcher) get(state, action string) ([]os.FileInfo, string, error) {

	sDir := l.ArtScriptsPath
	if state == "Idle" || state == "Sync" || state == "Download" {
		sDir = l.RootfsScriptsPath
	}

	// ReadDir reads the directory named by dirname and returns
	// a list of directory entries sorted by filename.
	// The list returned should be sorted which guarantees correct
	// order of scripts execution.
	files, err := ioutil.ReadDir(sDir)
	if err != nil && os.IsNotExist(err) {
		// no state scripts directory; just move on
		return nil, "", nil
	} else if err != nil {
		return nil, "", errors.Wrap(err, "statescript: can not read scripts directory")
	}

	scripts := make([]os.FileInfo, 0)
	var version int

	for _, file := range files {
		if file.Name() == "version" {
			version, err = readVersion(filepath.Join(sDir, file.Name()))
			if err != nil {
				return nil, "", errors.Wrapf(err, "statescript: can not read version file")
			}
		}

		if strings.Contains(file.Name(), state+"_") &&
			strings.Contains(file.Name(), action) {
			scripts = append(scripts, file)
		}
	}

	for _, v := range l.SupportedScriptVersions {
		if v == version {
			return scripts, sDir, nil
		}
	}

	// if there are no scripts to execute we shold not care about the version
	if len(scripts) == 0 {
		return nil, "", nil
	}

	return nil, "", errors.Errorf("statescript: supproted versions does not match "+
		"(supported: %v; actual: %v)", l.SupportedScriptVersions, version)
}

func retCode(err error) int {
	defaultFailedCode := -1

	if err != nil {
		// try to get the exit code
		if exitError, ok := err.(*exec.ExitError); ok {
			ws := exitError.Sys().(syscall.WaitStatus)
			return ws.ExitStatus()
		} else {
			return defaultFailedCode
		}
	}
	return 0
}

func (l Launcher) getTimeout() time.Duration {
	t := time.Duration(l.Timeout) * time.Second
	if t == 0 {
		log.Debug("statescript: timeout for executing scripts is not defined; " +
			"using default of 60 seconds")
		t = 60 * time.Second
	}
	return t
}

func (l Launcher) getRetryInterval() time.Duration {
	t := time.Duration(l.RetryInterval) * time.Second
	if t == 0 {
		t = 60 * time.Second
	}
	return t
}

func execute(name string, timeout time.Duration) int {

	cmd := exec.Command(name)

	// As child process gets the same PGID as the parent by default, in order
	// to avoid killing Mender when killing process group we are setting
	// new PGID for the executed script and its children.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return retCode(err)
	}

	timer := time.AfterFunc(timeout, func() {
		// In addition to kill a single process we are sending SIGKILL to
		// process group making sure we are killing the hanging script and
		// all its children.
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	})
	defer timer.Stop()

	if err := cmd.Wait(); err != nil {
		return retCode(err)
	}
	return 0
}

func (l Launcher) ExecuteAll(state, action string, ignoreError bool) error {
	scr, dir, err := l.get(state, action)
	if err != nil {
		if ignoreError {
			log.Errorf("statescript: ignoring error while executing [%s:%s] script: %v",
				state, action, err)
			return nil
		}
		return err
	}

	execBits := os.FileMode(syscall.S_IXUSR | syscall.S_IXGRP | syscall.S_IXOTH)
	timeout := l.getTimeout()
	retryInterval := l.getRetryInterval()
	retryBudget := time.Duration(l.RetryTimeout) * time.Second

	for _, s := range scr {
		// check if script is executable
		if s.Mode()&execBits == 0 {
			if ignoreError {
				log.Errorf("statescript: ignoring script '%s' being not executable",
					filepath.Join(dir, s.Name()))
				continue
			} else {
				return errors.Errorf("statescript: script '%s' is not executable",
					filepath.Join(dir, s.Name()))
			}
		}

		path := filepath.Join(dir, s.Name())
		ret, err := l.executeWithRetry(path, timeout, retryInterval, retryBudget)
		if err != nil {
			if ignoreError {
				log.Errorf("statescript: ignoring error executing '%s': %s", s.Name(), err)
				continue
			}
			return err
		}
		if ret != 0 {
			// In case of error scripts all should be executed.
			if ignoreError {
				log.Errorf("statescript: ignoring error executing '%s': %d", s.Name(), ret)
			} else {
				return errors.Errorf("statescript: error executing '%s': %d",
					s.Name(), ret)
			}
		}
	}
	return nil
}

// executeWithRetry runs name once, and as long as it exits with
// retryExitStatus, re-runs it every retryInterval until retryBudget elapses.
// A retryBudget of zero disables retries: a single retryExitStatus exit is
// then surfaced to the caller just like any other non-zero exit code.
func (l Launcher) executeWithRetry(
	name string, timeout, retryInterval, retryBudget time.Duration,
) (int, error) {
	deadline := time.Now().Add(retryBudget)
	for {
		ret := execute(name, timeout)
		if ret != retryExitStatus || retryBudget <= 0 {
			return ret, nil
		}
		if time.Now().Add(retryInterval).After(deadline) {
			return 0, errors.Errorf(
				"statescript: script '%s' kept requesting retry past the %s retry budget",
				name, retryBudget)
		}
		log.Infof("statescript: script '%s' requested retry, waiting %s", name, retryInterval)
		time.Sleep(retryInterval)
	}
}
