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

package installer

import (
	"io"
	"io/ioutil"

	"github.com/pkg/errors"

	"github.com/mendersoftware/mender-sub003/artifact"
	"github.com/mendersoftware/mender-sub003/log"
)

type UInstaller interface {
	InstallUpdate(io.ReadCloser, int64) error
	EnableUpdatedPartition() error
}

// Install parses a full Artifact stream with policy (signature verification
// is the caller's responsibility via keys) and installs every rootfs-image
// payload it contains onto device, rejecting artifacts that declare a
// device_type not matching dt. Non-rootfs payloads (handled instead by the
// Update Module protocol, see ModuleInstaller) are skipped here.
func Install(
	r io.Reader, dt string, device UInstaller,
	policy artifact.SignaturePolicy, keys []artifact.Verifier,
) error {
	a, err := artifact.Parse(r, policy, keys)
	if err != nil {
		return errors.Wrap(err, "installer: failed to parse artifact")
	}

	if !deviceTypeMatches(a.HeaderInfo.Depends.DeviceTypes, dt) {
		return errors.Errorf(
			"installer: artifact declares device types %v, device is %q",
			a.HeaderInfo.Depends.DeviceTypes, dt)
	}

	for i := range a.HeaderInfo.Payloads {
		sub, err := a.View(i)
		if err != nil {
			return errors.Wrap(err, "installer: failed to read sub-header")
		}
		if sub.TypeInfo == nil || sub.TypeInfo.Type != "rootfs-image" {
			log.Infof("installer: skipping non-rootfs-image payload %d (type %q)",
				i, payloadType(sub))
			if _, perr := drainPayload(a); perr != nil {
				return perr
			}
			continue
		}

		payload, err := a.NextPayload()
		if err != nil {
			return errors.Wrap(err, "installer: failed to open payload")
		}
		if err := installPayload(device, payload); err != nil {
			return err
		}
	}

	return a.VerifyComplete()
}

func installPayload(device UInstaller, payload *artifact.Payload) error {
	for {
		file, err := payload.Next()
		if err == io.EOF {
			return device.EnableUpdatedPartition()
		}
		if err != nil {
			return errors.Wrap(err, "installer: failed to read payload file entry")
		}
		log.Infof("installer: installing %s (%d bytes)", file.Name, file.Size)
		if ierr := device.InstallUpdate(ioutil.NopCloser(file.Body), file.Size); ierr != nil {
			log.Errorf("installer: update image installation failed: %v", ierr)
			return ierr
		}
	}
}

func drainPayload(a *artifact.Artifact) (*artifact.Payload, error) {
	payload, err := a.NextPayload()
	if err != nil {
		return nil, errors.Wrap(err, "installer: failed to open payload")
	}
	for {
		file, err := payload.Next()
		if err == io.EOF {
			return payload, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "installer: failed to read payload file entry")
		}
		if _, err := io.Copy(ioutil.Discard, file.Body); err != nil {
			return nil, errors.Wrap(err, "installer: failed to discard payload file")
		}
	}
}

func payloadType(sub *artifact.SubHeader) string {
	if sub.TypeInfo == nil {
		return ""
	}
	return sub.TypeInfo.Type
}

func deviceTypeMatches(declared []string, dt string) bool {
	for _, d := range declared {
		if d == dt {
			return true
		}
	}
	return false
}
