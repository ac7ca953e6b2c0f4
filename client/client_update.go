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
package client

import (
	"bytes"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/mendersoftware/mender-sub003/datastore"
	"github.com/mendersoftware/mender-sub003/log"
)

const (
	minimumImageSize int64 = 4096 //kB

	// fetchRetryCount bounds the exponential backoff loop of the artifact
	// download in FetchUpdate. The deployments/next poll in
	// GetScheduledUpdate is a single request and is not retried here.
	fetchRetryCount = 3
)

// CurrentUpdate describes what the device is currently running, submitted as
// the device's provides when asking the server for the next deployment.
type CurrentUpdate struct {
	Artifact   string
	DeviceType string
	Provides   map[string]string
}

type Updater interface {
	GetScheduledUpdate(api ApiRequester, server string, current CurrentUpdate) (interface{}, error)
	FetchUpdate(api ApiRequester, url string, retryInterval time.Duration) (io.ReadCloser, int64, error)
}

var (
	ErrNotAuthorized = errors.New("client not authorized")
	ErrNoDeployment  = errors.New("no deployment available")
)

type UpdateClient struct {
	minImageSize int64
}

func NewUpdateClient() *UpdateClient {
	up := UpdateClient{
		minImageSize: minimumImageSize,
	}
	return &up
}

// NewUpdate is the Updater constructor used by the rest of the app package.
func NewUpdate() *UpdateClient {
	return NewUpdateClient()
}

// GetScheduledUpdate asks the server for the next deployment that matches
// the device's current provides. It returns (nil, nil) when the server has
// nothing new for this device.
func (u *UpdateClient) GetScheduledUpdate(api ApiRequester, server string,
	current CurrentUpdate) (interface{}, error) {
	return u.getUpdateInfo(api, processUpdateResponse, server, current)
}

func (u *UpdateClient) getUpdateInfo(api ApiRequester, process RequestProcessingFunc,
	server string, current CurrentUpdate) (interface{}, error) {
	req, err := makeUpdateCheckRequest(server, current)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create update check request")
	}

	r, err := api.Do(req)
	if err != nil {
		log.Debug("Sending request error: ", err)
		return nil, errors.Wrapf(err, "update check request failed")
	}

	defer r.Body.Close()

	data, err := process(r)
	return data, err
}

// FetchUpdate downloads the artifact at url, retrying transient failures
// with an exponential backoff seeded by retryInterval before giving up.
func (u *UpdateClient) FetchUpdate(api ApiRequester, url string,
	retryInterval time.Duration) (io.ReadCloser, int64, error) {
	var lastErr error
	wait := retryInterval
	for attempt := 0; attempt < fetchRetryCount; attempt++ {
		if attempt > 0 {
			log.Infof("retrying artifact fetch (attempt %d/%d) after %s", attempt+1,
				fetchRetryCount, wait)
			time.Sleep(wait)
			wait *= 2
		}
		body, size, err := u.fetchUpdateOnce(api, url)
		if err == nil {
			return body, size, nil
		}
		lastErr = err
	}
	return nil, -1, lastErr
}

func (u *UpdateClient) fetchUpdateOnce(api ApiRequester, url string) (io.ReadCloser, int64, error) {
	req, err := makeUpdateFetchRequest(url)
	if err != nil {
		return nil, -1, errors.Wrapf(err, "failed to create update fetch request")
	}

	r, err := api.Do(req)
	if err != nil {
		log.Error("Can not fetch update image: ", err)
		return nil, -1, errors.Wrapf(err, "update fetch request failed")
	}

	log.Debugf("Received fetch update response %v+", r)

	if r.StatusCode != http.StatusOK {
		r.Body.Close()
		log.Errorf("Error fetching scheduled update info: code (%d)", r.StatusCode)
		return nil, -1, errors.Errorf("error receiving scheduled update information, status %v",
			r.StatusCode)
	}

	if r.ContentLength < 0 {
		r.Body.Close()
		return nil, -1, errors.New("will not continue with unknown image size")
	} else if r.ContentLength < u.minImageSize {
		r.Body.Close()
		log.Errorf("Image smaller than expected. Expected: %d, received: %d", u.minImageSize, r.ContentLength)
		return nil, -1, errors.New("image size is smaller than expected, aborting")
	}

	return r.Body, r.ContentLength, nil
}

func processUpdateResponse(response *http.Response) (interface{}, error) {
	log.Debug("Received response:", response.Status)

	respBody, err := ioutil.ReadAll(response.Body)
	if err != nil {
		return nil, err
	}

	switch response.StatusCode {
	case http.StatusOK:
		log.Debug("have update available")

		var data datastore.UpdateInfo
		if err := json.Unmarshal(respBody, &data); err != nil {
			return nil, errors.Wrapf(err, "failed to parse response")
		}

		if data.ArtifactName() == "" || data.URI() == "" {
			return nil, errors.New("missing parameters in deployment response")
		}

		return data, nil

	case http.StatusNoContent:
		log.Debug("no update available")
		return nil, nil

	case http.StatusUnauthorized:
		log.Warn("client not authorized to get update schedule")
		return nil, ErrNotAuthorized

	default:
		return nil, errors.Errorf("unexpected response checking for deployment, status %v",
			response.StatusCode)
	}
}

func makeUpdateCheckRequest(server string, current CurrentUpdate) (*http.Request, error) {
	url := buildApiURL(server, "/deployments/device/deployments/next")

	provides := make(map[string]string, len(current.Provides)+2)
	for k, v := range current.Provides {
		provides[k] = v
	}
	provides["artifact_name"] = current.Artifact
	provides["device_type"] = current.DeviceType

	body, err := json.Marshal(map[string]interface{}{
		"device_provides": provides,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode device provides")
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Add("Content-Type", "application/json")
	return req, nil
}

func makeUpdateFetchRequest(url string) (*http.Request, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return req, nil
}
