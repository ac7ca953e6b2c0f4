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
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	EmptyAuthToken = AuthToken("")
)

type AuthToken string

// AuthReqData is the authorization request body the backend expects.
type AuthReqData struct {
	IdData      string `json:"id_data"`
	TenantToken string `json:"tenant_token"`
	Pubkey      string `json:"pubkey"`
}

func (ard *AuthReqData) ToBytes() ([]byte, error) {
	databuf := &bytes.Buffer{}
	if err := json.NewEncoder(databuf).Encode(ard); err != nil {
		return nil, errors.Wrap(err, "failed to encode auth request")
	}
	return databuf.Bytes(), nil
}

// AuthRequest wraps the signed message sent to the auth endpoint.
type AuthRequest struct {
	Data      []byte
	Token     AuthToken
	Signature []byte
}

// AuthDataMessenger builds the AuthRequest from the device's identity data
// and key; implemented by menderAuthManagerService.
type AuthDataMessenger interface {
	MakeAuthRequest() (*AuthRequest, error)
}

// ApiRequester is the minimal HTTP surface AuthRequester needs; *http.Client
// already satisfies it.
type ApiRequester interface {
	Do(req *http.Request) (*http.Response, error)
}

var AuthErrorUnauthorized = errors.New("authentication request rejected")

// AuthRequester performs the auth_requests POST and returns the raw
// server-issued token.
type AuthRequester interface {
	Request(api ApiRequester, server string, dataSrc AuthDataMessenger) ([]byte, error)
}

type authRequester struct{}

// NewAuth returns the default AuthRequester.
func NewAuth() AuthRequester {
	return &authRequester{}
}

func (a *authRequester) Request(
	api ApiRequester,
	server string,
	dataSrc AuthDataMessenger,
) ([]byte, error) {
	req, err := makeAuthRequest(server, dataSrc)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build authorization request")
	}

	log.Debugf("making authorization request to server %s", server)
	rsp, err := api.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute authorization request")
	}
	defer rsp.Body.Close()

	switch rsp.StatusCode {
	case http.StatusUnauthorized:
		return nil, AuthErrorUnauthorized
	case http.StatusOK:
		data, err := ioutil.ReadAll(rsp.Body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to receive authorization response data")
		}
		return data, nil
	default:
		return nil, errors.Errorf("unexpected authorization status %v", rsp.StatusCode)
	}
}

func makeAuthRequest(server string, dataSrc AuthDataMessenger) (*http.Request, error) {
	url := BuildApiURL(server, "/authentication/auth_requests")

	req, err := dataSrc.MakeAuthRequest()
	if err != nil {
		return nil, errors.Wrap(err, "failed to obtain authorization message data")
	}

	hreq, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(req.Data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create authorization HTTP request")
	}

	hreq.Header.Add("Content-Type", "application/json")
	hreq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", req.Token))
	hreq.Header.Add("X-MEN-Signature", base64.StdEncoding.EncodeToString(req.Signature))
	return hreq, nil
}
