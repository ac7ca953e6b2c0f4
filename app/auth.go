// Copyright 2020 Northern.tech AS
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

package app

import (
	"runtime"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mendersoftware/mender-sub003/client"
	"github.com/mendersoftware/mender-sub003/common/dbus"
)

// Constants for auth manager request actions
const (
	ActionFetchAuthToken = "FETCH_AUTH_TOKEN"
	ActionGetAuthToken   = "GET_AUTH_TOKEN"
)

// Constants for auth manager response events
const (
	EventFetchAuthToken     = "FETCH_AUTH_TOKEN"
	EventGetAuthToken       = "GET_AUTH_TOKEN"
	EventAuthTokenAvailable = "AUTH_TOKEN_AVAILABLE"
)

// Constants describing the DBus service exposed by the privileged
// authmanager process (see cmd/mender-auth). The updater never authenticates
// in-process; every token acquisition crosses this boundary.
const (
	AuthManagerDBusPath           = "/io/mender/AuthenticationManager1"
	AuthManagerDBusObjectName     = "io.mender.AuthenticationManager"
	AuthManagerDBusInterfaceName  = "io.mender.Authentication1"
	AuthManagerDBusSignalName     = "JwtTokenStateChange"
	authManagerCallTimeout        = 10 * time.Second
	authManagerInMessageChanSize  = 1024
	authManagerBroadcastChanSlack = 1
)

const noAuthToken = client.EmptyAuthToken

// AuthManagerRequest stores a request to the privileged authentication process.
type AuthManagerRequest struct {
	Action          string
	ResponseChannel chan<- AuthManagerResponse
}

// AuthManagerResponse stores a response relayed back from the authentication process.
type AuthManagerResponse struct {
	AuthToken client.AuthToken
	ServerURL string
	Event     string
	Error     error
}

// AuthManager is the updater-side handle onto the device's authentication
// state. Unlike earlier generations of this client, it never performs the
// authorization dance itself: every request is forwarded over DBus to the
// authmanager process, which owns the device key and the token cache.
type AuthManager interface {
	GetInMessageChan() chan<- AuthManagerRequest
	GetBroadcastMessageChan(name string) <-chan AuthManagerResponse
	Start()
	Stop()
}

// DBusAuthManager proxies authentication requests across the DBus boundary
// to the authmanager process's io.mender.Authentication1 interface.
type DBusAuthManager struct {
	*dbusAuthProxyService
}

type dbusAuthProxyService struct {
	hasStarted     bool
	inChan         chan AuthManagerRequest
	broadcastChans map[string]chan AuthManagerResponse

	quitReq  chan bool
	quitResp chan bool

	dbusAPI  dbus.DBusAPI
	dbusConn dbus.Handle
}

// NewAuthManager returns a client of the privileged authmanager process,
// reachable over the system DBus connection supplied by dbusAPI.
func NewAuthManager(dbusAPI dbus.DBusAPI) AuthManager {
	if dbusAPI == nil {
		dbusAPI = dbus.NewDBusAPI()
	}
	return &DBusAuthManager{
		&dbusAuthProxyService{
			inChan:         make(chan AuthManagerRequest, authManagerInMessageChanSize),
			broadcastChans: map[string]chan AuthManagerResponse{},
			quitReq:        make(chan bool),
			quitResp:       make(chan bool),
			dbusAPI:        dbusAPI,
		},
	}
}

// GetInMessageChan returns the channel to send requests to the auth manager proxy.
func (m *DBusAuthManager) GetInMessageChan() chan<- AuthManagerRequest {
	m.Start()
	return m.inChan
}

// GetBroadcastMessageChan returns the channel on which token-availability
// notifications relayed from the authmanager process are published.
func (m *DBusAuthManager) GetBroadcastMessageChan(name string) <-chan AuthManagerResponse {
	m.Start()
	if m.broadcastChans[name] == nil {
		m.broadcastChans[name] = make(chan AuthManagerResponse, authManagerBroadcastChanSlack)
	}
	return m.broadcastChans[name]
}

// Start is idempotent; the proxy goroutine only starts once.
func (m *DBusAuthManager) Start() {
	if m.hasStarted {
		return
	}
	m.hasStarted = true
	go m.run()
	runtime.SetFinalizer(m, func(m *DBusAuthManager) {
		m.Stop()
	})
}

// Stop shuts down the proxy. It must not be called from the run() goroutine,
// and is safe to call more than once.
func (m *DBusAuthManager) Stop() {
	if !m.hasStarted {
		return
	}
	m.quitReq <- true
	<-m.quitResp
	m.hasStarted = false
	runtime.SetFinalizer(m, nil)
}

func (m *dbusAuthProxyService) run() {
	defer func() {
		if recover() == nil {
			m.quitResp <- true
		}
	}()

	signalChan := dbus.SignalChannel(make(chan []interface{}, 1))
	var conn dbus.Handle
	if conn, _ = m.dbusAPI.BusGet(dbus.GBusTypeSystem); dbus.Handle(conn) != nil {
		m.dbusConn = conn
		m.dbusAPI.RegisterSignalChannel(conn, AuthManagerDBusObjectName, AuthManagerDBusPath,
			AuthManagerDBusInterfaceName, AuthManagerDBusSignalName, signalChan)
		defer m.dbusAPI.UnregisterSignalChannel(conn, AuthManagerDBusSignalName, signalChan)
	} else {
		log.Warn("could not connect to the system bus; authentication requests will time out " +
			"until the authmanager process is reachable")
	}

	running := true
	for running {
		select {
		case msg := <-m.inChan:
			switch msg.Action {
			case ActionGetAuthToken:
				msg.ResponseChannel <- m.call("GetJwtToken", EventGetAuthToken)
			case ActionFetchAuthToken:
				msg.ResponseChannel <- m.call("FetchJwtToken", EventFetchAuthToken)
			}
		case params := <-signalChan:
			m.onTokenStateChange(params)
		case <-m.quitReq:
			running = false
		}
	}
}

// call invokes the named method on the authmanager's Authentication1
// interface and maps the DBus reply into an AuthManagerResponse.
func (m *dbusAuthProxyService) call(method, event string) AuthManagerResponse {
	if m.dbusConn == nil {
		return AuthManagerResponse{
			AuthToken: noAuthToken,
			Event:     event,
			Error:     errors.New("no DBus connection to the authmanager process"),
		}
	}

	type result struct {
		out []interface{}
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := m.dbusAPI.Call(m.dbusConn, AuthManagerDBusObjectName, AuthManagerDBusPath,
			AuthManagerDBusInterfaceName, method)
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return AuthManagerResponse{AuthToken: noAuthToken, Event: event, Error: r.err}
		}
		switch method {
		case "GetJwtToken":
			token, serverURL := replyToTokenAndURL(r.out)
			return AuthManagerResponse{AuthToken: token, ServerURL: serverURL, Event: event}
		default:
			ok := len(r.out) > 0 && r.out[0] == true
			if !ok {
				return AuthManagerResponse{
					Event: event,
					Error: errors.New("authmanager reported a failed FetchJwtToken call"),
				}
			}
			return AuthManagerResponse{Event: event}
		}
	case <-time.After(authManagerCallTimeout):
		return AuthManagerResponse{
			AuthToken: noAuthToken,
			Event:     event,
			Error:     errors.Errorf("timeout waiting for authmanager to answer %s", method),
		}
	}
}

func replyToTokenAndURL(out []interface{}) (client.AuthToken, string) {
	var token client.AuthToken
	var serverURL string
	if len(out) > 0 {
		if s, ok := out[0].(string); ok {
			token = client.AuthToken(s)
		}
	}
	if len(out) > 1 {
		if s, ok := out[1].(string); ok {
			serverURL = s
		}
	}
	return token, serverURL
}

// onTokenStateChange relays the authmanager's JwtTokenStateChange signal to
// every subscriber waiting on a broadcast channel.
func (m *dbusAuthProxyService) onTokenStateChange(params []interface{}) {
	token, serverURL := replyToTokenAndURL(params)
	if token == noAuthToken {
		return
	}
	msg := AuthManagerResponse{
		AuthToken: token,
		ServerURL: serverURL,
		Event:     EventAuthTokenAvailable,
	}
	for _, broadcastChan := range m.broadcastChans {
		select {
		case broadcastChan <- msg:
		default:
		}
	}
}
