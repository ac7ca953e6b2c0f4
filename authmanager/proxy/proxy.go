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

// Package proxy implements the authmanager process's local HTTP proxy: the
// updater never talks to the Mender server directly, it sends plain HTTP
// requests to this proxy, which injects the current JWT and forwards them to
// whichever server URL the authmanager most recently authenticated with.
package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mendersoftware/mender-sub003/client"
)

const (
	ProxyHost = "localhost"
)

const (
	ApiUrlDevicesPrefix         = "/api/devices/"
	ApiUrlDevicesAuthentication = "/api/devices/v1/authentication/"
	ApiUrlDevicesConnect        = "/api/devices/v1/deviceconnect/connect"
)

var ErrNoAuthHeader = errors.New("no authorization header")

// proxyConf holds the backend the proxy currently forwards to and the token
// it expects the updater to present; both are replaced wholesale every time
// the authmanager process re-authenticates.
type proxyConf struct {
	backend  *url.URL
	jwtToken string
	listener net.Listener
}

// ProxyController is the authmanager-owned local proxy server. It is exposed
// to the updater process over the io.mender.Proxy1 DBus interface (see
// dbus.go): SetupServerURLProxy is the only way a caller reconfigures it.
type ProxyController struct {
	isRunning bool

	conf   *proxyConf
	client client.ApiRequester
	server *http.Server

	quitReq  chan struct{}
	quitResp chan struct{}

	wsDialer           *websocket.Dialer
	wsConnections      map[*wsConnection]bool
	wsConnectionsMutex sync.Mutex
}

type wsConnection struct {
	connClient            *websocket.Conn
	connClientWriteMutex  sync.Mutex
	connBackend           *websocket.Conn
	connBackendWriteMutex sync.Mutex
}

func copyResponse(rw http.ResponseWriter, resp *http.Response) error {
	copyHeader(rw.Header(), resp.Header)
	rw.WriteHeader(resp.StatusCode)
	defer resp.Body.Close()

	_, err := io.Copy(rw, resp.Body)
	return err
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func (pc *ProxyController) DoHttpRequest(w http.ResponseWriter, r *http.Request) {
	r.RequestURI = ""
	r.Host = ""
	r.URL.Scheme = pc.conf.backend.Scheme
	r.URL.Host = pc.conf.backend.Host
	log.Debugf(
		"authmanager proxy: forwarding %q %q %q",
		r.Method,
		r.URL.Host,
		r.URL.Path,
	)

	rsp, err := pc.client.Do(r)
	if err != nil {
		log.Error(err)
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	_ = copyResponse(w, rsp)
}

// NewProxyController creates a new, as yet unstarted controller. Reconfigure
// (reached through the SetupServerURLProxy call of an AuthProxy) binds the
// listener and begins serving; Start alone does nothing until then.
func NewProxyController(apiClient client.ApiRequester, dialer *websocket.Dialer) *ProxyController {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &ProxyController{
		client:        apiClient,
		wsDialer:      dialer,
		conf:          &proxyConf{},
		quitReq:       make(chan struct{}, 1),
		quitResp:      make(chan struct{}, 1),
		wsConnections: make(map[*wsConnection]bool),
	}
}

func newNetListener() (net.Listener, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create listener")
	}
	return l, nil
}

func (pc *ProxyController) getPort() int {
	return pc.conf.listener.Addr().(*net.TCPAddr).Port
}

// GetServerUrl returns the URL of the proxy, or "" if it isn't running.
func (pc *ProxyController) GetServerUrl() string {
	if pc.isRunning {
		return fmt.Sprintf("http://%s:%d", ProxyHost, pc.getPort())
	}
	return ""
}

// Reconfigure points the proxy at a (possibly new) backend and token,
// starting the listener on first use and rebinding it on every subsequent
// re-authentication so stale connections can't straddle two backends.
func (pc *ProxyController) Reconfigure(menderUrl, jwtToken string) (string, error) {
	if pc.isRunning {
		pc.Stop()
	}

	u, err := url.Parse(menderUrl)
	if err != nil {
		return "", errors.Wrap(err, "failed to reconfigure proxy")
	}

	l, err := newNetListener()
	if err != nil {
		return "", errors.Wrap(err, "failed to reconfigure proxy")
	}
	pc.conf.listener = l
	pc.conf.backend = u
	pc.conf.jwtToken = jwtToken

	pc.Start()
	return pc.GetServerUrl(), nil
}

func (pc *ProxyController) Start() {
	if pc.isRunning || pc.conf.listener == nil {
		return
	}
	pc.isRunning = true

	initDone := make(chan struct{}, 1)
	go pc.run(initDone)
	<-initDone

	runtime.SetFinalizer(pc, func(pc *ProxyController) {
		pc.Stop()
	})
}

func (pc *ProxyController) Stop() {
	if !pc.isRunning {
		return
	}

	if pc.wsRunning() {
		pc.CloseWsConnections()
	}

	pc.quitReq <- struct{}{}
	<-pc.quitResp
	pc.isRunning = false

	runtime.SetFinalizer(pc, nil)
}

func (pc *ProxyController) run(initDone chan struct{}) {
	mux := http.NewServeMux()
	mux.HandleFunc(ApiUrlDevicesPrefix, pc.checkAuthorizationHook(pc.DoHttpRequest))
	mux.HandleFunc(ApiUrlDevicesAuthentication, pc.apiDevicesAuthenticationHandler)
	mux.HandleFunc(ApiUrlDevicesConnect, pc.checkAuthorizationHook(pc.apiDevicesConnectHandler))

	server := http.Server{Handler: mux}
	pc.server = &server

	go func(l net.Listener, initDone chan struct{}) {
		initDone <- struct{}{}
		err := pc.server.Serve(l)
		if err != nil && err != http.ErrServerClosed {
			log.Errorf("authmanager proxy: serve failed: %s", err)
		}
	}(pc.conf.listener, initDone)

	log.Infof("authmanager proxy listening on %s", pc.GetServerUrl())

	<-pc.quitReq

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := pc.server.Shutdown(ctx); err != nil {
		log.Errorf("authmanager proxy: shutdown failed: %s", err)
	}
	log.Info("authmanager proxy stopped")

	pc.quitResp <- struct{}{}
}

// extractToken reads the JWT out of a Bearer Authorization header.
// See https://github.com/mendersoftware/deviceauth/blob/master/api/http/api_devauth.go
func extractToken(header http.Header) (string, error) {
	const authHeaderName = "Authorization"
	authHeader := header.Get(authHeaderName)
	if authHeader == "" {
		return "", ErrNoAuthHeader
	}
	if !(strings.HasPrefix(authHeader, "Bearer") || strings.HasPrefix(authHeader, "bearer")) {
		return "", ErrNoAuthHeader
	}
	tokenStr := strings.Replace(authHeader, "Bearer", "", 1)
	tokenStr = strings.Replace(tokenStr, "bearer", "", 1)
	return strings.TrimSpace(tokenStr), nil
}

func (pc *ProxyController) checkAuthorizationHook(f http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pc.conf.jwtToken == "" {
			http.Error(w, "authmanager not authorized yet", http.StatusUnauthorized)
			return
		}
		token, err := extractToken(r.Header)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if token != pc.conf.jwtToken {
			http.Error(w, "invalid JWT token in Authorization header", http.StatusUnauthorized)
			return
		}
		f(w, r)
	}
}

func (pc *ProxyController) apiDevicesAuthenticationHandler(w http.ResponseWriter, r *http.Request) {
	http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
}

func (pc *ProxyController) apiDevicesConnectHandler(w http.ResponseWriter, r *http.Request) {
	if !pc.wsAvailable() {
		http.Error(w, "too many websocket connections", http.StatusServiceUnavailable)
		return
	}
	log.Debugf("authmanager proxy: upgrading %s", r.URL)
	pc.DoWsUpgrade(w, r)
}
