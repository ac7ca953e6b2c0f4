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
package proxy

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mendersoftware/mender-sub003/authmanager/conf"
	"github.com/mendersoftware/mender-sub003/client"
	"github.com/mendersoftware/mender-sub003/common/dbus"
)

// Constants for the proxy's DBus interface, matching the client-side
// ApiAuthManager in authmanager/api.
const (
	ProxyDBusPath                = "/io/mender/Proxy"
	ProxyDBusObjectName          = "io.mender.Proxy"
	ProxyDBusInterfaceName       = "io.mender.Proxy1"
	ProxyDBusSetupServerURLProxy = "SetupServerURLProxy"
	ProxyDBusInterface           = `<node>
	<interface name="io.mender.Proxy1">
		<method name="SetupServerURLProxy">
			<arg type="s" name="server_url" direction="in"/>
			<arg type="s" name="token" direction="in"/>
			<arg type="s" name="proxy_url" direction="out"/>
		</method>
	</interface>
</node>`
)

// AuthProxy owns the ProxyController and exposes it over DBus so the
// unprivileged updater can (re)point it at the current server/token without
// ever holding either itself.
type AuthProxy struct {
	pc       *ProxyController
	dbusAPI  dbus.DBusAPI
	dbusConn dbus.Handle
	nameGid  uint
	intGid   uint
}

// NewAuthProxy builds a proxy controller that forwards authorized requests
// through apiClient; config is not read.
func NewAuthProxy(apiClient client.ApiRequester, config *conf.AuthConfig) *AuthProxy {
	return &AuthProxy{
		pc:      NewProxyController(apiClient, nil),
		dbusAPI: dbus.NewDBusAPI(),
	}
}

// Start owns the io.mender.Proxy1 DBus name and registers SetupServerURLProxy.
// The HTTP listener itself only binds lazily, on the first such call.
func (a *AuthProxy) Start() error {
	conn, err := a.dbusAPI.BusGet(dbus.GBusTypeSystem)
	if err != nil {
		return errors.Wrap(err, "authmanager proxy: could not connect to the system bus")
	}
	a.dbusConn = conn

	a.nameGid, err = a.dbusAPI.BusOwnNameOnConnection(conn, ProxyDBusObjectName,
		dbus.DBusNameOwnerFlagsAllowReplacement|dbus.DBusNameOwnerFlagsReplace)
	if err != nil {
		return errors.Wrap(err, "authmanager proxy: could not own DBus name")
	}

	a.intGid, err = a.dbusAPI.BusRegisterInterface(conn, ProxyDBusPath, ProxyDBusInterface)
	if err != nil {
		a.dbusAPI.BusUnownName(a.nameGid)
		return errors.Wrap(err, "authmanager proxy: could not register DBus interface")
	}

	a.dbusAPI.RegisterMethodCallCallback(ProxyDBusPath, ProxyDBusInterfaceName,
		ProxyDBusSetupServerURLProxy, a.setupServerURLProxy)

	return nil
}

// Stop tears down the DBus registration and the HTTP proxy, if running.
func (a *AuthProxy) Stop() {
	a.dbusAPI.UnregisterMethodCallCallback(ProxyDBusPath, ProxyDBusInterfaceName,
		ProxyDBusSetupServerURLProxy)
	if a.dbusConn != nil {
		a.dbusAPI.BusUnregisterInterface(a.dbusConn, a.intGid)
		a.dbusAPI.BusUnownName(a.nameGid)
	}
	a.pc.Stop()
}

func (a *AuthProxy) setupServerURLProxy(_, _, _, parameters string) ([]interface{}, error) {
	args, err := dbus.ParseStringTupleParameters(parameters)
	if err != nil || len(args) != 2 {
		log.Errorf("authmanager proxy: bad SetupServerURLProxy call: %v", err)
		return []interface{}{""}, errors.New("expected (server_url, token) arguments")
	}

	proxyURL, err := a.pc.Reconfigure(args[0], args[1])
	if err != nil {
		log.Errorf("authmanager proxy: failed to reconfigure: %s", err)
		return []interface{}{""}, err
	}
	return []interface{}{proxyURL}, nil
}
