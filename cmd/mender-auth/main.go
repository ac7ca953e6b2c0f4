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

// Command mender-auth is the privileged half of the split client: it owns
// the device key and the server session, and exposes both over the
// io.mender.Authentication1 DBus interface to the unprivileged updater
// (see app.AuthManager) and a local HTTP proxy to anything that cannot speak
// DBus itself (see authmanager/proxy).
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/mendersoftware/mender-sub003/authmanager"
	"github.com/mendersoftware/mender-sub003/authmanager/conf"
	"github.com/mendersoftware/mender-sub003/authmanager/proxy"
	commonconf "github.com/mendersoftware/mender-sub003/common/conf"
	"github.com/mendersoftware/mender-sub003/common/dbus"
	"github.com/mendersoftware/mender-sub003/common/store"
	commontls "github.com/mendersoftware/mender-sub003/common/tls"
)

func doMain() int {
	confFile := flag.String("config", commonconf.DefaultConfFile(), "configuration file")
	fallbackConfFile := flag.String(
		"fallback-config", commonconf.DefaultFallbackConfFile(), "fallback configuration file")
	dataStore := flag.String("data", commonconf.GetStateDirPath(), "authmanager data directory")
	passphrase := flag.String("passphrase-file", "", "file containing the device key passphrase")
	forceBootstrap := flag.Bool("forcebootstrap", false, "force generation of a new device key")
	flag.Parse()

	config := conf.NewAuthConfig()
	if err := commonconf.LoadConfig(*confFile, *fallbackConfFile, config); err != nil {
		log.Errorf("failed to load configuration: %s", err)
		return 1
	}
	if err := config.Validate(); err != nil {
		log.Errorf("invalid configuration: %s", err)
		return 1
	}

	if err := os.MkdirAll(*dataStore, 0700); err != nil {
		log.Errorf("failed to create data directory %q: %s", *dataStore, err)
		return 1
	}

	var keyPassphrase string
	if *passphrase != "" {
		data, err := os.ReadFile(*passphrase)
		if err != nil {
			log.Errorf("failed to read key passphrase file: %s", err)
			return 1
		}
		keyPassphrase = string(data)
	}

	dataStoreAPI := store.NewDirStore(*dataStore)
	dbusAPI := dbus.NewDBusAPI()

	authMgr, err := authmanager.NewAuthManager(authmanager.AuthManagerConfig{
		AuthConfig:    config,
		AuthDataStore: dataStoreAPI,
		KeyDirStore:   dataStoreAPI,
		KeyPassphrase: keyPassphrase,
		DBusAPI:       dbusAPI,
	})
	if err != nil {
		log.Errorf("failed to initialize authentication manager: %s", err)
		return 1
	}
	if *forceBootstrap {
		authMgr.ForceBootstrap()
	}

	proxyHttpClient, err := commontls.NewHttpOrHttpsClient(config.GetHttpConfig())
	if err != nil {
		log.Errorf("failed to set up the proxy's HTTP client: %s", err)
		return 1
	}
	authProxy := proxy.NewAuthProxy(proxyHttpClient, config)
	if err := authProxy.Start(); err != nil {
		log.Errorf("failed to start the authenticating proxy: %s", err)
		return 1
	}
	defer authProxy.Stop()

	authMgr.Start()
	defer authMgr.Stop()

	authMgr.GetInMessageChan() <- authmanager.AuthManagerRequest{
		Action:          authmanager.ActionFetchAuthToken,
		ResponseChannel: make(chan authmanager.AuthManagerResponse, 1),
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR1)
	for sig := range sigChan {
		if sig == syscall.SIGUSR1 {
			log.Info("SIGUSR1 received, forcing a token refresh")
			respChan := make(chan authmanager.AuthManagerResponse, 1)
			authMgr.GetInMessageChan() <- authmanager.AuthManagerRequest{
				Action:          authmanager.ActionFetchAuthToken,
				ResponseChannel: respChan,
			}
			continue
		}
		log.Infof("%s received, shutting down", sig)
		break
	}
	return 0
}

func main() {
	os.Exit(doMain())
}
