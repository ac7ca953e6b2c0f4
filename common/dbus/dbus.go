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

// Package dbus wraps the system D-Bus, used to pass the JWT token and server
// URL between the privileged authentication process and the unprivileged
// updater. The heavy lifting (cgo bindings against libgio) lives in
// dbus_libgio.go; the core types are shared with the "test" package via
// dbus_internal to avoid an import cycle.
package dbus

import (
	"github.com/mendersoftware/mender-sub003/common/dbus/dbus_internal"
)

// Handle is an opaque reference to a native DBus object (connection, error, ...).
type Handle = dbus_internal.Handle

// MainLoop is an opaque reference to a native GMainLoop.
type MainLoop = dbus_internal.MainLoop

// DBusAPI is the interface which describes a DBus API.
type DBusAPI = dbus_internal.DBusAPI

// MethodCallCallback represents a method_call callback.
type MethodCallCallback = dbus_internal.MethodCallCallback

// SignalChannel represents the parameters that come with a DBus signal.
type SignalChannel = dbus_internal.SignalChannel

func init() {
	dbus_internal.RegisterImplementation(dbusAPI)
}

// NewDBusAPI returns the libgio backed implementation of DBusAPI.
func NewDBusAPI() DBusAPI {
	return dbusAPI
}

// ErrorFromNative converts a native GError handle into a Go error.
func ErrorFromNative(err Handle) error {
	return dbus_internal.ErrorFromNative(dbus_internal.Handle(err))
}
