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

// Package log is the single logging entry point shared by the updater and
// authmanager processes. It wraps a package-level logrus.Logger so call
// sites keep the historical, package-function call shape (log.Info(...),
// log.Errorf(...)) while everything underneath is real logrus: formatters,
// hooks, and level handling all come straight from sirupsen/logrus.
package log

import (
	"io"
	"log/syslog"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	mendersyslog "github.com/mendersoftware/mender-sub003/log/syslog"
)

// Logger, Entry, and level constants are re-exported so callers never need
// to import logrus directly just to pass a level or a *Logger around.
type (
	Logger = logrus.Logger
	Entry  = logrus.Entry
	Level  = logrus.Level
	Fields = logrus.Fields
)

const (
	PanicLevel = logrus.PanicLevel
	FatalLevel = logrus.FatalLevel
	ErrorLevel = logrus.ErrorLevel
	WarnLevel  = logrus.WarnLevel
	InfoLevel  = logrus.InfoLevel
	DebugLevel = logrus.DebugLevel
	TraceLevel = logrus.TraceLevel
)

// Log is the process-wide default logger. Tests may swap it out wholesale
// (saving and restoring the previous value) to capture or silence output.
var Log = New()

// moduleStack holds the currently active module-name scopes pushed by
// PushModule; the active filter (if any) restricts which of these modules
// are allowed to emit log lines.
var (
	moduleStack  []string
	moduleFilter map[string]bool
)

func New() *Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.InfoLevel)
	return l
}

func SetLevel(level Level) {
	Log.SetLevel(level)
}

func SetOutput(out io.Writer) {
	Log.SetOutput(out)
}

func AddHook(hook logrus.Hook) {
	Log.AddHook(hook)
}

func ParseLevel(s string) (Level, error) {
	return logrus.ParseLevel(s)
}

// PushModule scopes subsequent log calls to a named module; used by the CLI
// to tag output from a particular subcommand or component. Modules nest:
// the innermost pushed name is the active one until PopModule is called.
func PushModule(name string) {
	moduleStack = append(moduleStack, name)
}

func PopModule() {
	if len(moduleStack) == 0 {
		return
	}
	moduleStack = moduleStack[:len(moduleStack)-1]
}

func currentModule() string {
	if len(moduleStack) == 0 {
		return ""
	}
	return moduleStack[len(moduleStack)-1]
}

// SetModuleFilter restricts log output to the given module names; an empty
// list disables filtering (all modules log normally). Returns an error if
// called while no modules have ever been pushed, mirroring the historical
// contract that the filter only makes sense once modules are in use.
func SetModuleFilter(modules []string) error {
	if len(modules) == 0 {
		moduleFilter = nil
		return nil
	}
	f := make(map[string]bool, len(modules))
	for _, m := range modules {
		f[m] = true
	}
	moduleFilter = f
	return nil
}

func moduleAllowed() bool {
	if moduleFilter == nil {
		return true
	}
	return moduleFilter[currentModule()]
}

func withModule() *logrus.Entry {
	if m := currentModule(); m != "" {
		return Log.WithField("module", m)
	}
	return logrus.NewEntry(Log)
}

func Debug(args ...interface{}) {
	if moduleAllowed() {
		withModule().Debug(args...)
	}
}

func Debugf(format string, args ...interface{}) {
	if moduleAllowed() {
		withModule().Debugf(format, args...)
	}
}

func Debugln(args ...interface{}) {
	if moduleAllowed() {
		withModule().Debugln(args...)
	}
}

func Info(args ...interface{}) {
	if moduleAllowed() {
		withModule().Info(args...)
	}
}

func Infof(format string, args ...interface{}) {
	if moduleAllowed() {
		withModule().Infof(format, args...)
	}
}

func Infoln(args ...interface{}) {
	if moduleAllowed() {
		withModule().Infoln(args...)
	}
}

func Warn(args ...interface{}) {
	if moduleAllowed() {
		withModule().Warn(args...)
	}
}

func Warnf(format string, args ...interface{}) {
	if moduleAllowed() {
		withModule().Warnf(format, args...)
	}
}

func Warnln(args ...interface{}) {
	if moduleAllowed() {
		withModule().Warnln(args...)
	}
}

func Warning(args ...interface{}) {
	Warn(args...)
}

func Warningf(format string, args ...interface{}) {
	Warnf(format, args...)
}

func Error(args ...interface{}) {
	withModule().Error(args...)
}

func Errorf(format string, args ...interface{}) {
	withModule().Errorf(format, args...)
}

func Errorln(args ...interface{}) {
	withModule().Errorln(args...)
}

func Fatal(args ...interface{}) {
	withModule().Fatal(args...)
}

func Fatalf(format string, args ...interface{}) {
	withModule().Fatalf(format, args...)
}

func Fatalln(args ...interface{}) {
	withModule().Fatalln(args...)
}

func Panic(args ...interface{}) {
	withModule().Panic(args...)
}

func Panicf(format string, args ...interface{}) {
	withModule().Panicf(format, args...)
}

func Printf(format string, args ...interface{}) {
	withModule().Printf(format, args...)
}

func WithField(key string, value interface{}) *Entry {
	return withModule().WithField(key, value)
}

func WithFields(fields Fields) *Entry {
	return withModule().WithFields(fields)
}

func WithError(err error) *Entry {
	return withModule().WithError(err)
}

// AddSyslogHook wires the logger into the local syslog daemon via the
// sibling syslog subpackage, respecting the logger's current level.
func AddSyslogHook() error {
	hook, err := mendersyslog.NewSyslogHook("", "", syslog.LOG_INFO|syslog.LOG_DAEMON,
		"mender", Log.GetLevel())
	if err != nil {
		return errors.Wrap(err, "log: failed to connect to syslog")
	}
	Log.AddHook(hook)
	return nil
}
