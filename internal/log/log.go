// Copyright 2023 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log wraps logrus with the thunk's logging conventions: drop
// paths log-and-continue, never panic or return errors, so a single
// package-level entry is all that's needed across the thunk.
package log

import (
	"os"

	"github.com/sirupsen/logrus"
)

var base = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl := os.Getenv("HSA_THUNK_LOG"); lvl != "" {
		if parsed, err := logrus.ParseLevel(lvl); err == nil {
			l.SetLevel(parsed)
		}
	}
	return l
}

// SetLevel overrides the package logger's level, used by internal/config
// when a config file specifies one.
func SetLevel(level logrus.Level) { base.SetLevel(level) }

// WithField returns an entry scoped to a single structured field, mirroring
// the component-tagging convention seen throughout the corpus.
func WithField(key string, value any) *logrus.Entry { return base.WithField(key, value) }

// Debugf logs at debug level.
func Debugf(format string, args ...any) { base.Debugf(format, args...) }

// Infof logs at info level.
func Infof(format string, args ...any) { base.Infof(format, args...) }

// Warningf logs at warning level. Drop paths use this exclusively: they
// never escalate to Errorf or Fatalf since a destructor must not abort the
// process.
func Warningf(format string, args ...any) { base.Warnf(format, args...) }

// Errorf logs at error level for non-drop-path failures that are also
// being returned to the caller as an error.
func Errorf(format string, args ...any) { base.Errorf(format, args...) }
