// Copyright 2023 LiveKit, Inc.
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

package serverlogger

import (
	"fmt"

	"github.com/pion/logging"

	"github.com/livekit/protocol/logger"
)

// implements logging.LoggerFactory
type loggerFactory struct {
	logger logger.Logger
}

// NewLoggerFactory routes pion's internal logs through l, under the "pion" component
func NewLoggerFactory(l logger.Logger) logging.LoggerFactory {
	if l == nil {
		return nil
	}
	return &loggerFactory{
		logger: l.WithComponent("pion"),
	}
}

func (f *loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &logAdapter{
		logger: f.logger.WithValues("scope", scope),
	}
}

// implements logging.LeveledLogger
type logAdapter struct {
	logger logger.Logger
}

func (l *logAdapter) Trace(msg string) {
	// ignore trace
}

func (l *logAdapter) Tracef(format string, args ...interface{}) {
	// ignore trace
}

func (l *logAdapter) Debug(msg string) {
	l.logger.Debugw(msg)
}

func (l *logAdapter) Debugf(format string, args ...interface{}) {
	l.logger.Debugw(fmt.Sprintf(format, args...))
}

func (l *logAdapter) Info(msg string) {
	// pion is chatty at info, treat it as debug
	l.logger.Debugw(msg)
}

func (l *logAdapter) Infof(format string, args ...interface{}) {
	l.logger.Debugw(fmt.Sprintf(format, args...))
}

func (l *logAdapter) Warn(msg string) {
	l.logger.Warnw(msg, nil)
}

func (l *logAdapter) Warnf(format string, args ...interface{}) {
	l.logger.Warnw(fmt.Sprintf(format, args...), nil)
}

func (l *logAdapter) Error(msg string) {
	l.logger.Errorw(msg, nil)
}

func (l *logAdapter) Errorf(format string, args ...interface{}) {
	l.logger.Errorw(fmt.Sprintf(format, args...), nil)
}
