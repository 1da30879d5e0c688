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

package handler

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindEngineError ErrorKind = iota
	KindBadRequest
	KindNotFound
	KindUnsupportedOperation
)

func (k ErrorKind) String() string {
	switch k {
	case KindBadRequest:
		return "BadRequest"
	case KindNotFound:
		return "NotFound"
	case KindUnsupportedOperation:
		return "UnsupportedOperation"
	default:
		return "EngineError"
	}
}

var (
	ErrHandlerClosed        = errors.New("handler is closed")
	ErrTrackNotFound        = errors.New("track not found")
	ErrTrackUnavailable     = errors.New("no track available for player")
	ErrTransceiverNotFound  = errors.New("no transceiver with given mid")
	ErrDataChannelNotFound  = errors.New("data channel not found")
	ErrDuplicateDataChannel = errors.New("data channel id already in use")
	ErrStreamIDInUse        = errors.New("data channel stream id already in use")
	ErrUnknownMethod        = errors.New("unknown method")
	ErrUnknownEvent         = errors.New("unknown event")

	ErrDuplicateKey   = errors.New("key already registered")
	ErrRegistrySealed = errors.New("registry does not accept new entries")
)

// Error carries the kind reported back to the orchestrator along with its cause.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorName is the error name sent on the wire
func (e *Error) ErrorName() string {
	return e.Kind.String()
}

func newError(kind ErrorKind, err error) error {
	return &Error{Kind: kind, Err: err}
}

func badRequest(format string, args ...interface{}) error {
	return &Error{Kind: KindBadRequest, Err: fmt.Errorf(format, args...)}
}

func notFound(err error, id string) error {
	return &Error{Kind: KindNotFound, Err: withID(err, id)}
}

func withID(err error, id string) error {
	return fmt.Errorf("%w: %s", err, id)
}

func engineError(err error) error {
	return &Error{Kind: KindEngineError, Err: err}
}

// KindOf reports the kind of err; untyped errors are engine errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindEngineError
}
