// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package errors

import (
	"errors"
	"fmt"
)

// Kind classifies every error returned by the entity layer so callers can
// branch without matching on messages.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNotFound
	KindValidation
	KindDuplicateUniqueValue
	KindIllegalArgument
	KindStore
)

var kindNames = [...]string{
	KindUnknown:              "Unknown",
	KindNotFound:             "NotFound",
	KindValidation:           "ValidationError",
	KindDuplicateUniqueValue: "DuplicateUniqueValue",
	KindIllegalArgument:      "IllegalArgument",
	KindStore:                "StoreError",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// kind roots, matched with errors.Is
var (
	ErrNotFound             = errors.New("not found")
	ErrValidation           = errors.New("validation failed")
	ErrDuplicateUniqueValue = errors.New("duplicate unique value")
	ErrIllegalArgument      = errors.New("illegal argument")
	ErrStore                = errors.New("store failure")
)

var roots = map[Kind]error{
	KindNotFound:             ErrNotFound,
	KindValidation:           ErrValidation,
	KindDuplicateUniqueValue: ErrDuplicateUniqueValue,
	KindIllegalArgument:      ErrIllegalArgument,
	KindStore:                ErrStore,
}

var (
	ErrEntityNotFound       = newSentinel(KindNotFound, "entity does not exist")
	ErrApplicationNotFound  = newSentinel(KindNotFound, "application does not exist")
	ErrAliasNotFound        = newSentinel(KindNotFound, "alias does not exist")
	ErrPropertyNotFound     = newSentinel(KindNotFound, "property does not exist")
	ErrDictionaryNotFound   = newSentinel(KindNotFound, "dictionary entry does not exist")
	ErrAssetNotFound        = newSentinel(KindNotFound, "asset content does not exist")
	ErrInvalidEntityType    = newSentinel(KindValidation, "entity type is not instantiable")
	ErrRequiredProperty     = newSentinel(KindValidation, "required property is missing")
	ErrInvalidPropertyValue = newSentinel(KindValidation, "property value has the wrong type")
	ErrImmutableProperty    = newSentinel(KindValidation, "property is not mutable")
	ErrSchemaMismatch       = newSentinel(KindValidation, "entity does not match json schema")
	ErrDuplicateAlias       = newSentinel(KindDuplicateUniqueValue, "alias is bound to another entity")
	ErrInvalidIdentifier    = newSentinel(KindIllegalArgument, "identifier is malformed")
	ErrMissingQueryScope    = newSentinel(KindIllegalArgument, "query names neither a collection nor a connection type")
	ErrQueryContradiction   = newSentinel(KindIllegalArgument, "query predicates contradict each other")
	ErrInvalidQuery         = newSentinel(KindIllegalArgument, "query is malformed")
	ErrInvalidCursor        = newSentinel(KindIllegalArgument, "cursor is malformed or belongs to another query")
	ErrUnsupportedOperation = newSentinel(KindIllegalArgument, "operation is not supported")
	ErrRegistryFrozen       = newSentinel(KindIllegalArgument, "schema registry is frozen")
)

// Error carries a Kind, an optional operation and a wrapped cause.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func newSentinel(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.msg
	}
	if e.msg == "" {
		return e.err.Error()
	}
	return e.msg + ": " + e.err.Error()
}

func (e *Error) Kind() Kind { return e.kind }

func (e *Error) Unwrap() error { return e.err }

func (e *Error) Is(target error) bool {
	return roots[e.kind] == target
}

// Wrap attaches context to a sentinel while keeping it matchable.
func Wrap(sentinel *Error, format string, args ...interface{}) error {
	return &Error{kind: sentinel.kind, msg: fmt.Sprintf(format, args...), err: sentinel}
}

func NewNotFound(format string, args ...interface{}) error {
	return &Error{kind: KindNotFound, msg: fmt.Sprintf(format, args...)}
}

func NewValidation(format string, args ...interface{}) error {
	return &Error{kind: KindValidation, msg: fmt.Sprintf(format, args...)}
}

func NewDuplicate(format string, args ...interface{}) error {
	return &Error{kind: KindDuplicateUniqueValue, msg: fmt.Sprintf(format, args...)}
}

func NewIllegalArgument(format string, args ...interface{}) error {
	return &Error{kind: KindIllegalArgument, msg: fmt.Sprintf(format, args...)}
}

// NewStoreError wraps a backing store failure. Errors that already carry a
// kind are returned untouched so a not-found never turns into a store error.
func NewStoreError(err error, op string) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return &Error{kind: KindStore, msg: op, err: err}
}

// KindOf returns the kind of the first classified error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

func IsDuplicate(err error) bool { return errors.Is(err, ErrDuplicateUniqueValue) }

func IsIllegalArgument(err error) bool { return errors.Is(err, ErrIllegalArgument) }

func IsStoreError(err error) bool { return errors.Is(err, ErrStore) }
