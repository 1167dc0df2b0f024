// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package handles

import (
	"fmt"
)

// Ref is a typed capability reference to a bound handler.
type Ref[H any] struct {
	id  string
	reg *Registry
}

// BindRef binds handler and returns a typed reference to it.
func BindRef[H any](reg *Registry, kind string, handler H) (Ref[H], error) {
	id, err := reg.Bind(kind, handler)
	if err != nil {
		return Ref[H]{}, err
	}
	return Ref[H]{id: id, reg: reg}, nil
}

// RefOf wraps an existing handle. The handle is not checked until Resolve.
func RefOf[H any](reg *Registry, id string) Ref[H] {
	return Ref[H]{id: id, reg: reg}
}

// ID returns the opaque handle.
func (r Ref[H]) ID() string {
	return r.id
}

// Resolve returns the handler the reference addresses.
func (r Ref[H]) Resolve() (H, error) {
	return Lookup[H](r.reg, r.id)
}

// Release removes the binding. See Registry.Release.
func (r Ref[H]) Release() bool {
	return r.reg.Release(r.id)
}

// Lookup resolves id and asserts the handler type.
func Lookup[H any](reg *Registry, id string) (H, error) {
	var zero H
	handler, err := reg.Resolve(id)
	if err != nil {
		return zero, err
	}
	typed, ok := handler.(H)
	if !ok {
		return zero, fmt.Errorf("%w: %s holds %T", ErrKindMismatch, id, handler)
	}
	return typed, nil
}
