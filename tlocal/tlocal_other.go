/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

//go:build !linux

package tlocal

import "errors"

// errUnsupported is returned on platforms where this package has no
// verified OS-thread-identity primitive wired up. Rather than fall back to
// a goroutine-local approximation that would silently violate
// one-instance-per-OS-thread under the Go scheduler's M:N goroutine
// migration, Get fails loudly here, the same way a Linux-only syscall
// wrapper declares other platforms unsupported via a stub rather than
// faking the syscall's semantics.
var errUnsupported = errors.New("tlocal: unsupported platform")

type threadKey struct{}

func currentThreadKey() (threadKey, error) {
	return threadKey{}, errUnsupported
}
