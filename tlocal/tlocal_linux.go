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

//go:build linux

package tlocal

import "golang.org/x/sys/unix"

// threadKey identifies the calling OS thread. On Linux this is the kernel
// thread id (gettid), which is stable for the lifetime of the thread and
// never reused while that thread is still running — true OS-thread
// affinity, not an approximation of it.
type threadKey int32

func currentThreadKey() (threadKey, error) {
	return threadKey(unix.Gettid()), nil
}
