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

package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNameStoreRoundTrip(t *testing.T) {
	names := []string{"alpha", "", "beta-gamma", "z"}
	store, offs := newNameStore(names)

	for i, name := range names {
		assert.Equal(t, name, store.get(offs[i]))
	}
}

func TestFnvHashStringStableAndDistributes(t *testing.T) {
	h1 := fnvHashString("hello-world")
	h2 := fnvHashString("hello-world")
	assert.Equal(t, h1, h2, "hash must be stable within a process")

	h3 := fnvHashString("hello-worle")
	assert.NotEqual(t, h1, h3)
}
