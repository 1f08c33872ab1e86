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

package committer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/ringlog/bufalloc"
	"github.com/cloudwego/ringlog/ring"
)

func TestFacadeCommitBeforeBindIsNoop(t *testing.T) {
	f := New()
	assert.NoError(t, f.Commit())
}

func TestFacadePublishesPendingEndAndIsIdempotent(t *testing.T) {
	pool, err := bufalloc.NewPool(16, 64, 64, 256)
	require.NoError(t, err)

	f := New()
	r, err := ring.New(f, pool, 64, 16)
	require.NoError(t, err)
	f.Bind(r)

	assert.EqualValues(t, 0, r.CommitEnd())

	r.AllocateInputFrame(32)
	require.NoError(t, f.Commit())
	assert.EqualValues(t, 32, r.CommitEnd())

	// a second Commit with no new frames must be a cheap no-op, not merely
	// idempotent in effect.
	require.NoError(t, f.Commit())
	assert.EqualValues(t, 32, r.CommitEnd())
}
