/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package state

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(context.Background(), filepath.Join(t.TempDir(), "payloads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStorePutGet(t *testing.T) {
	store := testStore(t)

	meta := &PayloadMeta{
		ID:           17,
		Protocol:     "trigger6",
		Bus:          1,
		Device:       5,
		Endpoint:     1,
		Session:      "video",
		Declared:     600,
		Complete:     true,
		Contributors: []uint64{17, 18, 19},
	}
	require.NoError(t, store.Put(meta, []byte("pixels")))

	got, data, err := store.Get(17)
	require.NoError(t, err)
	assert.Equal(t, meta, got)
	assert.Equal(t, []byte("pixels"), data)
}

func TestStoreNotFound(t *testing.T) {
	store := testStore(t)

	_, err := store.Meta(99)
	var notFound ErrPayloadNotFound
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, uint64(99), notFound.ID)
}

func TestStoreListInIdOrder(t *testing.T) {
	store := testStore(t)

	for _, id := range []uint64{300, 2, 41} {
		require.NoError(t, store.Put(&PayloadMeta{ID: id, Protocol: "trigger5"}, nil))
	}

	metas, err := store.List()
	require.NoError(t, err)
	require.Len(t, metas, 3)
	assert.Equal(t, uint64(2), metas[0].ID)
	assert.Equal(t, uint64(41), metas[1].ID)
	assert.Equal(t, uint64(300), metas[2].ID)
}

func TestStoreIncompletePayloadMeta(t *testing.T) {
	store := testStore(t)

	meta := &PayloadMeta{ID: 7, Protocol: "trigger5", Declared: 1000, GapOffset: 256}
	require.NoError(t, store.Put(meta, make([]byte, 256)))

	got, err := store.Meta(7)
	require.NoError(t, err)
	assert.False(t, got.Complete)
	assert.Equal(t, uint32(256), got.GapOffset)
}
