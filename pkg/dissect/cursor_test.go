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

package dissect

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/displaycap/go-trigger/pkg/config"
)

// cursorBitmap builds an upload of the given pixel data size: the 8-byte
// bitmap header followed by the pixels.
func cursorBitmap(width, height uint16, pixels int) []byte {
	buf := make([]byte, 8+pixels)
	binary.LittleEndian.PutUint16(buf[0:2], 1) // pixel format
	binary.LittleEndian.PutUint16(buf[2:4], width)
	binary.LittleEndian.PutUint16(buf[4:6], height)
	binary.LittleEndian.PutUint16(buf[6:8], width*4)
	for i := 0; i < pixels; i++ {
		buf[8+i] = byte(i)
	}
	return buf
}

func TestCursorUploadReassembly(t *testing.T) {
	ctx := testContext(config.ProtocolTrigger6)
	bitmap := cursorBitmap(64, 64, 1116) // 1124 bytes: 512 + 512 + 100

	var result *Result
	var err error
	for i, chunk := range [][]byte{bitmap[0:512], bitmap[512:1024], bitmap[1024:]} {
		offset := uint16(i * 512)
		result, err = ctx.ClassifyFirstPass(vendorOut(uint64(i+1), t6ReqCursorUpload, 2, offset, chunk))
		require.NoError(t, err)
		if len(chunk) == 512 {
			assert.Nil(t, result.Payload)
		}
	}

	require.NotNil(t, result.Payload)
	assert.True(t, result.Payload.Complete)
	assert.True(t, bytes.Equal(bitmap, result.Payload.Data))
	assert.Equal(t, []uint64{1, 2, 3}, result.Payload.Contributors)

	found := false
	for _, a := range result.Tree.Annotations {
		if strings.Contains(a, "Cursor bitmap 64x64") {
			found = true
		}
	}
	assert.True(t, found, "expected a decoded bitmap annotation")
}

func TestCursorUploadShortFirstChunk(t *testing.T) {
	ctx := testContext(config.ProtocolTrigger6)
	bitmap := cursorBitmap(8, 8, 256)

	// A single short chunk is a whole upload.
	result, err := ctx.ClassifyFirstPass(vendorOut(1, t6ReqCursorUpload, 0, 0, bitmap))
	require.NoError(t, err)

	require.NotNil(t, result.Payload)
	assert.True(t, result.Payload.Complete)
	assert.True(t, bytes.Equal(bitmap, result.Payload.Data))
}

func TestCursorSlotsAreIndependent(t *testing.T) {
	ctx := testContext(config.ProtocolTrigger6)
	a := cursorBitmap(16, 16, 600)
	b := cursorBitmap(32, 32, 700)

	// Chunks of two slots interleaved.
	_, err := ctx.ClassifyFirstPass(vendorOut(1, t6ReqCursorUpload, 0, 0, a[0:512]))
	require.NoError(t, err)
	_, err = ctx.ClassifyFirstPass(vendorOut(2, t6ReqCursorUpload, 1, 0, b[0:512]))
	require.NoError(t, err)

	result, err := ctx.ClassifyFirstPass(vendorOut(3, t6ReqCursorUpload, 0, 512, a[512:]))
	require.NoError(t, err)
	require.NotNil(t, result.Payload)
	assert.True(t, bytes.Equal(a, result.Payload.Data))

	result, err = ctx.ClassifyFirstPass(vendorOut(4, t6ReqCursorUpload, 1, 512, b[512:]))
	require.NoError(t, err)
	require.NotNil(t, result.Payload)
	assert.True(t, bytes.Equal(b, result.Payload.Data))
}

func TestCursorUploadMidCaptureStart(t *testing.T) {
	ctx := testContext(config.ProtocolTrigger6)

	// First chunk never captured.
	result, err := ctx.ClassifyFirstPass(vendorOut(1, t6ReqCursorUpload, 0, 512, make([]byte, 100)))
	require.NoError(t, err)

	require.NotNil(t, result.Payload)
	assert.False(t, result.Payload.Complete)
	assert.Equal(t, uint32(0), result.Payload.GapOffset)

	found := false
	for _, a := range result.Tree.Annotations {
		if strings.Contains(a, "mid-upload") {
			found = true
		}
	}
	assert.True(t, found, "expected a mid-upload warning")
}

func TestCursorUploadLookupReplaysOutcome(t *testing.T) {
	ctx := testContext(config.ProtocolTrigger6)
	bitmap := cursorBitmap(64, 64, 1015) // 1023 bytes: 512 + 511

	_, err := ctx.ClassifyFirstPass(vendorOut(1, t6ReqCursorUpload, 0, 0, bitmap[0:512]))
	require.NoError(t, err)
	final := vendorOut(2, t6ReqCursorUpload, 0, 512, bitmap[512:])
	result, err := ctx.ClassifyFirstPass(final)
	require.NoError(t, err)
	require.NotNil(t, result.Payload)

	tree, err := ctx.Lookup(final)
	require.NoError(t, err)
	assert.Equal(t, result.Tree.String(), tree.String())
}
