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
	"github.com/displaycap/go-trigger/pkg/layers"
)

// t6SelectorPacket serializes a stream selector plus any inline payload.
func t6SelectorPacket(session layers.SessionNum, payloadLen, fragLen, fragOffset uint32, inline []byte) []byte {
	sel := &layers.Trigger6Selector{
		Session:        session,
		PayloadLength:  payloadLen,
		FragmentLength: fragLen,
		FragmentOffset: fragOffset,
	}
	buf := make([]byte, layers.Trigger6SelectorLen+len(inline))
	sel.Serialize(buf)
	copy(buf[layers.Trigger6SelectorLen:], inline)
	return buf
}

func TestTrigger6SelectorWithInlinePayload(t *testing.T) {
	ctx := testContext(config.ProtocolTrigger6)
	payload := framePayload(100)

	result, err := ctx.ClassifyFirstPass(bulkOut(1, t6SelectorPacket(layers.SessionVideo, 100, 100, 0, payload)))
	require.NoError(t, err)

	require.NotNil(t, result.Payload)
	assert.True(t, result.Payload.Complete)
	assert.True(t, bytes.Equal(payload, result.Payload.Data))
	assert.Equal(t, layers.SessionVideo, result.Selector.Session)
}

func TestTrigger6FragmentRun(t *testing.T) {
	ctx := testContext(config.ProtocolTrigger6)
	payload := framePayload(1000)

	// Selector announces a 1000-byte fragment, raw packets carry it.
	result, err := ctx.ClassifyFirstPass(bulkOut(1, t6SelectorPacket(layers.SessionVideo, 1000, 1000, 0, nil)))
	require.NoError(t, err)
	assert.Nil(t, result.Payload)

	result, err = ctx.ClassifyFirstPass(bulkOut(2, payload[:512]))
	require.NoError(t, err)
	assert.Nil(t, result.Payload)

	result, err = ctx.ClassifyFirstPass(bulkOut(3, payload[512:]))
	require.NoError(t, err)
	require.NotNil(t, result.Payload)
	assert.True(t, result.Payload.Complete)
	assert.True(t, bytes.Equal(payload, result.Payload.Data))
	assert.Equal(t, []uint64{2, 3}, result.Payload.Contributors)
	assert.Equal(t, uint64(1), result.Selector.Origin)
}

func TestTrigger6SessionInterleaveIsolated(t *testing.T) {
	ctx := testContext(config.ProtocolTrigger6)
	video := framePayload(600)
	audio := make([]byte, 200)
	for i := range audio {
		audio[i] = byte(0xa0 + i)
	}

	// Video payload split over two selector runs, an audio payload and a
	// second video frame wedged between them. Sessions must not
	// contaminate each other.
	_, err := ctx.ClassifyFirstPass(bulkOut(1, t6SelectorPacket(layers.SessionVideo, 600, 300, 0, nil)))
	require.NoError(t, err)
	_, err = ctx.ClassifyFirstPass(bulkOut(2, video[:300]))
	require.NoError(t, err)

	result, err := ctx.ClassifyFirstPass(bulkOut(3, t6SelectorPacket(layers.SessionAudio, 200, 200, 0, nil)))
	require.NoError(t, err)
	assert.Nil(t, result.Payload)
	result, err = ctx.ClassifyFirstPass(bulkOut(4, audio))
	require.NoError(t, err)
	require.NotNil(t, result.Payload)
	assert.True(t, result.Payload.Complete)
	assert.True(t, bytes.Equal(audio, result.Payload.Data))
	assert.Equal(t, layers.SessionAudio, result.Selector.Session)

	_, err = ctx.ClassifyFirstPass(bulkOut(5, t6SelectorPacket(layers.SessionVideo, 600, 300, 300, nil)))
	require.NoError(t, err)
	result, err = ctx.ClassifyFirstPass(bulkOut(6, video[300:]))
	require.NoError(t, err)

	require.NotNil(t, result.Payload)
	assert.True(t, result.Payload.Complete)
	assert.Equal(t, uint32(600), result.Payload.Total)
	assert.True(t, bytes.Equal(video, result.Payload.Data))
	assert.Equal(t, layers.SessionVideo, result.Selector.Session)
}

func TestTrigger6FragmentBelongsToLastFrameSession(t *testing.T) {
	ctx := testContext(config.ProtocolTrigger6)

	_, err := ctx.ClassifyFirstPass(bulkOut(1, t6SelectorPacket(layers.SessionFirmwareUpdate, 100, 100, 0, nil)))
	require.NoError(t, err)

	// Raw bytes mid-run are payload of the open session even if they
	// happen to look like a selector.
	disguised := t6SelectorPacket(layers.SessionVideo, 50, 50, 0, framePayload(80))
	result, err := ctx.ClassifyFirstPass(bulkOut(2, disguised))
	require.NoError(t, err)

	require.NotNil(t, result.Payload)
	assert.True(t, result.Payload.Complete)
	assert.Equal(t, layers.SessionFirmwareUpdate, result.Selector.Session)
	assert.True(t, bytes.Equal(disguised, result.Payload.Data))

	session := result.Tree.Find("trigger6.frag.session")
	require.NotNil(t, session)
	assert.True(t, session.Generated)
}

func TestTrigger6MidCaptureResumeSurfaced(t *testing.T) {
	ctx := testContext(config.ProtocolTrigger6)

	// Capture starts on the second fragment of a payload.
	result, err := ctx.ClassifyFirstPass(bulkOut(1, t6SelectorPacket(layers.SessionVideo, 600, 300, 300, nil)))
	require.NoError(t, err)
	found := false
	for _, a := range result.Tree.Annotations {
		if strings.Contains(a, "starts mid-payload") {
			found = true
		}
	}
	assert.True(t, found, "expected a mid-capture warning")

	result, err = ctx.ClassifyFirstPass(bulkOut(2, framePayload(300)))
	require.NoError(t, err)
	require.NotNil(t, result.Payload)
	assert.False(t, result.Payload.Complete)
	assert.Equal(t, uint32(0), result.Payload.GapOffset)
	assert.Len(t, result.Payload.Data, 300)
}

func TestTrigger6UnexpectedFragmentOffsetWarned(t *testing.T) {
	ctx := testContext(config.ProtocolTrigger6)

	_, err := ctx.ClassifyFirstPass(bulkOut(1, t6SelectorPacket(layers.SessionVideo, 600, 300, 0, framePayload(300))))
	require.NoError(t, err)

	// Second selector claims offset 200 where 300 bytes were consumed.
	result, err := ctx.ClassifyFirstPass(bulkOut(2, t6SelectorPacket(layers.SessionVideo, 600, 100, 200, framePayload(100))))
	require.NoError(t, err)

	found := false
	for _, a := range result.Tree.Annotations {
		if strings.Contains(a, "expected 300") {
			found = true
		}
	}
	assert.True(t, found, "expected an offset mismatch warning")
}

func TestTrigger6SelectorTooShort(t *testing.T) {
	ctx := testContext(config.ProtocolTrigger6)

	result, err := ctx.ClassifyFirstPass(bulkOut(1, make([]byte, 8)))
	require.NoError(t, err)
	assert.Nil(t, result.Payload)
	require.NotEmpty(t, result.Tree.Annotations)
	assert.Contains(t, result.Tree.Annotations[0], "Expected stream selector")
}

func TestTrigger6ControlVideoModes(t *testing.T) {
	ctx := testContext(config.ProtocolTrigger6)

	data := make([]byte, 64) // two 32-byte records
	binary.LittleEndian.PutUint32(data[0:4], 148500)
	binary.LittleEndian.PutUint16(data[4:6], 60)
	binary.LittleEndian.PutUint16(data[8:10], 1920)  // line active pixels
	binary.LittleEndian.PutUint16(data[16:18], 1080) // frame active lines
	binary.LittleEndian.PutUint32(data[32:36], 74250)
	binary.LittleEndian.PutUint16(data[40:42], 1280)

	result, err := ctx.ClassifyFirstPass(vendorIn(1, t6ReqVideoModes, 0, 0, data))
	require.NoError(t, err)

	clock := result.Tree.Find("trigger6.mode.clock")
	require.NotNil(t, clock)
	assert.Equal(t, uint64(148500), clock.Value)

	width := result.Tree.Find("trigger6.mode.width")
	require.NotNil(t, width)
	assert.Equal(t, uint64(1920), width.Value)
}

func TestTrigger6ControlSessionName(t *testing.T) {
	ctx := testContext(config.ProtocolTrigger6)

	data := []byte{0x11, 0x07, 0x00, 0x56} // virtual vid/pid
	data = append(data, 'S', 0, 'c', 0, 'r', 0, 'e', 0, 'e', 0, 'n', 0, 0, 0)
	result, err := ctx.ClassifyFirstPass(vendorIn(1, t6ReqSessionInfo, 0, 0, data))
	require.NoError(t, err)

	f := result.Tree.Find("trigger6.session.name")
	require.NotNil(t, f)
	assert.Equal(t, "Screen", f.Value)

	vid := result.Tree.Find("trigger6.session.vid")
	require.NotNil(t, vid)
	assert.Equal(t, uint64(0x0711), vid.Value)
}

func TestTrigger6ControlConfigBlob(t *testing.T) {
	ctx := testContext(config.ProtocolTrigger6)

	data := append([]byte("DISP"), 1, 2, 3, 4)
	result, err := ctx.ClassifyFirstPass(vendorOut(1, t6ReqConfigBlob, 0, 0, data))
	require.NoError(t, err)

	f := result.Tree.Find("trigger6.config.fourcc")
	require.NotNil(t, f)
	assert.Equal(t, "DISP", f.Value)
	assert.Contains(t, f.Display, "display")
}
