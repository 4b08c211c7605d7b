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

package layers

import (
	"testing"

	"github.com/google/gopacket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrigger6SelectorRoundTrip(t *testing.T) {
	sel := &Trigger6Selector{
		Session:        SessionAudio,
		PayloadLength:  0x10000,
		DestAddr:       0xdeadbeef,
		FragmentLength: 0x8000,
		FragmentOffset: 0x8000,
		Data:           []byte{9, 8, 7},
	}

	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, sel.SerializeTo(buf, gopacket.SerializeOptions{}))

	decoded := &Trigger6Selector{}
	require.NoError(t, decoded.DecodeFromBytes(buf.Bytes(), gopacket.NilDecodeFeedback))

	assert.Equal(t, SessionAudio, decoded.Session)
	assert.Equal(t, sel.PayloadLength, decoded.PayloadLength)
	assert.Equal(t, sel.DestAddr, decoded.DestAddr)
	assert.Equal(t, sel.FragmentLength, decoded.FragmentLength)
	assert.Equal(t, sel.FragmentOffset, decoded.FragmentOffset)
	assert.Equal(t, []byte{9, 8, 7}, decoded.Data)
}

func TestTrigger6SelectorOffsetPastPayload(t *testing.T) {
	sel := &Trigger6Selector{
		PayloadLength:  100,
		FragmentLength: 10,
		FragmentOffset: 200,
	}
	buf := make([]byte, Trigger6SelectorLen)
	sel.Serialize(buf)

	decoded := &Trigger6Selector{}
	assert.Error(t, decoded.DecodeFromBytes(buf, gopacket.NilDecodeFeedback))
}

func TestTrigger6SelectorTooShort(t *testing.T) {
	df := &truncationFeedback{}
	decoded := &Trigger6Selector{}

	err := decoded.DecodeFromBytes(make([]byte, 12), df)
	assert.Error(t, err)
	assert.True(t, df.truncated)
}

func TestCursorHeaderDecode(t *testing.T) {
	payload := []byte{0x01, 0x00, 0x40, 0x00, 0x40, 0x00, 0x00, 0x01, 0xff, 0xff}

	hdr, err := DecodeCursorHeader(payload)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), hdr.PixelFormat)
	assert.Equal(t, uint16(64), hdr.Width)
	assert.Equal(t, uint16(64), hdr.Height)
	assert.Equal(t, uint16(256), hdr.Stride)

	_, err = DecodeCursorHeader(payload[:4])
	assert.Error(t, err)
}

func TestSessionNames(t *testing.T) {
	assert.Equal(t, "video", SessionVideo.String())
	assert.Equal(t, "audio", SessionAudio.String())
	assert.Equal(t, "firmware-update", SessionFirmwareUpdate.String())
	assert.Equal(t, "session-9", SessionNum(9).String())
}
