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

func TestTrigger5HeaderRoundTrip(t *testing.T) {
	hdr := &Trigger5Header{
		FrameCounter:  0x123,
		Compressed:    true,
		PixelFormat:   PixelFormatRGB16,
		XOffset:       64,
		YOffset:       32,
		Width:         1920,
		Height:        1080,
		PayloadLength: 0x0123456,
		PayloadFlags:  0x5,
		Unknown:       0xaa,
		Flags:         0x10,
		Data:          []byte{1, 2, 3},
	}

	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, hdr.SerializeTo(buf, gopacket.SerializeOptions{}))

	decoded := &Trigger5Header{}
	require.NoError(t, decoded.DecodeFromBytes(buf.Bytes(), gopacket.NilDecodeFeedback))

	assert.Equal(t, hdr.FrameCounter, decoded.FrameCounter)
	assert.True(t, decoded.Compressed)
	assert.Equal(t, PixelFormatRGB16, decoded.PixelFormat)
	assert.Equal(t, hdr.XOffset, decoded.XOffset)
	assert.Equal(t, hdr.YOffset, decoded.YOffset)
	assert.Equal(t, hdr.Width, decoded.Width)
	assert.Equal(t, hdr.Height, decoded.Height)
	assert.Equal(t, hdr.PayloadLength, decoded.PayloadLength)
	assert.Equal(t, hdr.PayloadFlags, decoded.PayloadFlags)
	assert.Equal(t, uint32(0x0123456+Trigger5HeaderLen), decoded.TotalLength())
	assert.True(t, decoded.ChecksumValid)
	assert.True(t, decoded.CursorImage())
	assert.Equal(t, []byte{1, 2, 3}, decoded.Data)
}

func TestTrigger5ChecksumCoversEveryByte(t *testing.T) {
	hdr := &Trigger5Header{PayloadLength: 100, Width: 640, Height: 480}
	buf := make([]byte, Trigger5HeaderLen)
	hdr.Serialize(buf)

	// Flipping any single header byte must invalidate the checksum.
	for i := 2; i < Trigger5HeaderLen; i++ {
		mutated := make([]byte, Trigger5HeaderLen)
		copy(mutated, buf)
		mutated[i] ^= 0x01

		decoded := &Trigger5Header{}
		require.NoError(t, decoded.DecodeFromBytes(mutated, gopacket.NilDecodeFeedback))
		assert.False(t, decoded.ChecksumValid, "mutation at byte %d not detected", i)
	}
}

func TestTrigger5BadMagic(t *testing.T) {
	buf := make([]byte, Trigger5HeaderLen)
	buf[0] = 0xde
	buf[1] = 0xad

	decoded := &Trigger5Header{}
	err := decoded.DecodeFromBytes(buf, gopacket.NilDecodeFeedback)
	var badMagic ErrBadMagic
	require.ErrorAs(t, err, &badMagic)
	assert.Equal(t, []byte{Trigger5Magic0, Trigger5Magic1}, badMagic.Want)
}

type truncationFeedback struct {
	truncated bool
}

func (f *truncationFeedback) SetTruncated() {
	f.truncated = true
}

func TestTrigger5TooShort(t *testing.T) {
	df := &truncationFeedback{}
	decoded := &Trigger5Header{}

	err := decoded.DecodeFromBytes(make([]byte, 10), df)
	assert.Error(t, err)
	assert.True(t, df.truncated)
}
