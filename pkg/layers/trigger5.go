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
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	// Trigger5LayerNum identifies the layer
	Trigger5LayerNum = 2100

	// Trigger5HeaderLen is the fixed size of the bulk frame header,
	// checksum byte included
	Trigger5HeaderLen = 20

	// Trigger5Magic0 and Trigger5Magic1 are the two sync bytes that open
	// every bulk frame header
	Trigger5Magic0 = 0xfb
	Trigger5Magic1 = 0x14

	// Trigger5PayloadLenMask masks the 28-bit payload length out of the
	// length+flags word
	Trigger5PayloadLenMask = 0x0fffffff
)

type PixelFormat uint8

const (
	PixelFormatRGB24 PixelFormat = iota
	PixelFormatRGB16
	PixelFormatCursor
	PixelFormatReserved
)

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatRGB24:
		return "RGB24"
	case PixelFormatRGB16:
		return "RGB16"
	case PixelFormatCursor:
		return "Cursor"
	}
	return fmt.Sprintf("Reserved(%d)", uint8(f))
}

// Trigger5Header is the 20-byte header that opens every Trigger 5 bulk
// frame. The declared payload follows it, usually spread over many more
// bulk packets than the one carrying the header.
type Trigger5Header struct {
	layers.BaseLayer
	PixelFormat   PixelFormat // 2 bits
	Compressed    bool
	FrameCounter  uint16 // 12 bits
	XOffset       uint16 // 13 bits used
	YOffset       uint16 // 13 bits used
	Width         uint16 // 13 bits used
	Height        uint16 // 13 bits used
	PayloadLength uint32 // 28 bits, not including this header
	PayloadFlags  uint8  // 4 bits
	Unknown       uint8
	Flags         uint8
	Reserved      uint8
	Checksum      uint8
	ChecksumValid bool
	// Data is whatever payload was captured in the same packet as the
	// header
	Data []byte
}

var Trigger5LayerType = gopacket.RegisterLayerType(Trigger5LayerNum,
	gopacket.LayerTypeMetadata{Name: "Trigger5LayerType", Decoder: gopacket.DecodeFunc(DecodeTrigger5Layer)})

// LayerType returns the type of the Trigger 5 layer in the layer catalog
func (t5 *Trigger5Header) LayerType() gopacket.LayerType {
	return Trigger5LayerType
}

// TotalLength is the full size of the logical payload: declared payload
// bytes plus the header itself.
func (t5 *Trigger5Header) TotalLength() uint32 {
	return t5.PayloadLength + Trigger5HeaderLen
}

// CursorImage reports whether this frame carries cursor bitmap data
// instead of screen pixels.
func (t5 *Trigger5Header) CursorImage() bool {
	return t5.Flags&0x10 != 0
}

// HeaderChecksum computes the checksum byte for the first 19 header bytes:
// the two's complement of their running sum.
func HeaderChecksum(header []byte) uint8 {
	var sum uint8
	for _, b := range header {
		sum += b
	}
	return -sum
}

// Serialize writes the 20-byte header, checksum included, into buf.
func (t5 *Trigger5Header) Serialize(buf []byte) {
	buf[0] = Trigger5Magic0
	buf[1] = Trigger5Magic1
	frameInfo := (uint16(t5.PixelFormat)&0x3)<<13 | t5.FrameCounter&0x0fff
	if t5.Compressed {
		frameInfo |= 1 << 12
	}
	binary.LittleEndian.PutUint16(buf[2:4], frameInfo)
	binary.LittleEndian.PutUint16(buf[4:6], t5.XOffset&0x1fff)
	binary.LittleEndian.PutUint16(buf[6:8], t5.YOffset&0x1fff)
	binary.LittleEndian.PutUint16(buf[8:10], t5.Width&0x1fff)
	binary.LittleEndian.PutUint16(buf[10:12], t5.Height&0x1fff)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(t5.PayloadFlags)<<28|t5.PayloadLength&Trigger5PayloadLenMask)
	buf[16] = t5.Unknown
	buf[17] = t5.Flags
	buf[18] = t5.Reserved
	buf[19] = HeaderChecksum(buf[0:19])
}

// SerializeTo serializes the header and any payload data into bytes and
// writes the bytes to the SerializeBuffer
func (t5 *Trigger5Header) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	bytes, err := b.AppendBytes(Trigger5HeaderLen + len(t5.Data))
	if err != nil {
		return err
	}
	t5.Serialize(bytes[0:Trigger5HeaderLen])
	copy(bytes[Trigger5HeaderLen:], t5.Data)
	return nil
}

// DecodeFromBytes attempts to decode the byte slice as a Trigger 5 bulk
// frame header
func (t5 *Trigger5Header) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < Trigger5HeaderLen {
		df.SetTruncated()
		return errors.New("Trigger 5 bulk packet too short. Must at least have the frame header.")
	}

	if data[0] != Trigger5Magic0 || data[1] != Trigger5Magic1 {
		return ErrBadMagic{Want: []byte{Trigger5Magic0, Trigger5Magic1}, Got: data[0:2]}
	}

	t5.BaseLayer = layers.BaseLayer{
		Contents: data[0:Trigger5HeaderLen],
		Payload:  data[Trigger5HeaderLen:],
	}

	frameInfo := binary.LittleEndian.Uint16(data[2:4])
	t5.PixelFormat = PixelFormat((frameInfo >> 13) & 0x3)
	t5.Compressed = frameInfo&(1<<12) != 0
	t5.FrameCounter = frameInfo & 0x0fff
	t5.XOffset = binary.LittleEndian.Uint16(data[4:6]) & 0x1fff
	t5.YOffset = binary.LittleEndian.Uint16(data[6:8]) & 0x1fff
	t5.Width = binary.LittleEndian.Uint16(data[8:10]) & 0x1fff
	t5.Height = binary.LittleEndian.Uint16(data[10:12]) & 0x1fff
	lenFlags := binary.LittleEndian.Uint32(data[12:16])
	t5.PayloadLength = lenFlags & Trigger5PayloadLenMask
	t5.PayloadFlags = uint8(lenFlags >> 28)
	t5.Unknown = data[16]
	t5.Flags = data[17]
	t5.Reserved = data[18]
	t5.Checksum = data[19]

	// The checksum byte is chosen so that all 20 header bytes sum to zero.
	var sum uint8
	for _, b := range data[0:Trigger5HeaderLen] {
		sum += b
	}
	t5.ChecksumValid = sum == 0

	t5.Data = data[Trigger5HeaderLen:]

	return nil
}

func DecodeTrigger5Layer(data []byte, p gopacket.PacketBuilder) error {
	t5 := &Trigger5Header{}
	err := t5.DecodeFromBytes(data, p)
	if err != nil {
		return err
	}
	p.AddLayer(t5)
	return nil
}
