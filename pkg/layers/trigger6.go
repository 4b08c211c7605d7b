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
	// Trigger6LayerNum identifies the layer
	Trigger6LayerNum = 2101

	// Trigger6SelectorLen is the fixed size of the bulk stream selector
	Trigger6SelectorLen = 20

	// Trigger6CursorHeaderLen is the header in front of a reassembled
	// cursor bitmap upload
	Trigger6CursorHeaderLen = 8
)

type SessionNum uint32

const (
	SessionVideo          SessionNum = 0
	SessionAudio          SessionNum = 3
	SessionFirmwareUpdate SessionNum = 5
)

func (s SessionNum) String() string {
	switch s {
	case SessionVideo:
		return "video"
	case SessionAudio:
		return "audio"
	case SessionFirmwareUpdate:
		return "firmware-update"
	}
	return fmt.Sprintf("session-%d", uint32(s))
}

// Trigger6Selector is the 20-byte header that opens (or resumes) one
// logical payload on a Trigger 6 bulk endpoint. Unlike Trigger 5 it is all
// explicit: no magic, no checksum, no derived lengths. Continuation
// packets carry raw payload bytes with no framing at all, which is why
// classifying them is the caller's problem, not this layer's.
type Trigger6Selector struct {
	layers.BaseLayer
	Session        SessionNum
	PayloadLength  uint32
	DestAddr       uint32
	FragmentLength uint32
	FragmentOffset uint32
	// Data is payload captured in the same packet as the selector. Almost
	// always empty on real hardware.
	Data []byte
}

var Trigger6LayerType = gopacket.RegisterLayerType(Trigger6LayerNum,
	gopacket.LayerTypeMetadata{Name: "Trigger6LayerType", Decoder: gopacket.DecodeFunc(DecodeTrigger6Layer)})

// LayerType returns the type of the Trigger 6 layer in the layer catalog
func (t6 *Trigger6Selector) LayerType() gopacket.LayerType {
	return Trigger6LayerType
}

// Serialize writes the 20-byte selector into buf.
func (t6 *Trigger6Selector) Serialize(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(t6.Session))
	binary.LittleEndian.PutUint32(buf[4:8], t6.PayloadLength)
	binary.LittleEndian.PutUint32(buf[8:12], t6.DestAddr)
	binary.LittleEndian.PutUint32(buf[12:16], t6.FragmentLength)
	binary.LittleEndian.PutUint32(buf[16:20], t6.FragmentOffset)
}

// SerializeTo serializes the selector into bytes and writes the bytes to
// the SerializeBuffer
func (t6 *Trigger6Selector) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	bytes, err := b.AppendBytes(Trigger6SelectorLen + len(t6.Data))
	if err != nil {
		return err
	}
	t6.Serialize(bytes[0:Trigger6SelectorLen])
	copy(bytes[Trigger6SelectorLen:], t6.Data)
	return nil
}

// DecodeFromBytes attempts to decode the byte slice as a Trigger 6 selector
func (t6 *Trigger6Selector) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < Trigger6SelectorLen {
		df.SetTruncated()
		return errors.New("Trigger 6 bulk packet too short. Must at least have the selector.")
	}

	t6.BaseLayer = layers.BaseLayer{
		Contents: data[0:Trigger6SelectorLen],
		Payload:  data[Trigger6SelectorLen:],
	}

	t6.Session = SessionNum(binary.LittleEndian.Uint32(data[0:4]))
	t6.PayloadLength = binary.LittleEndian.Uint32(data[4:8])
	t6.DestAddr = binary.LittleEndian.Uint32(data[8:12])
	t6.FragmentLength = binary.LittleEndian.Uint32(data[12:16])
	t6.FragmentOffset = binary.LittleEndian.Uint32(data[16:20])
	t6.Data = data[Trigger6SelectorLen:]

	if t6.PayloadLength < t6.FragmentOffset {
		return fmt.Errorf("Invalid Trigger 6 selector: fragment offset %d past payload length %d",
			t6.FragmentOffset, t6.PayloadLength)
	}

	return nil
}

func DecodeTrigger6Layer(data []byte, p gopacket.PacketBuilder) error {
	t6 := &Trigger6Selector{}
	err := t6.DecodeFromBytes(data, p)
	if err != nil {
		return err
	}
	p.AddLayer(t6)
	return nil
}

// CursorHeader describes a reassembled cursor bitmap upload. The pixel
// data that follows it stays opaque here.
type CursorHeader struct {
	PixelFormat uint16
	Width       uint16
	Height      uint16
	Stride      uint16
}

// DecodeCursorHeader decodes the header in front of a reassembled cursor
// bitmap. This must be called only on fully reassembled uploads.
func DecodeCursorHeader(payload []byte) (*CursorHeader, error) {
	if len(payload) < Trigger6CursorHeaderLen {
		return nil, errors.New("Cursor upload too short. Must at least have the bitmap header.")
	}
	return &CursorHeader{
		PixelFormat: binary.LittleEndian.Uint16(payload[0:2]),
		Width:       binary.LittleEndian.Uint16(payload[2:4]),
		Height:      binary.LittleEndian.Uint16(payload[4:6]),
		Stride:      binary.LittleEndian.Uint16(payload[6:8]),
	}, nil
}
