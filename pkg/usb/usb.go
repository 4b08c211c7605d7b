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

// Package usb holds the host-independent model of a captured USB transfer.
// The capture layer fills these in from usbmon records; the dissectors
// consume them without knowing where they came from.
package usb

import (
	"fmt"
)

type TransferType uint8

const (
	TransferIsochronous TransferType = 0
	TransferInterrupt   TransferType = 1
	TransferControl     TransferType = 2
	TransferBulk        TransferType = 3
)

func (t TransferType) String() string {
	switch t {
	case TransferIsochronous:
		return "isochronous"
	case TransferInterrupt:
		return "interrupt"
	case TransferControl:
		return "control"
	case TransferBulk:
		return "bulk"
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

type Phase uint8

const (
	// PhaseSetup is the host-to-device submission of a transfer. For
	// control transfers it carries the setup fields and any OUT data.
	PhaseSetup Phase = iota
	// PhaseCompletion is the device's answer. For control IN transfers
	// it carries the response data.
	PhaseCompletion
)

// Setup is the 8-byte control-transfer setup block.
type Setup struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// Vendor reports whether the request type field marks a vendor request.
func (s *Setup) Vendor() bool {
	return (s.RequestType>>5)&0x3 == 2
}

// Standard reports whether the request type field marks a standard request.
func (s *Setup) Standard() bool {
	return (s.RequestType>>5)&0x3 == 0
}

// In reports the data direction encoded in the request type field.
func (s *Setup) In() bool {
	return s.RequestType&0x80 != 0
}

// ConversationKey identifies one logical endpoint conversation for the
// lifetime of a capture: all packets moving through the same endpoint of
// the same device in the same direction share a key.
type ConversationKey struct {
	Bus      uint16
	Device   uint8
	Endpoint uint8
	In       bool
}

func (k ConversationKey) String() string {
	dir := "out"
	if k.In {
		dir = "in"
	}
	return fmt.Sprintf("%d.%d ep%d %s", k.Bus, k.Device, k.Endpoint, dir)
}

// Packet is one captured transfer event in arrival order. ID is the packet
// sequence number assigned by the capture layer; it is the memoization key
// for everything computed downstream.
type Packet struct {
	ID       uint64
	Bus      uint16
	Device   uint8
	Endpoint uint8
	In       bool
	Type     TransferType
	Phase    Phase

	// Setup is present on control transfers only. The capture layer pairs
	// completions with their submissions, so the setup fields are available
	// in both phases.
	Setup *Setup

	// Data is the captured byte buffer. It may be shorter than
	// ReportedLength when the capturing driver truncated the payload;
	// nothing downstream may read past it.
	Data           []byte
	ReportedLength uint32
}

func (p *Packet) Conversation() ConversationKey {
	return ConversationKey{Bus: p.Bus, Device: p.Device, Endpoint: p.Endpoint, In: p.In}
}

// Captured returns the number of bytes actually captured.
func (p *Packet) Captured() int {
	return len(p.Data)
}

// Truncated reports whether the capture is missing payload bytes the wire
// claimed to carry.
func (p *Packet) Truncated() bool {
	return uint32(len(p.Data)) < p.ReportedLength
}
