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

// Package dissect classifies captured USB packets for the Trigger 5 and
// Trigger 6 display adapter protocols, reassembles their bulk payloads and
// renders field trees. All state is scoped to a Context, one per capture;
// nothing here is global, so two captures never contaminate each other.
package dissect

import (
	"encoding/binary"
	"fmt"

	"github.com/displaycap/go-trigger/pkg/config"
	"github.com/displaycap/go-trigger/pkg/defrag"
	"github.com/displaycap/go-trigger/pkg/fields"
	"github.com/displaycap/go-trigger/pkg/log"
	"github.com/displaycap/go-trigger/pkg/usb"
)

type deviceKey struct {
	Bus    uint16
	Device uint8
}

// Result is what the first pass returns for one packet. Payload is non-nil
// only when this packet finalized a reassembly; its bytes are available
// here once and summarized for all later lookups.
type Result struct {
	Tree     *fields.Tree
	Payload  *defrag.Payload
	Selector *SelectorInfo
}

// Context is the capture-scoped dissection state: conversation store,
// reassembly table and the device-to-protocol bindings sniffed from
// enumeration traffic.
type Context struct {
	cfg   *config.Config
	table *defrag.Table

	conversations map[usb.ConversationKey]*Conversation
	devices       map[deviceKey]string

	// cursors tracks in-flight cursor bitmap uploads by device and
	// cursor index.
	cursors map[string]*SelectorInfo

	// forced overrides descriptor sniffing for every device, for captures
	// that do not include enumeration.
	forced string
}

func NewContext(cfg *config.Config) *Context {
	return &Context{
		cfg:           cfg,
		table:         defrag.NewTable(),
		conversations: make(map[usb.ConversationKey]*Conversation),
		devices:       make(map[deviceKey]string),
		cursors:       make(map[string]*SelectorInfo),
	}
}

// ForceProtocol binds every device in the capture to the given protocol
// name, bypassing descriptor sniffing.
func (c *Context) ForceProtocol(protocol string) {
	c.forced = protocol
}

func (c *Context) conversation(key usb.ConversationKey, protocol string) *Conversation {
	conv, ok := c.conversations[key]
	if !ok {
		conv = newConversation(key, protocol)
		c.conversations[key] = conv
	}
	return conv
}

// DeviceProtocol returns the protocol bound to a device, or the empty
// string when the device is unknown.
func (c *Context) DeviceProtocol(bus uint16, device uint8) string {
	if c.forced != "" {
		return c.forced
	}
	return c.devices[deviceKey{Bus: bus, Device: device}]
}

// BindDevice records which protocol a device speaks.
func (c *Context) BindDevice(bus uint16, device uint8, protocol string) {
	log.Debug("Binding device %d.%d to protocol %s", bus, device, protocol)
	c.devices[deviceKey{Bus: bus, Device: device}] = protocol
}

// sniffDescriptor watches GET_DESCRIPTOR(DEVICE) completions for the
// vendor/product ids that map the device to a protocol generation. The
// ids sit at offsets 8 and 10 of the device descriptor.
func (c *Context) sniffDescriptor(p *usb.Packet) {
	if p.Setup == nil || !p.Setup.Standard() || p.Phase != usb.PhaseCompletion {
		return
	}
	// GET_DESCRIPTOR with descriptor type DEVICE in the value high byte
	if p.Setup.Request != 0x06 || p.Setup.Value>>8 != 0x01 {
		return
	}
	if len(p.Data) < 12 {
		return
	}
	vid := binary.LittleEndian.Uint16(p.Data[8:10])
	pid := binary.LittleEndian.Uint16(p.Data[10:12])
	if protocol := c.cfg.ProtocolFor(vid, pid); protocol != "" {
		c.BindDevice(p.Bus, p.Device, protocol)
	}
}

// ClassifyFirstPass classifies one packet in capture order, updating the
// running conversation state, and renders its field tree. It must see each
// packet exactly once and in order; re-presenting a packet is an
// ErrAlreadyClassified. Packets that are not Trigger traffic get an
// ErrNotHandled decline.
func (c *Context) ClassifyFirstPass(p *usb.Packet) (*Result, error) {
	if conv, ok := c.conversations[p.Conversation()]; ok {
		if _, seen := conv.Frame(p.ID); seen {
			return nil, ErrAlreadyClassified{Packet: p.ID}
		}
	}

	switch p.Type {
	case usb.TransferControl:
		c.sniffDescriptor(p)
		if p.Setup == nil || !p.Setup.Vendor() {
			return nil, ErrNotHandled{Packet: p.ID}
		}
		switch c.DeviceProtocol(p.Bus, p.Device) {
		case config.ProtocolTrigger5:
			return c.classifyTrigger5Control(p)
		case config.ProtocolTrigger6:
			return c.classifyTrigger6Control(p)
		}
		return nil, ErrNotHandled{Packet: p.ID}

	case usb.TransferBulk:
		switch c.DeviceProtocol(p.Bus, p.Device) {
		case config.ProtocolTrigger5:
			return c.classifyTrigger5Bulk(p)
		case config.ProtocolTrigger6:
			return c.classifyTrigger6Bulk(p)
		}
		return nil, ErrNotHandled{Packet: p.ID}

	case usb.TransferInterrupt:
		protocol := c.DeviceProtocol(p.Bus, p.Device)
		if protocol == "" || !p.In {
			return nil, ErrNotHandled{Packet: p.ID}
		}
		conv := c.conversation(p.Conversation(), protocol)
		frame := &FrameInfo{Kind: KindInterrupt}
		return conv.recorded(p, frame, renderInterrupt(conv.Protocol, p), nil)
	}

	return nil, ErrNotHandled{Packet: p.ID}
}

func renderInterrupt(protocol string, p *usb.Packet) *fields.Tree {
	tree := fields.NewTree(protocolLabel(protocol))
	tree.Annotate("Interrupt transfer, uninterpreted")
	payloadField(tree, 0, p.Data)
	return tree
}

func protocolLabel(protocol string) string {
	if protocol == config.ProtocolTrigger6 {
		return "Trigger 6"
	}
	return "Trigger 5"
}

// Lookup re-renders the field tree of an already classified packet. It
// reads the memoized classification and touches no running state, so it is
// safe in any order and any number of times. Asking about a packet the
// first pass never saw is an ErrLookupMiss.
func (c *Context) Lookup(p *usb.Packet) (*fields.Tree, error) {
	conv, ok := c.conversations[p.Conversation()]
	if !ok {
		return nil, ErrLookupMiss{Packet: p.ID}
	}
	frame, ok := conv.Frame(p.ID)
	if !ok {
		return nil, ErrLookupMiss{Packet: p.ID}
	}

	var tree *fields.Tree
	switch {
	case frame.Kind == KindInterrupt:
		tree = renderInterrupt(conv.Protocol, p)
	case conv.Protocol == config.ProtocolTrigger5:
		if frame.Kind == KindControl {
			tree = c.renderTrigger5Control(p, frame)
		} else {
			tree = renderTrigger5Frame(p, frame)
		}
	case conv.Protocol == config.ProtocolTrigger6:
		if frame.Kind == KindControl {
			tree = c.renderTrigger6Control(p, frame)
		} else {
			tree = renderTrigger6Frame(p, frame)
		}
	default:
		return nil, ErrLookupMiss{Packet: p.ID}
	}
	annotateOutcome(tree, frame)
	return tree, nil
}

// classified is the common tail of every classifier: memoize the frame,
// advance the running state and wrap the rendered tree.
func (conv *Conversation) classified(p *usb.Packet, frame *FrameInfo, tree *fields.Tree, payload *defrag.Payload) (*Result, error) {
	if payload != nil {
		frame.Outcome = summarize(payload)
	}
	if err := conv.remember(p.ID, frame); err != nil {
		return nil, err
	}
	conv.advance(frame)
	annotateOutcome(tree, frame)
	result := &Result{Tree: tree, Payload: payload, Selector: frame.Selector}
	return result, nil
}

// recorded is the tail for control classifications, which never advance
// bulk stream state.
func (conv *Conversation) recorded(p *usb.Packet, frame *FrameInfo, tree *fields.Tree, payload *defrag.Payload) (*Result, error) {
	if payload != nil {
		frame.Outcome = summarize(payload)
	}
	if err := conv.remember(p.ID, frame); err != nil {
		return nil, err
	}
	annotateOutcome(tree, frame)
	return &Result{Tree: tree, Payload: payload, Selector: frame.Selector}, nil
}

// annotateOutcome replays warnings and the reassembly summary onto a tree.
// Used identically by the first pass and by lookups so both render the
// same thing.
func annotateOutcome(tree *fields.Tree, frame *FrameInfo) {
	for _, w := range frame.Warnings {
		tree.Annotate("%s", w)
	}
	if o := frame.Outcome; o != nil {
		if o.Complete {
			tree.Annotate("Payload reassembled, %d bytes", o.Length)
		} else {
			tree.Annotate("Payload incomplete, %d bytes captured, first gap at offset %d",
				o.Length, o.GapOffset)
		}
		if o.Conflict {
			tree.Annotate("Overlapping fragments disagreed, kept last writer")
		}
	}
}

func minu32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// wireLength is the number of bytes the packet carried on the wire, which
// the classification counters must run on even when the capture stored
// fewer.
func wireLength(p *usb.Packet) uint32 {
	captured := uint32(len(p.Data))
	if p.ReportedLength > captured {
		return p.ReportedLength
	}
	return captured
}

// controlData returns the data stage bytes of a control transfer: the
// completion carries them for IN requests, the submission for OUT.
func controlData(p *usb.Packet) []byte {
	if p.Setup == nil {
		return nil
	}
	if p.Setup.In() == (p.Phase == usb.PhaseCompletion) {
		return p.Data
	}
	return nil
}

// printable renders a byte buffer as text, falling back to hex when it is
// not clean ASCII.
func printable(data []byte) string {
	for _, b := range data {
		if (b < 0x20 || b > 0x7e) && b != 0 {
			return fmt.Sprintf("%x", data)
		}
	}
	out := make([]byte, 0, len(data))
	for _, b := range data {
		if b != 0 {
			out = append(out, b)
		}
	}
	return string(out)
}

func payloadField(tree *fields.Tree, offset int, data []byte) {
	if len(data) == 0 {
		return
	}
	f := fields.Bytes("Payload Data", "trigger.payload", offset, data)
	if len(data) > 16 {
		f.Value = fmt.Sprintf("%x...", data[:16])
	}
	f.AppendDisplay("%d bytes", len(data))
	tree.Add(f)
}
