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
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/google/gopacket"

	"github.com/displaycap/go-trigger/pkg/config"
	"github.com/displaycap/go-trigger/pkg/fields"
	"github.com/displaycap/go-trigger/pkg/layers"
	"github.com/displaycap/go-trigger/pkg/usb"
)

// classifyTrigger6Bulk multiplexes the bulk stream over sessions. Which
// session a raw fragment belongs to is decided by the conversation-level
// last frame; how many bytes that session is still owed is tracked per
// session, so interleaved payloads never contaminate each other.
func (c *Context) classifyTrigger6Bulk(p *usb.Packet) (*Result, error) {
	conv := c.conversation(p.Conversation(), config.ProtocolTrigger6)
	prev := conv.lastFrame
	if prev == nil || prev.FragRemaining == 0 {
		return c.trigger6Selector(conv, p)
	}
	return c.trigger6Fragment(conv, p)
}

func (c *Context) trigger6Selector(conv *Conversation, p *usb.Packet) (*Result, error) {
	sel := &layers.Trigger6Selector{}
	if err := sel.DecodeFromBytes(p.Data, gopacket.NilDecodeFeedback); err != nil {
		frame := &FrameInfo{Kind: KindSelector}
		frame.warn(fmt.Sprintf("Expected stream selector: %s", err.Error()))
		tree := renderTrigger6Frame(p, frame)
		return conv.classified(p, frame, tree, nil)
	}

	fragLen := sel.FragmentLength
	var clamped bool
	if sel.FragmentOffset+fragLen > sel.PayloadLength {
		fragLen = sel.PayloadLength - sel.FragmentOffset
		clamped = true
	}

	wire := wireLength(p)
	captured := uint32(len(p.Data))
	wireContribution := minu32(fragLen, wire-layers.Trigger6SelectorLen)
	capContribution := minu32(wireContribution, captured-layers.Trigger6SelectorLen)

	info := &SelectorInfo{
		Origin:         p.ID,
		Key:            fmt.Sprintf("t6 %s %s", conv.Key, sel.Session),
		Session:        sel.Session,
		PayloadLength:  sel.PayloadLength,
		FragmentLength: fragLen,
		FragmentOffset: sel.FragmentOffset,
		T6:             sel,
	}
	frame := &FrameInfo{
		Kind:             KindSelector,
		Selector:         info,
		Offset:           sel.FragmentOffset,
		Contribution:     capContribution,
		FragRemaining:    fragLen - wireContribution,
		PayloadRemaining: sel.PayloadLength - sel.FragmentOffset - wireContribution,
	}
	if clamped {
		frame.warn(fmt.Sprintf("Fragment length %d overruns payload length %d, clamped",
			sel.FragmentLength, sel.PayloadLength))
	}
	if p.Truncated() {
		frame.warn(fmt.Sprintf("Capture truncated: %d of %d bytes stored", captured, wire))
	}

	sess := conv.session(sel.Session)
	if sel.FragmentOffset == 0 {
		// Fresh payload. Any leftover assembly under this key was
		// abandoned by the device; discard it.
		if c.table.Pending(info.Key) {
			frame.warn("Previous payload on this session never completed, discarded")
		}
		c.table.Begin(info.Key, sel.PayloadLength)
	} else {
		if !c.table.Pending(info.Key) {
			frame.warn("Capture starts mid-payload, leading bytes missing")
			c.table.Begin(info.Key, sel.PayloadLength)
		} else if last := sess.lastFrame; last != nil && last.Selector != nil {
			expected := last.Selector.PayloadLength - last.PayloadRemaining
			if sel.FragmentOffset != expected {
				frame.warn(fmt.Sprintf("Fragment offset %d, expected %d", sel.FragmentOffset, expected))
			}
		}
	}

	more := frame.FragRemaining > 0 || frame.PayloadRemaining > 0
	payload := c.table.Add(info.Key, p.ID, sel.FragmentOffset,
		p.Data[layers.Trigger6SelectorLen:layers.Trigger6SelectorLen+capContribution], more)

	tree := renderTrigger6Frame(p, frame)
	return conv.classified(p, frame, tree, payload)
}

func (c *Context) trigger6Fragment(conv *Conversation, p *usb.Packet) (*Result, error) {
	// The conversation-level last frame names the session; that session's
	// own counters say how far into the fragment we are.
	sel := conv.lastFrame.Selector
	sess := conv.session(sel.Session)
	prev := sess.lastFrame

	wire := wireLength(p)
	captured := uint32(len(p.Data))
	wireContribution := minu32(prev.FragRemaining, wire)
	capContribution := minu32(wireContribution, captured)
	offset := sel.FragmentOffset + sel.FragmentLength - prev.FragRemaining

	frame := &FrameInfo{
		Kind:             KindFragment,
		Selector:         sel,
		Offset:           offset,
		Contribution:     capContribution,
		FragRemaining:    prev.FragRemaining - wireContribution,
		PayloadRemaining: prev.PayloadRemaining - wireContribution,
	}
	if p.Truncated() {
		frame.warn(fmt.Sprintf("Capture truncated: %d of %d bytes stored", captured, wire))
	}
	if wire > wireContribution {
		frame.warn(fmt.Sprintf("%d bytes past the declared fragment left unclassified", wire-wireContribution))
	}

	more := frame.FragRemaining > 0 || frame.PayloadRemaining > 0
	payload := c.table.Add(sel.Key, p.ID, offset, p.Data[:capContribution], more)

	tree := renderTrigger6Frame(p, frame)
	return conv.classified(p, frame, tree, payload)
}

func renderTrigger6Frame(p *usb.Packet, frame *FrameInfo) *fields.Tree {
	tree := fields.NewTree("Trigger 6")

	switch frame.Kind {
	case KindSelector:
		if frame.Selector == nil || frame.Selector.T6 == nil {
			payloadField(tree, 0, p.Data)
			return tree
		}
		sel := frame.Selector.T6
		h := tree.Add(fields.Str("Stream Selector", "trigger6.sel", 0, layers.Trigger6SelectorLen, ""))
		sf := h.Add(fields.Uint("Session", "trigger6.sel.session", 0, 4, uint64(sel.Session)))
		sf.AppendDisplay("%s", sel.Session)
		h.Add(fields.Uint("Payload Length", "trigger6.sel.payload_len", 4, 4, uint64(sel.PayloadLength)))
		h.Add(fields.Uint("Destination Address", "trigger6.sel.dest", 8, 4, uint64(sel.DestAddr)))
		h.Add(fields.Uint("Fragment Length", "trigger6.sel.frag_len", 12, 4, uint64(sel.FragmentLength)))
		h.Add(fields.Uint("Fragment Offset", "trigger6.sel.frag_offset", 16, 4, uint64(sel.FragmentOffset)))
		payloadField(tree, layers.Trigger6SelectorLen, p.Data[layers.Trigger6SelectorLen:])

	case KindFragment:
		sel := frame.Selector
		sf := tree.Add(fields.Generated("Session", "trigger6.frag.session", uint64(sel.Session)))
		sf.AppendDisplay("%s", sel.Session)
		tree.Add(fields.Generated("Selector Packet", "trigger6.frag.origin", sel.Origin))
		tree.Add(fields.Generated("Payload Offset", "trigger6.frag.offset", frame.Offset))
		tree.Annotate("Fragment of %s payload opened in packet %d", sel.Session, sel.Origin)
		payloadField(tree, 0, p.Data)
	}
	return tree
}

// Vendor control requests of the Trigger 6 generation.
const (
	t6ReqSetVideoMode = 0x12
	t6ReqEDID         = 0x80
	t6ReqConnector    = 0x87
	t6ReqVideoModes   = 0x89
	t6ReqAdapterInfo  = 0xb0
	t6ReqSessionInfo  = 0xb1
	t6ReqConfigBlob   = 0xb3
)

func (c *Context) classifyTrigger6Control(p *usb.Packet) (*Result, error) {
	conv := c.conversation(p.Conversation(), config.ProtocolTrigger6)
	if p.Setup.Request == t6ReqCursorUpload {
		return c.classifyCursorUpload(conv, p)
	}
	frame := &FrameInfo{Kind: KindControl}
	tree := c.renderTrigger6Control(p, frame)
	return conv.recorded(p, frame, tree, nil)
}

func (c *Context) renderTrigger6Control(p *usb.Packet, frame *FrameInfo) *fields.Tree {
	tree := fields.NewTree("Trigger 6")
	s := p.Setup
	data := controlData(p)

	req := tree.Add(fields.Uint("Vendor Request", "trigger6.req", 0, 0, uint64(s.Request)))

	switch s.Request {
	case t6ReqCursorUpload:
		req.AppendDisplay("Cursor Bitmap Upload")
		tree.Add(fields.Uint("Cursor Index", "trigger6.cursor.index", 0, 0, uint64(s.Value)))
		tree.Add(fields.Uint("Byte Offset", "trigger6.cursor.offset", 0, 0, uint64(s.Index)))
		payloadField(tree, 0, data)

	case t6ReqSetVideoMode:
		req.AppendDisplay("Set Video Mode")
		renderTrigger6Mode(tree, data, 0)

	case t6ReqEDID:
		req.AppendDisplay("EDID Block")
		tree.Add(fields.Uint("Block Offset", "trigger6.edid.offset", 0, 0, uint64(s.Value)))
		if len(data) > 0 {
			tree.Add(fields.Bytes("EDID Data", "trigger6.edid.data", 0, data))
		}

	case t6ReqConnector:
		req.AppendDisplay("Connector Status")
		if len(data) >= 1 {
			f := tree.Add(fields.Uint("Status", "trigger6.connector", 0, 1, uint64(data[0])))
			if data[0] != 0 {
				f.AppendDisplay("display connected")
			} else {
				f.AppendDisplay("no display")
			}
		}

	case t6ReqVideoModes:
		req.AppendDisplay("Supported Video Modes")
		tree.Add(fields.Uint("Output", "trigger6.modes.output", 0, 0, uint64(s.Value)))
		tree.Add(fields.Uint("Byte Offset", "trigger6.modes.offset", 0, 0, uint64(s.Index)))
		for offset := 0; offset+32 <= len(data); offset += 32 {
			renderTrigger6Mode(tree, data, offset)
		}

	case t6ReqAdapterInfo:
		req.AppendDisplay("Adapter Info")
		idx := tree.Add(fields.Uint("Field Index", "trigger6.info.index", 0, 0, uint64(s.Index)))
		idx.AppendDisplay("%s", t6InfoFieldName(s.Index))
		if len(data) > 0 {
			tree.Add(fields.Str("Value", "trigger6.info.value", 0, len(data), printable(data)))
		}

	case t6ReqSessionInfo:
		req.AppendDisplay("Session Info")
		tree.Add(fields.Uint("Session", "trigger6.session.num", 0, 0, uint64(s.Index)))
		if len(data) >= 4 {
			fields.DecodeTable(tree.Add(fields.Str("Virtual Device", "trigger6.session.device", 0, 4, "")),
				data, 0, []fields.Spec{
					{Name: "Vendor ID", Abbrev: "trigger6.session.vid", Size: 2},
					{Name: "Product ID", Abbrev: "trigger6.session.pid", Size: 2},
				})
		}
		if name := decodeUTF16LE(data[minInt(4, len(data)):]); name != "" {
			tree.Add(fields.Str("Session Name", "trigger6.session.name", 4, len(data)-4, name))
		}

	case t6ReqConfigBlob:
		req.AppendDisplay("Configuration Blob")
		if len(data) >= 8 {
			f := tree.Add(fields.Str("Section", "trigger6.config.fourcc", 0, 4, string(data[0:4])))
			switch string(data[0:4]) {
			case "UHAL":
				f.AppendDisplay("hardware abstraction")
			case "DISP":
				f.AppendDisplay("display")
			case "AUD_":
				f.AppendDisplay("audio")
			case "GPIO":
				f.AppendDisplay("gpio")
			}
			tree.Add(fields.Uint("Size", "trigger6.config.size", 4, 4,
				uint64(binary.LittleEndian.Uint32(data[4:8]))))
			if string(data[0:4]) == "DISP" && len(data) >= 16 {
				dev := tree.Add(fields.Str("Virtual Device", "trigger6.config.device", 12, len(data)-12, ""))
				fields.DecodeTable(dev, data, 12, []fields.Spec{
					{Name: "Vendor ID", Abbrev: "trigger6.config.vid", Size: 2},
					{Name: "Product ID", Abbrev: "trigger6.config.pid", Size: 2},
				})
				if name := decodeUTF16LE(data[16:]); name != "" {
					dev.Add(fields.Str("Name", "trigger6.config.name", 16, len(data)-16, name))
				}
			}
		}

	default:
		req.AppendDisplay("Unknown (0x%02x)", s.Request)
		if len(data) > 0 {
			payloadField(tree, 0, data)
		}
	}
	return tree
}

// renderTrigger6Mode decodes one 32-byte little-endian video mode record.
func renderTrigger6Mode(tree *fields.Tree, data []byte, offset int) {
	if offset+32 > len(data) {
		return
	}
	rec := tree.Add(fields.Str("Video Mode", "trigger6.mode", offset, 32, ""))
	fields.DecodeTable(rec, data, offset, []fields.Spec{
		{Name: "Pixel Clock kHz", Abbrev: "trigger6.mode.clock", Size: 4},
		{Name: "Refresh Rate", Abbrev: "trigger6.mode.hz", Size: 2},
		{Name: "Line Total Pixels", Abbrev: "trigger6.mode.line_total", Size: 2},
		{Name: "Line Active Pixels", Abbrev: "trigger6.mode.width", Size: 2},
		{Name: "Line Active + Front Porch", Abbrev: "trigger6.mode.line_porch", Size: 2},
		{Name: "Line Sync Width", Abbrev: "trigger6.mode.line_sync", Size: 2},
		{Name: "Frame Total Lines", Abbrev: "trigger6.mode.frame_total", Size: 2},
		{Name: "Frame Active Lines", Abbrev: "trigger6.mode.height", Size: 2},
		{Name: "Frame Active + Front Porch", Abbrev: "trigger6.mode.frame_porch", Size: 2},
		{Name: "Frame Sync Width", Abbrev: "trigger6.mode.frame_sync", Size: 2},
		{Name: "Unknown 8", Abbrev: "trigger6.mode.unk8", Size: 2},
		{Name: "Unknown 9", Abbrev: "trigger6.mode.unk9", Size: 2},
		{Name: "Unknown 10", Abbrev: "trigger6.mode.unk10", Size: 2},
		{Name: "Sync Polarity 0", Abbrev: "trigger6.mode.pol0", Size: 1},
		{Name: "Sync Polarity 1", Abbrev: "trigger6.mode.pol1", Size: 1},
		{Name: "Unknown 11", Abbrev: "trigger6.mode.unk11", Size: 2},
	})
}

func t6InfoFieldName(index uint16) string {
	switch index {
	case 0:
		return "hardware platform"
	case 1:
		return "boot code version"
	case 2:
		return "image code version"
	case 3:
		return "project code"
	case 4:
		return "vendor command version"
	case 5:
		return "serial number"
	}
	return "unknown"
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func decodeUTF16LE(data []byte) string {
	if len(data) < 2 {
		return ""
	}
	units := make([]uint16, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		u := uint16(data[i]) | uint16(data[i+1])<<8
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}
