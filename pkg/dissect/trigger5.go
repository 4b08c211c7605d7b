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
	"fmt"

	"github.com/google/gopacket"

	"github.com/displaycap/go-trigger/pkg/config"
	"github.com/displaycap/go-trigger/pkg/fields"
	"github.com/displaycap/go-trigger/pkg/layers"
	"github.com/displaycap/go-trigger/pkg/usb"
)

// classifyTrigger5Bulk runs the Trigger 5 bulk stream state machine. The
// rule is pure remaining-length accounting: a packet is a frame header
// exactly when the previous frame left nothing owed, otherwise it is raw
// payload of the open frame regardless of what its bytes look like.
func (c *Context) classifyTrigger5Bulk(p *usb.Packet) (*Result, error) {
	conv := c.conversation(p.Conversation(), config.ProtocolTrigger5)
	prev := conv.lastFrame
	if prev == nil || prev.FragRemaining == 0 {
		return c.trigger5Header(conv, p)
	}
	return c.trigger5Fragment(conv, p)
}

func (c *Context) trigger5Header(conv *Conversation, p *usb.Packet) (*Result, error) {
	hdr := &layers.Trigger5Header{}
	if err := hdr.DecodeFromBytes(p.Data, gopacket.NilDecodeFeedback); err != nil {
		// Not a frame header. Stay in header-hunting state so the stream
		// resyncs on the next packet; the bytes are shown raw.
		frame := &FrameInfo{Kind: KindSelector}
		frame.warn(fmt.Sprintf("Expected frame header: %s", err.Error()))
		tree := renderTrigger5Frame(p, frame)
		return conv.classified(p, frame, tree, nil)
	}

	total := hdr.TotalLength()
	wire := wireLength(p)
	captured := uint32(len(p.Data))

	// The reassembled buffer includes the 20 header bytes, so the header
	// packet contributes from offset zero.
	wireContribution := minu32(total, wire)
	capContribution := minu32(wireContribution, captured)

	info := &SelectorInfo{
		Origin:         p.ID,
		Key:            fmt.Sprintf("t5 %s #%d", conv.Key, p.ID),
		PayloadLength:  total,
		FragmentLength: total,
		T5:             hdr,
	}
	frame := &FrameInfo{
		Kind:             KindSelector,
		Selector:         info,
		Offset:           0,
		Contribution:     capContribution,
		FragRemaining:    total - wireContribution,
		PayloadRemaining: total - wireContribution,
	}
	if !hdr.ChecksumValid {
		frame.warn(fmt.Sprintf("Header checksum invalid (0x%02x)", hdr.Checksum))
	}
	if p.Truncated() {
		frame.warn(fmt.Sprintf("Capture truncated: %d of %d bytes stored", captured, wire))
	}
	if wire > total {
		frame.warn(fmt.Sprintf("%d bytes past the declared frame left unclassified", wire-total))
	}

	c.table.Begin(info.Key, total)
	more := frame.PayloadRemaining > 0
	payload := c.table.Add(info.Key, p.ID, 0, p.Data[:capContribution], more)

	tree := renderTrigger5Frame(p, frame)
	return conv.classified(p, frame, tree, payload)
}

func (c *Context) trigger5Fragment(conv *Conversation, p *usb.Packet) (*Result, error) {
	prev := conv.lastFrame
	sel := prev.Selector
	wire := wireLength(p)
	captured := uint32(len(p.Data))

	wireContribution := minu32(prev.FragRemaining, wire)
	capContribution := minu32(wireContribution, captured)
	offset := sel.PayloadLength - prev.FragRemaining

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
		frame.warn(fmt.Sprintf("%d bytes past the declared frame left unclassified", wire-wireContribution))
	}

	more := frame.PayloadRemaining > 0
	payload := c.table.Add(sel.Key, p.ID, offset, p.Data[:capContribution], more)

	tree := renderTrigger5Frame(p, frame)
	return conv.classified(p, frame, tree, payload)
}

func renderTrigger5Frame(p *usb.Packet, frame *FrameInfo) *fields.Tree {
	tree := fields.NewTree("Trigger 5")

	switch frame.Kind {
	case KindSelector:
		if frame.Selector == nil || frame.Selector.T5 == nil {
			payloadField(tree, 0, p.Data)
			return tree
		}
		hdr := frame.Selector.T5
		h := tree.Add(fields.Str("Frame Header", "trigger5.hdr", 0, layers.Trigger5HeaderLen, ""))
		h.Add(fields.Bytes("Sync Bytes", "trigger5.hdr.sync", 0, p.Data[0:2]))
		h.Add(fields.Uint("Frame Counter", "trigger5.hdr.counter", 2, 2, uint64(hdr.FrameCounter)))
		h.Add(fields.Bool("Compressed", "trigger5.hdr.compressed", 2, 2, hdr.Compressed))
		pf := h.Add(fields.Uint("Pixel Format", "trigger5.hdr.pixfmt", 2, 2, uint64(hdr.PixelFormat)))
		pf.AppendDisplay("%s", hdr.PixelFormat)
		h.Add(fields.Uint("X Offset", "trigger5.hdr.x", 4, 2, uint64(hdr.XOffset)))
		h.Add(fields.Uint("Y Offset", "trigger5.hdr.y", 6, 2, uint64(hdr.YOffset)))
		h.Add(fields.Uint("Width", "trigger5.hdr.width", 8, 2, uint64(hdr.Width)))
		h.Add(fields.Uint("Height", "trigger5.hdr.height", 10, 2, uint64(hdr.Height)))
		pl := h.Add(fields.Uint("Payload Length", "trigger5.hdr.len", 12, 4, uint64(hdr.PayloadLength)))
		pl.AppendDisplay("%d bytes total with header", hdr.TotalLength())
		h.Add(fields.Uint("Payload Flags", "trigger5.hdr.payload_flags", 12, 4, uint64(hdr.PayloadFlags)))
		h.Add(fields.Uint("Unknown", "trigger5.hdr.unknown", 16, 1, uint64(hdr.Unknown)))
		h.Add(fields.Uint("Flags", "trigger5.hdr.flags", 17, 1, uint64(hdr.Flags)))
		ck := h.Add(fields.Uint("Checksum", "trigger5.hdr.checksum", 19, 1, uint64(hdr.Checksum)))
		if hdr.ChecksumValid {
			ck.AppendDisplay("valid")
		} else {
			ck.AppendDisplay("invalid")
		}
		if hdr.CursorImage() {
			tree.Annotate("Cursor image frame")
		}
		payloadField(tree, layers.Trigger5HeaderLen, p.Data[layers.Trigger5HeaderLen:])

	case KindFragment:
		sel := frame.Selector
		tree.Add(fields.Generated("Frame Origin Packet", "trigger5.frag.origin", sel.Origin))
		tree.Add(fields.Generated("Payload Offset", "trigger5.frag.offset", frame.Offset))
		if sel.T5 != nil {
			tree.Annotate("Continuation of frame %d (counter %d)", sel.Origin, sel.T5.FrameCounter)
		}
		payloadField(tree, 0, p.Data)
	}
	return tree
}

// classifyTrigger5Control decodes the vendor requests of the control
// plane. Rendering is a pure function of the packet, so lookups simply
// re-run it.
func (c *Context) classifyTrigger5Control(p *usb.Packet) (*Result, error) {
	conv := c.conversation(p.Conversation(), config.ProtocolTrigger5)
	frame := &FrameInfo{Kind: KindControl}
	tree := c.renderTrigger5Control(p, frame)
	return conv.recorded(p, frame, tree, nil)
}

func (c *Context) renderTrigger5Control(p *usb.Packet, frame *FrameInfo) *fields.Tree {
	tree := fields.NewTree("Trigger 5")
	s := p.Setup
	data := controlData(p)

	req := tree.Add(fields.Uint("Vendor Request", "trigger5.req", 0, 0, uint64(s.Request)))

	switch s.Request {
	case 0x91:
		req.AppendDisplay("Keepalive")

	case 0xa1:
		req.AppendDisplay("Firmware Info")
		if len(data) >= 14 {
			v := tree.Add(fields.Str("Version", "trigger5.fw.version", 0, 3,
				fmt.Sprintf("%d.%d.%d", data[0], data[1], data[2])))
			v.Add(fields.Uint("Major", "trigger5.fw.major", 0, 1, uint64(data[0])))
			v.Add(fields.Uint("Minor", "trigger5.fw.minor", 1, 1, uint64(data[1])))
			v.Add(fields.Uint("Patch", "trigger5.fw.patch", 2, 1, uint64(data[2])))
			tree.Add(fields.Bytes("Unknown", "trigger5.fw.unknown", 3, data[3:11]))
			tree.Add(fields.Str("Build Date", "trigger5.fw.date", 11, 3,
				fmt.Sprintf("%04d.%02d.%02d", 2000+int(data[11]), data[12], data[13])))
		} else if len(data) > 0 {
			tree.Add(fields.Bytes("Firmware Info", "trigger5.fw", 0, data))
		}

	case 0xa4:
		req.AppendDisplay("Supported Video Modes")
		renderTrigger5ModeList(tree, data)

	case 0xa6:
		req.AppendDisplay("Hot-Plug Status")
		if len(data) >= 1 {
			f := tree.Add(fields.Uint("Status", "trigger5.hpd", 0, 1, uint64(data[0])))
			if data[0] != 0 {
				f.AppendDisplay("display connected")
			} else {
				f.AppendDisplay("no display")
			}
		}

	case 0xa7:
		req.AppendDisplay("Adapter Flags")
		if len(data) > 0 {
			tree.Add(fields.Bytes("Flags", "trigger5.adapter_flags", 0, data))
		}

	case 0xa8:
		req.AppendDisplay("EDID Block")
		tree.Add(fields.Uint("Block Offset", "trigger5.edid.offset", 0, 0, uint64(s.Value)))
		if len(data) > 0 {
			tree.Add(fields.Bytes("EDID Data", "trigger5.edid.data", 0, data))
		}

	case 0xc8:
		req.AppendDisplay("Set Cursor Position")
		tree.Add(fields.Uint("X", "trigger5.cursor.x", 0, 0, uint64(s.Value)))
		tree.Add(fields.Uint("Y", "trigger5.cursor.y", 0, 0, uint64(s.Index)))

	case 0xd1:
		req.AppendDisplay("Reset")

	case 0xc3:
		req.AppendDisplay("Set Video Mode")
		tree.Add(fields.Uint("Mode Number", "trigger5.mode", 0, 0, uint64(s.Value)))
		renderTrigger5ModeTimings(tree, data)
		// TODO: confirm against hardware that 0xc3 really interprets
		// wIndex as a register address the way 0xa5/0xc4 do.
		fallthrough

	case 0xa5, 0xc4:
		switch s.Request {
		case 0xa5:
			req.AppendDisplay("Register Read")
		case 0xc4:
			req.AppendDisplay("Register Write")
		}
		tree.Add(fields.Uint("Register Address", "trigger5.reg.addr", 0, 0, uint64(s.Index)))
		if s.Request != 0xc3 && len(data) > 0 {
			tree.Add(fields.Bytes("Register Data", "trigger5.reg.data", 0, data))
		}

	default:
		req.AppendDisplay("Unknown (0x%02x)", s.Request)
		if len(data) > 0 {
			payloadField(tree, 0, data)
		}
	}
	return tree
}

// renderTrigger5ModeTimings decodes the 35-byte big-endian timing block of
// a Set Video Mode request: twelve u16 timing fields, an unknown byte, the
// 4-byte PLL block and two sync polarity bytes.
func renderTrigger5ModeTimings(tree *fields.Tree, data []byte) {
	if len(data) < 35 {
		return
	}
	timings := tree.Add(fields.Str("Mode Timings", "trigger5.timings", 0, 35, ""))
	fields.DecodeTable(timings, data, 0, []fields.Spec{
		{Name: "Vertical Resolution", Abbrev: "trigger5.timings.vres", Size: 2, BE: true},
		{Name: "Horizontal Resolution", Abbrev: "trigger5.timings.hres", Size: 2, BE: true},
		{Name: "Line Total Pixels -1", Abbrev: "trigger5.timings.line_total", Size: 2, BE: true},
		{Name: "Line Sync Pulse -1", Abbrev: "trigger5.timings.line_sync", Size: 2, BE: true},
		{Name: "Line Back Porch -1", Abbrev: "trigger5.timings.line_porch", Size: 2, BE: true},
		{Name: "Unknown 0", Abbrev: "trigger5.timings.unk0", Size: 2, BE: true},
		{Name: "Unknown 1", Abbrev: "trigger5.timings.unk1", Size: 2, BE: true},
		{Name: "Horizontal Resolution -1", Abbrev: "trigger5.timings.hres1", Size: 2, BE: true},
		{Name: "Frame Total Lines -1", Abbrev: "trigger5.timings.frame_total", Size: 2, BE: true},
		{Name: "Frame Sync Pulse -1", Abbrev: "trigger5.timings.frame_sync", Size: 2, BE: true},
		{Name: "Frame Back Porch -1", Abbrev: "trigger5.timings.frame_porch", Size: 2, BE: true},
		{Name: "Unknown 2", Abbrev: "trigger5.timings.unk2", Size: 2, BE: true},
		{Name: "Unknown 3", Abbrev: "trigger5.timings.unk3", Size: 2, BE: true},
		{Name: "Vertical Resolution -1", Abbrev: "trigger5.timings.vres1", Size: 2, BE: true},
		{Name: "Unknown 4", Abbrev: "trigger5.timings.unk4", Size: 1},
	})
	pll := timings.Add(fields.Bytes("PLL Configuration", "trigger5.timings.pll", 29, data[29:33]))
	pll.Add(fields.Uint("Multiplier 0", "trigger5.timings.pll.mul0", 29, 1, uint64(data[29])))
	pll.Add(fields.Uint("Multiplier 1", "trigger5.timings.pll.mul1", 30, 1, uint64(data[30])))
	pll.Add(fields.Uint("Divider 0", "trigger5.timings.pll.div0", 31, 1, uint64(data[31])))
	pll.Add(fields.Uint("Divider 1", "trigger5.timings.pll.div1", 32, 1, uint64(data[32])))
	if data[31] != 0 && data[32] != 0 {
		khz := 10000 * uint32(data[29]) * uint32(data[30]) / uint32(data[31]) / uint32(data[32])
		pll.AppendDisplay("%d kHz pixel clock", khz)
		tree.Annotate("Pixel clock %d kHz", khz)
	}
	timings.Add(fields.Bool("Horizontal Sync Polarity", "trigger5.timings.hsync_pol", 33, 1, data[33] != 0))
	timings.Add(fields.Bool("Vertical Sync Polarity", "trigger5.timings.vsync_pol", 34, 1, data[34] != 0))
}

// renderTrigger5ModeList decodes the mode list response: a big-endian
// count at offset 0, 8-byte records starting at offset 4.
func renderTrigger5ModeList(tree *fields.Tree, data []byte) {
	if len(data) < 4 {
		return
	}
	count := int(data[0])<<8 | int(data[1])
	tree.Add(fields.Uint("Mode Count", "trigger5.modes.count", 0, 2, uint64(count)))
	offset := 4
	for i := 0; i < count && offset+8 <= len(data); i++ {
		rec := tree.Add(fields.Str("Mode", "trigger5.modes.mode", offset, 8, ""))
		fields.DecodeTable(rec, data, offset, []fields.Spec{
			{Name: "Refresh Rate", Abbrev: "trigger5.modes.hz", Size: 1},
			{Name: "Pixel Clock MHz", Abbrev: "trigger5.modes.clock", Size: 1},
			{Name: "Bits Per Pixel", Abbrev: "trigger5.modes.bpp", Size: 1},
			{Name: "Mode Number", Abbrev: "trigger5.modes.num", Size: 1},
			{Name: "Height", Abbrev: "trigger5.modes.height", Size: 2},
			{Name: "Width", Abbrev: "trigger5.modes.width", Size: 2},
		})
		offset += 8
	}
}
