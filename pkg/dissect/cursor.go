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

	"github.com/displaycap/go-trigger/pkg/layers"
	"github.com/displaycap/go-trigger/pkg/usb"
)

// t6ReqCursorUpload is the vendor OUT request that carries cursor bitmap
// chunks: wValue selects the cursor slot, wIndex is the byte offset of
// the chunk.
const t6ReqCursorUpload = 0x10

// cursorChunkSize is the chunk size the host driver uses for cursor
// uploads. The device never announces a total length, so a full chunk is
// read as "more follows" and the first short chunk ends the upload. A
// bitmap whose size is an exact multiple of the chunk size therefore
// stays pending until the next upload restarts the slot; captures of real
// driver traffic always end on a short chunk.
const cursorChunkSize = 512

// classifyCursorUpload reassembles cursor bitmaps out of the control
// plane. Unlike the bulk streams there is no selector: the setup fields
// carry the slot and offset, and chunk size stands in for a length.
func (c *Context) classifyCursorUpload(conv *Conversation, p *usb.Packet) (*Result, error) {
	if p.Phase != usb.PhaseSetup {
		// The completion of an OUT transfer carries no data.
		frame := &FrameInfo{Kind: KindControl}
		tree := c.renderTrigger6Control(p, frame)
		return conv.recorded(p, frame, tree, nil)
	}

	index := p.Setup.Value
	offset := uint32(p.Setup.Index)
	key := fmt.Sprintf("cursor %d.%d slot %d", p.Bus, p.Device, index)

	sel, ok := c.cursors[key]
	if !ok || offset == 0 {
		if offset == 0 {
			c.table.Begin(key, 0)
		}
		sel = &SelectorInfo{
			Origin:         p.ID,
			Key:            key,
			FragmentOffset: offset,
		}
		c.cursors[key] = sel
	}

	frame := &FrameInfo{
		Kind:         KindControl,
		Selector:     sel,
		Offset:       offset,
		Contribution: uint32(len(p.Data)),
	}
	if !ok && offset != 0 {
		frame.warn("Capture starts mid-upload, leading bytes missing")
	}
	if p.Truncated() {
		frame.warn(fmt.Sprintf("Capture truncated: %d of %d bytes stored", len(p.Data), p.ReportedLength))
	}

	more := len(p.Data) == cursorChunkSize && !p.Truncated()
	payload := c.table.Add(key, p.ID, offset, p.Data, more)
	if payload != nil {
		delete(c.cursors, key)
		if payload.Complete {
			if hdr, err := layers.DecodeCursorHeader(payload.Data); err == nil {
				frame.warn(fmt.Sprintf("Cursor bitmap %dx%d, stride %d, pixel format %d",
					hdr.Width, hdr.Height, hdr.Stride, hdr.PixelFormat))
			} else {
				frame.warn(err.Error())
			}
		}
	}

	tree := c.renderTrigger6Control(p, frame)
	return conv.recorded(p, frame, tree, payload)
}
