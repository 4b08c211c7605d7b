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
	"github.com/displaycap/go-trigger/pkg/defrag"
	"github.com/displaycap/go-trigger/pkg/layers"
	"github.com/displaycap/go-trigger/pkg/usb"
)

type FrameKind uint8

const (
	// KindSelector marks a packet that opened a payload run: a Trigger 5
	// frame header or a Trigger 6 stream selector.
	KindSelector FrameKind = iota
	// KindFragment marks a packet that carried nothing but payload bytes
	// of the run its conversation was in the middle of.
	KindFragment
	// KindControl marks a classified vendor control transfer.
	KindControl
	// KindInterrupt marks an interrupt transfer, which both protocols
	// use but neither documents. Shown raw.
	KindInterrupt
)

func (k FrameKind) String() string {
	switch k {
	case KindSelector:
		return "selector"
	case KindFragment:
		return "fragment"
	case KindControl:
		return "control"
	case KindInterrupt:
		return "interrupt"
	}
	return "unknown"
}

// SelectorInfo is the classification-relevant summary of the packet that
// opened a payload run. Every fragment of the run points at the same
// SelectorInfo, so "which packet do these raw bytes belong to" is answered
// by a pointer chase, not a re-parse.
type SelectorInfo struct {
	// Origin is the packet that carried the selector.
	Origin uint64

	// Key is this run's reassembly key.
	Key string

	Session        layers.SessionNum
	PayloadLength  uint32
	FragmentLength uint32
	FragmentOffset uint32

	// Exactly one of these is set, depending on which protocol opened
	// the run.
	T5 *layers.Trigger5Header
	T6 *layers.Trigger6Selector
}

// Label names the kind of payload the run carries.
func (s *SelectorInfo) Label() string {
	switch {
	case s.T5 != nil:
		if s.T5.CursorImage() {
			return "cursor"
		}
		return "frame"
	case s.T6 != nil:
		return s.Session.String()
	}
	return "cursor"
}

// Outcome is the memoized summary of a reassembly that a packet finalized.
// The full payload bytes are handed out once, on the first pass; lookups
// re-render from this summary.
type Outcome struct {
	Complete  bool
	Length    uint32
	GapOffset uint32
	Conflict  bool
}

func summarize(p *defrag.Payload) *Outcome {
	return &Outcome{
		Complete:  p.Complete,
		Length:    uint32(len(p.Data)),
		GapOffset: p.GapOffset,
		Conflict:  p.Conflict,
	}
}

// FrameInfo is the write-once classification of one packet. The two
// Remaining counters are the state the classifier runs on: they record how
// many wire bytes were still owed after this packet, for the current
// fragment and for the whole payload.
type FrameInfo struct {
	Kind     FrameKind
	Selector *SelectorInfo

	// Offset is the payload offset of this packet's first contributed
	// byte. Contribution counts the bytes actually captured and added to
	// the reassembly buffer, which is less than the wire carried when the
	// capturing driver truncated the packet.
	Offset       uint32
	Contribution uint32

	FragRemaining    uint32
	PayloadRemaining uint32

	// Outcome is set on the packet that finalized a reassembly.
	Outcome *Outcome

	// Warnings accumulated while classifying. Replayed verbatim on lookup.
	Warnings []string
}

func (f *FrameInfo) warn(s string) {
	f.Warnings = append(f.Warnings, s)
}

// SessionState is the per-session half of the running state: the last
// frame seen for this session number on this conversation.
type SessionState struct {
	lastFrame *FrameInfo
}

// Conversation is all per-endpoint-direction state: the running
// classification counters and the write-once packet classifications.
type Conversation struct {
	Key      usb.ConversationKey
	Protocol string

	// lastFrame at conversation level decides what the next raw packet
	// is: mid-run, it belongs to lastFrame's session no matter what its
	// bytes look like.
	lastFrame *FrameInfo
	sessions  map[layers.SessionNum]*SessionState

	frames map[uint64]*FrameInfo
}

func newConversation(key usb.ConversationKey, protocol string) *Conversation {
	return &Conversation{
		Key:      key,
		Protocol: protocol,
		sessions: make(map[layers.SessionNum]*SessionState),
		frames:   make(map[uint64]*FrameInfo),
	}
}

func (c *Conversation) session(n layers.SessionNum) *SessionState {
	s, ok := c.sessions[n]
	if !ok {
		s = &SessionState{}
		c.sessions[n] = s
	}
	return s
}

// Frame returns the memoized classification of a packet.
func (c *Conversation) Frame(id uint64) (*FrameInfo, bool) {
	f, ok := c.frames[id]
	return f, ok
}

// remember stores a classification. Classifications are write-once: the
// counters a second pass would update have already been consumed by later
// packets, so overwriting is always a bug.
func (c *Conversation) remember(id uint64, f *FrameInfo) error {
	if _, ok := c.frames[id]; ok {
		return ErrAlreadyClassified{Packet: id}
	}
	c.frames[id] = f
	return nil
}

// advance commits f as the newest frame of the conversation and of its
// session, if it has one.
func (c *Conversation) advance(f *FrameInfo) {
	c.lastFrame = f
	if f.Selector != nil {
		c.session(f.Selector.Session).lastFrame = f
	}
}
