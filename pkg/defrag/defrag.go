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

// Package defrag reassembles byte ranges into contiguous logical payloads.
// It is deliberately content-agnostic: callers decide what a fragment is,
// which payload it belongs to and when the stream ends; this package only
// tracks offsets, lengths and bytes.
package defrag

import (
	"bytes"
	"container/list"

	"github.com/displaycap/go-trigger/pkg/log"
)

/*
 The part bookkeeping follows the same scheme as
 https://github.com/google/gopacket/blob/master/ip4defrag/defrag.go:
 an ordered list of received ranges plus running highest/total counters.
*/

type part struct {
	offset uint32
	data   []byte
	packet uint64
}

func (p *part) end() uint32 {
	return p.offset + uint32(len(p.data))
}

// Payload is the outcome of finalizing an assembly. When Complete is false
// Data holds only the bytes that were actually received, concatenated in
// offset order, and GapOffset is the payload offset at which contiguous
// coverage from zero stopped. Missing bytes are never fabricated.
type Payload struct {
	Data         []byte
	Total        uint32
	Complete     bool
	GapOffset    uint32
	Conflict     bool
	Contributors []uint64
}

// assembly accumulates the parts of one logical payload.
type assembly struct {
	total    uint32 // 0 while unknown; fixed by Begin or at finalize
	parts    *list.List
	highest  uint32
	received uint32
	conflict bool
	packets  []uint64
}

func newAssembly(total uint32) *assembly {
	return &assembly{
		total: total,
		parts: list.New(),
	}
}

// insert puts p into the ordered part list, detecting duplicates and
// conflicting overlaps against what is already there. Exact duplicates are
// dropped; overlaps with different bytes are flagged and the newer part
// kept so that the last writer wins when the buffer is built.
func (a *assembly) insert(p *part) {
	for e := a.parts.Front(); e != nil; e = e.Next() {
		existing := e.Value.(*part)
		if p.offset == existing.offset && uint32(len(p.data)) == uint32(len(existing.data)) {
			if bytes.Equal(p.data, existing.data) {
				log.Debug("Fragment duplication at offset %d, ignoring", p.offset)
				return
			}
			a.conflict = true
			e.Value = p
			a.packets = append(a.packets, p.packet)
			return
		}
		if p.offset < existing.end() && existing.offset < p.end() {
			// Partial overlap. Compare the shared region before letting
			// the new part shadow it.
			lo := p.offset
			if existing.offset > lo {
				lo = existing.offset
			}
			hi := p.end()
			if existing.end() < hi {
				hi = existing.end()
			}
			if !bytes.Equal(p.data[lo-p.offset:hi-p.offset], existing.data[lo-existing.offset:hi-existing.offset]) {
				a.conflict = true
			}
		}
		if p.offset < existing.offset {
			a.parts.InsertBefore(p, e)
			a.afterInsert(p)
			return
		}
	}
	a.parts.PushBack(p)
	a.afterInsert(p)
}

func (a *assembly) afterInsert(p *part) {
	if a.highest < p.end() {
		a.highest = p.end()
	}
	a.received += uint32(len(p.data))
	a.packets = append(a.packets, p.packet)
}

// coverage walks the ordered parts and returns the end of the contiguous
// region starting at offset zero and whether any gap exists before highest.
func (a *assembly) coverage() (prefixEnd uint32, gapped bool) {
	var covered uint32
	for e := a.parts.Front(); e != nil; e = e.Next() {
		p := e.Value.(*part)
		if p.offset > covered {
			return covered, true
		}
		if p.end() > covered {
			covered = p.end()
		}
	}
	return covered, false
}

// finalize builds the payload buffer. Parts are replayed in arrival order
// so that conflicting overlaps resolve to the last writer.
func (a *assembly) finalize() *Payload {
	total := a.total
	if total == 0 {
		total = a.highest
	}

	prefixEnd, gapped := a.coverage()
	complete := !gapped && prefixEnd == total && total > 0

	buf := make([]byte, a.highest)
	arrival := make([]*part, 0, a.parts.Len())
	for e := a.parts.Front(); e != nil; e = e.Next() {
		arrival = append(arrival, e.Value.(*part))
	}
	// The list is offset-ordered; rebuild arrival order from packet ids.
	for i := 0; i < len(arrival); i++ {
		for j := i + 1; j < len(arrival); j++ {
			if arrival[j].packet < arrival[i].packet {
				arrival[i], arrival[j] = arrival[j], arrival[i]
			}
		}
	}
	for _, p := range arrival {
		copy(buf[p.offset:p.end()], p.data)
	}

	payload := &Payload{
		Total:        total,
		Complete:     complete,
		Conflict:     a.conflict,
		Contributors: a.packets,
	}
	if complete {
		payload.Data = buf[:total]
		return payload
	}

	payload.GapOffset = prefixEnd
	// Only what was received: concatenate the covered ranges in offset
	// order, skipping the holes.
	var covered uint32
	for e := a.parts.Front(); e != nil; e = e.Next() {
		p := e.Value.(*part)
		if p.end() <= covered {
			continue
		}
		start := p.offset
		if start < covered {
			start = covered
		}
		payload.Data = append(payload.Data, buf[start:p.end()]...)
		covered = p.end()
	}
	return payload
}

// Table holds the in-flight assemblies of a capture, keyed however the
// caller likes (conversation+session, device+cursor index, ...).
type Table struct {
	assemblies map[string]*assembly
}

func NewTable() *Table {
	return &Table{
		assemblies: make(map[string]*assembly),
	}
}

// Begin starts a fresh assembly for key with the declared total length
// (zero when the total is not known up front). Any previous assembly under
// the same key is discarded.
func (t *Table) Begin(key string, total uint32) {
	t.assemblies[key] = newAssembly(total)
}

// Pending reports whether key has an assembly with received parts that has
// not been finalized yet.
func (t *Table) Pending(key string) bool {
	a, ok := t.assemblies[key]
	return ok && a.parts.Len() > 0
}

// Add records one fragment. While more fragments are expected it returns
// nil; on the final fragment it finalizes the assembly, clears the key and
// returns the payload, complete or not. Fragments for an unknown key
// open an assembly of unknown total length implicitly, which is how a
// capture that starts mid-stream still yields its tail bytes.
func (t *Table) Add(key string, packet uint64, offset uint32, data []byte, more bool) *Payload {
	a, ok := t.assemblies[key]
	if !ok {
		a = newAssembly(0)
		t.assemblies[key] = a
	}
	if len(data) > 0 {
		a.insert(&part{offset: offset, data: data, packet: packet})
	}
	if more {
		return nil
	}
	delete(t.assemblies, key)
	return a.finalize()
}
