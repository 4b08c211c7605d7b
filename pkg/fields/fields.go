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

// Package fields builds the named, typed field trees that dissectors hand
// to whatever renders or inspects a decoded packet.
package fields

import (
	"encoding/binary"
	"fmt"

	"sigs.k8s.io/yaml"
)

// Field is one decoded value. Offset and Length locate the bytes it was
// decoded from inside the packet buffer; Generated marks values that were
// not read from this packet's bytes but recovered from paired state (for
// example setup fields replayed on a completion).
type Field struct {
	Name      string      `json:"name"`
	Abbrev    string      `json:"abbrev,omitempty"`
	Offset    int         `json:"offset"`
	Length    int         `json:"length"`
	Value     interface{} `json:"value,omitempty"`
	Display   string      `json:"display,omitempty"`
	Generated bool        `json:"generated,omitempty"`
	Children  []*Field    `json:"children,omitempty"`
}

func (f *Field) Add(child *Field) *Field {
	f.Children = append(f.Children, child)
	return child
}

func (f *Field) AppendDisplay(format string, v ...interface{}) {
	f.Display += fmt.Sprintf(format, v...)
}

// Tree is the decode result for one packet: a protocol name, a flat list of
// top-level fields and free-form status annotations ("Reassembled",
// "Header checksum invalid", ...).
type Tree struct {
	Protocol    string   `json:"protocol"`
	Fields      []*Field `json:"fields,omitempty"`
	Annotations []string `json:"annotations,omitempty"`
}

func NewTree(protocol string) *Tree {
	return &Tree{Protocol: protocol}
}

func (t *Tree) Add(f *Field) *Field {
	t.Fields = append(t.Fields, f)
	return f
}

func (t *Tree) Annotate(format string, v ...interface{}) {
	t.Annotations = append(t.Annotations, fmt.Sprintf(format, v...))
}

// Find returns the first field with the given abbrev, searching depth-first.
func (t *Tree) Find(abbrev string) *Field {
	return findIn(t.Fields, abbrev)
}

func findIn(fs []*Field, abbrev string) *Field {
	for _, f := range fs {
		if f.Abbrev == abbrev {
			return f
		}
		if sub := findIn(f.Children, abbrev); sub != nil {
			return sub
		}
	}
	return nil
}

func (t *Tree) String() string {
	result, err := yaml.Marshal(t)
	if err != nil {
		return err.Error()
	}
	return string(result)
}

func Uint(name, abbrev string, offset, length int, value uint64) *Field {
	return &Field{Name: name, Abbrev: abbrev, Offset: offset, Length: length, Value: value}
}

func Bytes(name, abbrev string, offset int, value []byte) *Field {
	return &Field{Name: name, Abbrev: abbrev, Offset: offset, Length: len(value),
		Value: fmt.Sprintf("%x", value)}
}

func Str(name, abbrev string, offset, length int, value string) *Field {
	return &Field{Name: name, Abbrev: abbrev, Offset: offset, Length: length, Value: value}
}

func Bool(name, abbrev string, offset, length int, value bool) *Field {
	return &Field{Name: name, Abbrev: abbrev, Offset: offset, Length: length, Value: value}
}

// Generated returns a field for a value recovered from state rather than
// read out of this packet's bytes.
func Generated(name, abbrev string, value interface{}) *Field {
	return &Field{Name: name, Abbrev: abbrev, Value: value, Generated: true}
}

// Spec describes one fixed-width unsigned field for table-driven decoding:
// consecutive Specs decode consecutive byte ranges.
type Spec struct {
	Name   string
	Abbrev string
	Size   int
	BE     bool
}

// DecodeTable decodes the spec list from buf starting at base and appends
// one field per spec to parent. It stops early when the buffer runs out and
// returns the offset just past the last decoded field.
func DecodeTable(parent *Field, buf []byte, base int, specs []Spec) int {
	offset := base
	for _, s := range specs {
		if offset+s.Size > len(buf) {
			break
		}
		var v uint64
		switch s.Size {
		case 1:
			v = uint64(buf[offset])
		case 2:
			if s.BE {
				v = uint64(binary.BigEndian.Uint16(buf[offset : offset+2]))
			} else {
				v = uint64(binary.LittleEndian.Uint16(buf[offset : offset+2]))
			}
		case 4:
			if s.BE {
				v = uint64(binary.BigEndian.Uint32(buf[offset : offset+4]))
			} else {
				v = uint64(binary.LittleEndian.Uint32(buf[offset : offset+4]))
			}
		}
		parent.Add(Uint(s.Name, s.Abbrev, offset, s.Size, v))
		offset += s.Size
	}
	return offset
}
