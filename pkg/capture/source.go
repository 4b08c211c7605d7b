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

// Package capture reads usbmon pcap files and turns URB events into the
// transfer stream the dissectors consume: packets numbered in capture
// order, control completions paired with the setup fields of their
// submission.
package capture

import (
	"github.com/google/gopacket"
	golayers "github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/displaycap/go-trigger/pkg/log"
	"github.com/displaycap/go-trigger/pkg/usb"
)

type Source struct {
	handle *pcap.Handle
	source *gopacket.PacketSource

	nextID uint64

	// pending maps in-flight URB ids to the setup fields seen on their
	// submission, so completions carry them too.
	pending map[uint64]*usb.Setup
}

// Open opens a usbmon pcap file for reading.
func Open(path string) (*Source, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, err
	}
	log.Debug("Opened capture %s, link type %s", path, handle.LinkType())
	return &Source{
		handle:  handle,
		source:  gopacket.NewPacketSource(handle, handle.LinkType()),
		pending: make(map[uint64]*usb.Setup),
	}, nil
}

func (s *Source) Close() {
	s.handle.Close()
}

// Next returns the next transfer event of the capture, or io.EOF when the
// file is exhausted. Error events and dataless bulk acknowledgements are
// skipped; they carry nothing to dissect.
func (s *Source) Next() (*usb.Packet, error) {
	for {
		pkt, err := s.source.NextPacket()
		if err != nil {
			return nil, err
		}

		layer := pkt.Layer(golayers.LayerTypeUSB)
		if layer == nil {
			continue
		}
		urb := layer.(*golayers.USB)

		var setup *golayers.USBRequestBlockSetup
		if l := pkt.Layer(golayers.LayerTypeUSBRequestBlockSetup); l != nil {
			setup = l.(*golayers.USBRequestBlockSetup)
		}

		if p := s.convert(urb, setup); p != nil {
			return p, nil
		}
	}
}

// convert maps one URB event onto a usb.Packet, or nil when the event
// carries nothing worth dissecting.
func (s *Source) convert(urb *golayers.USB, setup *golayers.USBRequestBlockSetup) *usb.Packet {
	var phase usb.Phase
	switch urb.EventType {
	case golayers.USBEventTypeSubmit:
		phase = usb.PhaseSetup
	case golayers.USBEventTypeComplete:
		phase = usb.PhaseCompletion
	default:
		return nil
	}

	in := urb.TransferType&golayers.USBTransportTypeTransferIn != 0
	transferType := usb.TransferType(urb.TransferType &^ golayers.USBTransportTypeTransferIn)

	data := urb.LayerPayload()
	if setup != nil {
		data = setup.LayerPayload()
	}

	p := &usb.Packet{
		Bus:      urb.BusID,
		Device:   urb.DeviceAddress,
		Endpoint: urb.EndpointNumber,
		In:       in,
		Type:     transferType,
		Phase:    phase,
		Data:     data,
	}

	// The data stage travels in the submission for OUT transfers and in
	// the completion for IN. Only there does the URB length describe wire
	// bytes we may be missing; the opposite events are acknowledgements.
	carriesData := in == (phase == usb.PhaseCompletion)
	if carriesData {
		p.ReportedLength = urb.UrbLength
	} else {
		p.ReportedLength = uint32(len(data))
	}

	switch transferType {
	case usb.TransferControl:
		if phase == usb.PhaseSetup {
			if setup != nil {
				p.Setup = &usb.Setup{
					RequestType: setup.RequestType,
					Request:     setup.Request,
					Value:       setup.Value,
					Index:       setup.Index,
					Length:      setup.Length,
				}
				s.pending[urb.ID] = p.Setup
			}
		} else {
			p.Setup = s.pending[urb.ID]
			delete(s.pending, urb.ID)
		}
		if p.Setup == nil {
			// A completion whose submission fell outside the capture
			// cannot be interpreted.
			return nil
		}

	case usb.TransferBulk, usb.TransferInterrupt:
		if !carriesData {
			return nil
		}

	default:
		return nil
	}

	s.nextID++
	p.ID = s.nextID
	return p
}
