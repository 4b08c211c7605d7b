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

package capture

import (
	"testing"

	golayers "github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/displaycap/go-trigger/pkg/usb"
)

func newSource() *Source {
	return &Source{pending: make(map[uint64]*usb.Setup)}
}

func bulkSubmit(urbID uint64, data []byte) *golayers.USB {
	return &golayers.USB{
		BaseLayer:      golayers.BaseLayer{Payload: data},
		ID:             urbID,
		EventType:      golayers.USBEventTypeSubmit,
		TransferType:   golayers.USBTransportTypeBulk,
		EndpointNumber: 1,
		DeviceAddress:  5,
		BusID:          1,
		UrbLength:      uint32(len(data)),
	}
}

func TestConvertBulkOut(t *testing.T) {
	s := newSource()

	p := s.convert(bulkSubmit(0xffff8800, []byte{1, 2, 3}), nil)
	require.NotNil(t, p)
	assert.Equal(t, uint64(1), p.ID)
	assert.Equal(t, usb.TransferBulk, p.Type)
	assert.False(t, p.In)
	assert.Equal(t, []byte{1, 2, 3}, p.Data)
	assert.Equal(t, uint32(3), p.ReportedLength)

	key := p.Conversation()
	assert.Equal(t, uint16(1), key.Bus)
	assert.Equal(t, uint8(5), key.Device)
}

func TestConvertSkipsBulkAcks(t *testing.T) {
	s := newSource()

	// Completion of an OUT transfer carries no data stage.
	urb := bulkSubmit(1, nil)
	urb.EventType = golayers.USBEventTypeComplete
	urb.UrbLength = 512
	assert.Nil(t, s.convert(urb, nil))

	// Submission of an IN transfer is just a buffer posting.
	urb = bulkSubmit(2, nil)
	urb.TransferType = golayers.USBTransportTypeBulk | golayers.USBTransportTypeTransferIn
	assert.Nil(t, s.convert(urb, nil))
}

func TestConvertSkipsErrorEvents(t *testing.T) {
	s := newSource()

	urb := bulkSubmit(1, []byte{1})
	urb.EventType = golayers.USBEventTypeError
	assert.Nil(t, s.convert(urb, nil))
}

func TestConvertTruncatedCapture(t *testing.T) {
	s := newSource()

	// The wire carried 512 bytes, usbmon stored 64.
	urb := bulkSubmit(1, make([]byte, 64))
	urb.UrbLength = 512
	p := s.convert(urb, nil)

	require.NotNil(t, p)
	assert.Equal(t, uint32(512), p.ReportedLength)
	assert.True(t, p.Truncated())
}

func TestConvertPairsControlPhases(t *testing.T) {
	s := newSource()

	setup := &golayers.USBRequestBlockSetup{
		RequestType: 0xc0,
		Request:     0xa1,
		Value:       0,
		Index:       0,
		Length:      16,
	}
	submit := &golayers.USB{
		ID:            0xdead,
		EventType:     golayers.USBEventTypeSubmit,
		TransferType:  golayers.USBTransportTypeControl | golayers.USBTransportTypeTransferIn,
		DeviceAddress: 5,
		BusID:         1,
		UrbLength:     16,
	}
	p := s.convert(submit, setup)
	require.NotNil(t, p)
	require.NotNil(t, p.Setup)
	assert.Equal(t, uint8(0xa1), p.Setup.Request)
	assert.Equal(t, usb.PhaseSetup, p.Phase)

	response := make([]byte, 16)
	complete := &golayers.USB{
		BaseLayer:     golayers.BaseLayer{Payload: response},
		ID:            0xdead,
		EventType:     golayers.USBEventTypeComplete,
		TransferType:  golayers.USBTransportTypeControl | golayers.USBTransportTypeTransferIn,
		DeviceAddress: 5,
		BusID:         1,
		UrbLength:     16,
	}
	c := s.convert(complete, nil)
	require.NotNil(t, c)
	assert.Equal(t, usb.PhaseCompletion, c.Phase)
	// Setup fields replayed from the submission.
	require.NotNil(t, c.Setup)
	assert.Equal(t, uint8(0xa1), c.Setup.Request)
	assert.True(t, c.Setup.In())
	assert.Equal(t, uint64(2), c.ID)

	// The URB id is gone from the pending table once paired.
	assert.Empty(t, s.pending)
}

func TestConvertOrphanCompletionDropped(t *testing.T) {
	s := newSource()

	complete := &golayers.USB{
		ID:           0xbeef,
		EventType:    golayers.USBEventTypeComplete,
		TransferType: golayers.USBTransportTypeControl | golayers.USBTransportTypeTransferIn,
	}
	assert.Nil(t, s.convert(complete, nil))
}
