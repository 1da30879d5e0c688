package rtc

import (
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/atomic"
)

// DataChannel wraps a pion data channel and raises a closing event, which pion lacks.
// Closing fires once, either when a local close starts or right before close when the
// remote side shut the channel down first.
type DataChannel struct {
	dc *webrtc.DataChannel

	lock      sync.Mutex
	onClosing func()
	onClose   func()

	// held while delivering, so buffered messages keep their order
	messageLock sync.Mutex
	onMessage   func(msg webrtc.DataChannelMessage)
	pending     []webrtc.DataChannelMessage

	closing atomic.Bool
}

func newDataChannel(dc *webrtc.DataChannel) *DataChannel {
	d := &DataChannel{dc: dc}
	dc.OnClose(d.handleClose)
	// pion starts reading inside CreateDataChannel when the association is already up
	dc.OnMessage(d.handleMessage)
	return d
}

func (d *DataChannel) ID() *uint16 {
	return d.dc.ID()
}

func (d *DataChannel) Label() string {
	return d.dc.Label()
}

func (d *DataChannel) Protocol() string {
	return d.dc.Protocol()
}

func (d *DataChannel) Ordered() bool {
	return d.dc.Ordered()
}

func (d *DataChannel) MaxPacketLifeTime() *uint16 {
	return d.dc.MaxPacketLifeTime()
}

func (d *DataChannel) MaxRetransmits() *uint16 {
	return d.dc.MaxRetransmits()
}

func (d *DataChannel) ReadyState() webrtc.DataChannelState {
	return d.dc.ReadyState()
}

func (d *DataChannel) BufferedAmount() uint64 {
	return d.dc.BufferedAmount()
}

func (d *DataChannel) BufferedAmountLowThreshold() uint64 {
	return d.dc.BufferedAmountLowThreshold()
}

func (d *DataChannel) SetBufferedAmountLowThreshold(th uint64) {
	d.dc.SetBufferedAmountLowThreshold(th)
}

func (d *DataChannel) Send(data []byte) error {
	return d.dc.Send(data)
}

func (d *DataChannel) SendText(s string) error {
	return d.dc.SendText(s)
}

func (d *DataChannel) Close() error {
	d.fireClosing()
	return d.dc.Close()
}

func (d *DataChannel) OnOpen(f func()) {
	d.dc.OnOpen(f)
}

func (d *DataChannel) OnClosing(f func()) {
	d.lock.Lock()
	d.onClosing = f
	d.lock.Unlock()
}

func (d *DataChannel) OnClose(f func()) {
	d.lock.Lock()
	d.onClose = f
	d.lock.Unlock()
}

// OnMessage sets the message handler and hands it whatever arrived before it was set
func (d *DataChannel) OnMessage(f func(msg webrtc.DataChannelMessage)) {
	d.messageLock.Lock()
	defer d.messageLock.Unlock()

	d.onMessage = f
	if f == nil {
		return
	}
	pending := d.pending
	d.pending = nil
	for _, msg := range pending {
		f(msg)
	}
}

func (d *DataChannel) OnBufferedAmountLow(f func()) {
	d.dc.OnBufferedAmountLow(f)
}

func (d *DataChannel) fireClosing() {
	if d.closing.Swap(true) {
		return
	}

	d.lock.Lock()
	onClosing := d.onClosing
	d.lock.Unlock()
	if onClosing != nil {
		onClosing()
	}
}

func (d *DataChannel) handleClose() {
	d.fireClosing()

	d.lock.Lock()
	onClose := d.onClose
	d.lock.Unlock()
	if onClose != nil {
		onClose()
	}
}

func (d *DataChannel) handleMessage(msg webrtc.DataChannelMessage) {
	d.messageLock.Lock()
	defer d.messageLock.Unlock()

	if d.onMessage == nil {
		d.pending = append(d.pending, msg)
		return
	}
	d.onMessage(msg)
}
