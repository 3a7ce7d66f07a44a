package sctp

import (
	"sync"

	"github.com/go-logr/logr"
	"github.com/pion/datachannel"
)

// DataProducerListener receives messages arriving on a DataProducer (one
// client-opened DataChannel stream) and its close event.
type DataProducerListener interface {
	OnDataProducerMessage(p *DataProducer, data []byte, isString bool)
	OnDataProducerClosed(p *DataProducer)
}

// DataProducer is the controller-facing endpoint for one inbound DataChannel
// stream, generalizing spec.md §4.7 Producer's ownership shape (immutable id
// assigned by the caller, pump-to-listener read path, explicit Close) onto
// SCTP's DATA_CHANNEL_OPEN streams instead of RTP.
type DataProducer struct {
	ID       string
	Label    string
	Protocol string
	Ordered  bool
	StreamID uint16

	log      logr.Logger
	listener DataProducerListener
	channel  *datachannel.DataChannel

	mu     sync.Mutex
	closed bool
}

// NewDataProducer wraps an inbound DataChannel stream accepted by an
// Association's listener and starts pumping its messages to listener.
func NewDataProducer(id string, streamID uint16, label, protocol string, ordered bool, channel *datachannel.DataChannel, log logr.Logger, listener DataProducerListener) *DataProducer {
	p := &DataProducer{
		ID:       id,
		Label:    label,
		Protocol: protocol,
		Ordered:  ordered,
		StreamID: streamID,
		log:      log,
		listener: listener,
		channel:  channel,
	}
	go p.readLoop()
	return p
}

func (p *DataProducer) readLoop() {
	buf := make([]byte, 16*1024)
	for {
		n, isString, err := p.channel.ReadDataChannel(buf)
		if err != nil {
			p.mu.Lock()
			closed := p.closed
			p.mu.Unlock()
			if !closed {
				p.listener.OnDataProducerClosed(p)
			}
			return
		}
		cp := append([]byte(nil), buf[:n]...)
		p.listener.OnDataProducerMessage(p, cp, isString)
	}
}

// Close closes the underlying stream. Idempotent.
func (p *DataProducer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.channel.Close()
}

// DataConsumer is the controller-facing endpoint for one outbound DataChannel
// stream this worker dials toward a peer, mirroring messages a bound
// DataProducer received (spec.md §4.8 Consumer's shape, generalized the same
// way DataProducer generalizes Producer).
type DataConsumer struct {
	ID             string
	DataProducerID string
	Label          string
	Protocol       string
	Ordered        bool
	StreamID       uint16

	mu      sync.Mutex
	channel *datachannel.DataChannel
	closed  bool
}

// NewDataConsumer wraps an outbound DataChannel this worker opened via
// Association.OpenDataChannel.
func NewDataConsumer(id, dataProducerID string, streamID uint16, label, protocol string, ordered bool, channel *datachannel.DataChannel) *DataConsumer {
	return &DataConsumer{
		ID:             id,
		DataProducerID: dataProducerID,
		Label:          label,
		Protocol:       protocol,
		Ordered:        ordered,
		StreamID:       streamID,
		channel:        channel,
	}
}

// SendMessage forwards one message to this consumer's peer, mirroring
// whatever its bound DataProducer received.
func (c *DataConsumer) SendMessage(data []byte, isString bool) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	_, err := c.channel.WriteDataChannel(data, isString)
	return err
}

// Close closes the underlying stream. Idempotent.
func (c *DataConsumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.channel.Close()
}
