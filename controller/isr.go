package controller

import (
	"github.com/mklimuk/twi"
)

// HandleEvent is the bus interrupt handler. It handles exactly one status
// event and returns; it never blocks or loops. Events that are not legal in
// the current state are answered with a stop.
func (c *Controller) HandleEvent(ev twi.Status) {
	state := c.State()
	if !state.accepts(ev, c.reading) {
		c.unexpected.Add(1)
		c.log.Debug("unexpected bus event", "event", ev, "state", state)
		c.stop()
		return
	}

	switch ev {
	case twi.StatusStart, twi.StatusRepeatedStart:
		hdr, ok := c.wr.TryDequeueFrameHeader()
		if !ok {
			c.stop()
			return
		}
		c.current = hdr
		c.remaining = int(hdr.Length)
		c.reading = hdr.Address&1 == 1
		c.setState(StateAddress)
		c.p.Transmit(hdr.Address)

	case twi.StatusAddrWriteAck, twi.StatusDataWriteAck:
		c.transmitNext()

	case twi.StatusAddrWriteNack:
		c.abortFrame(twi.ErrorAddressWriteNack)

	case twi.StatusDataWriteNack:
		c.abortFrame(twi.ErrorDataWriteNack)

	case twi.StatusAddrReadAck:
		pending := c.readPending.Load()
		if !c.ownsRead() || pending <= 0 {
			// the read was abandoned before its frame reached the wire
			c.stale.Add(1)
			c.retire()
			c.stop()
			return
		}
		c.setState(StateReceive)
		c.p.Continue(pending > 1)

	case twi.StatusAddrReadNack:
		if !c.ownsRead() || c.readPending.Load() <= 0 {
			c.stale.Add(1)
			c.retire()
			c.stop()
			return
		}
		c.failRead()
		c.abort(twi.ErrorAddressReadNack)
		c.stop()

	case twi.StatusDataReadAck:
		if !c.receive() {
			c.stop()
			return
		}
		switch pending := c.readPending.Load(); {
		case pending > 1:
			c.p.Continue(true)
		case pending == 1:
			c.p.Continue(false)
		default:
			c.finishRead()
		}

	case twi.StatusDataReadNack:
		c.receive()
		c.finishRead()
	}
}

func (c *Controller) setState(s State) {
	c.state.Store(uint32(s))
}

func (c *Controller) stop() {
	c.setState(StateIdle)
	c.p.Stop()
}

func (c *Controller) transmitNext() {
	if c.remaining == 0 {
		c.finishFrame()
		return
	}
	b, ok := c.wr.DequeueByte()
	if !ok {
		// cannot happen while frames are published whole
		c.remaining = 0
		c.stop()
		return
	}
	c.remaining--
	c.bytesSent.Add(1)
	c.setState(StateTransmit)
	c.p.Transmit(b)
}

// finishFrame ends a fully transmitted write frame with a repeated start if
// one was requested for it, with a stop otherwise.
func (c *Controller) finishFrame() {
	c.framesSent.Add(1)
	c.retire()
	if c.current.RepeatedStart {
		c.setState(StateStart)
		c.p.RepeatedStart()
		return
	}
	c.stop()
}

// abortFrame drops the unsent remainder of the current frame, raises flag and
// releases the bus. A NACKed register pointer write fails the read queued
// behind it, which would otherwise fetch from a stale pointer.
func (c *Controller) abortFrame(flag twi.ErrorFlag) {
	c.wr.Discard(c.remaining)
	c.remaining = 0
	if c.current.RepeatedStart && c.current.Seq+1 == c.readSeq.Load() && c.readPending.Load() > 0 {
		c.failRead()
	}
	c.abort(flag)
	c.stop()
}

// ownsRead reports whether the current frame is the SLA+R frame of the
// outstanding read.
func (c *Controller) ownsRead() bool {
	return c.current.Seq == c.readSeq.Load()
}

// failRead ends the outstanding read with ReadFailed set. The read path stays
// busy until its owner calls AbortRead.
func (c *Controller) failRead() {
	c.readPending.Store(0)
	c.readFailed.Store(true)
}

func (c *Controller) retire() {
	c.retiredSeq.Store(c.current.Seq)
}

func (c *Controller) abort(flag twi.ErrorFlag) {
	c.framesAborted.Add(1)
	c.aborted.Store(c.current.Seq<<8 | uint64(flag))
	c.retire()
	c.raise(flag)
}

// receive stores the latched byte. It returns false when no read is expecting
// data, in which case the byte is dropped.
func (c *Controller) receive() bool {
	b := c.p.Received()
	if !c.ownsRead() || c.readPending.Load() <= 0 {
		return false
	}
	if !c.rd.EnqueueByte(b) {
		c.overruns.Add(1)
	} else {
		c.bytesReceived.Add(1)
	}
	c.readPending.Add(-1)
	return true
}

func (c *Controller) finishRead() {
	if c.ownsRead() {
		c.readPending.Store(0)
	}
	c.framesSent.Add(1)
	c.retire()
	c.stop()
}

func (c *Controller) raise(flag twi.ErrorFlag) {
	c.errFlag.Store(uint32(flag))
	c.log.Warn("bus error", "flag", flag, "address", c.current.Address)
}
