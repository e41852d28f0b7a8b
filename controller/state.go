package controller

import (
	"fmt"

	"github.com/mklimuk/twi"
)

// State is the phase of the transaction the interrupt handler is driving.
type State uint32

const (
	StateIdle     State = iota // bus released, nothing in progress
	StateStart                 // start or repeated start issued, awaiting confirmation
	StateAddress               // SLA+R/W transmitted
	StateTransmit              // payload byte transmitted
	StateReceive               // receiving data bytes
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStart:
		return "start"
	case StateAddress:
		return "address"
	case StateTransmit:
		return "transmit"
	case StateReceive:
		return "receive"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// accepts reports whether ev is a legal event while in state s. reading tells
// the direction of the frame whose address was sent.
func (s State) accepts(ev twi.Status, reading bool) bool {
	switch ev {
	case twi.StatusStart, twi.StatusRepeatedStart:
		return s == StateStart
	case twi.StatusAddrWriteAck, twi.StatusAddrWriteNack:
		return s == StateAddress && !reading
	case twi.StatusAddrReadAck, twi.StatusAddrReadNack:
		return s == StateAddress && reading
	case twi.StatusDataWriteAck, twi.StatusDataWriteNack:
		return s == StateTransmit
	case twi.StatusDataReadAck, twi.StatusDataReadNack:
		return s == StateReceive
	default:
		return false
	}
}
