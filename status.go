package twi

import (
	"errors"
	"fmt"
)

// Status is a bus status event code as reported by the peripheral after each
// protocol step. Values follow the TWSR encoding with the prescaler bits masked.
type Status byte

const (
	StatusStart         Status = 0x08 // start condition transmitted
	StatusRepeatedStart Status = 0x10 // repeated start condition transmitted
	StatusAddrWriteAck  Status = 0x18 // SLA+W transmitted, ACK received
	StatusAddrWriteNack Status = 0x20 // SLA+W transmitted, NACK received
	StatusDataWriteAck  Status = 0x28 // data byte transmitted, ACK received
	StatusDataWriteNack Status = 0x30 // data byte transmitted, NACK received
	StatusAddrReadAck   Status = 0x40 // SLA+R transmitted, ACK received
	StatusAddrReadNack  Status = 0x48 // SLA+R transmitted, NACK received
	StatusDataReadAck   Status = 0x50 // data byte received, ACK returned
	StatusDataReadNack  Status = 0x58 // data byte received, NACK returned
)

func (s Status) String() string {
	switch s {
	case StatusStart:
		return "START"
	case StatusRepeatedStart:
		return "REP_START"
	case StatusAddrWriteAck:
		return "SLA+W_ACK"
	case StatusAddrWriteNack:
		return "SLA+W_NACK"
	case StatusDataWriteAck:
		return "DATA_W_ACK"
	case StatusDataWriteNack:
		return "DATA_W_NACK"
	case StatusAddrReadAck:
		return "SLA+R_ACK"
	case StatusAddrReadNack:
		return "SLA+R_NACK"
	case StatusDataReadAck:
		return "DATA_R_ACK"
	case StatusDataReadNack:
		return "DATA_R_NACK"
	default:
		return fmt.Sprintf("STATUS(%#02x)", byte(s))
	}
}

// ErrorFlag is the sticky bus error. It is raised by the interrupt handler and
// stays set until a collaborator clears it.
type ErrorFlag uint8

const (
	ErrorNone ErrorFlag = iota
	ErrorAddressWriteNack
	ErrorDataWriteNack
	ErrorAddressReadNack
)

var (
	ErrAddressWriteNack = errors.New("slave did not acknowledge its address (write)")
	ErrDataWriteNack    = errors.New("slave did not acknowledge a data byte")
	ErrAddressReadNack  = errors.New("slave did not acknowledge its address (read)")
	ErrBitRate          = errors.New("bit rate divisor out of range for base clock")
)

func (f ErrorFlag) String() string {
	switch f {
	case ErrorNone:
		return "none"
	case ErrorAddressWriteNack:
		return "address-write-nack"
	case ErrorDataWriteNack:
		return "data-write-nack"
	case ErrorAddressReadNack:
		return "address-read-nack"
	default:
		return fmt.Sprintf("error(%d)", uint8(f))
	}
}

// Err returns the sentinel error matching the flag or nil for ErrorNone.
func (f ErrorFlag) Err() error {
	switch f {
	case ErrorAddressWriteNack:
		return ErrAddressWriteNack
	case ErrorDataWriteNack:
		return ErrDataWriteNack
	case ErrorAddressReadNack:
		return ErrAddressReadNack
	default:
		return nil
	}
}

// WriteAddress returns the 8-bit SLA+W byte for a 7-bit device address.
func WriteAddress(dev byte) byte {
	return dev << 1
}

// ReadAddress returns the 8-bit SLA+R byte for a 7-bit device address.
func ReadAddress(dev byte) byte {
	return dev<<1 | 1
}
