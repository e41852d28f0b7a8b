package controller

// Peripheral is the command side of the two-wire hardware block. Every command
// except SetBitRate and Stop makes the hardware report exactly one status
// event later, which must be fed to Controller.HandleEvent from interrupt
// context.
type Peripheral interface {
	// SetBitRate programs the SCL divisor register.
	SetBitRate(divisor uint8)
	// Start issues a start condition.
	Start()
	// RepeatedStart issues a start condition without releasing the bus.
	RepeatedStart()
	// Stop issues a stop condition and releases the bus.
	Stop()
	// Transmit loads b into the data register and clears the interrupt flag.
	Transmit(b byte)
	// Received returns the byte latched in the data register.
	Received() byte
	// Continue clears the interrupt flag. With ack set the next received byte
	// is acknowledged, otherwise it is the last one.
	Continue(ack bool)
}
