// Package protocol implements the wire-level pieces of the firmware link:
// the XOR checksum, COBS framing, and the fixed set of command payload
// layouts. None of it touches a serial port — see internal/transport and
// internal/framer for that.
package protocol

// Checksum returns the XOR-reduction of data: checksum(a‖b) = checksum(a) ^
// checksum(b), and checksum of an empty slice is 0x00.
func Checksum(data []byte) byte {
	var cs byte
	for _, b := range data {
		cs ^= b
	}
	return cs
}
