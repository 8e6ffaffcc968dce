package protocol

import "encoding/binary"

// Command codes live in the low 5 bits of payload byte 1. Unknown codes are
// valid on the wire — they are simply ignored by every handler in this repo.
const (
	CommandAnalog           = 3
	CommandKey              = 4
	CommandEcho             = 20
	CommandStatisticsStatus = 23
	CommandTaskStatus       = 24
)

// idLow is the fixed device-ID-low value (0b001) packed into the top 3 bits
// of every request's byte 1, alongside the command code in the low 5 bits.
const idLow = 0x01

// Header bytes shared by every outbound request of a given kind: byte 0 is
// reserved/ID-high (always 0x00 host→device), byte 1 packs idLow into its
// top 3 bits and the command code into its low 5 bits. 0x00 0x34 for echo,
// 0x00 0x37 for statistics, 0x00 0x38 for task.
var (
	HeaderEcho             = []byte{0x00, idLow<<5 | CommandEcho}
	HeaderStatisticsStatus = []byte{0x00, idLow<<5 | CommandStatisticsStatus}
	HeaderTaskStatus       = []byte{0x00, idLow<<5 | CommandTaskStatus}
)

// CommandOf extracts the command code from a decoded payload's byte 1.
// Callers must ensure len(decoded) >= 2.
func CommandOf(decoded []byte) int {
	return int(decoded[1] & 0x1F)
}

// MinEchoMessageLength and MaxEchoMessageLength bound the valid
// message_length argument to BuildEcho; values outside this range are
// clamped by callers before reaching it (see burst and latency packages).
const (
	MinEchoMessageLength = 6
	MaxEchoMessageLength = 10
	DefaultMessageLength = 10
)

// BuildEcho constructs an ECHO payload (header, length field, counter,
// trailer) as described in spec §4.6. messageLength must already be in
// [MinEchoMessageLength, MaxEchoMessageLength]; callers clamp before calling.
func BuildEcho(counter uint16, messageLength int) []byte {
	trailerLen := messageLength - len(HeaderEcho) - 3
	if trailerLen < 0 {
		trailerLen = 0
	}
	payload := make([]byte, 0, len(HeaderEcho)+3+trailerLen)
	payload = append(payload, HeaderEcho...)
	payload = append(payload, byte(trailerLen+2))
	var counterBytes [2]byte
	binary.BigEndian.PutUint16(counterBytes[:], counter)
	payload = append(payload, counterBytes[:]...)
	for i := 0; i < trailerLen; i++ {
		payload = append(payload, 0x02)
	}
	return payload
}

// EchoCounter extracts the 16-bit big-endian counter from a decoded ECHO
// payload. Callers must ensure len(decoded) >= 5.
func EchoCounter(decoded []byte) uint16 {
	return binary.BigEndian.Uint16(decoded[3:5])
}

// BuildStatusRequest constructs a status-request payload for either the
// statistics table (header=HeaderStatisticsStatus) or the task table
// (header=HeaderTaskStatus): HEADER ‖ 0x01 ‖ index.
func BuildStatusRequest(header []byte, index byte) []byte {
	payload := make([]byte, 0, len(header)+2)
	payload = append(payload, header...)
	payload = append(payload, 0x01, index)
	return payload
}

// StatisticsStatusValue extracts (index, value) from a decoded
// STATISTICS_STATUS response. Callers must ensure len(decoded) >= 8.
func StatisticsStatusValue(decoded []byte) (index byte, value uint32) {
	return decoded[3], binary.BigEndian.Uint32(decoded[4:8])
}

// TaskStatusValue extracts (index, absoluteTimeUs, percentTime,
// highWatermark) from a decoded TASK_STATUS response. Callers must ensure
// len(decoded) >= 16.
func TaskStatusValue(decoded []byte) (index byte, absoluteTimeUs, percentTime, highWatermark uint32) {
	index = decoded[3]
	absoluteTimeUs = binary.BigEndian.Uint32(decoded[4:8])
	percentTime = binary.BigEndian.Uint32(decoded[8:12])
	highWatermark = binary.BigEndian.Uint32(decoded[12:16])
	return
}

// ClampMessageLength clamps an out-of-range message length to
// DefaultMessageLength, matching the option-dialog substitution behaviour
// documented in spec §7 (Configuration errors).
func ClampMessageLength(length int) int {
	if length < MinEchoMessageLength || length > MaxEchoMessageLength {
		return DefaultMessageLength
	}
	return length
}
