package protocol

import "fmt"

// COBSEncode applies Consistent Overhead Byte Stuffing to data, producing a
// byte string that contains no 0x00. The caller appends the 0x00 packet
// delimiter separately (see pipeline.Pipeline.Write).
func COBSEncode(data []byte) []byte {
	out := make([]byte, 0, len(data)+len(data)/254+1)
	// codeIdx points at the byte in out that will hold the distance to the
	// next zero (or end of data); it starts as a placeholder and is patched
	// once that distance is known.
	codeIdx := len(out)
	out = append(out, 0)
	code := byte(1)

	flush := func() {
		out[codeIdx] = code
		codeIdx = len(out)
		out = append(out, 0)
		code = 1
	}

	for _, b := range data {
		if b == 0 {
			flush()
			continue
		}
		out = append(out, b)
		code++
		if code == 0xFF {
			flush()
		}
	}
	out[codeIdx] = code
	return out
}

// COBSDecode inverts COBSEncode. It does not expect or strip a trailing
// delimiter. Decoding an empty input returns an empty slice. A malformed
// input (a zero code byte, or a code byte whose run overruns the buffer)
// returns an error; the pipeline logs and discards the frame rather than
// propagating it.
func COBSDecode(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data))
	i := 0
	for i < len(data) {
		code := int(data[i])
		if code == 0 {
			return nil, fmt.Errorf("cobs: zero code byte at offset %d", i)
		}
		i++
		end := i + code - 1
		if end > len(data) {
			return nil, fmt.Errorf("cobs: code %d at offset %d overruns %d-byte input", code, i-1, len(data))
		}
		out = append(out, data[i:end]...)
		i = end
		if code != 0xFF && i < len(data) {
			out = append(out, 0)
		}
	}
	return out, nil
}
