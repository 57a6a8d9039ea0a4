package ggep

import "github.com/pkg/errors"

// COBS (consistent overhead byte stuffing) removes every 0x00 from a value
// at a cost of one byte per 254. The trailing delimiter is implicit.

func cobsEncode(src []byte) []byte {
	out := make([]byte, 1, len(src)+len(src)/254+2)
	codeIdx, code := 0, byte(1)
	for _, b := range src {
		if b == 0 {
			out[codeIdx] = code
			codeIdx, code = len(out), 1
			out = append(out, 0)
			continue
		}
		out = append(out, b)
		code++
		if code == 0xFF {
			out[codeIdx] = code
			codeIdx, code = len(out), 1
			out = append(out, 0)
		}
	}
	out[codeIdx] = code
	return out
}

func cobsDecode(src []byte) ([]byte, error) {
	out := make([]byte, 0, len(src))
	for i := 0; i < len(src); {
		code := int(src[i])
		if code == 0 {
			return nil, errors.New("cobs: zero code byte")
		}
		i++
		for j := 1; j < code; j++ {
			if i >= len(src) {
				return nil, errors.New("cobs: block overruns input")
			}
			if src[i] == 0 {
				return nil, errors.New("cobs: zero inside block")
			}
			out = append(out, src[i])
			i++
		}
		if code != 0xFF && i < len(src) {
			out = append(out, 0)
		}
	}
	return out, nil
}

func containsZero(b []byte) bool {
	for _, c := range b {
		if c == 0 {
			return true
		}
	}
	return false
}
