// Package crc implements the CRC32 variant computed by the STM32 hardware
// CRC unit, which the watch uses to validate transferred objects.
package crc

import "encoding/binary"

const poly = 0x04C11DB7

// Checksum computes the STM32-compatible CRC32 of buf. The buffer is
// consumed as 32-bit words: complete words little-endian, a trailing
// partial word as the big-endian value of its remaining bytes.
func Checksum(buf []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for len(buf) >= 4 {
		crc = processWord(binary.LittleEndian.Uint32(buf[:4]), crc)
		buf = buf[4:]
	}
	if len(buf) > 0 {
		var tail uint32
		for _, b := range buf {
			tail = tail<<8 | uint32(b)
		}
		crc = processWord(tail, crc)
	}
	return crc
}

func processWord(word, crc uint32) uint32 {
	crc ^= word
	for i := 0; i < 32; i++ {
		if crc&0x80000000 != 0 {
			crc = crc<<1 ^ poly
		} else {
			crc <<= 1
		}
	}
	return crc
}
