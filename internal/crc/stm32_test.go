package crc

import "testing"

func TestChecksumReferenceVectors(t *testing.T) {
	// Expected values computed with the reference STM32 CRC implementation.
	cases := []struct {
		name string
		in   []byte
		want uint32
	}{
		{"empty", nil, 0xFFFFFFFF},
		{"one byte", []byte("a"), 0x6F60065B},
		{"two bytes", []byte("ab"), 0xD1DFBB34},
		{"one word", []byte("abcd"), 0xA62F1C36},
		{"two words", []byte("abcdefgh"), 0x18C4859C},
		{"check string", []byte("123456789"), 0xAFF19057},
		{"zero word", []byte{0, 0, 0, 0}, 0xC704DD7B},
		{"sequence", []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, 0x081B46CA},
	}
	for _, tc := range cases {
		if got := Checksum(tc.in); got != tc.want {
			t.Errorf("%s: got=%#08x want=%#08x", tc.name, got, tc.want)
		}
	}
}

func TestChecksumLargeBuffer(t *testing.T) {
	buf := make([]byte, 4096)
	for i := range buf {
		buf[i] = byte(i*7 + 3)
	}
	if got := Checksum(buf); got != 0xAF66B35C {
		t.Fatalf("large buffer: got=%#08x want=0xAF66B35C", got)
	}
}
