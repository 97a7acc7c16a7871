package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/pebblectl/internal/protocol/appmsg"
)

// parseTuples turns key:type:value arguments into wire tuples. Supported
// types are uint, int, string, and bytes (hex-encoded).
func parseTuples(args []string) ([]appmsg.Tuple, error) {
	tuples := make([]appmsg.Tuple, 0, len(args))
	for _, arg := range args {
		parts := strings.SplitN(arg, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("tuple %q: want key:type:value", arg)
		}
		key, err := strconv.ParseUint(parts[0], 0, 32)
		if err != nil {
			return nil, fmt.Errorf("tuple %q: bad key: %w", arg, err)
		}

		switch parts[1] {
		case "uint":
			v, err := strconv.ParseUint(parts[2], 0, 32)
			if err != nil {
				return nil, fmt.Errorf("tuple %q: bad uint: %w", arg, err)
			}
			tuples = append(tuples, appmsg.Uint32Tuple(uint32(key), uint32(v)))
		case "int":
			v, err := strconv.ParseInt(parts[2], 0, 32)
			if err != nil {
				return nil, fmt.Errorf("tuple %q: bad int: %w", arg, err)
			}
			tuples = append(tuples, appmsg.Int32Tuple(uint32(key), int32(v)))
		case "string":
			tuples = append(tuples, appmsg.CStringTuple(uint32(key), parts[2]))
		case "bytes":
			data, err := hex.DecodeString(strings.TrimPrefix(parts[2], "0x"))
			if err != nil {
				return nil, fmt.Errorf("tuple %q: bad hex value: %w", arg, err)
			}
			tuples = append(tuples, appmsg.BytesTuple(uint32(key), data))
		default:
			return nil, fmt.Errorf("tuple %q: unknown type %q", arg, parts[1])
		}
	}
	return tuples, nil
}
