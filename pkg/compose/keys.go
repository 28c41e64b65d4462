package compose

import (
	"encoding/binary"
	"fmt"
	"math"
	"runtime"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/vango-dev/recompose/pkg/slots"
)

// Key identifies a group across passes.
type Key = slots.Key

// LocationKey hashes a source position into a key.
func LocationKey(file string, line, column int) Key {
	d := xxhash.New()
	_, _ = d.WriteString(file)
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(line))
	binary.LittleEndian.PutUint64(buf[8:], uint64(column))
	_, _ = d.Write(buf[:])
	return Key(d.Sum64())
}

// CallSite is a source position that opened a group.
type CallSite struct {
	File string
	Line int
}

// Key returns the location key of the call site.
func (cs CallSite) Key() Key { return LocationKey(cs.File, cs.Line, 0) }

// String returns "file:line".
func (cs CallSite) String() string { return cs.File + ":" + strconv.Itoa(cs.Line) }

// Caller returns the call site skip frames above its caller.
func Caller(skip int) CallSite {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return CallSite{File: "unknown"}
	}
	return CallSite{File: file, Line: line}
}

// CallSiteKey returns the location key of the function calling it.
func CallSiteKey() Key {
	return Caller(1).Key()
}

// KeyOf hashes a caller-assigned identity (a list item ID, a route) into a
// key. Strings and integers hash without allocation.
func KeyOf(v any) Key {
	switch k := v.(type) {
	case Key:
		return k
	case string:
		return Key(xxhash.Sum64String(k))
	case int:
		return hashUint(uint64(k), 1)
	case int64:
		return hashUint(uint64(k), 1)
	case int32:
		return hashUint(uint64(k), 1)
	case uint:
		return hashUint(uint64(k), 2)
	case uint64:
		return hashUint(k, 2)
	case uint32:
		return hashUint(uint64(k), 2)
	case float64:
		return hashUint(math.Float64bits(k), 3)
	case bool:
		if k {
			return hashUint(1, 4)
		}
		return hashUint(0, 4)
	case fmt.Stringer:
		return Key(xxhash.Sum64String(k.String()))
	default:
		return Key(xxhash.Sum64String(fmt.Sprintf("%T:%v", v, v)))
	}
}

func hashUint(v uint64, tag byte) Key {
	var buf [9]byte
	buf[0] = tag
	binary.LittleEndian.PutUint64(buf[1:], v)
	return Key(xxhash.Sum64(buf[:]))
}

// Mix combines two keys, for example a call site with an item identity.
func Mix(a, b Key) Key {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(a))
	binary.LittleEndian.PutUint64(buf[8:], uint64(b))
	return Key(xxhash.Sum64(buf[:]))
}

// Keys of groups the composer writes itself.
var (
	rootKey   = Key(xxhash.Sum64String("recompose/root"))
	parentKey = Key(xxhash.Sum64String("recompose/parent"))
	localKey  = Key(xxhash.Sum64String("recompose/local"))
)
