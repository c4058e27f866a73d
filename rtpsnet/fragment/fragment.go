// Package fragment implements per-in-flight-sample reassembly.
//
// Reassembly state is a flat bitset sized to the total fragment count,
// plus a cursor that only advances past consecutively-received
// fragments rather than being recomputed by a full bitmap scan on every
// arrival.
package fragment

import (
	"errors"
	"sync"
	"time"

	"github.com/go-rtps/engine/rtpsnet/guid"
)

// ErrTimeout describes a sample whose reassembly deadline passed before
// completion. No function in this module returns it; the reader's sweep
// discards expired samples without an error value.
var ErrTimeout = errors.New("fragment: reassembly timed out")

// ReassemblyTimeout bounds how long a partial sample may sit incomplete
// before it is discarded.
const ReassemblyTimeout = 2 * time.Second

// Info is the per-sample reassembly context, referenced from a CCRef and
// shared when multiple readers observe the same writer-sample.
type Info struct {
	mu sync.Mutex

	refs int

	Total       uint32 // total number of fragments expected
	FragSize    uint32 // size of each fragment, bytes
	TotalLength uint32 // total serialized sample length, bytes

	bitmap    []bool
	firstNA   uint32 // first not-(yet-)acknowledged/received fragment index (0-based)
	numNA     uint32 // count of fragments not yet received

	buf []byte // reassembly arena, len == TotalLength

	KeyHash    *guid.KeyHash
	ExtractedKey []byte

	Deadline time.Time
}

// New allocates a fragment reassembly context for a sample of the given
// total length and fragment size.
func New(totalLength, fragSize uint32) *Info {
	total := (totalLength + fragSize - 1) / fragSize
	return &Info{
		refs:        1,
		Total:       total,
		FragSize:    fragSize,
		TotalLength: totalLength,
		bitmap:      make([]bool, total),
		numNA:       total,
		buf:         make([]byte, totalLength),
		Deadline:    time.Now().Add(ReassemblyTimeout),
	}
}

// Retain increments the refcount for a second reader sharing this
// writer-sample's reassembly context.
func (fi *Info) Retain() *Info {
	fi.mu.Lock()
	fi.refs++
	fi.mu.Unlock()
	return fi
}

// Release decrements the refcount, discarding the reassembly buffer once
// it reaches zero.
func (fi *Info) Release() {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	fi.refs--
	if fi.refs <= 0 {
		fi.buf = nil
		fi.bitmap = nil
	}
}

// Mark records the arrival of num fragments starting at the 1-based
// start index, copying payload into the reassembly arena. Returns the
// number of newly-received fragments (0 if all were duplicates).
func (fi *Info) Mark(start, num uint32, payload []byte) int {
	fi.mu.Lock()
	defer fi.mu.Unlock()

	newCount := 0
	offset := int64(start-1) * int64(fi.FragSize)
	srcOff := 0
	for i := uint32(0); i < num; i++ {
		idx := start - 1 + i
		if idx >= fi.Total {
			break
		}
		fragLen := int64(fi.FragSize)
		remaining := int64(fi.TotalLength) - (offset + int64(i)*int64(fi.FragSize))
		if fragLen > remaining {
			fragLen = remaining
		}
		if !fi.bitmap[idx] {
			dstStart := offset + int64(i)*int64(fi.FragSize)
			if srcOff+int(fragLen) <= len(payload) {
				copy(fi.buf[dstStart:dstStart+fragLen], payload[srcOff:srcOff+int(fragLen)])
			}
			fi.bitmap[idx] = true
			fi.numNA--
			newCount++
			if fi.firstNA == idx {
				for fi.numNA > 0 && fi.firstNA < fi.Total && fi.bitmap[fi.firstNA] {
					fi.firstNA++
				}
			}
		}
		srcOff += int(fragLen)
	}
	return newCount
}

// Complete reports whether every fragment has arrived.
func (fi *Info) Complete() bool {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	return fi.numNA == 0
}

// FirstMissing returns the 0-based index of the first fragment not yet
// received, used to build NACK_FRAG's bitmap base.
func (fi *Info) FirstMissing() uint32 {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	return fi.firstNA
}

// MissingBitmap returns a bitmap (true == missing) covering
// [FirstMissing(), Total), suitable for a NACK_FRAG submessage.
func (fi *Info) MissingBitmap() []bool {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	out := make([]bool, fi.Total-fi.firstNA)
	for i := range out {
		out[i] = !fi.bitmap[fi.firstNA+uint32(i)]
	}
	return out
}

// Assembled returns the reassembled payload once Complete reports true.
func (fi *Info) Assembled() []byte {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	return fi.buf
}

// Expired reports whether the reassembly deadline has passed.
func (fi *Info) Expired(now time.Time) bool {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	return now.After(fi.Deadline)
}

// Split divides a payload into fragments of size fragSize, used by the
// writer-side fragmentation path and by fragment roundtrip tests.
func Split(payload []byte, fragSize uint32) [][]byte {
	if fragSize == 0 {
		panic("fragment: zero fragSize")
	}
	var out [][]byte
	for off := 0; off < len(payload); off += int(fragSize) {
		end := off + int(fragSize)
		if end > len(payload) {
			end = len(payload)
		}
		out = append(out, payload[off:end])
	}
	return out
}

// Assemble is the inverse of Split, concatenating fragments back into
// the original payload.
func Assemble(frags [][]byte) []byte {
	var total int
	for _, f := range frags {
		total += len(f)
	}
	out := make([]byte, 0, total)
	for _, f := range frags {
		out = append(out, f...)
	}
	return out
}
