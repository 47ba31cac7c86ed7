package ioctl

import "fmt"

// Dir is the data transfer direction encoded in a request number.
type Dir uint8

const (
	// DirNone means no argument data is transferred.
	DirNone Dir = 0
	// DirWrite means userspace writes the argument to the driver.
	DirWrite Dir = 1
	// DirRead means the driver writes the argument back to userspace.
	DirRead Dir = 2
	// DirReadWrite transfers the argument both ways.
	DirReadWrite Dir = DirRead | DirWrite
)

// String returns the direction name.
func (d Dir) String() string {
	switch d {
	case DirNone:
		return "NONE"
	case DirWrite:
		return "WRITE"
	case DirRead:
		return "READ"
	case DirReadWrite:
		return "READ_WRITE"
	default:
		return "UNKNOWN"
	}
}

// Field widths and offsets of the generic layout.
const (
	nrBits   = 8
	typeBits = 8
	sizeBits = 14
	dirBits  = 2

	nrShift   = 0
	typeShift = nrShift + nrBits
	sizeShift = typeShift + typeBits
	dirShift  = sizeShift + sizeBits

	nrMask   = 1<<nrBits - 1
	typeMask = 1<<typeBits - 1
	sizeMask = 1<<sizeBits - 1
	dirMask  = 1<<dirBits - 1
)

// MaxSize is the largest argument size the layout can carry.
const MaxSize = sizeMask

// Request is an encoded ioctl request number.
type Request uint32

// Fields is the decoded form of a Request.
type Fields struct {
	Dir  Dir
	Type byte
	Nr   byte
	Size uint16
}

// Encode packs the fields into a request number.
// Sizes above MaxSize and directions above DirReadWrite are rejected.
func Encode(dir Dir, typ, nr byte, size uint16) (Request, error) {
	if dir > DirReadWrite {
		return 0, fmt.Errorf("ioctl: invalid direction %d", dir)
	}
	if size > MaxSize {
		return 0, fmt.Errorf("ioctl: argument size %d exceeds %d", size, MaxSize)
	}
	return Request(uint32(dir)<<dirShift |
		uint32(size)<<sizeShift |
		uint32(typ)<<typeShift |
		uint32(nr)<<nrShift), nil
}

func mustEncode(dir Dir, typ, nr byte, size uint16) Request {
	r, err := Encode(dir, typ, nr, size)
	if err != nil {
		panic(err)
	}
	return r
}

// IO builds a request without argument data.
func IO(typ, nr byte) Request { return mustEncode(DirNone, typ, nr, 0) }

// IOW builds a request whose argument of the given size flows to the driver.
func IOW(typ, nr byte, size uint16) Request { return mustEncode(DirWrite, typ, nr, size) }

// IOR builds a request whose argument flows back to userspace.
func IOR(typ, nr byte, size uint16) Request { return mustEncode(DirRead, typ, nr, size) }

// IOWR builds a request whose argument flows both ways.
func IOWR(typ, nr byte, size uint16) Request { return mustEncode(DirReadWrite, typ, nr, size) }

// Decode splits the request number into its fields.
func (r Request) Decode() Fields {
	v := uint32(r)
	return Fields{
		Dir:  Dir(v >> dirShift & dirMask),
		Type: byte(v >> typeShift & typeMask),
		Nr:   byte(v >> nrShift & nrMask),
		Size: uint16(v >> sizeShift & sizeMask),
	}
}

// String formats the request as hex followed by its fields.
func (r Request) String() string {
	f := r.Decode()
	return fmt.Sprintf("0x%08X(%s,'%c',0x%02X,%d)", uint32(r), f.Dir, printable(f.Type), f.Nr, f.Size)
}

func printable(b byte) byte {
	if b < 0x20 || b > 0x7e {
		return '?'
	}
	return b
}
