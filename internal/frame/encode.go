package frame

import "github.com/pkg/errors"

// Entry pairs a packet with the pre-computed size of its body, as
// returned by EstimateSize. EncodeMany trusts Size exactly — it does not
// recompute it.
type Entry struct {
	Packet Packet
	Size   int
}

// EstimateSize returns the exact number of bytes EncodeMany will write
// for p's variable header and payload, excluding the fixed header and
// remaining-length bytes.
func EstimateSize(p Packet) int {
	switch v := p.(type) {
	case Connect:
		n := 2 + len(v.ProtocolName) + 1 + 1 + 2 + 2 + len(v.ClientID)
		if v.WillFlag {
			n += 2 + len(v.WillTopic) + 2 + len(v.WillMessage)
		}
		if v.UsernameFlag {
			n += 2 + len(v.Username)
		}
		if v.PasswordFlag {
			n += 2 + len(v.Password)
		}
		return n

	case Connack:
		return 2

	case Publish:
		n := 2 + len(v.Topic)
		if v.QoS != QoS0 {
			n += 2
		}
		n += len(v.Payload)
		return n

	case Puback:
		return 2
	case Pubrec:
		return 2
	case Pubrel:
		return 2
	case Pubcomp:
		return 2

	case Subscribe:
		n := 2
		for _, f := range v.Filters {
			n += 2 + len(f.Topic) + 1
		}
		return n

	case Suback:
		return 2 + len(v.ReturnCodes)

	case Unsubscribe:
		n := 2
		for _, f := range v.Filters {
			n += 2 + len(f)
		}
		return n

	case Unsuback:
		return 2

	case Pingreq, Pingresp, Disconnect:
		return 0

	default:
		return 0
	}
}

// EncodeMany serializes entries in order into dst, laying down each
// packet's fixed header, remaining-length varint, and body back to back.
// It returns the number of bytes written. dst must be at least
// sum(1 + SizeOfRemainingLength(e.Size) + e.Size) bytes; EncodeMany fails
// with ErrBufferTooSmall otherwise.
func EncodeMany(entries []Entry, dst []byte) (int, error) {
	off := 0
	for _, e := range entries {
		n, err := encodeOne(e.Packet, e.Size, dst[off:])
		if err != nil {
			return off, err
		}
		off += n
	}
	return off, nil
}

func encodeOne(p Packet, bodySize int, dst []byte) (int, error) {
	hdrSize := 1 + SizeOfRemainingLength(uint32(bodySize))
	total := hdrSize + bodySize
	if len(dst) < total {
		return 0, ErrBufferTooSmall
	}

	dst[0] = byte(p.Type()) | flagsOf(p)
	n, err := EncodeRemainingLength(uint32(bodySize), dst[1:])
	if err != nil {
		return 0, err
	}

	off := 1 + n
	if err := encodeBody(p, dst[off:off+bodySize]); err != nil {
		return 0, err
	}
	return off + bodySize, nil
}

func flagsOf(p Packet) byte {
	switch v := p.(type) {
	case Publish:
		var f byte
		if v.Dup {
			f |= 0x08
		}
		f |= byte(v.QoS) << 1
		if v.Retain {
			f |= 0x01
		}
		return f
	case Pubrel:
		return 0x02
	case Subscribe:
		return 0x02
	case Unsubscribe:
		return 0x02
	default:
		return 0
	}
}

func putUint16(dst []byte, v uint16) int {
	dst[0] = byte(v >> 8)
	dst[1] = byte(v)
	return 2
}

func putUTF8(dst []byte, s string) int {
	n := putUint16(dst, uint16(len(s)))
	n += copy(dst[n:], s)
	return n
}

func encodeBody(p Packet, dst []byte) error {
	switch v := p.(type) {
	case Connect:
		off := putUTF8(dst, v.ProtocolName)
		dst[off] = v.ProtocolLevel
		off++

		var flags byte
		if v.UsernameFlag {
			flags |= 0x80
		}
		if v.PasswordFlag {
			flags |= 0x40
		}
		if v.WillFlag {
			flags |= 0x04 | byte(v.WillQoS)<<3
			if v.WillRetain {
				flags |= 0x20
			}
		}
		if v.CleanSession {
			flags |= 0x02
		}
		dst[off] = flags
		off++

		off += putUint16(dst[off:], v.KeepAlive)
		off += putUTF8(dst[off:], v.ClientID)

		if v.WillFlag {
			off += putUTF8(dst[off:], v.WillTopic)
			off += putUint16(dst[off:], uint16(len(v.WillMessage)))
			off += copy(dst[off:], v.WillMessage)
		}
		if v.UsernameFlag {
			off += putUTF8(dst[off:], v.Username)
		}
		if v.PasswordFlag {
			off += putUint16(dst[off:], uint16(len(v.Password)))
			off += copy(dst[off:], v.Password)
		}
		return nil

	case Connack:
		var flags byte
		if v.SessionPresent {
			flags = 0x01
		}
		dst[0] = flags
		dst[1] = v.ReturnCode
		return nil

	case Publish:
		off := putUTF8(dst, v.Topic)
		if v.QoS != QoS0 {
			off += putUint16(dst[off:], v.PacketID)
		}
		copy(dst[off:], v.Payload)
		return nil

	case Puback:
		putUint16(dst, v.PacketID)
		return nil
	case Pubrec:
		putUint16(dst, v.PacketID)
		return nil
	case Pubrel:
		putUint16(dst, v.PacketID)
		return nil
	case Pubcomp:
		putUint16(dst, v.PacketID)
		return nil

	case Subscribe:
		off := putUint16(dst, v.PacketID)
		for _, f := range v.Filters {
			off += putUTF8(dst[off:], f.Topic)
			dst[off] = byte(f.QoS)
			off++
		}
		return nil

	case Suback:
		off := putUint16(dst, v.PacketID)
		copy(dst[off:], v.ReturnCodes)
		return nil

	case Unsubscribe:
		off := putUint16(dst, v.PacketID)
		for _, f := range v.Filters {
			off += putUTF8(dst[off:], f)
		}
		return nil

	case Unsuback:
		putUint16(dst, v.PacketID)
		return nil

	case Pingreq, Pingresp, Disconnect:
		return nil

	default:
		return errors.Errorf("mqttconn: unknown packet type %T", p)
	}
}
