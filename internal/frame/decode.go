package frame

import "github.com/pkg/errors"

type decoderMode uint8

const (
	awaitingHeader decoderMode = iota
	awaitingLength
	awaitingBody
)

// Decoder is a stateful streaming MQTT packet decoder. Feed accumulates
// bytes across any split — a fixed header byte, a multi-byte remaining
// length, or a multi-byte body may each arrive split across separate Feed
// calls — and emits every packet that becomes complete, in order, on the
// call that completes it. Feeding a partial header or body persists that
// partial state; it never rewinds or re-parses bytes it has already
// consumed.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	mode decoderMode

	hdrByte byte
	lenBuf  [4]byte
	lenLen  int

	remaining uint32
	body      []byte

	maxFrameSize uint32
}

// NewDecoder returns a Decoder ready to accept bytes at a fresh fixed
// header. maxFrameSize caps how large a single packet body may declare
// itself to be; a value of 0 disables the cap.
func NewDecoder(maxFrameSize uint32) *Decoder {
	return &Decoder{maxFrameSize: maxFrameSize}
}

// Feed appends b to the decoder's pending state and decodes as many
// complete packets as it can. consumedAny reports whether any byte of b
// advanced the decoder's state; it is false only for an empty feed. A
// non-nil error means the stream is malformed and the connection carrying
// it should be closed — the decoder does not attempt to resynchronize.
func (d *Decoder) Feed(b []byte) (consumedAny bool, packets []Packet, err error) {
	i, n := 0, len(b)

	// A body that is already complete (e.g. remaining length 0) is emitted
	// even when b has no bytes left.
	for i < n || (d.mode == awaitingBody && len(d.body) >= int(d.remaining)) {
		switch d.mode {
		case awaitingHeader:
			d.hdrByte = b[i]
			i++
			d.lenLen = 0
			d.mode = awaitingLength
			consumedAny = true

		case awaitingLength:
			d.lenBuf[d.lenLen] = b[i]
			i++
			d.lenLen++
			consumedAny = true

			rl, _, status := DecodeRemainingLength(d.lenBuf[:d.lenLen])
			switch status {
			case DecodeNeedMore:
				continue
			case DecodeMalformed:
				return consumedAny, packets, errors.Wrap(ErrMalformed, "remaining length")
			}

			if d.maxFrameSize > 0 && rl > d.maxFrameSize {
				return consumedAny, packets, errors.Wrapf(ErrFrameTooLarge, "declared length %d exceeds max frame size %d", rl, d.maxFrameSize)
			}

			d.remaining = rl
			if cap(d.body) < int(rl) {
				d.body = make([]byte, 0, rl)
			}
			d.body = d.body[:0]
			d.mode = awaitingBody

		case awaitingBody:
			need := int(d.remaining) - len(d.body)
			take := n - i
			if take > need {
				take = need
			}
			if take > 0 {
				d.body = append(d.body, b[i:i+take]...)
				i += take
				consumedAny = true
			}

			if len(d.body) < int(d.remaining) {
				return consumedAny, packets, nil
			}

			p, derr := decodeBody(Type(d.hdrByte&0xF0), d.hdrByte&0x0F, d.body)
			if derr != nil {
				return consumedAny, packets, derr
			}
			packets = append(packets, p)
			d.mode = awaitingHeader
		}
	}

	return consumedAny, packets, nil
}

func decodeBody(t Type, flags byte, body []byte) (Packet, error) {
	switch t {
	case TypeConnect:
		return decodeConnect(body)
	case TypeConnack:
		return decodeConnack(body)
	case TypePublish:
		return decodePublish(flags, body)
	case TypePuback:
		pid, err := decodeOnlyPacketID(body)
		return Puback{PacketID: pid}, err
	case TypePubrec:
		pid, err := decodeOnlyPacketID(body)
		return Pubrec{PacketID: pid}, err
	case TypePubrel:
		pid, err := decodeOnlyPacketID(body)
		return Pubrel{PacketID: pid}, err
	case TypePubcomp:
		pid, err := decodeOnlyPacketID(body)
		return Pubcomp{PacketID: pid}, err
	case TypeSubscribe:
		return decodeSubscribe(body)
	case TypeSuback:
		return decodeSuback(body)
	case TypeUnsubscribe:
		return decodeUnsubscribe(body)
	case TypeUnsuback:
		pid, err := decodeOnlyPacketID(body)
		return Unsuback{PacketID: pid}, err
	case TypePingreq:
		return Pingreq{}, nil
	case TypePingresp:
		return Pingresp{}, nil
	case TypeDisconnect:
		return Disconnect{}, nil
	default:
		return nil, errors.Wrapf(ErrMalformed, "unknown packet type 0x%x", byte(t))
	}
}

func decodeOnlyPacketID(body []byte) (uint16, error) {
	pid, _, err := takeUint16(body)
	return pid, err
}

func takeUint16(b []byte) (v uint16, rest []byte, err error) {
	if len(b) < 2 {
		return 0, nil, errors.Wrap(ErrMalformed, "truncated uint16")
	}
	return uint16(b[0])<<8 | uint16(b[1]), b[2:], nil
}

func takeUTF8(b []byte) (s string, rest []byte, err error) {
	l, rest, err := takeUint16(b)
	if err != nil {
		return "", nil, errors.Wrap(ErrMalformed, "truncated UTF-8 string length")
	}
	if len(rest) < int(l) {
		return "", nil, errors.Wrap(ErrMalformed, "truncated UTF-8 string")
	}
	return string(rest[:l]), rest[l:], nil
}

func takeBytes(b []byte, l int) (v, rest []byte, err error) {
	if len(b) < l {
		return nil, nil, errors.Wrap(ErrMalformed, "truncated byte field")
	}
	return b[:l], b[l:], nil
}

func decodeConnect(body []byte) (Packet, error) {
	var c Connect
	var err error

	c.ProtocolName, body, err = takeUTF8(body)
	if err != nil {
		return nil, err
	}

	var levelB, flagsB []byte
	levelB, body, err = takeBytes(body, 1)
	if err != nil {
		return nil, err
	}
	c.ProtocolLevel = levelB[0]

	flagsB, body, err = takeBytes(body, 1)
	if err != nil {
		return nil, err
	}
	flags := flagsB[0]
	c.UsernameFlag = flags&0x80 != 0
	c.PasswordFlag = flags&0x40 != 0
	c.WillRetain = flags&0x20 != 0
	c.WillQoS = QoS((flags >> 3) & 0x03)
	c.WillFlag = flags&0x04 != 0
	c.CleanSession = flags&0x02 != 0

	c.KeepAlive, body, err = takeUint16(body)
	if err != nil {
		return nil, err
	}

	c.ClientID, body, err = takeUTF8(body)
	if err != nil {
		return nil, err
	}

	if c.WillFlag {
		c.WillTopic, body, err = takeUTF8(body)
		if err != nil {
			return nil, err
		}
		var willLen uint16
		willLen, body, err = takeUint16(body)
		if err != nil {
			return nil, err
		}
		var wm []byte
		wm, body, err = takeBytes(body, int(willLen))
		if err != nil {
			return nil, err
		}
		c.WillMessage = append([]byte(nil), wm...)
	}

	if c.UsernameFlag {
		c.Username, body, err = takeUTF8(body)
		if err != nil {
			return nil, err
		}
	}

	if c.PasswordFlag {
		var pwLen uint16
		pwLen, body, err = takeUint16(body)
		if err != nil {
			return nil, err
		}
		var pw []byte
		pw, body, err = takeBytes(body, int(pwLen))
		if err != nil {
			return nil, err
		}
		c.Password = append([]byte(nil), pw...)
	}

	return c, nil
}

func decodeConnack(body []byte) (Packet, error) {
	flagsB, body, err := takeBytes(body, 1)
	if err != nil {
		return nil, err
	}
	rcB, _, err := takeBytes(body, 1)
	if err != nil {
		return nil, err
	}
	return Connack{
		SessionPresent: flagsB[0]&0x01 != 0,
		ReturnCode:     rcB[0],
	}, nil
}

func decodePublish(flags byte, body []byte) (Packet, error) {
	p := Publish{
		Dup:    flags&0x08 != 0,
		QoS:    QoS((flags >> 1) & 0x03),
		Retain: flags&0x01 != 0,
	}

	topic, rest, err := takeUTF8(body)
	if err != nil {
		return nil, err
	}
	p.Topic = topic

	if p.QoS != QoS0 {
		p.PacketID, rest, err = takeUint16(rest)
		if err != nil {
			return nil, err
		}
	}

	p.Payload = append([]byte(nil), rest...)
	return p, nil
}

func decodeSubscribe(body []byte) (Packet, error) {
	s := Subscribe{}
	pid, rest, err := takeUint16(body)
	if err != nil {
		return nil, err
	}
	s.PacketID = pid

	for len(rest) > 0 {
		var topic string
		topic, rest, err = takeUTF8(rest)
		if err != nil {
			return nil, err
		}
		var qosB []byte
		qosB, rest, err = takeBytes(rest, 1)
		if err != nil {
			return nil, err
		}
		s.Filters = append(s.Filters, SubscribeFilter{Topic: topic, QoS: QoS(qosB[0] & 0x03)})
	}
	if len(s.Filters) == 0 {
		return nil, errors.Wrap(ErrMalformed, "SUBSCRIBE with no filters")
	}
	return s, nil
}

func decodeSuback(body []byte) (Packet, error) {
	pid, rest, err := takeUint16(body)
	if err != nil {
		return nil, err
	}
	return Suback{PacketID: pid, ReturnCodes: append([]uint8(nil), rest...)}, nil
}

func decodeUnsubscribe(body []byte) (Packet, error) {
	u := Unsubscribe{}
	pid, rest, err := takeUint16(body)
	if err != nil {
		return nil, err
	}
	u.PacketID = pid

	for len(rest) > 0 {
		var topic string
		topic, rest, err = takeUTF8(rest)
		if err != nil {
			return nil, err
		}
		u.Filters = append(u.Filters, topic)
	}
	if len(u.Filters) == 0 {
		return nil, errors.Wrap(ErrMalformed, "UNSUBSCRIBE with no filters")
	}
	return u, nil
}
