package frame

import "testing"

func TestEstimateSizeFitsEncodedBody(t *testing.T) {
	cases := []Packet{
		Connect{ProtocolName: "MQTT", ProtocolLevel: 4, ClientID: "c1", KeepAlive: 30},
		Connect{ProtocolName: "MQTT", ProtocolLevel: 4, ClientID: "c1", KeepAlive: 30,
			WillFlag: true, WillTopic: "lwt", WillMessage: []byte("bye"),
			UsernameFlag: true, Username: "u", PasswordFlag: true, Password: []byte("p")},
		Connack{ReturnCode: 0},
		Publish{QoS: QoS0, Topic: "t", Payload: []byte("hi")},
		Publish{QoS: QoS2, Topic: "t", PacketID: 5, Payload: []byte("hi")},
		Puback{PacketID: 1},
		Subscribe{PacketID: 9, Filters: []SubscribeFilter{{Topic: "a", QoS: QoS1}, {Topic: "b", QoS: QoS0}}},
		Suback{PacketID: 9, ReturnCodes: []uint8{0, 0x80}},
		Unsubscribe{PacketID: 2, Filters: []string{"a", "b/c"}},
		Pingreq{},
	}

	for _, p := range cases {
		size := EstimateSize(p)
		dst := make([]byte, size)
		if err := encodeBody(p, dst); err != nil {
			t.Fatalf("%T: encodeBody: %v", p, err)
		}
	}
}

func TestEncodeManyErrBufferTooSmall(t *testing.T) {
	p := Publish{QoS: QoS1, Topic: "topic", PacketID: 1, Payload: []byte("payload")}
	size := EstimateSize(p)
	entries := []Entry{{Packet: p, Size: size}}

	dst := make([]byte, 1) // far too small
	if _, err := EncodeMany(entries, dst); err != ErrBufferTooSmall {
		t.Fatalf("got %v, want ErrBufferTooSmall", err)
	}
}

func TestEncodeManyExactSizeSucceeds(t *testing.T) {
	p := Puback{PacketID: 42}
	size := EstimateSize(p)
	entries := []Entry{{Packet: p, Size: size}}

	total := 1 + SizeOfRemainingLength(uint32(size)) + size
	dst := make([]byte, total)
	n, err := EncodeMany(entries, dst)
	if err != nil {
		t.Fatal(err)
	}
	if n != total {
		t.Fatalf("got %d, want %d", n, total)
	}
	if dst[0] != byte(TypePuback) {
		t.Fatalf("got header byte %x, want %x", dst[0], byte(TypePuback))
	}
}
