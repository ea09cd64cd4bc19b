package dhcp4d

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"

	dhcp "github.com/krolaw/dhcp4"
)

// rawDiscover builds a minimal BOOTP DISCOVER datagram by hand (the
// 240-byte header and magic cookie plus a message-type option and end),
// since this package only ever needs to decode packets a real client
// sends, not construct client-side ones.
func rawDiscover(xid [4]byte, chaddr [6]byte) []byte {
	buf := make([]byte, 240)
	buf[0] = 1 // BOOTREQUEST
	buf[1] = 1 // htype ethernet
	buf[2] = 6 // hlen
	copy(buf[4:8], xid[:])
	copy(buf[28:34], chaddr[:])
	copy(buf[236:240], magicCookie[:])
	return append(buf, 53, 1, 1, 255) // option 53 = message type 1 (DISCOVER), then end
}

func TestParseRejectsShortPacket(t *testing.T) {
	if _, _, _, ok := Parse(make([]byte, 100)); ok {
		t.Fatal("expected short packet to be rejected")
	}
}

func TestParseRejectsBadCookie(t *testing.T) {
	raw := rawDiscover([4]byte{1, 2, 3, 4}, [6]byte{0, 0x40, 0x8c, 1, 2, 3})
	raw[236] = 0
	if _, _, _, ok := Parse(raw); ok {
		t.Fatal("expected bad magic cookie to be rejected")
	}
}

func TestParseRecoversMessageType(t *testing.T) {
	raw := rawDiscover([4]byte{1, 2, 3, 4}, [6]byte{0, 0x40, 0x8c, 1, 2, 3})
	p, msgType, _, ok := Parse(raw)
	if !ok {
		t.Fatal("expected packet to parse")
	}
	if msgType != Discover {
		t.Fatalf("msgType = %v, want Discover", msgType)
	}
	if !bytes.Equal(p.XId(), []byte{1, 2, 3, 4}) {
		t.Fatalf("XId() = %v", p.XId())
	}
}

func TestBuildOfferRoundTrip(t *testing.T) {
	xid := [4]byte{0xaa, 0xbb, 0xcc, 0xdd}
	chaddr := [6]byte{0, 0x40, 0x8c, 0x01, 0x02, 0x03}
	req, _, _, ok := Parse(rawDiscover(xid, chaddr))
	if !ok {
		t.Fatal("failed to parse synthetic request")
	}

	server := net.ParseIP("192.168.1.1").To4()
	offered := net.ParseIP("192.168.1.50").To4()
	opts := ReplyOptions{
		SubnetMask: net.IPMask(net.ParseIP("255.255.255.0").To4()),
		Router:     server,
		NameServer: server,
		LeaseTime:  time.Hour,
	}

	reply := BuildOffer(req, server, offered, opts)

	if reply.OpCode() != dhcp.BootReply {
		t.Errorf("OpCode() = %v, want BootReply", reply.OpCode())
	}
	if !bytes.Equal(reply.XId(), xid[:]) {
		t.Errorf("XId() = %v, want %v", reply.XId(), xid)
	}
	if !reply.YIAddr().Equal(offered) {
		t.Errorf("YIAddr() = %v, want %v", reply.YIAddr(), offered)
	}
	if !reply.SIAddr().Equal(server) {
		t.Errorf("SIAddr() = %v, want %v", reply.SIAddr(), server)
	}
	if reply.CHAddr().String() != net.HardwareAddr(chaddr[:]).String() {
		t.Errorf("CHAddr() = %v, want %v", reply.CHAddr(), chaddr)
	}

	replyOpts := reply.ParseOptions()
	if mt := replyOpts[dhcp.OptionDHCPMessageType]; len(mt) != 1 || MessageType(mt[0]) != dhcp.Offer {
		t.Errorf("message type option = %v, want [2]", mt)
	}
	if !net.IP(replyOpts[dhcp.OptionServerIdentifier]).Equal(server) {
		t.Errorf("server identifier option = %v, want %v", net.IP(replyOpts[dhcp.OptionServerIdentifier]), server)
	}
	if lt := replyOpts[dhcp.OptionIPAddressLeaseTime]; len(lt) != 4 || binary.BigEndian.Uint32(lt) != 3600 {
		t.Errorf("lease time option = %v, want 3600s big-endian", lt)
	}
	mask := net.IPMask(replyOpts[dhcp.OptionSubnetMask])
	if ones, _ := mask.Size(); ones != 24 {
		t.Errorf("subnet mask = %v, want /24", mask)
	}
	if !net.IP(replyOpts[dhcp.OptionRouter]).Equal(server) {
		t.Errorf("router option = %v, want %v", net.IP(replyOpts[dhcp.OptionRouter]), server)
	}
	if !net.IP(replyOpts[dhcp.OptionDomainNameServer]).Equal(server) {
		t.Errorf("name server option = %v, want %v", net.IP(replyOpts[dhcp.OptionDomainNameServer]), server)
	}
}
