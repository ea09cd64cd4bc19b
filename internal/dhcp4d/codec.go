// Package dhcp4d implements the minimal DHCP server the provisioning
// run depends on: a fixed BOOTP header, a small option trailer, a
// hardware-address-keyed lease table, and a single cooperative server
// loop.
//
// The wire-level primitives (Packet as a byte buffer with typed field
// accessors, Options as a code->value map, message type and option code
// constants) are krolaw/dhcp4's; this package owns the actual
// parse/validate/emit logic rather than delegating everything to
// dhcp4.ReplyPacket's option defaults.
package dhcp4d

import (
	"net"
	"time"

	dhcp "github.com/krolaw/dhcp4"
)

// magicCookie is the fixed 4-byte DHCP option-field marker from RFC 2131.
var magicCookie = [4]byte{99, 130, 83, 99}

// minPacketLen is the fixed BOOTP header (236 bytes) plus the magic cookie
// (4 bytes).
const minPacketLen = 236 + 4

// MessageType re-exports the subset of dhcp4.MessageType this server acts
// on.
type MessageType = dhcp.MessageType

const (
	Discover MessageType = dhcp.Discover
	Request  MessageType = dhcp.Request
	Decline  MessageType = dhcp.Decline
	Release  MessageType = dhcp.Release
	Inform   MessageType = dhcp.Inform
)

// Parse validates a raw datagram and returns the decoded packet, its
// message type, and its options. Packets shorter than 240 bytes or with a
// bad magic cookie are discarded silently: ok is false and no
// error is surfaced, since a foreign broadcast on the segment is an
// expected, not exceptional, occurrence.
func Parse(raw []byte) (p dhcp.Packet, msgType MessageType, options dhcp.Options, ok bool) {
	if len(raw) < minPacketLen {
		return nil, 0, nil, false
	}
	cookieOff := 236
	if raw[cookieOff] != magicCookie[0] || raw[cookieOff+1] != magicCookie[1] ||
		raw[cookieOff+2] != magicCookie[2] || raw[cookieOff+3] != magicCookie[3] {
		return nil, 0, nil, false
	}

	p = dhcp.Packet(raw)
	options = p.ParseOptions()

	mtOpt, present := options[dhcp.OptionDHCPMessageType]
	if !present || len(mtOpt) != 1 {
		return nil, 0, nil, false
	}
	msgType = MessageType(mtOpt[0])
	return p, msgType, options, true
}

// ReplyOptions describes the fixed set of options emitted in every
// OFFER/ACK: subnet mask, router, name server (both reused as the server's
// own address), and lease time.
type ReplyOptions struct {
	SubnetMask net.IPMask
	Router     net.IP
	NameServer net.IP
	LeaseTime  time.Duration
}

func (r ReplyOptions) encode() []dhcp.Option {
	return []dhcp.Option{
		{Code: dhcp.OptionSubnetMask, Value: []byte(r.SubnetMask)},
		{Code: dhcp.OptionRouter, Value: r.Router.To4()},
		{Code: dhcp.OptionDomainNameServer, Value: r.NameServer.To4()},
	}
}

// BuildOffer constructs an OFFER reply: op=2, htype=1, hlen=6, xid copied
// from req, yiaddr=offered, siaddr=server, chaddr=the first six octets of
// the client's hardware address, plus the fixed option set with message
// type 2.
func BuildOffer(req dhcp.Packet, server, offered net.IP, opts ReplyOptions) dhcp.Packet {
	return buildReply(req, dhcp.Offer, server, offered, opts)
}

// BuildAck constructs an ACK reply, identical in shape to an OFFER but with
// message type 5.
func BuildAck(req dhcp.Packet, server, assigned net.IP, opts ReplyOptions) dhcp.Packet {
	return buildReply(req, dhcp.ACK, server, assigned, opts)
}

// buildReply delegates message type (53), server identifier (54), and
// lease time (51) to dhcp4.ReplyPacket, which derives them from mt, server,
// and leaseDuration; we supply the subnet mask, router, and name server
// options (1, 3, 6) ourselves, and fix up htype/chaddr/siaddr.
func buildReply(req dhcp.Packet, mt dhcp.MessageType, server, yiaddr net.IP, opts ReplyOptions) dhcp.Packet {
	reply := dhcp.ReplyPacket(req, mt, server, yiaddr, opts.LeaseTime, opts.encode())
	reply.SetHType(1)
	reply.SetCHAddr(req.CHAddr())
	reply.SetSIAddr(server)
	return reply
}
