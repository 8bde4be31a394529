package ssh

import (
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// directionState is one direction's packet-framing state: the cipher and
// MAC key (both nil until NewKeys), the current block size (8 pre-KEX, 16
// post) and MAC size (0 pre-KEX, 32 post), and the wrapping sequence
// number fed into every MAC.
type directionState struct {
	stream    cipher.Stream
	macKey    []byte
	blockSize int
	macSz     int
	seq       uint32
}

func newDirectionState() directionState {
	return directionState{blockSize: blockSizePreKex, macSz: 0}
}

func (d *directionState) install(stream cipher.Stream, macKey []byte) {
	d.stream = stream
	d.macKey = macKey
	d.blockSize = blockSizePostKex
	d.macSz = macSize
}

// packetConn is the binary packet protocol transport. Its read and write
// halves each own an independent directionState, but both set and check
// the shared poisoned error, so a packetConn is not safe for use from
// more than one goroutine at a time.
type packetConn struct {
	conn     net.Conn
	rand     io.Reader
	read     directionState
	write    directionState
	poisoned error
	metrics  *connMetrics
}

func newPacketConn(conn net.Conn, rand io.Reader, metrics *connMetrics) *packetConn {
	return &packetConn{
		conn:    conn,
		rand:    rand,
		read:    newDirectionState(),
		write:   newDirectionState(),
		metrics: metrics,
	}
}

func (pc *packetConn) installReadKeys(stream cipher.Stream, macKey []byte) {
	pc.read.install(stream, macKey)
}

func (pc *packetConn) installWriteKeys(stream cipher.Stream, macKey []byte) {
	pc.write.install(stream, macKey)
}

func isNetTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// readFullAtomic reads exactly len(buf) bytes. If the very first byte of
// the read fails with a timeout, nothing has been consumed and it is safe
// to report a recoverable Timeout. Any other failure, including a timeout
// after some bytes were already read, poisons the connection, because the
// cipher keystream may already have advanced past data the caller will
// never see again.
func (pc *packetConn) readFullAtomic(buf []byte) error {
	if pc.poisoned != nil {
		return pc.poisoned
	}
	n, err := io.ReadFull(pc.conn, buf)
	if err == nil {
		return nil
	}
	if n == 0 && isNetTimeout(err) {
		return newErr(KindTimeout, "read timed out")
	}
	poison := wrapErr(KindTransportIO, "short read mid-packet; connection poisoned", err)
	pc.poisoned = poison
	return poison
}

// readPacket reads and returns one filtered payload (message-type byte
// plus body). Ignore and no-reply GlobalRequest messages are consumed
// transparently and never returned to the caller.
func (pc *packetConn) readPacket() ([]byte, error) {
	for {
		payload, err := pc.readOnePacket()
		if err != nil {
			return nil, err
		}
		if len(payload) == 0 {
			return nil, newErr(KindInvalidData, "empty packet payload")
		}
		switch payload[0] {
		case msgIgnore:
			continue
		case msgDebug:
			dbg := &debugMsg{}
			if err := Unmarshal(payload, dbg); err != nil {
				return nil, err
			}
			componentLogger("packet").WithField("always_display", dbg.AlwaysDisplay).Debug(dbg.Message)
			continue
		case msgDisconnect:
			d := &disconnectMsg{}
			if err := Unmarshal(payload, d); err != nil {
				return nil, err
			}
			return nil, newErr(KindTransportIO, fmt.Sprintf("peer sent disconnect (reason %d): %s", d.ReasonCode, d.Message))
		case msgUnimplemented:
			u := &unimplementedMsg{}
			if err := Unmarshal(payload, u); err != nil {
				return nil, err
			}
			return nil, newErr(KindUnimplemented, fmt.Sprintf("peer reported packet %d unimplemented", u.PacketNumber))
		case msgGlobalRequest:
			wantReply, err := peekGlobalRequestWantReply(payload[1:])
			if err != nil {
				return nil, err
			}
			if !wantReply {
				continue
			}
			return payload, nil
		default:
			return payload, nil
		}
	}
}

func (pc *packetConn) readOnePacket() ([]byte, error) {
	bs := pc.read.blockSize

	first := make([]byte, bs)
	if err := pc.readFullAtomic(first); err != nil {
		return nil, err
	}
	if pc.read.stream != nil {
		pc.read.stream.XORKeyStream(first, first)
	}

	packetLength := binary.BigEndian.Uint32(first[:4])
	paddingLength := first[4]

	if packetLength < 1 || uint32(paddingLength)+1 > packetLength {
		pc.poisoned = newErr(KindInvalidData, "invalid packet_length/padding_length")
		return nil, pc.poisoned
	}

	rest := make([]byte, int(packetLength)-(bs-4))
	if len(rest) > 0 {
		if err := pc.readFullAtomic(rest); err != nil {
			// The first block is already consumed and decrypted, so even a
			// clean timeout here leaves the stream mid-packet.
			if pc.poisoned == nil {
				pc.poisoned = wrapErr(KindTransportIO, "read failed mid-packet; connection poisoned", err)
			}
			return nil, pc.poisoned
		}
		if pc.read.stream != nil {
			pc.read.stream.XORKeyStream(rest, rest)
		}
	}

	cleartext := make([]byte, 0, 4+int(packetLength))
	cleartext = append(cleartext, first...)
	cleartext = append(cleartext, rest...)

	if pc.read.macSz > 0 {
		trailer := make([]byte, pc.read.macSz)
		if err := pc.readFullAtomic(trailer); err != nil {
			if pc.poisoned == nil {
				pc.poisoned = wrapErr(KindTransportIO, "read failed mid-packet; connection poisoned", err)
			}
			return nil, pc.poisoned
		}
		want := computeMAC(pc.read.macKey, pc.read.seq, cleartext)
		if subtle.ConstantTimeCompare(want, trailer) != 1 {
			pc.poisoned = newErr(KindBadMac, "mac verification failed")
			return nil, pc.poisoned
		}
	}
	pc.read.seq++

	payloadStart := 5
	payloadEnd := 1 + int(packetLength) - int(paddingLength)
	if payloadEnd < payloadStart || payloadEnd > len(cleartext) {
		pc.poisoned = newErr(KindInvalidData, "invalid packet framing")
		return nil, pc.poisoned
	}
	payload := cleartext[payloadStart:payloadEnd]
	pc.metrics.packet("in", len(payload))
	return payload, nil
}

// writePacket frames and sends one payload (message-type byte plus body).
func (pc *packetConn) writePacket(payload []byte) error {
	if pc.poisoned != nil {
		return pc.poisoned
	}
	bs := pc.write.blockSize

	pad := bs - ((4 + 1 + len(payload)) % bs)
	if pad < 4 {
		pad += bs
	}

	packetLength := 1 + len(payload) + pad
	cleartext := make([]byte, 4+packetLength)
	binary.BigEndian.PutUint32(cleartext[:4], uint32(packetLength))
	cleartext[4] = byte(pad)
	copy(cleartext[5:], payload)
	padding := cleartext[5+len(payload):]
	if _, err := io.ReadFull(pc.rand, padding); err != nil {
		return wrapErr(KindTransportIO, "filling packet padding", err)
	}

	var mac []byte
	if pc.write.macSz > 0 {
		mac = computeMAC(pc.write.macKey, pc.write.seq, cleartext)
	}
	pc.write.seq++

	if pc.write.stream != nil {
		pc.write.stream.XORKeyStream(cleartext, cleartext)
	}
	if mac != nil {
		cleartext = append(cleartext, mac...)
	}

	if _, err := pc.conn.Write(cleartext); err != nil {
		pc.poisoned = wrapErr(KindTransportIO, "writing packet", err)
		return pc.poisoned
	}
	pc.metrics.packet("out", len(payload))
	return nil
}
