package ssh

import (
	"crypto/ed25519"
	"crypto/sha256"
	"io"
	"net"
	"strings"

	"golang.org/x/crypto/curve25519"
)

const packageVersion = "SSH-2.0-coressh"

const maxBannerLines = 64
const maxBannerLineLen = 4096

// readBannerLine reads one CRLF- or LF-terminated line directly off conn,
// one byte at a time. It must not buffer past the line: everything after
// it belongs to the binary packet protocol and packetConn needs to see it
// unconsumed.
func readBannerLine(conn net.Conn) (string, error) {
	var line []byte
	one := make([]byte, 1)
	for {
		if len(line) > maxBannerLineLen {
			return "", newErr(KindInvalidData, "banner line too long")
		}
		n, err := conn.Read(one)
		if n == 0 {
			if err == nil {
				continue
			}
			if isNetTimeout(err) {
				return "", newErr(KindTimeout, "timed out reading version banner")
			}
			return "", wrapErr(KindTransportIO, "reading version banner", err)
		}
		if one[0] == '\n' {
			break
		}
		line = append(line, one[0])
	}
	return strings.TrimSuffix(string(line), "\r"), nil
}

// exchangeVersions writes our banner and reads the peer's, discarding any
// non-banner lines the server sends first.
func exchangeVersions(conn net.Conn, clientVersion string) (serverVersion string, err error) {
	if _, err := conn.Write([]byte(clientVersion + "\r\n")); err != nil {
		return "", wrapErr(KindTransportIO, "writing version banner", err)
	}
	for i := 0; i < maxBannerLines; i++ {
		line, err := readBannerLine(conn)
		if err != nil {
			return "", err
		}
		if strings.HasPrefix(line, "SSH-2.0-") || strings.HasPrefix(line, "SSH-1.99-") {
			return line, nil
		}
	}
	return "", newErr(KindInvalidData, "no SSH version banner seen")
}

func buildKexInit(rnd io.Reader) (*KexInitMsg, error) {
	msg := &KexInitMsg{
		KexAlgos:                fixedKexAlgos,
		ServerHostKeyAlgos:      fixedHostKeyAlgos,
		CiphersClientServer:     fixedCiphers,
		CiphersServerClient:     fixedCiphers,
		MACsClientServer:        fixedMACs,
		MACsServerClient:        fixedMACs,
		CompressionClientServer: fixedCompression,
		CompressionServerClient: fixedCompression,
	}
	if _, err := io.ReadFull(rnd, msg.Cookie[:]); err != nil {
		return nil, wrapErr(KindTransportIO, "generating kexinit cookie", err)
	}
	return msg, nil
}

// handshakeResult carries everything the post-KEX phases (auth, channel)
// and key installation need.
type handshakeResult struct {
	h            []byte
	sharedSecret []byte
	hostKey      ed25519.PublicKey
}

// kexInitExchange is the result of the KexInit round trip: the raw
// packets (needed verbatim as exchange-hash input later) and the agreed
// algorithm suite.
type kexInitExchange struct {
	clientInitPacket []byte
	serverInitPacket []byte
	algorithms       *Algorithms
}

// exchangeKexInit drives the KexInit round trip only: send ours, read and
// parse the peer's, and confirm the offered suites agree. Nothing past
// this point (ECDH, host verification, NewKeys) has run yet, so a caller
// that only wants version and capability information can stop here.
func exchangeKexInit(pc *packetConn, config *Config) (*kexInitExchange, error) {
	clientInit, err := buildKexInit(config.Rand)
	if err != nil {
		return nil, err
	}
	clientInitPacket := Marshal(clientInit)
	if err := pc.writePacket(clientInitPacket); err != nil {
		return nil, err
	}
	if config.ConnLog != nil {
		config.ConnLog.ClientKex = clientInit
	}

	serverInitPacket, err := pc.readPacket()
	if err != nil {
		return nil, err
	}
	if serverInitPacket[0] != msgKexInit {
		return nil, unexpectedMessageError(msgKexInit, serverInitPacket[0])
	}
	serverInit := &KexInitMsg{}
	if err := Unmarshal(serverInitPacket, serverInit); err != nil {
		return nil, err
	}
	if config.ConnLog != nil {
		config.ConnLog.ServerKex = serverInit
	}

	algs, err := findAgreedAlgorithms(serverInit)
	if err != nil {
		return nil, err
	}
	if config.ConnLog != nil {
		config.ConnLog.AlgorithmSelection = algs
	}

	// RFC 4253 section 7: a guessed packet following a KexInit whose
	// first preference didn't match is ignored. We only ever offer one
	// algorithm per category, so any FirstKexFollows guess necessarily
	// used the algorithm we offered; nothing to skip.

	return &kexInitExchange{
		clientInitPacket: clientInitPacket,
		serverInitPacket: serverInitPacket,
		algorithms:       algs,
	}, nil
}

// completeKeyExchange drives the ECDH exchange, the exchange hash, host
// key verification, and the NewKeys handshake that follow a completed
// kexInitExchange.
func completeKeyExchange(pc *packetConn, clientBanner, serverBanner string, init *kexInitExchange, config *Config) (*handshakeResult, error) {
	var clientPriv [32]byte
	if _, err := io.ReadFull(config.Rand, clientPriv[:]); err != nil {
		return nil, wrapErr(KindTransportIO, "generating ephemeral kex key", err)
	}
	clientPub, err := curve25519.X25519(clientPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, wrapErr(KindInvalidData, "computing curve25519 public key", err)
	}

	if err := pc.writePacket(Marshal(&kexdhInitMsg{ClientPubKey: clientPub})); err != nil {
		return nil, err
	}

	replyPacket, err := pc.readPacket()
	if err != nil {
		return nil, err
	}
	if replyPacket[0] != msgKexdhReply {
		return nil, unexpectedMessageError(msgKexdhReply, replyPacket[0])
	}
	reply := &kexdhReplyMsg{}
	if err := Unmarshal(replyPacket, reply); err != nil {
		return nil, err
	}
	if reply.HostKey.Header != hostKeyAlgoED25519 || len(reply.HostKey.Content) != ed25519.PublicKeySize {
		return nil, newErr(KindInvalidData, "malformed host key blob")
	}
	if len(reply.ServerPubKey) != 32 {
		return nil, newErr(KindInvalidData, "malformed server ephemeral public key")
	}
	if reply.Signature.Header != hostKeyAlgoED25519 || len(reply.Signature.Content) != ed25519.SignatureSize {
		return nil, newErr(KindInvalidData, "malformed exchange hash signature")
	}

	sharedSecret, err := curve25519.X25519(clientPriv[:], reply.ServerPubKey)
	if err != nil {
		return nil, wrapErr(KindInvalidData, "computing curve25519 shared secret", err)
	}

	hashInput := &exchangeHashInput{
		ClientBanner:         clientBanner,
		ServerBanner:         serverBanner,
		ClientKexInitPayload: init.clientInitPacket,
		ServerKexInitPayload: init.serverInitPacket,
		HostKeyBlob:          reply.HostKey,
		ClientEphPub:         clientPub,
		ServerEphPub:         reply.ServerPubKey,
		SharedSecret:         MPInt(sharedSecret),
	}
	hSum := sha256.Sum256(Marshal(hashInput))
	h := hSum[:]

	hostKey := ed25519.PublicKey(reply.HostKey.Content)
	if !ed25519.Verify(hostKey, h, reply.Signature.Content) {
		return nil, newErr(KindHostKeyNotVerifiable, "exchange hash signature did not verify")
	}

	result := &handshakeResult{h: h, sharedSecret: sharedSecret, hostKey: hostKey}

	if err := pc.writePacket([]byte{msgNewKeys}); err != nil {
		return nil, err
	}
	ackPacket, err := pc.readPacket()
	if err != nil {
		return nil, err
	}
	if ackPacket[0] != msgNewKeys {
		return nil, unexpectedMessageError(msgNewKeys, ackPacket[0])
	}

	return result, nil
}

func installDerivedKeys(pc *packetConn, sharedSecret, h, sessionID []byte) error {
	c2s, s2c := deriveDirectionKeys(sharedSecret, h, sessionID)
	writeStream, err := newAES256CTRStream(c2s.encKey, c2s.iv)
	if err != nil {
		return err
	}
	readStream, err := newAES256CTRStream(s2c.encKey, s2c.iv)
	if err != nil {
		return err
	}
	pc.installWriteKeys(writeStream, c2s.integKey)
	pc.installReadKeys(readStream, s2c.integKey)
	return nil
}

func requestUserAuthService(pc *packetConn) error {
	if err := pc.writePacket(Marshal(&serviceRequestMsg{Service: serviceUserAuth})); err != nil {
		return err
	}
	payload, err := pc.readPacket()
	if err != nil {
		return err
	}
	if payload[0] != msgServiceAccept {
		return unexpectedMessageError(msgServiceAccept, payload[0])
	}
	accept := &serviceAcceptMsg{}
	if err := Unmarshal(payload, accept); err != nil {
		return err
	}
	if accept.Service != serviceUserAuth {
		return newErr(KindInvalidData, "service accept named unexpected service "+accept.Service)
	}
	return nil
}
