package ssh

import (
	"crypto/ed25519"
	"strings"
)

// AuthMethod is implemented by the two authentication flows this core
// supports. Only the first configured method is attempted, with no
// retry-with-next-method loop.
type AuthMethod interface {
	authenticate(pc *packetConn, username string, sessionID []byte) error
}

// Password implements AuthMethod for RFC 4252 section 8 password
// authentication.
type Password string

func (p Password) authenticate(pc *packetConn, username string, _ []byte) error {
	req := newPasswordRequest(username, serviceSSH, string(p))
	if err := pc.writePacket(req.dump()); err != nil {
		return err
	}
	return expectUserauthSuccess(pc)
}

// PublicKey implements AuthMethod for RFC 4252 section 7 two-phase
// ed25519 public-key authentication: an unsigned probe (phase 1) followed
// by a signed request (phase 2) once the server confirms the key is
// acceptable.
type PublicKey struct {
	PrivateKey ed25519.PrivateKey // 64-byte seed||public, as returned by GenerateKeypair/ParseHexKeypair
	PublicKey  ed25519.PublicKey
}

func (k PublicKey) pubKeyBlob() Blob {
	return Blob{Header: hostKeyAlgoED25519, Content: []byte(k.PublicKey)}
}

func (k PublicKey) authenticate(pc *packetConn, username string, sessionID []byte) error {
	blob := k.pubKeyBlob()

	phase1 := newPublicKeyRequest(username, serviceSSH, hostKeyAlgoED25519, blob, nil)
	if err := pc.writePacket(phase1.dump()); err != nil {
		return err
	}
	payload, err := pc.readPacket()
	if err != nil {
		return err
	}
	switch payload[0] {
	case msgUserauthPkOk:
		ok := &userauthPkOkMsg{}
		if err := Unmarshal(payload, ok); err != nil {
			return err
		}
	case msgUserauthFailure:
		return authFailureErr(payload)
	default:
		return unexpectedMessageError(msgUserauthPkOk, payload[0])
	}

	signed := signUserauth(sessionID, username, serviceSSH, blob)
	sig := ed25519.Sign(k.PrivateKey, signed)
	sigBlob := Blob{Header: hostKeyAlgoED25519, Content: sig}

	phase2 := newPublicKeyRequest(username, serviceSSH, hostKeyAlgoED25519, blob, &sigBlob)
	if err := pc.writePacket(phase2.dump()); err != nil {
		return err
	}
	return expectUserauthSuccess(pc)
}

// signUserauth builds the exact byte layout RFC 4252 section 7 and this
// core's phase-2 handshake sign over: session_id, message type 50, then
// the same (username, service, "publickey", true, algorithm, blob) tuple
// sent on the wire.
func signUserauth(sessionID []byte, username, service string, pubKeyBlob Blob) []byte {
	buf := appendBytes(nil, sessionID)
	buf = append(buf, msgUserauthRequest)
	buf = appendString(buf, username)
	buf = appendString(buf, service)
	buf = appendString(buf, "publickey")
	buf = appendBool(buf, true)
	buf = appendString(buf, hostKeyAlgoED25519)
	buf = appendBlob(buf, pubKeyBlob)
	return buf
}

func expectUserauthSuccess(pc *packetConn) error {
	payload, err := pc.readPacket()
	if err != nil {
		return err
	}
	switch payload[0] {
	case msgUserauthSuccess:
		return nil
	case msgUserauthFailure:
		return authFailureErr(payload)
	default:
		return unexpectedMessageError(msgUserauthSuccess, payload[0])
	}
}

func authFailureErr(payload []byte) error {
	fail := &userauthFailureMsg{}
	if err := Unmarshal(payload, fail); err != nil {
		return wrapErr(KindAuthenticationFailure, "authentication failed", err)
	}
	return wrapErr(KindAuthenticationFailure, "server rejected credentials (allowed: "+fail.Methods+")", nil)
}

// probeAuthMethods implements ClientConfig.DontAuthenticate: a "none"
// userauth request whose resulting UserauthFailure.Methods lists what the
// server actually supports, without attempting real authentication.
func probeAuthMethods(pc *packetConn, username string) ([]string, error) {
	req := newNoneRequest(username, serviceSSH)
	if err := pc.writePacket(req.dump()); err != nil {
		return nil, err
	}
	payload, err := pc.readPacket()
	if err != nil {
		return nil, err
	}
	switch payload[0] {
	case msgUserauthSuccess:
		return nil, nil
	case msgUserauthFailure:
		fail := &userauthFailureMsg{}
		if err := Unmarshal(payload, fail); err != nil {
			return nil, err
		}
		if fail.Methods == "" {
			return nil, nil
		}
		return strings.Split(fail.Methods, ","), nil
	default:
		return nil, unexpectedMessageError(msgUserauthFailure, payload[0])
	}
}
