package ssh

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignUserauthLayoutVerifiesWithEd25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	sessionID := []byte{0xde, 0xad, 0xbe, 0xef}
	blob := Blob{Header: hostKeyAlgoED25519, Content: []byte(pub)}

	signed := signUserauth(sessionID, "alice", serviceSSH, blob)
	sig := ed25519.Sign(priv, signed)
	require.True(t, ed25519.Verify(pub, signed, sig))

	// The layout starts with the raw session_id as a byte string, not a
	// bare concatenation, followed immediately by the request type byte.
	r := &reader{buf: signed}
	gotSessionID, err := r.bytes()
	require.NoError(t, err)
	require.Equal(t, sessionID, gotSessionID)
	msgType, err := r.u8()
	require.NoError(t, err)
	require.Equal(t, byte(msgUserauthRequest), msgType)
}

func TestPublicKeyAuthenticateSendsPhase1ThenPhase2(t *testing.T) {
	pc, peer := newTestPacketConnPair(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	method := PublicKey{PrivateKey: priv, PublicKey: pub}
	sessionID := []byte("session")

	done := make(chan error, 1)
	go func() { done <- method.authenticate(pc, "bob", sessionID) }()

	phase1, err := peer.readPacket()
	require.NoError(t, err)
	req, err := parseUserauthRequest(phase1)
	require.NoError(t, err)
	require.Equal(t, "publickey", req.Method)
	require.Nil(t, req.Signature)

	require.NoError(t, peer.writePacket(Marshal(&userauthPkOkMsg{
		Algo: hostKeyAlgoED25519,
		Blob: req.PubKey,
	})))

	phase2, err := peer.readPacket()
	require.NoError(t, err)
	req2, err := parseUserauthRequest(phase2)
	require.NoError(t, err)
	require.NotNil(t, req2.Signature)
	signed := signUserauth(sessionID, "bob", serviceSSH, req2.PubKey)
	require.True(t, ed25519.Verify(pub, signed, req2.Signature.Content))

	require.NoError(t, peer.writePacket(Marshal(&userauthSuccessMsg{})))
	require.NoError(t, <-done)
}

func TestPasswordAuthenticateFailure(t *testing.T) {
	pc, peer := newTestPacketConnPair(t)
	method := Password("hunter2")

	done := make(chan error, 1)
	go func() { done <- method.authenticate(pc, "bob", nil) }()

	payload, err := peer.readPacket()
	require.NoError(t, err)
	req, err := parseUserauthRequest(payload)
	require.NoError(t, err)
	require.Equal(t, "password", req.Method)
	require.Equal(t, "hunter2", req.Password)

	require.NoError(t, peer.writePacket(Marshal(&userauthFailureMsg{Methods: "publickey"})))

	err = <-done
	require.Error(t, err)
	sshErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, KindAuthenticationFailure, sshErr.Kind)
}

func TestProbeAuthMethodsParsesFailureMethodsList(t *testing.T) {
	pc, peer := newTestPacketConnPair(t)

	done := make(chan struct {
		methods []string
		err     error
	}, 1)
	go func() {
		m, err := probeAuthMethods(pc, "bob")
		done <- struct {
			methods []string
			err     error
		}{m, err}
	}()

	payload, err := peer.readPacket()
	require.NoError(t, err)
	req, err := parseUserauthRequest(payload)
	require.NoError(t, err)
	require.Equal(t, "none", req.Method)

	require.NoError(t, peer.writePacket(Marshal(&userauthFailureMsg{Methods: "publickey,password"})))

	result := <-done
	require.NoError(t, result.err)
	require.Equal(t, []string{"publickey", "password"}, result.methods)
}
