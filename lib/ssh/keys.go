package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
)

// GenerateKeypair produces a fresh ed25519 keypair and its 128-character
// lowercase hex encoding (64-byte seed||public), the on-disk form this
// core's credential fixtures use.
func GenerateKeypair() (hexKeypair string, priv ed25519.PrivateKey, pub ed25519.PublicKey, err error) {
	pub, priv, err = ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", nil, nil, wrapErr(KindInvalidData, "generating ed25519 keypair", err)
	}
	return hex.EncodeToString(priv), priv, pub, nil
}

// ParseHexKeypair decodes the 128-character hex form back into an
// ed25519.PrivateKey/PublicKey pair.
func ParseHexKeypair(hexKeypair string) (priv ed25519.PrivateKey, pub ed25519.PublicKey, err error) {
	raw, err := hex.DecodeString(hexKeypair)
	if err != nil || len(raw) != ed25519.PrivateKeySize {
		return nil, nil, newErr(KindInvalidKeypair, "keypair is not 128 hex characters")
	}
	priv = ed25519.PrivateKey(raw)
	pub = priv.Public().(ed25519.PublicKey)
	return priv, pub, nil
}

// AuthorizedKeyLine renders pub as an "authorized_keys"-style line:
// "ssh-ed25519 <base64-no-pad-blob> <username>\n".
func AuthorizedKeyLine(pub ed25519.PublicKey, username string) string {
	dumped := appendString(nil, hostKeyAlgoED25519)
	dumped = appendBytes(dumped, []byte(pub))
	return "ssh-ed25519 " + base64.RawStdEncoding.EncodeToString(dumped) + " " + username + "\n"
}
