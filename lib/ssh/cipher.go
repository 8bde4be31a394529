package ssh

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
)

const (
	aes256KeySize = 32
	aesBlockSize  = 16
	macKeySize    = 32
	macSize       = 32

	// blockSizePreKex is the minimum block size RFC 4253 allows before
	// encryption is active; blockSizePostKex is the true AES block size
	// installed once NewKeys completes.
	blockSizePreKex  = 8
	blockSizePostKex = aesBlockSize
)

// directionKeys holds one direction's derived key material: a 16-byte IV,
// a 32-byte AES-256 key and a 32-byte HMAC-SHA-256 key.
type directionKeys struct {
	iv      []byte
	encKey  []byte
	integKey []byte
}

// deriveKey implements RFC 4253 section 7.2's key derivation, extended
// past one SHA-256 output as needed. K1 = SHA256(K ∥ H ∥ magic ∥
// session_id); each extension round is SHA256(K ∥ H ∥ out-so-far) instead,
// since only the first round carries the magic byte.
func deriveKey(dumpedK, h []byte, magic byte, sessionID []byte, size int) []byte {
	var out []byte
	var round []byte
	for len(out) < size {
		hash := sha256.New()
		hash.Write(dumpedK)
		hash.Write(h)
		if round == nil {
			hash.Write([]byte{magic})
			hash.Write(sessionID)
		} else {
			hash.Write(out)
		}
		round = hash.Sum(nil)
		out = append(out, round...)
	}
	return out[:size]
}

// deriveDirectionKeys computes all six RFC 4253 section 7.2 keys from the
// shared secret K (raw bytes, not yet mpint-encoded), the exchange hash H
// and the immutable session_id.
func deriveDirectionKeys(sharedSecret, h, sessionID []byte) (clientToServer, serverToClient directionKeys) {
	dumpedK := appendMPInt(nil, sharedSecret)

	clientToServer.iv = deriveKey(dumpedK, h, 'A', sessionID, aesBlockSize)
	serverToClient.iv = deriveKey(dumpedK, h, 'B', sessionID, aesBlockSize)
	clientToServer.encKey = deriveKey(dumpedK, h, 'C', sessionID, aes256KeySize)
	serverToClient.encKey = deriveKey(dumpedK, h, 'D', sessionID, aes256KeySize)
	clientToServer.integKey = deriveKey(dumpedK, h, 'E', sessionID, macKeySize)
	serverToClient.integKey = deriveKey(dumpedK, h, 'F', sessionID, macKeySize)
	return
}

func newAES256CTRStream(key, iv []byte) (cipher.Stream, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, wrapErr(KindTransportIO, "constructing aes-256-ctr cipher", err)
	}
	return cipher.NewCTR(block, iv), nil
}

// computeMAC returns HMAC-SHA2-256(key, seqBE32 ∥ cleartext).
func computeMAC(key []byte, seq uint32, cleartext []byte) []byte {
	mac := hmac.New(sha256.New, key)
	var seqBuf [4]byte
	seqBuf[0] = byte(seq >> 24)
	seqBuf[1] = byte(seq >> 16)
	seqBuf[2] = byte(seq >> 8)
	seqBuf[3] = byte(seq)
	mac.Write(seqBuf[:])
	mac.Write(cleartext)
	return mac.Sum(nil)
}
