// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// The algorithm suite is fixed: this core never negotiates among
// alternatives, it only confirms the peer also names the one algorithm it
// offers per category.
const (
	kexAlgoCurve25519SHA256 = "curve25519-sha256"
	hostKeyAlgoED25519      = "ssh-ed25519"
	cipherAES256CTR         = "aes256-ctr"
	macHMACSHA256           = "hmac-sha2-256"
	compressionNone         = "none"

	serviceUserAuth = "ssh-userauth"
	serviceSSH      = "ssh-connection"
)

var fixedKexAlgos = NameList{kexAlgoCurve25519SHA256}
var fixedHostKeyAlgos = NameList{hostKeyAlgoED25519}
var fixedCiphers = NameList{cipherAES256CTR}
var fixedMACs = NameList{macHMACSHA256}
var fixedCompression = NameList{compressionNone}

// DirectionAlgorithms names the algorithms agreed for one direction of
// traffic. Because the suite is fixed, every field always holds the same
// constant after a successful handshake; the struct still exists so
// HandshakeLog shapes its JSON the way the rest of this module's
// connection logs do.
type DirectionAlgorithms struct {
	Cipher      string `json:"cipher"`
	MAC         string `json:"mac"`
	Compression string `json:"compression"`
}

// Algorithms is the negotiated algorithm set for a connection, recorded on
// HandshakeLog.AlgorithmSelection.
type Algorithms struct {
	Kex     string
	HostKey string
	W       DirectionAlgorithms
	R       DirectionAlgorithms
}

func (alg *Algorithms) MarshalJSON() ([]byte, error) {
	aux := struct {
		Kex     string              `json:"dh_kex_algorithm"`
		HostKey string              `json:"host_key_algorithm"`
		W       DirectionAlgorithms `json:"client_to_server_alg_group"`
		R       DirectionAlgorithms `json:"server_to_client_alg_group"`
	}{alg.Kex, alg.HostKey, alg.W, alg.R}
	return json.Marshal(aux)
}

// checkSingleAlgorithm verifies that list contains exactly the one name
// this core offered for what, failing with NoAlgorithmOverlap otherwise.
// This replaces the general n-way findCommon negotiation a full client
// would need, since the suite is fixed to a single name per category.
func checkSingleAlgorithm(what, want string, list NameList) error {
	for _, got := range list {
		if got == want {
			return nil
		}
	}
	return wrapErr(KindNoAlgorithmOverlap,
		fmt.Sprintf("server does not support %s %q (offered: %v)", what, want, []string(list)), nil)
}

func findAgreedAlgorithms(serverInit *KexInitMsg) (*Algorithms, error) {
	checks := []struct {
		what string
		want string
		list NameList
	}{
		{"key exchange", kexAlgoCurve25519SHA256, serverInit.KexAlgos},
		{"host key", hostKeyAlgoED25519, serverInit.ServerHostKeyAlgos},
		{"client to server cipher", cipherAES256CTR, serverInit.CiphersClientServer},
		{"server to client cipher", cipherAES256CTR, serverInit.CiphersServerClient},
		{"client to server MAC", macHMACSHA256, serverInit.MACsClientServer},
		{"server to client MAC", macHMACSHA256, serverInit.MACsServerClient},
		{"client to server compression", compressionNone, serverInit.CompressionClientServer},
		{"server to client compression", compressionNone, serverInit.CompressionServerClient},
	}
	for _, c := range checks {
		if err := checkSingleAlgorithm(c.what, c.want, c.list); err != nil {
			return nil, err
		}
	}
	return &Algorithms{
		Kex:     kexAlgoCurve25519SHA256,
		HostKey: hostKeyAlgoED25519,
		W:       DirectionAlgorithms{cipherAES256CTR, macHMACSHA256, compressionNone},
		R:       DirectionAlgorithms{cipherAES256CTR, macHMACSHA256, compressionNone},
	}, nil
}

// EndpointId decomposes a raw "SSH-protoversion-softwareversion comment"
// banner the way this module records connection identification metadata
// on its handshake logs.
type EndpointId struct {
	Raw             string `json:"raw"`
	ProtoVersion    string `json:"protocol_version,omitempty"`
	SoftwareVersion string `json:"software_version,omitempty"`
	Comment         string `json:"comment,omitempty"`
}

func parseEndpointID(banner string) *EndpointId {
	id := &EndpointId{Raw: banner}

	splitComment := strings.SplitN(banner, " ", 2)
	if len(splitComment) == 2 {
		id.Comment = splitComment[1]
	}

	splitGroup := strings.SplitN(splitComment[0], "-", 3)
	if len(splitGroup) > 0 && splitGroup[0] == "SSH" {
		if len(splitGroup) > 1 {
			id.ProtoVersion = splitGroup[1]
		}
		if len(splitGroup) == 3 {
			id.SoftwareVersion = splitGroup[2]
		}
	}
	return id
}

// HandshakeLog accumulates, incrementally, the caller-visible record of a
// single handshake so a failed handshake still yields a partial log for
// diagnostics. It is distinct from the leveled operational log in log.go.
type HandshakeLog struct {
	ClientID           *EndpointId `json:"client_id,omitempty"`
	ServerID           *EndpointId `json:"server_id,omitempty"`
	ClientKex          *KexInitMsg `json:"client_kex,omitempty"`
	ServerKex          *KexInitMsg `json:"server_kex,omitempty"`
	AlgorithmSelection *Algorithms `json:"algorithm_selection,omitempty"`
	UserAuthMethods    *[]string   `json:"user_auth_methods,omitempty"`

	// KexResult is only populated when Config.Verbose is set: the raw
	// exchange hash and shared secret, never logged by default since
	// they are key material.
	KexResult *VerboseKexResult `json:"kex_result,omitempty"`
}

// VerboseKexResult is HandshakeLog's opt-in record of the raw key
// exchange output, unchanged from what the handshake itself computed.
type VerboseKexResult struct {
	ExchangeHash []byte `json:"exchange_hash"`
	SharedSecret []byte `json:"shared_secret"`
}

// Config carries configuration shared by every connection this core
// opens, populated with sane defaults by SetDefaults the way the rest of
// this module's Config/ClientConfig split works. Unlike a general-purpose
// SSH stack, it has no algorithm-selection lists: the suite is fixed.
type Config struct {
	// Rand provides the source of entropy for cryptographic primitives
	// and padding. If nil, SetDefaults installs crypto/rand.Reader.
	Rand io.Reader

	// ConnLog, if non-nil, is filled in incrementally as the handshake
	// progresses.
	ConnLog *HandshakeLog

	// Verbose additionally records the key-exchange result (exchange
	// hash and shared secret) on ConnLog. Never enable this
	// against production key material outside of test fixtures.
	Verbose bool

	// Registerer is used to register this connection's metrics
	// (metrics.go). Defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

func (c *Config) SetDefaults() {
	if c.Rand == nil {
		c.Rand = rand.Reader
	}
	if c.Registerer == nil {
		c.Registerer = prometheus.DefaultRegisterer
	}
}
