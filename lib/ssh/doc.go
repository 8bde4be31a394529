// Package ssh implements a minimal SSH 2.0 client core: version exchange,
// curve25519-sha256 key exchange with ssh-ed25519 host key verification,
// aes256-ctr/hmac-sha2-256 transport encryption, password and public-key
// user authentication, and a single windowed session channel for running
// one command at a time. The algorithm suite is fixed; there is no
// negotiation among alternatives, no rekeying, and no multiplexed
// channels, forwarding, or interactive shells.
package ssh
