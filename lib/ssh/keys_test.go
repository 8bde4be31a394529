package ssh

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateAndParseHexKeypairRoundTrip(t *testing.T) {
	hexKeypair, priv, pub, err := GenerateKeypair()
	require.NoError(t, err)
	require.Len(t, hexKeypair, 128)

	gotPriv, gotPub, err := ParseHexKeypair(hexKeypair)
	require.NoError(t, err)
	require.Equal(t, priv, gotPriv)
	require.Equal(t, pub, gotPub)
}

func TestParseHexKeypairRejectsBadInput(t *testing.T) {
	_, _, err := ParseHexKeypair("not-hex")
	require.Error(t, err)
	sshErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, KindInvalidKeypair, sshErr.Kind)

	_, _, err = ParseHexKeypair(strings.Repeat("ab", 10))
	require.Error(t, err)
}

func TestAuthorizedKeyLineFormat(t *testing.T) {
	_, _, pub, err := GenerateKeypair()
	require.NoError(t, err)

	line := AuthorizedKeyLine(pub, "alice")
	require.True(t, strings.HasPrefix(line, "ssh-ed25519 "))
	require.True(t, strings.HasSuffix(line, " alice\n"))

	fields := strings.Fields(strings.TrimSpace(line))
	require.Len(t, fields, 3)
	require.Equal(t, "alice", fields[2])
}
