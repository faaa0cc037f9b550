package hyperliquid

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func testAction() Action {
	return Action{
		Type:     ActionTypeOrder,
		Grouping: "na",
		Orders: []orderPayload{{
			Asset:   1,
			IsBuy:   true,
			LimitPx: "50000",
			Sz:      "0.001",
			OrderType: orderTypePayload{
				Limit: &limitOrderPayload{TIF: "Gtc"},
			},
		}},
	}
}

func TestActionDigestDeterministic(t *testing.T) {
	const nonce = int64(1700000000000)
	a, err := actionDigest(testAction(), nonce, "", true)
	require.NoError(t, err)
	require.Len(t, a, 32)

	b, err := actionDigest(testAction(), nonce, "", true)
	require.NoError(t, err)
	require.Equal(t, a, b)

	differentNonce, err := actionDigest(testAction(), nonce+1, "", true)
	require.NoError(t, err)
	require.NotEqual(t, a, differentNonce)

	testnet, err := actionDigest(testAction(), nonce, "", false)
	require.NoError(t, err)
	require.NotEqual(t, a, testnet)

	withVault, err := actionDigest(testAction(), nonce, "0x1234567890123456789012345678901234567890", true)
	require.NoError(t, err)
	require.NotEqual(t, a, withVault)
}

func TestActionDigestRejectsBadInput(t *testing.T) {
	_, err := actionDigest(testAction(), 0, "", true)
	require.Error(t, err)

	_, err = actionDigest(testAction(), 1700000000000, "not-an-address", true)
	require.Error(t, err)
}

func TestSignActionRecoversSignerAddress(t *testing.T) {
	signer, err := NewPrivateKeySigner(testKeyHex)
	require.NoError(t, err)

	const nonce = int64(1700000000000)
	req, err := signAction(testAction(), signer, nonce, "", true)
	require.NoError(t, err)
	require.Equal(t, nonce, req.Nonce)
	require.Contains(t, []int{27, 28}, req.Signature.V)

	digest, err := actionDigest(testAction(), nonce, "", true)
	require.NoError(t, err)

	r, err := hex.DecodeString(strings.TrimPrefix(req.Signature.R, "0x"))
	require.NoError(t, err)
	s, err := hex.DecodeString(strings.TrimPrefix(req.Signature.S, "0x"))
	require.NoError(t, err)
	sig := make([]byte, 0, 65)
	sig = append(sig, r...)
	sig = append(sig, s...)
	sig = append(sig, byte(req.Signature.V-27))

	pub, err := crypto.SigToPub(digest, sig)
	require.NoError(t, err)
	require.Equal(t, signer.Address(), strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()))
}

func TestNewPrivateKeySignerValidation(t *testing.T) {
	_, err := NewPrivateKeySigner("")
	require.Error(t, err)

	_, err = NewPrivateKeySigner("zz")
	require.Error(t, err)

	signer, err := NewPrivateKeySigner(testKeyHex)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(signer.Address(), "0x"))
}
