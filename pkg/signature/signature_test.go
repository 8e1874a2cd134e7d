package signature_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceradar/billingkit/pkg/signature"
)

func TestVerify(t *testing.T) {
	t.Parallel()

	secret := "test-webhook-secret"
	body := []byte(`{"event":"order.paid","data":{"order_id":"A1"}}`)

	t.Run("valid signature passes", func(t *testing.T) {
		t.Parallel()

		sig := signature.Sign(secret, body)
		require.NoError(t, signature.Verify(secret, body, sig))
	})

	t.Run("flipped body byte is rejected", func(t *testing.T) {
		t.Parallel()

		sig := signature.Sign(secret, body)

		tampered := append([]byte(nil), body...)
		tampered[10] ^= 0x01

		err := signature.Verify(secret, tampered, sig)
		assert.ErrorIs(t, err, signature.ErrInvalidSignature)
	})

	t.Run("wrong secret is rejected", func(t *testing.T) {
		t.Parallel()

		sig := signature.Sign("other-secret", body)
		err := signature.Verify(secret, body, sig)
		assert.ErrorIs(t, err, signature.ErrInvalidSignature)
	})

	t.Run("missing signature is rejected", func(t *testing.T) {
		t.Parallel()

		err := signature.Verify(secret, body, "")
		assert.ErrorIs(t, err, signature.ErrMissingSignature)
	})

	t.Run("missing secret is rejected", func(t *testing.T) {
		t.Parallel()

		err := signature.Verify("", body, signature.Sign(secret, body))
		assert.ErrorIs(t, err, signature.ErrMissingSecret)
	})

	t.Run("signature is deterministic hex", func(t *testing.T) {
		t.Parallel()

		first := signature.Sign(secret, body)
		second := signature.Sign(secret, body)
		assert.Equal(t, first, second)
		assert.Len(t, first, 64) // hex-encoded SHA-256
	})
}
