package envelope_test

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/modhost/internal/envelope"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/envelope/envelopetest"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/shared/errdefs"
)

func TestBuildParseRoundTrip(t *testing.T) {
	payload := envelopetest.Zip(t, map[string]string{"package.json": `{"version":"1.0.0"}`})
	data, err := envelope.Build(payload, envelopetest.Key(t))
	require.NoError(t, err)

	assert.Equal(t, envelope.Magic, string(data[:4]))
	assert.Equal(t, byte(envelope.FormatVersion), data[4])

	env, err := envelope.ParseAndVerify(data)
	require.NoError(t, err)
	assert.Equal(t, uint8(envelope.FormatVersion), env.Version)
	assert.Equal(t, payload, env.Archive)
	assert.Len(t, env.Signature, 128)
	assert.Equal(t, int(data[8])+envelope.PublicKeyBase, len(env.PublicKey))
	assert.Len(t, env.Digest(), 64)
}

func TestParseRejectsMalformed(t *testing.T) {
	valid := envelopetest.Package(t, map[string]string{"a.js": "1"})

	badMagic := append([]byte(nil), valid...)
	copy(badMagic, "Cr25")

	longSig := append([]byte(nil), valid[:len(valid)]...)
	longSig[12] = 0xff
	truncated := longSig[:16+int(longSig[8])+envelope.PublicKeyBase+10]

	tests := []struct {
		name   string
		data   []byte
		reason string
	}{
		{"empty", nil, "truncated header"},
		{"short header", []byte("Cr24\x02\x00"), "truncated header"},
		{"bad magic", badMagic, "invalid magic number"},
		{"key exceeds file", valid[:40], "public key length exceeds file"},
		{"signature exceeds file", truncated, "signature length exceeds file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := envelope.Parse(tt.data)
			require.Error(t, err)
			assert.True(t, errdefs.Is(err, errdefs.InvalidEnvelope))
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	data := envelopetest.Package(t, map[string]string{"index.js": "module.exports = 1;"})

	t.Run("archive byte flipped", func(t *testing.T) {
		tampered := append([]byte(nil), data...)
		tampered[len(tampered)-1] ^= 0xff
		_, err := envelope.ParseAndVerify(tampered)
		assert.True(t, errdefs.Is(err, errdefs.InvalidSignature))
	})

	t.Run("signed by another key", func(t *testing.T) {
		other, err := rsa.GenerateKey(rand.Reader, 1024)
		require.NoError(t, err)
		env, err := envelope.Parse(data)
		require.NoError(t, err)

		forged, err := envelope.Build(env.Archive, other)
		require.NoError(t, err)
		forgedEnv, err := envelope.Parse(forged)
		require.NoError(t, err)

		env.Signature = forgedEnv.Signature
		assert.True(t, errdefs.Is(env.Verify(), errdefs.InvalidSignature))
	})

	t.Run("garbage key", func(t *testing.T) {
		env, err := envelope.Parse(data)
		require.NoError(t, err)
		env.PublicKey = make([]byte, envelope.PublicKeyBase)
		assert.True(t, errdefs.Is(env.Verify(), errdefs.InvalidSignature))
	})
}

func TestBuildRejectsOversizedKey(t *testing.T) {
	big, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	_, err = envelope.Build([]byte("payload"), big)
	assert.Error(t, err)
}
