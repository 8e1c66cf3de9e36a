package bitstring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		length  int
		wantErr bool
	}{
		{name: "single bit", length: 1},
		{name: "full byte", length: 8},
		{name: "unaligned length", length: 13},
		{name: "status list default", length: 131072},
		{name: "zero length", length: 0, wantErr: true},
		{name: "negative length", length: -4, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bs, err := New(tt.length)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.length, bs.Len())
			assert.Equal(t, 0, bs.OnesCount())
		})
	}
}

func TestGetSet(t *testing.T) {
	bs, err := New(16)
	require.NoError(t, err)

	require.NoError(t, bs.Set(0, true))
	require.NoError(t, bs.Set(7, true))
	require.NoError(t, bs.Set(15, true))

	for i := 0; i < 16; i++ {
		v, err := bs.Get(i)
		require.NoError(t, err)
		assert.Equal(t, i == 0 || i == 7 || i == 15, v, "bit %d", i)
	}
	assert.Equal(t, 3, bs.OnesCount())

	// Clearing a bit removes it from the count.
	require.NoError(t, bs.Set(7, false))
	v, err := bs.Get(7)
	require.NoError(t, err)
	assert.False(t, v)
	assert.Equal(t, 2, bs.OnesCount())
}

func TestGetSetOutOfRange(t *testing.T) {
	bs, err := New(8)
	require.NoError(t, err)

	assert.Error(t, bs.Set(-1, true))
	assert.Error(t, bs.Set(8, true))
	_, err = bs.Get(-1)
	assert.Error(t, err)
	_, err = bs.Get(8)
	assert.Error(t, err)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	lengths := []int{8, 16, 64, 4096, 131072}

	for _, length := range lengths {
		bs, err := New(length)
		require.NoError(t, err)

		// Set a scattered pattern.
		for i := 0; i < length; i += 7 {
			require.NoError(t, bs.Set(i, true))
		}

		encoded, err := bs.Encode()
		require.NoError(t, err)

		decoded, err := Decode(encoded)
		require.NoError(t, err)
		require.GreaterOrEqual(t, decoded.Len(), length)

		for i := 0; i < length; i++ {
			want, err := bs.Get(i)
			require.NoError(t, err)
			got, err := decoded.Get(i)
			require.NoError(t, err)
			require.Equal(t, want, got, "bit %d at length %d", i, length)
		}
		assert.Equal(t, bs.OnesCount(), decoded.OnesCount())
	}
}

func TestEncodeDeterministic(t *testing.T) {
	a, err := New(256)
	require.NoError(t, err)
	b, err := New(256)
	require.NoError(t, err)

	for _, i := range []int{3, 17, 101, 255} {
		require.NoError(t, a.Set(i, true))
		require.NoError(t, b.Set(i, true))
	}

	ea, err := a.Encode()
	require.NoError(t, err)
	eb, err := b.Encode()
	require.NoError(t, err)
	assert.Equal(t, ea, eb)
}

func TestDecodeInvalid(t *testing.T) {
	_, err := Decode("not-base64!!!")
	assert.Error(t, err)

	// Valid base64url but not gzip.
	_, err = Decode("AAAA")
	assert.Error(t, err)
}
