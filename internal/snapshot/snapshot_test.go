package snapshot

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/parley/internal/inference"
)

func sampleState() inference.SessionState {
	return inference.SessionState{
		Data:       bytes.Repeat([]byte("runtime-state "), 64),
		Occupied:   42,
		CapturedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEncodeDecodeEachCompression(t *testing.T) {
	t.Parallel()

	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(c.String(), func(t *testing.T) {
			t.Parallel()
			st := sampleState()
			data, err := Encode(st, c)
			require.NoError(t, err)

			got, err := Decode(data)
			require.NoError(t, err)
			require.Equal(t, st.Data, got.Data)
			require.Equal(t, st.Occupied, got.Occupied)
			require.True(t, st.CapturedAt.Equal(got.CapturedAt))

			if c != CompressionNone {
				require.Less(t, len(data), len(st.Data), "repetitive state should shrink")
			}
		})
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	t.Parallel()

	a, err := Encode(sampleState(), CompressionZstd)
	require.NoError(t, err)
	b, err := Encode(sampleState(), CompressionZstd)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestIncompressibleFallsBackToNone(t *testing.T) {
	t.Parallel()

	st := inference.SessionState{Data: []byte{0x01, 0x9f, 0x33}, Occupied: 1}
	data, err := Encode(st, CompressionLZ4)
	require.NoError(t, err)

	var env envelope
	require.NoError(t, cbor.Unmarshal(data, &env))
	require.Equal(t, CompressionNone, env.Compression)

	got, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, st.Data, got.Data)
}

func TestDecodeRejectsTampering(t *testing.T) {
	t.Parallel()

	data, err := Encode(sampleState(), CompressionNone)
	require.NoError(t, err)

	var env envelope
	require.NoError(t, cbor.Unmarshal(data, &env))
	env.Payload[0] ^= 0xff
	tampered, err := cbor.Marshal(env)
	require.NoError(t, err)

	_, err = Decode(tampered)
	require.ErrorIs(t, err, ErrDigestMismatch)

	env.Version = 99
	future, err := cbor.Marshal(env)
	require.NoError(t, err)
	_, err = Decode(future)
	require.ErrorIs(t, err, ErrVersion)

	_, err = Decode([]byte("not cbor"))
	require.Error(t, err)
}

func TestEncodeRejectsEmptyState(t *testing.T) {
	t.Parallel()

	_, err := Encode(inference.SessionState{}, CompressionZstd)
	require.Error(t, err)
}

func TestWriteReadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "state.snap")
	_, err := ReadFile(path)
	require.True(t, errors.Is(err, fs.ErrNotExist))

	st := sampleState()
	require.NoError(t, WriteFile(path, st, CompressionLZ4))

	got, err := ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, st.Data, got.Data)

	st.Occupied = 7
	require.NoError(t, WriteFile(path, st, CompressionZstd))
	got, err = ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, 7, got.Occupied)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")

	require.NoError(t, Remove(path))
	require.NoError(t, Remove(path))
}

func TestParseCompression(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]Compression{"": CompressionNone, "LZ4": CompressionLZ4, " zstd ": CompressionZstd} {
		got, err := ParseCompression(name)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseCompression("brotli")
	require.Error(t, err)
}
