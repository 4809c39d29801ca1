// Package snapshot stores a session's runtime state on disk so a
// conversation can resume in a later process without re-reading its history.
//
// A snapshot file is a single CBOR map holding the format version, the
// window occupancy at capture, the payload compression, the uncompressed
// size, a keyed BLAKE3 digest of the uncompressed state and the payload.
package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/samcharles93/parley/internal/inference"
)

const formatVersion = 1

// maxStateSize rejects headers claiming an implausible state size before
// anything is allocated for them.
const maxStateSize = 1 << 30

var (
	ErrDigestMismatch = errors.New("snapshot: digest mismatch")
	ErrVersion        = errors.New("snapshot: unsupported format version")
)

// digestKey separates snapshot digests from any other BLAKE3 use.
var digestKey = [32]byte{
	'p', 'a', 'r', 'l', 'e', 'y', '.', 's', 'n', 'a', 'p', 's', 'h', 'o', 't',
}

type envelope struct {
	Version     int         `cbor:"1,keyasint"`
	Occupied    int         `cbor:"2,keyasint"`
	Compression Compression `cbor:"3,keyasint"`
	Size        int         `cbor:"4,keyasint"`
	Digest      []byte      `cbor:"5,keyasint"`
	CapturedAt  int64       `cbor:"6,keyasint"`
	Payload     []byte      `cbor:"7,keyasint"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("snapshot: CBOR encoder initialization failed: " + err.Error())
	}
}

func digest(data []byte) []byte {
	h, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		panic("snapshot: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = h.Write(data)
	return h.Sum(nil)
}

// Encode serialises st. Payloads that do not shrink under c are stored
// uncompressed.
func Encode(st inference.SessionState, c Compression) ([]byte, error) {
	if len(st.Data) == 0 {
		return nil, errors.New("snapshot: empty state")
	}
	payload, applied, err := compress(st.Data, c)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	env := envelope{
		Version:     formatVersion,
		Occupied:    st.Occupied,
		Compression: applied,
		Size:        len(st.Data),
		Digest:      digest(st.Data),
		Payload:     payload,
	}
	if !st.CapturedAt.IsZero() {
		env.CapturedAt = st.CapturedAt.UnixNano()
	}
	return encMode.Marshal(env)
}

// Decode parses and verifies an encoded snapshot.
func Decode(data []byte) (inference.SessionState, error) {
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return inference.SessionState{}, fmt.Errorf("snapshot: decode envelope: %w", err)
	}
	if env.Version != formatVersion {
		return inference.SessionState{}, fmt.Errorf("%w %d", ErrVersion, env.Version)
	}
	if env.Size <= 0 || env.Size > maxStateSize {
		return inference.SessionState{}, fmt.Errorf("snapshot: invalid state size %d", env.Size)
	}
	raw, err := decompress(env.Payload, env.Compression, env.Size)
	if err != nil {
		return inference.SessionState{}, fmt.Errorf("snapshot: %w", err)
	}
	if !bytes.Equal(digest(raw), env.Digest) {
		return inference.SessionState{}, ErrDigestMismatch
	}
	st := inference.SessionState{Data: raw, Occupied: env.Occupied}
	if env.CapturedAt != 0 {
		st.CapturedAt = time.Unix(0, env.CapturedAt).UTC()
	}
	return st, nil
}

// WriteFile atomically replaces path with the encoded snapshot.
func WriteFile(path string, st inference.SessionState, c Compression) error {
	data, err := Encode(st, c)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("snapshot: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("snapshot: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("snapshot: rename: %w", err)
	}
	success = true
	return nil
}

// ReadFile loads a snapshot. A missing file is reported with an error
// satisfying errors.Is(err, fs.ErrNotExist).
func ReadFile(path string) (inference.SessionState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return inference.SessionState{}, err
	}
	return Decode(data)
}

// Remove deletes the snapshot at path; a missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("snapshot: remove: %w", err)
	}
	return nil
}
