// Package session persists a token prefix together with the opaque model
// state derived from it, so a later run can resume without recomputing.
package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"loopd/internal/common/fsutil"
	"loopd/internal/llm"
)

const (
	magic   = "LPSS"
	version = uint32(1)

	headerLen  = 4 + 4 + 4 + 4 // magic, version, n_ctx, n_tokens
	trailerLen = 4             // crc32
)

var (
	// ErrCorrupt means the file is present and non-empty but unreadable.
	ErrCorrupt = errors.New("session file corrupt")
	// ErrIncompatible means the file is well formed but cannot be used with
	// the current context (version, capacity or state mismatch).
	ErrIncompatible = errors.New("session file incompatible")
)

// Status describes the non-error outcomes of Load.
type Status int

const (
	StatusMissing Status = iota
	StatusEmpty
	StatusLoaded
)

func (s Status) String() string {
	switch s {
	case StatusMissing:
		return "missing"
	case StatusEmpty:
		return "empty"
	case StatusLoaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// Record is the persisted content: the token prefix and the model state.
type Record struct {
	NCtx   int
	Tokens []llm.Token
	State  []byte
}

// Load reads the record at path. A missing or empty file yields a nil record
// and StatusMissing/StatusEmpty. A file holding more tokens than capacity is
// rejected with ErrIncompatible rather than truncated.
func Load(path string, capacity int) (*Record, Status, error) {
	if !fsutil.PathExists(path) {
		return nil, StatusMissing, nil
	}
	empty, err := fsutil.FileIsEmpty(path)
	if err != nil {
		return nil, StatusMissing, fmt.Errorf("stat session file: %w", err)
	}
	if empty {
		return nil, StatusEmpty, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, StatusMissing, fmt.Errorf("read session file: %w", err)
	}
	rec, err := Decode(b)
	if err != nil {
		return nil, StatusLoaded, err
	}
	if capacity > 0 && len(rec.Tokens) > capacity {
		return nil, StatusLoaded, fmt.Errorf("%w: %d tokens exceed context capacity %d", ErrIncompatible, len(rec.Tokens), capacity)
	}
	return rec, StatusLoaded, nil
}

// Save writes rec to path atomically.
func Save(path string, rec Record) error {
	if path == "" {
		return errors.New("empty session path")
	}
	b, err := Encode(rec)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, b, 0o644)
}

// Encode serializes rec in the session file layout.
func Encode(rec Record) ([]byte, error) {
	if rec.NCtx < 0 {
		return nil, fmt.Errorf("negative n_ctx %d", rec.NCtx)
	}
	var buf bytes.Buffer
	buf.Grow(headerLen + 4*len(rec.Tokens) + 8 + len(rec.State) + trailerLen)
	buf.WriteString(magic)
	le := binary.LittleEndian
	var u32 [4]byte
	var u64 [8]byte
	le.PutUint32(u32[:], version)
	buf.Write(u32[:])
	le.PutUint32(u32[:], uint32(rec.NCtx))
	buf.Write(u32[:])
	le.PutUint32(u32[:], uint32(len(rec.Tokens)))
	buf.Write(u32[:])
	for _, t := range rec.Tokens {
		le.PutUint32(u32[:], uint32(t))
		buf.Write(u32[:])
	}
	le.PutUint64(u64[:], uint64(len(rec.State)))
	buf.Write(u64[:])
	buf.Write(rec.State)
	le.PutUint32(u32[:], crc32.ChecksumIEEE(buf.Bytes()))
	buf.Write(u32[:])
	return buf.Bytes(), nil
}

// Decode parses a session file produced by Encode.
func Decode(b []byte) (*Record, error) {
	if len(b) < headerLen+8+trailerLen {
		return nil, fmt.Errorf("%w: short file (%d bytes)", ErrCorrupt, len(b))
	}
	if string(b[:4]) != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, b[:4])
	}
	le := binary.LittleEndian
	body, sum := b[:len(b)-trailerLen], le.Uint32(b[len(b)-trailerLen:])
	if crc32.ChecksumIEEE(body) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	if v := le.Uint32(b[4:8]); v != version {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrIncompatible, v, version)
	}
	r := bytes.NewReader(body[8:])
	var nCtx, nTok uint32
	if err := binary.Read(r, le, &nCtx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := binary.Read(r, le, &nTok); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if int64(nTok)*4 > int64(r.Len()) {
		return nil, fmt.Errorf("%w: token count %d exceeds file size", ErrCorrupt, nTok)
	}
	raw := make([]int32, nTok)
	if err := binary.Read(r, le, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	var stateLen uint64
	if err := binary.Read(r, le, &stateLen); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if stateLen != uint64(r.Len()) {
		return nil, fmt.Errorf("%w: state length %d, %d bytes remain", ErrCorrupt, stateLen, r.Len())
	}
	state := make([]byte, stateLen)
	if _, err := io.ReadFull(r, state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	toks := make([]llm.Token, nTok)
	for i, v := range raw {
		toks[i] = llm.Token(v)
	}
	return &Record{NCtx: int(nCtx), Tokens: toks, State: state}, nil
}
