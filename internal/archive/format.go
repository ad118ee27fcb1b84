// Package archive reads and writes canonical panel records as
// self-describing files: one plain JSON header line followed by a
// gzip-compressed JSON payload. The header carries a SHA-256 checksum of the
// compressed bytes so integrity can be checked without decompressing.
package archive

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/nvandessel/choice-lab/internal/panel"
)

// Version is the current archive format version.
const Version = 1

// Ext is the file extension used for archives written by dcesim.
const Ext = ".dce.gz"

// MaxDecompressedSize is the maximum allowed size of a decompressed payload (512MB).
const MaxDecompressedSize = 512 * 1024 * 1024

var (
	// ErrChecksum reports that the payload does not match its header checksum.
	ErrChecksum = errors.New("checksum mismatch")

	// ErrFormat reports a missing or unsupported header.
	ErrFormat = errors.New("unrecognized archive format")
)

// Header is the plain-text first line of an archive.
type Header struct {
	Version   int               `json:"version"`
	CreatedAt time.Time         `json:"created_at"`
	Checksum  string            `json:"checksum"`
	Kind      panel.Kind        `json:"kind"`
	Dims      panel.Dims        `json:"dims"`
	Holdout   int               `json:"holdout,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Encode writes rec to w as a header line plus compressed payload.
// Metadata is copied into the header verbatim.
func Encode(w io.Writer, rec *panel.Record, metadata map[string]string) (*Header, error) {
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}

	var compressed bytes.Buffer
	gzw, err := gzip.NewWriterLevel(&compressed, gzip.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gzw.Write(payload); err != nil {
		return nil, fmt.Errorf("compressing payload: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}

	header := &Header{
		Version:   Version,
		CreatedAt: time.Now().UTC(),
		Checksum:  checksum(compressed.Bytes()),
		Kind:      rec.Kind,
		Dims:      rec.Dims,
		Metadata:  metadata,
	}
	if rec.Split != nil {
		header.Holdout = rec.Split.Holdout
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("marshaling header: %w", err)
	}

	if _, err := w.Write(append(headerBytes, '\n')); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}
	if _, err := w.Write(compressed.Bytes()); err != nil {
		return nil, fmt.Errorf("writing compressed payload: %w", err)
	}
	return header, nil
}

// Marshal encodes rec into a byte slice.
func Marshal(rec *panel.Record, metadata map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := Encode(&buf, rec, metadata); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func readHeader(br *bufio.Reader) (*Header, error) {
	line, err := br.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("%w: reading header line: %v", ErrFormat, err)
	}
	var header Header
	if err := json.Unmarshal(bytes.TrimSpace(line), &header); err != nil {
		return nil, fmt.Errorf("%w: parsing header: %v", ErrFormat, err)
	}
	if header.Version != Version {
		return nil, fmt.Errorf("%w: version %d", ErrFormat, header.Version)
	}
	return &header, nil
}

func readVerified(r io.Reader) (*Header, []byte, error) {
	br := bufio.NewReader(r)
	header, err := readHeader(br)
	if err != nil {
		return nil, nil, err
	}
	compressed, err := io.ReadAll(br)
	if err != nil {
		return nil, nil, fmt.Errorf("reading compressed payload: %w", err)
	}
	if actual := checksum(compressed); actual != header.Checksum {
		return nil, nil, fmt.Errorf("%w: expected %s, got %s", ErrChecksum, header.Checksum, actual)
	}
	return header, compressed, nil
}

// Decode reads an archive from r, verifies the checksum, and returns the
// validated record with its header.
func Decode(r io.Reader) (*panel.Record, *Header, error) {
	header, compressed, err := readVerified(r)
	if err != nil {
		return nil, nil, err
	}

	gzr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, nil, fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()

	decompressed, err := io.ReadAll(io.LimitReader(gzr, MaxDecompressedSize+1))
	if err != nil {
		return nil, nil, fmt.Errorf("decompressing payload: %w", err)
	}
	if int64(len(decompressed)) > MaxDecompressedSize {
		return nil, nil, fmt.Errorf("decompressed payload exceeds maximum size of %d bytes", MaxDecompressedSize)
	}

	var rec panel.Record
	if err := json.Unmarshal(decompressed, &rec); err != nil {
		return nil, nil, fmt.Errorf("parsing record: %w", err)
	}
	if rec.Dims != header.Dims {
		return nil, nil, fmt.Errorf("%w: header dims %v, payload dims %v", panel.ErrShapeMismatch, header.Dims, rec.Dims)
	}
	return &rec, header, nil
}

// Unmarshal decodes an archive held in memory.
func Unmarshal(data []byte) (*panel.Record, *Header, error) {
	return Decode(bytes.NewReader(data))
}

// Write stores rec at path, creating parent directories.
func Write(path string, rec *panel.Record, metadata map[string]string) (*Header, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	header, err := Encode(f, rec, metadata)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("closing file: %w", cerr)
	}
	if err != nil {
		return nil, err
	}
	return header, nil
}

// Read loads and verifies the archive at path.
func Read(path string) (*panel.Record, *Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// ReadHeader reads only the header line of the archive at path.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()
	return readHeader(bufio.NewReader(f))
}

// ReadHeaderBytes parses the header of an archive held in memory.
func ReadHeaderBytes(data []byte) (*Header, error) {
	return readHeader(bufio.NewReader(bytes.NewReader(data)))
}

// Verify checks the integrity of the archive at path without decompressing.
func Verify(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()
	_, _, err = readVerified(f)
	return err
}
