// Package envelope parses the fixed 39-byte header that wraps every
// snapshot, manifest, transaction-log, and attribute file on an Icechunk
// repository, verifies its magic and compression kind, and hands back a
// decompressed, FlatBuffers-ready byte view.
package envelope

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// HeaderSize is the fixed size, in bytes, of the envelope header.
const HeaderSize = 12 + 24 + 1 + 1 + 1

// LatestSpecVersion is the highest spec version this decoder understands.
const LatestSpecVersion = 1

// magic is "ICE" followed by the U+1F9CA (ice cube) emoji's UTF-8 bytes,
// followed by "CHUNK".
var magic = []byte{'I', 'C', 'E', 0xF0, 0x9F, 0xA7, 0x8A, 'C', 'H', 'U', 'N', 'K'}

// flatbuffersFileID is the identifier FlatBuffers writes at byte offset 4
// of a generated buffer.
var flatbuffersFileID = []byte("Ichk")

// FileType identifies what kind of FlatBuffers table the envelope wraps.
type FileType uint8

const (
	FileTypeSnapshot FileType = 0
	FileTypeManifest FileType = 1
	FileTypeTxLog    FileType = 2
	FileTypeAttr     FileType = 3
)

func (t FileType) String() string {
	switch t {
	case FileTypeSnapshot:
		return "snapshot"
	case FileTypeManifest:
		return "manifest"
	case FileTypeTxLog:
		return "txlog"
	case FileTypeAttr:
		return "attr"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Compression identifies the envelope's payload compression.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionZstd Compression = 1
)

// Header is the decoded fixed-size envelope header.
type Header struct {
	Version     string
	SpecVersion uint8
	FileType    FileType
	Compression Compression
}

// FormatError reports a rejection of the envelope's framing: a bad magic,
// an unsupported spec version, an unknown compression kind, or a missing
// FlatBuffers file identifier in the decompressed payload.
type FormatError struct {
	Kind string
	Err  error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("envelope: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("envelope: %s", e.Kind)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Decoded is the result of parsing and decompressing an envelope: the
// header plus a FlatBuffers-ready payload (file-id prefix included, so
// offsets in snapshot/manifest decoders line up with a raw FlatBuffers
// buffer).
type Decoded struct {
	Header  Header
	Payload []byte
}

// Parse validates the envelope framing of buf, decompresses its payload if
// needed, and verifies the FlatBuffers file identifier. When checkType is
// true, envelopes whose file type differs from wantType are additionally
// rejected; when it is false, wantType is ignored.
func Parse(buf []byte, wantType FileType, checkType bool) (*Decoded, error) {
	if len(buf) < HeaderSize {
		return nil, &FormatError{Kind: "magic", Err: fmt.Errorf("buffer too short: %d bytes", len(buf))}
	}
	if !bytes.Equal(buf[:len(magic)], magic) {
		return nil, &FormatError{Kind: "magic"}
	}

	off := len(magic)
	versionRaw := buf[off : off+24]
	off += 24
	specVersion := buf[off]
	off++
	fileType := FileType(buf[off])
	off++
	compression := Compression(buf[off])
	off++

	if specVersion > LatestSpecVersion {
		return nil, &FormatError{Kind: "version", Err: fmt.Errorf("spec version %d > latest %d", specVersion, LatestSpecVersion)}
	}
	if checkType && fileType != wantType {
		return nil, &FormatError{Kind: "file-type", Err: fmt.Errorf("got %s, want %s", fileType, wantType)}
	}

	var payload []byte
	switch compression {
	case CompressionNone:
		payload = buf[off:]
	case CompressionZstd:
		decoded, err := decompressZstd(buf[off:])
		if err != nil {
			return nil, &FormatError{Kind: "compression", Err: err}
		}
		payload = decoded
	default:
		return nil, &FormatError{Kind: "compression", Err: fmt.Errorf("unknown compression kind %d", compression)}
	}

	if len(payload) < 8 || !bytes.Equal(payload[4:8], flatbuffersFileID) {
		return nil, &FormatError{Kind: "file-id"}
	}

	return &Decoded{
		Header: Header{
			Version:     trimVersion(versionRaw),
			SpecVersion: specVersion,
			FileType:    fileType,
			Compression: compression,
		},
		Payload: payload,
	}, nil
}

func trimVersion(raw []byte) string {
	return string(bytes.TrimRight(raw, " \x00"))
}

func decompressZstd(b []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	return decoder.DecodeAll(b, nil)
}
