// Package snapshotio encodes backup snapshots and moves them to and from
// files or S3.
package snapshotio

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/goccy/go-json"
	"github.com/lychee-technology/duplex"
)

// Format is a snapshot serialization.
type Format string

const (
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
)

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano, Sort: cbor.SortCanonical}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor encode mode: %v", err))
	}
	cborDec, err = cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cbor decode mode: %v", err))
	}
}

// ParseFormat maps a name to a Format. An empty name means JSON.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return FormatJSON, nil
	case "cbor":
		return FormatCBOR, nil
	default:
		return "", duplex.NewValidationError("format", fmt.Sprintf("unsupported snapshot format %q", name))
	}
}

// FormatForKey picks the format implied by a file name or object key.
func FormatForKey(key string, fallback Format) Format {
	switch {
	case strings.HasSuffix(strings.ToLower(key), ".cbor"):
		return FormatCBOR
	case strings.HasSuffix(strings.ToLower(key), ".json"):
		return FormatJSON
	default:
		return fallback
	}
}

// Extension returns the file extension for f, dot included.
func (f Format) Extension() string {
	return "." + string(f)
}

// ContentType returns the media type for f.
func (f Format) ContentType() string {
	if f == FormatCBOR {
		return "application/cbor"
	}
	return "application/json"
}

// Encode serializes snap.
func Encode(snap *duplex.Snapshot, f Format) ([]byte, error) {
	if snap == nil {
		return nil, duplex.NewError(duplex.ErrorTypeValidation, duplex.ErrCodeInvalidSnapshot, "snapshot is nil")
	}
	switch f {
	case FormatCBOR:
		data, err := cborEnc.Marshal(snap)
		if err != nil {
			return nil, fmt.Errorf("encode cbor snapshot: %w", err)
		}
		return data, nil
	default:
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode json snapshot: %w", err)
		}
		return data, nil
	}
}

// Decode parses data, sniffing the format. JSON documents are checked against
// the snapshot schema first.
func Decode(data []byte) (*duplex.Snapshot, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, duplex.NewError(duplex.ErrorTypeValidation, duplex.ErrCodeInvalidSnapshot, "snapshot is empty")
	}
	var snap duplex.Snapshot
	if trimmed[0] == '{' {
		if err := ValidateJSON(trimmed); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(trimmed, &snap); err != nil {
			return nil, duplex.NewError(duplex.ErrorTypeValidation, duplex.ErrCodeInvalidSnapshot, "malformed json snapshot").WithCause(err)
		}
	} else {
		if err := cborDec.Unmarshal(data, &snap); err != nil {
			return nil, duplex.NewError(duplex.ErrorTypeValidation, duplex.ErrCodeInvalidSnapshot, "malformed cbor snapshot").WithCause(err)
		}
	}
	if snap.Data == nil {
		return nil, duplex.NewError(duplex.ErrorTypeValidation, duplex.ErrCodeInvalidSnapshot, "snapshot has no data section")
	}
	return &snap, nil
}
