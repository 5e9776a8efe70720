package chatlog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/encoding/protowire"
)

// Record directions, relative to the side writing the archive.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Format is the record encoding of an archive file.
type Format string

const (
	// FormatMsgpack stores a plain stream of msgpack maps.
	FormatMsgpack Format = "msgpack"
	// FormatProto stores varint length-delimited protobuf messages.
	FormatProto Format = "proto"
)

// FormatFor picks the format from the file extension: ".pb" selects
// FormatProto, anything else FormatMsgpack.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".pb") {
		return FormatProto
	}
	return FormatMsgpack
}

// Record is one archived payload.
type Record struct {
	Time      time.Time `msgpack:"time"`
	Channel   string    `msgpack:"channel"`
	Direction string    `msgpack:"direction"`
	Peer      string    `msgpack:"peer,omitempty"`
	Data      []byte    `msgpack:"data"`
}

// Archive appends encoded records to a file.
type Archive struct {
	mu     sync.Mutex
	f      *os.File
	format Format
	enc    *msgpack.Encoder
}

// OpenArchive opens path for appending, creating it if needed. The format
// follows FormatFor(path).
func OpenArchive(path string) (*Archive, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return &Archive{f: f, format: FormatFor(path), enc: msgpack.NewEncoder(f)}, nil
}

// Format reports the encoding used by the archive.
func (a *Archive) Format() Format {
	return a.format
}

// Append writes one record.
func (a *Archive) Append(r Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var err error
	switch a.format {
	case FormatProto:
		_, err = a.f.Write(protowire.AppendBytes(nil, marshalRecord(r)))
	default:
		err = a.enc.Encode(&r)
	}
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return nil
}

func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.f.Close()
}

// ReadArchive decodes every record from r. On a decode error the records
// read so far are returned with it.
func ReadArchive(r io.Reader, format Format) ([]Record, error) {
	if format == FormatProto {
		return readProto(r)
	}

	dec := msgpack.NewDecoder(r)
	var records []Record
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return records, fmt.Errorf("decode record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
}

// ReadArchiveFile decodes every record stored at path.
func ReadArchiveFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadArchive(f, FormatFor(path))
}
