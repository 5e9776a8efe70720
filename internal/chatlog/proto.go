package chatlog

import (
	"fmt"
	"io"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of a Record message:
//
//	message Record {
//	  int64  time_unix_nano = 1;
//	  string channel        = 2;
//	  string direction      = 3;
//	  string peer           = 4;
//	  bytes  data           = 5;
//	}
const (
	fieldTime      protowire.Number = 1
	fieldChannel   protowire.Number = 2
	fieldDirection protowire.Number = 3
	fieldPeer      protowire.Number = 4
	fieldData      protowire.Number = 5
)

func marshalRecord(r Record) []byte {
	var b []byte
	if !r.Time.IsZero() {
		b = protowire.AppendTag(b, fieldTime, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.Time.UnixNano()))
	}
	b = appendString(b, fieldChannel, r.Channel)
	b = appendString(b, fieldDirection, r.Direction)
	b = appendString(b, fieldPeer, r.Peer)
	b = protowire.AppendTag(b, fieldData, protowire.BytesType)
	return protowire.AppendBytes(b, r.Data)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func unmarshalRecord(b []byte) (Record, error) {
	var r Record
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldTime && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			r.Time = time.Unix(0, int64(v))
			b = b[n:]
		case num >= fieldChannel && num <= fieldData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			switch num {
			case fieldChannel:
				r.Channel = string(v)
			case fieldDirection:
				r.Direction = string(v)
			case fieldPeer:
				r.Peer = string(v)
			case fieldData:
				r.Data = append([]byte{}, v...)
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return r, nil
}

func readProto(r io.Reader) ([]Record, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var records []Record
	for len(buf) > 0 {
		msg, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return records, fmt.Errorf("decode record %d: %w", len(records), protowire.ParseError(n))
		}
		rec, err := unmarshalRecord(msg)
		if err != nil {
			return records, fmt.Errorf("decode record %d: %w", len(records), err)
		}
		records = append(records, rec)
		buf = buf[n:]
	}
	return records, nil
}
