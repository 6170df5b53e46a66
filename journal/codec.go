package journal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/docbatch/id"
	"github.com/xraph/docbatch/job"
)

// Codec serializes records for backends that store opaque payloads.
type Codec interface {
	// Encode serializes a record to bytes.
	Encode(r *Record) ([]byte, error)

	// Decode deserializes bytes into a record.
	Decode(data []byte) (*Record, error)

	// Name returns the codec identifier ("msgpack" or "json").
	Name() string
}

// CodecName constants for backend configuration.
const (
	CodecNameMsgpack = "msgpack"
	CodecNameJSON    = "json"
)

// GetCodec returns a codec by name. Defaults to msgpack.
func GetCodec(name string) Codec {
	switch name {
	case CodecNameJSON:
		return JSONCodec{}
	default:
		return MsgpackCodec{}
	}
}

// envelope is the wire form of a Record. Ids travel as strings so the
// encoding does not depend on the id package's marshalers.
type envelope struct {
	ID         string    `msgpack:"id" json:"id"`
	BatchID    string    `msgpack:"batch_id" json:"batch_id"`
	TenantID   string    `msgpack:"tenant_id,omitempty" json:"tenant_id,omitempty"`
	Kind       string    `msgpack:"kind" json:"kind"`
	From       string    `msgpack:"from,omitempty" json:"from,omitempty"`
	To         string    `msgpack:"to,omitempty" json:"to,omitempty"`
	FileID     string    `msgpack:"file_id,omitempty" json:"file_id,omitempty"`
	FileStatus string    `msgpack:"file_status,omitempty" json:"file_status,omitempty"`
	Error      string    `msgpack:"error,omitempty" json:"error,omitempty"`
	At         time.Time `msgpack:"at" json:"at"`
}

func toEnvelope(r *Record) envelope {
	e := envelope{
		ID:         r.ID.String(),
		BatchID:    r.BatchID.String(),
		TenantID:   r.TenantID,
		Kind:       string(r.Kind),
		From:       string(r.From),
		To:         string(r.To),
		FileStatus: string(r.FileStatus),
		Error:      r.Error,
		At:         r.At,
	}
	if !r.FileID.IsNil() {
		e.FileID = r.FileID.String()
	}
	return e
}

func (e envelope) record() (*Record, error) {
	r := &Record{
		TenantID:   e.TenantID,
		Kind:       Kind(e.Kind),
		From:       job.Status(e.From),
		To:         job.Status(e.To),
		FileStatus: job.FileStatus(e.FileStatus),
		Error:      e.Error,
		At:         e.At.UTC(),
	}
	var err error
	if r.ID, err = id.ParseRecordID(e.ID); err != nil {
		return nil, fmt.Errorf("journal: decode record id: %w", err)
	}
	if r.BatchID, err = id.ParseBatchID(e.BatchID); err != nil {
		return nil, fmt.Errorf("journal: decode batch id: %w", err)
	}
	if e.FileID != "" {
		if r.FileID, err = id.ParseFileID(e.FileID); err != nil {
			return nil, fmt.Errorf("journal: decode file id: %w", err)
		}
	}
	return r, nil
}

// MsgpackCodec encodes records as MessagePack.
type MsgpackCodec struct{}

func (MsgpackCodec) Encode(r *Record) ([]byte, error) {
	return msgpack.Marshal(toEnvelope(r))
}

func (MsgpackCodec) Decode(data []byte) (*Record, error) {
	var e envelope
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("journal: decode msgpack: %w", err)
	}
	return e.record()
}

func (MsgpackCodec) Name() string { return CodecNameMsgpack }

// JSONCodec encodes records as JSON.
type JSONCodec struct{}

func (JSONCodec) Encode(r *Record) ([]byte, error) {
	return json.Marshal(toEnvelope(r))
}

func (JSONCodec) Decode(data []byte) (*Record, error) {
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("journal: decode json: %w", err)
	}
	return e.record()
}

func (JSONCodec) Name() string { return CodecNameJSON }
