package session

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

var supportedSchemaVersions = []string{SchemaVersion}

// Serializer encodes and decodes session records. Encoding is canonical:
// compact JSON with lexicographically sorted object keys, so two encodes
// of an unchanged record are byte-identical. The embedded checksum is
// SHA-256 over the canonical encoding with the checksum field blanked.
type Serializer struct {
	validateChecksum bool
}

// SerializerOption configures a Serializer.
type SerializerOption func(*Serializer)

// WithoutChecksumValidation disables integrity verification on decode.
// Intended for recovery tooling; normal callers should never need it.
func WithoutChecksumValidation() SerializerOption {
	return func(s *Serializer) { s.validateChecksum = false }
}

// NewSerializer returns a serializer with checksum validation enabled.
func NewSerializer(opts ...SerializerOption) *Serializer {
	s := &Serializer{validateChecksum: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Encode serializes rec to canonical JSON. A fresh checksum is computed
// and stored on rec before encoding.
func (s *Serializer) Encode(rec *Record) ([]byte, error) {
	sum, err := ComputeChecksum(rec)
	if err != nil {
		return nil, err
	}
	rec.Checksum = sum

	blob, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", rec.SessionID, err)
	}
	return canonicalize(blob)
}

// EncodePretty serializes rec to indented JSON with the same key order as
// Encode. The embedded checksum is still computed over the compact
// canonical form, so pretty output decodes and verifies identically.
func (s *Serializer) EncodePretty(rec *Record) ([]byte, error) {
	canon, err := s.Encode(rec)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(canon))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("reshape session %s: %w", rec.SessionID, err)
	}
	return json.MarshalIndent(m, "", "  ")
}

// Decode deserializes a record from JSON, rejecting unsupported schema
// versions with a SchemaError and tampered payloads with an
// IntegrityError. Records whose checksum field is empty skip integrity
// verification; the manager never persists such records.
func (s *Serializer) Decode(data []byte) (*Record, error) {
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}

	version, _ := m["schema_version"].(string)
	if !schemaSupported(version) {
		return nil, &SchemaError{Version: version, Supported: supportedSchemaVersions}
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}

	if s.validateChecksum && rec.Checksum != "" {
		// Blank rather than delete: the encoder always emits the
		// checksum key, so the verified form must carry it too.
		m["checksum"] = ""
		canon, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("verify session %s: %w", rec.SessionID, err)
		}
		computed := hexDigest(canon)
		if computed != rec.Checksum {
			return nil, &IntegrityError{
				SessionID: rec.SessionID,
				Stored:    rec.Checksum,
				Computed:  computed,
			}
		}
	}
	return &rec, nil
}

// EncodeYAML serializes rec to YAML. The checksum is computed over the
// canonical JSON form, never over the YAML text.
func (s *Serializer) EncodeYAML(rec *Record) ([]byte, error) {
	canon, err := s.Encode(rec)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(canon, &m); err != nil {
		return nil, fmt.Errorf("reshape session %s: %w", rec.SessionID, err)
	}
	return yaml.Marshal(m)
}

// DecodeYAML deserializes a record from YAML with the same version and
// integrity checks as Decode.
func (s *Serializer) DecodeYAML(data []byte) (*Record, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode session yaml: %w", err)
	}
	blob, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("decode session yaml: %w", err)
	}
	return s.Decode(blob)
}

// ComputeChecksum returns the SHA-256 hex digest of the record's canonical
// encoding with the checksum field excluded. The record is not modified.
func ComputeChecksum(rec *Record) (string, error) {
	work := *rec
	work.Checksum = ""
	blob, err := json.Marshal(&work)
	if err != nil {
		return "", fmt.Errorf("checksum session %s: %w", rec.SessionID, err)
	}
	canon, err := canonicalize(blob)
	if err != nil {
		return "", err
	}
	return hexDigest(canon), nil
}

// VerifyChecksum reports whether the record's stored checksum matches its
// current field values.
func VerifyChecksum(rec *Record) (bool, error) {
	computed, err := ComputeChecksum(rec)
	if err != nil {
		return false, err
	}
	return computed == rec.Checksum, nil
}

// canonicalize rewrites a JSON document into its canonical form: compact,
// object keys sorted. Number literals pass through unchanged via
// json.Number so repeated canonicalization is byte-stable.
func canonicalize(data []byte) ([]byte, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return out, nil
}

func schemaSupported(version string) bool {
	for _, v := range supportedSchemaVersions {
		if v == version {
			return true
		}
	}
	return false
}

func hexDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
