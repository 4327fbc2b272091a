package model

import (
	"bytes"
	"encoding"
	"encoding/gob"
	"io"
	"os"

	"github.com/mariiabilous/besca/pkg/errors"
)

// SaveModel はモデルをファイルに gob 形式で保存する
//
//	err := model.SaveModel(fitted, "pbmc_linear_svm.gob")
func SaveModel(m interface{}, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	defer file.Close()
	return SaveModelToWriter(m, file)
}

// LoadModel はファイルからモデルを読み込む
func LoadModel(m interface{}, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return errors.Wrap(err, "failed to open file")
	}
	defer file.Close()
	return LoadModelFromReader(m, file)
}

// SaveModelToWriter はモデルをio.Writerに保存する
func SaveModelToWriter(m interface{}, w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(m); err != nil {
		return errors.Wrap(err, "failed to encode model")
	}
	return nil
}

// LoadModelFromReader はio.Readerからモデルを読み込む
func LoadModelFromReader(m interface{}, r io.Reader) error {
	if err := gob.NewDecoder(r).Decode(m); err != nil {
		return errors.Wrap(err, "failed to decode model")
	}
	return nil
}

// EncodeGob encodes v into a standalone gob byte slice. Backends use it to
// implement encoding.BinaryMarshaler over an exported snapshot struct.
func EncodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := SaveModelToWriter(v, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeGob is the inverse of EncodeGob.
func DecodeGob(data []byte, v interface{}) error {
	return LoadModelFromReader(v, bytes.NewReader(data))
}

// EnvelopeVersion is bumped whenever a snapshot layout changes incompatibly.
const EnvelopeVersion = 1

// Envelope wraps a backend payload with the information needed to pick the
// right decoder on load.
type Envelope struct {
	Version int
	Kind    string
	Payload []byte
}

// Seal marshals m and wraps it in an Envelope tagged with kind.
func Seal(kind string, m encoding.BinaryMarshaler) (Envelope, error) {
	payload, err := m.MarshalBinary()
	if err != nil {
		return Envelope{}, errors.Wrapf(err, "marshal %s", kind)
	}
	return Envelope{Version: EnvelopeVersion, Kind: kind, Payload: payload}, nil
}

// Open unmarshals the payload into m after checking version and kind.
func (e Envelope) Open(kind string, m encoding.BinaryUnmarshaler) error {
	if e.Version != EnvelopeVersion {
		return errors.NewValueError("Envelope.Open", "unsupported model format version")
	}
	if e.Kind != kind {
		return errors.NewValueError("Envelope.Open", "payload kind "+e.Kind+" does not match "+kind)
	}
	return m.UnmarshalBinary(e.Payload)
}
