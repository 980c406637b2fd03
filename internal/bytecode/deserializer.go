package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// FormatError reports a malformed or incompatible wire stream.
type FormatError struct{ Message string }

func (e *FormatError) Error() string { return "bytecode wire format: " + e.Message }

// Deserializer reverses Serializer.Serialize, reconstructing a
// RootProgram without any builder involvement - the wire format carries
// already-resolved bcis, so there is nothing left to replay.
type Deserializer struct {
	r *bytes.Reader
}

func NewDeserializer(data []byte) *Deserializer {
	return &Deserializer{r: bytes.NewReader(data)}
}

// Deserialize reads one RootProgram, verifying the stream was produced
// by the same sessionID this process is configured with.
func (d *Deserializer) Deserialize(name string, sessionID uuid.UUID) (*RootProgram, error) {
	var magic uint32
	if err := binary.Read(d.r, binary.BigEndian, &magic); err != nil {
		return nil, err
	}
	if magic != MagicNumber {
		return nil, &FormatError{"bad magic number, not an opcore wire artifact"}
	}

	major, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}
	if _, err := d.r.ReadByte(); err != nil { // minor, informational only
		return nil, err
	}
	if major != WireMajorVersion {
		return nil, &FormatError{fmt.Sprintf("unsupported major version %d", major)}
	}

	sidBytes := make([]byte, 16)
	if _, err := d.r.Read(sidBytes); err != nil {
		return nil, err
	}
	var sid uuid.UUID
	if err := sid.UnmarshalBinary(sidBytes); err != nil {
		return nil, err
	}
	if sid != sessionID {
		return nil, &FormatError{"session id mismatch: artifact was produced by a different instruction table build"}
	}

	var numLocals, numNodes uint32
	if err := binary.Read(d.r, binary.BigEndian, &numLocals); err != nil {
		return nil, err
	}
	if err := binary.Read(d.r, binary.BigEndian, &numNodes); err != nil {
		return nil, err
	}

	var numConstants uint32
	if err := binary.Read(d.r, binary.BigEndian, &numConstants); err != nil {
		return nil, err
	}
	constants := make([]any, 0, numConstants)
	for i := uint32(0); i < numConstants; i++ {
		var tag int32
		if err := binary.Read(d.r, binary.BigEndian, &tag); err != nil {
			return nil, err
		}
		if tag != CodeCreateObject {
			return nil, &FormatError{fmt.Sprintf("expected CODE_CREATE_OBJECT tag, got %d", tag)}
		}
		var n uint32
		if err := binary.Read(d.r, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		payload := make([]byte, n)
		if _, err := d.r.Read(payload); err != nil {
			return nil, err
		}
		var v any
		if err := cbor.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("decoding constant pool entry %d: %w", i, err)
		}
		constants = append(constants, v)
	}

	var codeLen uint32
	if err := binary.Read(d.r, binary.BigEndian, &codeLen); err != nil {
		return nil, err
	}
	narrow := make([]uint16, codeLen)
	for i := range narrow {
		if err := binary.Read(d.r, binary.BigEndian, &narrow[i]); err != nil {
			return nil, err
		}
	}

	var numHandlers uint32
	if err := binary.Read(d.r, binary.BigEndian, &numHandlers); err != nil {
		return nil, err
	}
	handlers := make([]ExceptionHandlerEntry, numHandlers)
	for i := range handlers {
		fields := make([]uint32, 5)
		for j := range fields {
			if err := binary.Read(d.r, binary.BigEndian, &fields[j]); err != nil {
				return nil, err
			}
		}
		handlers[i] = ExceptionHandlerEntry{
			StartBci: int(fields[0]), EndBci: int(fields[1]), HandlerBci: int(fields[2]),
			StartSp: int(fields[3]), ExcLocalIdx: int(fields[4]),
		}
	}

	var end int32
	if err := binary.Read(d.r, binary.BigEndian, &end); err != nil {
		return nil, err
	}
	if end != CodeEnd {
		return nil, &FormatError{"missing CODE_END trailer"}
	}

	return &RootProgram{
		Name:       name,
		Code:       WidenCode(narrow),
		Constants:  constants,
		ExHandlers: handlers,
		NumLocals:  int(numLocals),
		NumNodes:   int(numNodes),
	}, nil
}
