// Package wire is the file-level driver around bytecode.Serializer and
// bytecode.Deserializer: it owns the session UUID that ties a compiled
// file to the build that produced it and the .opcorebc extension
// convention, so callers never touch the wire format's header fields
// directly.
package wire

import (
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/solalang/opcore/internal/bytecode"
)

// Save serializes prog and writes it to path, generating a fresh
// session UUID to stamp into the header.
func Save(path string, prog *bytecode.RootProgram) (uuid.UUID, error) {
	sessionID := uuid.New()
	s, err := bytecode.NewSerializer()
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("wire: new serializer: %w", err)
	}
	data, err := s.Serialize(prog, sessionID)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("wire: serialize: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return uuid.UUID{}, fmt.Errorf("wire: write %s: %w", path, err)
	}
	return sessionID, nil
}

// Load reads path and deserializes it, checking that its embedded
// session UUID matches sessionID (the UUID of the build that is about
// to execute it). A mismatch means the bytecode was compiled against a
// different instruction table and must be rejected rather than risk
// misinterpreting opcodes.
func Load(path string, name string, sessionID uuid.UUID) (*bytecode.RootProgram, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wire: read %s: %w", path, err)
	}
	d := bytecode.NewDeserializer(data)
	prog, err := d.Deserialize(name, sessionID)
	if err != nil {
		return nil, fmt.Errorf("wire: deserialize %s: %w", path, err)
	}
	return prog, nil
}
