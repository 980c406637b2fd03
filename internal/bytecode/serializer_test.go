package bytecode_test

import (
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/solalang/opcore/internal/builder"
	"github.com/solalang/opcore/internal/bytecode"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	table := bytecode.NewTable()
	ops := bytecode.NewOperationRegistry()
	b := builder.New(table, ops, bytecode.DefaultComparator)

	b.BeginRoot("guarded", 1)
	b.BeginTryCatch()
	b.BeginIfThenElse()
	b.LoadArgument(0)
	b.EndIfThenCondition()
	b.LoadConstant(int64(1))
	b.Return()
	b.EndIfThenElseThen()
	b.LoadConstant("fallback")
	b.Return()
	b.EndIfThenElse()
	b.EndTryCatchBody()
	excLocal := b.TryCatchExceptionLocal()
	b.LoadLocal(excLocal)
	b.Return()
	b.EndTryCatch()

	want, err := b.EndRoot("guarded")
	if err != nil {
		t.Fatalf("EndRoot: %v", err)
	}

	sessionID := uuid.New()
	ser, err := bytecode.NewSerializer()
	if err != nil {
		t.Fatalf("NewSerializer: %v", err)
	}
	wire, err := ser.Serialize(want, sessionID)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	got, err := bytecode.NewDeserializer(wire).Deserialize(want.Name, sessionID)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	if got.Name != want.Name {
		t.Errorf("Name = %q, want %q", got.Name, want.Name)
	}
	if got.NumLocals != want.NumLocals {
		t.Errorf("NumLocals = %d, want %d", got.NumLocals, want.NumLocals)
	}
	if got.NumNodes != want.NumNodes {
		t.Errorf("NumNodes = %d, want %d", got.NumNodes, want.NumNodes)
	}
	if len(got.Code) != len(want.Code) {
		t.Fatalf("Code length = %d, want %d", len(got.Code), len(want.Code))
	}
	for i := range want.Code {
		if got.Code[i] != want.Code[i] {
			t.Errorf("Code[%d] = %d, want %d", i, got.Code[i], want.Code[i])
		}
	}
	if len(got.Constants) != len(want.Constants) {
		t.Fatalf("Constants length = %d, want %d", len(got.Constants), len(want.Constants))
	}
	for i := range want.Constants {
		// CBOR round-trips a Go integer's *value* but not necessarily its
		// exact width/signedness (e.g. int64(1) decodes back as uint64(1)),
		// so compare formatted representations rather than the any values
		// directly.
		if gs, ws := fmt.Sprint(got.Constants[i]), fmt.Sprint(want.Constants[i]); gs != ws {
			t.Errorf("Constants[%d] = %v, want %v", i, got.Constants[i], want.Constants[i])
		}
	}
	if len(got.ExHandlers) != len(want.ExHandlers) {
		t.Fatalf("ExHandlers length = %d, want %d", len(got.ExHandlers), len(want.ExHandlers))
	}
	for i := range want.ExHandlers {
		if got.ExHandlers[i] != want.ExHandlers[i] {
			t.Errorf("ExHandlers[%d] = %+v, want %+v", i, got.ExHandlers[i], want.ExHandlers[i])
		}
	}

	if _, err := bytecode.NewDeserializer(wire).Deserialize(want.Name, uuid.New()); err == nil {
		t.Error("expected a session id mismatch to be rejected")
	}
}
