package testfixtures

import "testing"

func TestIDGeneratorProducesSequentialIDs(t *testing.T) {
	gen := NewIDGenerator("meeting")

	first := gen.Next()
	second := gen.NextFunc()()

	if first != "meeting-1" || second != "meeting-2" {
		t.Fatalf("unexpected identifiers: %q, %q", first, second)
	}
	if gen.Issued() != 2 {
		t.Fatalf("expected 2 issued identifiers, got %d", gen.Issued())
	}
}

func TestIDGeneratorDefaultPrefix(t *testing.T) {
	if next := NewIDGenerator("").Next(); next != "id-1" {
		t.Fatalf("expected id-1, got %q", next)
	}
}
