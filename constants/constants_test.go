package constants

import "testing"

func TestHasPDFExt(t *testing.T) {
	cases := map[string]bool{
		"orden.pdf":     true,
		"ORDEN.PDF":     true,
		"a.b.Pdf":       true,
		"orden.pdf.exe": false,
		"orden":         false,
		"":              false,
	}
	for name, want := range cases {
		if got := HasPDFExt(name); got != want {
			t.Errorf("HasPDFExt(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestRecordStateRetriable(t *testing.T) {
	if !StateOCRError.Retriable() || !StateProcessing.Retriable() {
		t.Fatalf("ocr_error and processing must be retriable")
	}
	if StatePending.Retriable() {
		t.Fatalf("pending must not be retriable")
	}
	if RecordState("pendiente").Valid() {
		t.Fatalf("unknown state reported valid")
	}
	if len(AllStates()) != 3 {
		t.Fatalf("expected 3 states, got %d", len(AllStates()))
	}
}
