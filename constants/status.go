package constants

// RecordState is the lifecycle state of a prescription record.
type RecordState string

// Stable values (store these exact strings in DB).
const (
	StateProcessing RecordState = "processing" // ingestion in progress
	StatePending    RecordState = "pending"    // fields parsed, awaiting appointment
	StateOCRError   RecordState = "ocr_error"  // no usable text; retried on next scan
)

var allStates = []RecordState{StateProcessing, StatePending, StateOCRError}

// AllStates returns every known record state.
func AllStates() []RecordState {
	out := make([]RecordState, len(allStates))
	copy(out, allStates)
	return out
}

// Valid reports whether s is a known record state.
func (s RecordState) Valid() bool {
	for _, v := range allStates {
		if v == s {
			return true
		}
	}
	return false
}

// Retriable reports whether a mailbox-sourced record in this state is picked up again by a scan.
func (s RecordState) Retriable() bool {
	return s == StateOCRError || s == StateProcessing
}
