package service

import (
	"log/slog"
	"testing"
)

// TestCutoverGates drives the cutover decision directly from counter states.
//
//	100 dual writes with 6 new-system errors  → 6% error rate, above the 5% gate
//	20 comparison checks, 1 inconsistency     → 5%, inside the 10% gate
//
// The first gate alone must refuse the cutover and leave the read flag
// untouched.
func TestCutoverGates(t *testing.T) {
	s := &DualWriteService{logger: slog.Default()}
	s.stats = DualWriteStats{
		DualWrites:          100,
		NewSystemErrors:     6,
		ComparisonChecks:    20,
		DataInconsistencies: 1,
	}
	s.comparisonEnabled = true

	ok, reason := s.FullCutover()
	if ok {
		t.Fatal("cutover must be refused at 6% error rate")
	}
	if reason == "" {
		t.Error("refusal should carry a reason")
	}
	if s.newSystemRead {
		t.Error("refused cutover must not flip the read flag")
	}
	if !s.comparisonEnabled {
		t.Error("refused cutover must not disable comparison")
	}

	// Under both gates the cutover proceeds and comparison stops.
	s.stats.NewSystemErrors = 5 // exactly 5%, not above the gate
	ok, _ = s.FullCutover()
	if !ok {
		t.Fatal("cutover should proceed at 5% error rate and 5% inconsistency rate")
	}
	if !s.newSystemRead {
		t.Error("successful cutover must enable new-system reads")
	}
	if s.comparisonEnabled {
		t.Error("successful cutover must disable comparison")
	}
}

func TestCutoverWithNoHistory(t *testing.T) {
	s := &DualWriteService{logger: slog.Default()}

	// Zero counters divide to zero rates; a fresh process may cut over.
	ok, _ := s.FullCutover()
	if !ok {
		t.Error("zero counters should not block cutover")
	}
}
