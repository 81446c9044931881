package encounters

import (
	"github.com/coopquest/backend/internal/answers"
	"github.com/coopquest/backend/internal/models"
)

// Outcome is the result of settling an encounter.
type Outcome struct {
	Success bool
	Points  int
	Status  models.EncounterStatus
}

// Decide settles two answers under a challenge's match policy.
//
// With exact matching both canonical forms must be equal. Otherwise any
// non-empty pair succeeds: the lenient policy rewards collaboration, not
// agreement. Points go in full to each team, they are not split.
func Decide(requiresExactMatch bool, points int, scannerAnswer, scannedAnswer string) Outcome {
	var success bool
	if requiresExactMatch {
		success = answers.Equal(scannerAnswer, scannedAnswer)
	} else {
		success = answers.Canonical(scannerAnswer) != "" && answers.Canonical(scannedAnswer) != ""
	}
	if !success {
		return Outcome{Success: false, Points: 0, Status: models.EncounterFailed}
	}
	return Outcome{Success: true, Points: points, Status: models.EncounterCompleted}
}
