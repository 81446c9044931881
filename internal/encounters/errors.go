package encounters

import "errors"

// Scan (initiate) failures, in the order they are checked.
var (
	ErrQRCodeRequired       = errors.New("qr code is required")
	ErrNotPersonalQR        = errors.New("this is not a team's personal qr code")
	ErrSelfScan             = errors.New("a team cannot scan its own qr code")
	ErrTeamNotFound         = errors.New("team not found")
	ErrCrossEvent           = errors.New("team does not belong to this event")
	ErrDuplicateEncounter   = errors.New("this team was already scanned")
	ErrEncounterInProgress  = errors.New("an encounter is already in progress, finish it first")
	ErrPartnerBusy          = errors.New("the scanned team is busy with another encounter")
	ErrNoChallengeAvailable = errors.New("no challenges available")
)

// Answer submission and read failures.
var (
	ErrAnswerRequired  = errors.New("answer is required")
	ErrNotFound        = errors.New("encounter not found")
	ErrEncounterClosed = errors.New("this encounter has already ended")
	ErrForbidden       = errors.New("team is not part of this encounter")
	ErrAlreadyAnswered = errors.New("answer already submitted")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrQRCodeRequired, "QR_CODE_REQUIRED"},
	{ErrNotPersonalQR, "NOT_PERSONAL_QR"},
	{ErrSelfScan, "SELF_SCAN"},
	{ErrTeamNotFound, "TEAM_NOT_FOUND"},
	{ErrCrossEvent, "CROSS_EVENT"},
	{ErrDuplicateEncounter, "DUPLICATE_ENCOUNTER"},
	{ErrEncounterInProgress, "ENCOUNTER_IN_PROGRESS"},
	{ErrPartnerBusy, "PARTNER_BUSY"},
	{ErrNoChallengeAvailable, "NO_CHALLENGE_AVAILABLE"},
	{ErrAnswerRequired, "ANSWER_REQUIRED"},
	{ErrNotFound, "NOT_FOUND"},
	{ErrEncounterClosed, "ENCOUNTER_CLOSED"},
	{ErrForbidden, "FORBIDDEN"},
	{ErrAlreadyAnswered, "ALREADY_ANSWERED"},
}

// Code returns the stable code of a domain error, or "" for anything else
// (infrastructure failures).
func Code(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return ""
}
