package book

import (
	"database/sql/driver"
	"fmt"
)

// Stage is the position of a book in the generation pipeline.
type Stage string

const (
	StageCreatingCharacter  Stage = "CREATING_CHARACTER"
	StageWaitingForApproval Stage = "WAITING_FOR_APPROVAL"
	StageGeneratingPreview  Stage = "GENERATING_PREVIEW"
	StageReadyForPurchase   Stage = "READY_FOR_PURCHASE"
	StageProcessingFullBook Stage = "PROCESSING_FULL_BOOK"
	StageCompleted          Stage = "COMPLETED"
	StageFailed             Stage = "FAILED"
)

var stages = []Stage{
	StageCreatingCharacter,
	StageWaitingForApproval,
	StageGeneratingPreview,
	StageReadyForPurchase,
	StageProcessingFullBook,
	StageCompleted,
	StageFailed,
}

// ParseStage converts a raw value into a Stage. Unknown values are rejected.
func ParseStage(s string) (Stage, error) {
	for _, st := range stages {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStage, s)
}

func (s Stage) String() string {
	return string(s)
}

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	_, err := ParseStage(string(s))
	return err == nil
}

// Terminal reports whether no further transition can leave s on its own.
// FAILED is terminal for the pipeline even though regenerate can leave it.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Value implements driver.Valuer so an invalid stage never reaches the database.
func (s Stage) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStage, string(s))
	}
	return string(s), nil
}

// Scan implements sql.Scanner and rejects unknown stored values.
func (s *Stage) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidStage, src)
	}

	st, err := ParseStage(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// transitions lists, for each stage, the stages it may move to.
var transitions = map[Stage][]Stage{
	StageCreatingCharacter:  {StageWaitingForApproval, StageGeneratingPreview, StageFailed},
	StageWaitingForApproval: {StageGeneratingPreview, StageCreatingCharacter, StageFailed},
	StageGeneratingPreview:  {StageReadyForPurchase, StageFailed},
	StageReadyForPurchase:   {StageProcessingFullBook, StageFailed},
	StageProcessingFullBook: {StageCompleted, StageFailed},
	StageFailed:             {StageCreatingCharacter},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Stage) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
