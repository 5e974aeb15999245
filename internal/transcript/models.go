package transcript

import (
	"errors"
	"time"
)

type Speaker string

const (
	SpeakerCaller    Speaker = "caller"
	SpeakerAssistant Speaker = "assistant"
)

func (s Speaker) Valid() bool { return s == SpeakerCaller || s == SpeakerAssistant }

// Entry is one immutable line of a call transcript. Position is the 1-based
// append order within the call; timestamps never decrease with position.
type Entry struct {
	ID         string    `json:"id"`
	CallID     string    `json:"call_id"`
	Position   int       `json:"position"`
	Speaker    Speaker   `json:"speaker"`
	Message    string    `json:"message"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

var (
	ErrOutOfOrder      = errors.New("transcript: timestamp precedes last entry")
	ErrDropped         = errors.New("transcript: entry dropped after retry")
	ErrInvalidArgument = errors.New("transcript: invalid argument")
	ErrConflict        = errors.New("transcript: position already taken")
)
