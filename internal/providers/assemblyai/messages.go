package assemblyai

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var errUnknownMessage = errors.New("unknown message type")

// serverMessage is one of beginMessage, turnMessage, terminationMessage or errorMessage.
type serverMessage interface {
	messageType() string
}

type beginMessage struct {
	ID        string
	ExpiresAt time.Time
}

// turnMessage carries TurnOrder only when the server sent turn_order.
type turnMessage struct {
	Transcript string
	EndOfTurn  bool
	TurnOrder  *int
}

type terminationMessage struct {
	AudioDuration float64
}

type errorMessage struct {
	Text string
}

func (beginMessage) messageType() string       { return "Begin" }
func (turnMessage) messageType() string        { return "Turn" }
func (terminationMessage) messageType() string { return "Termination" }
func (errorMessage) messageType() string       { return "Error" }

type rawMessage struct {
	Type       string  `json:"type"`
	ID         string  `json:"id"`
	ExpiresAt  int64   `json:"expires_at"`
	Transcript string  `json:"transcript"`
	EndOfTurn  bool    `json:"end_of_turn"`
	TurnOrder  *int    `json:"turn_order"`
	Duration   float64 `json:"audio_duration_seconds"`
	Error      string  `json:"error"`
}

func parseServerMessage(payload []byte) (serverMessage, error) {
	var raw rawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("invalid server message: %w", err)
	}

	switch raw.Type {
	case "Begin":
		msg := beginMessage{ID: raw.ID}
		if raw.ExpiresAt > 0 {
			msg.ExpiresAt = time.Unix(raw.ExpiresAt, 0)
		}
		return msg, nil
	case "Turn":
		return turnMessage{
			Transcript: raw.Transcript,
			EndOfTurn:  raw.EndOfTurn,
			TurnOrder:  raw.TurnOrder,
		}, nil
	case "Termination":
		return terminationMessage{AudioDuration: raw.Duration}, nil
	case "":
		if raw.Error != "" {
			return errorMessage{Text: raw.Error}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", errUnknownMessage, raw.Type)
}

var terminatePayload = []byte(`{"type":"Terminate"}`)
