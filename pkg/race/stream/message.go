package stream

import (
	"time"

	"github.com/samber/lo"

	"github.com/mpapenbr/lapsim-service-go/pkg/model"
)

type MessageType string

const (
	MessageLap       MessageType = "lap"
	MessageCountdown MessageType = "countdown"
	MessageFinish    MessageType = "finish"
	MessageError     MessageType = "error"
)

// Final reports whether no further message of a race follows.
func (t MessageType) Final() bool {
	return t == MessageFinish || t == MessageError
}

// Message is one discrete item written to a sink.
type Message interface {
	Type() MessageType
}

type (
	StandingEntry struct {
		Position int    `json:"position"`
		Name     string `json:"name"`
		Team     string `json:"team,omitempty"`
	}

	LapMessage struct {
		Event      MessageType      `json:"event"`
		RaceID     string           `json:"race_id"`
		Lap        int              `json:"lap"`
		TotalLaps  int              `json:"total_laps"`
		Standings  []StandingEntry  `json:"standings"`
		Raining    bool             `json:"raining"`
		SafetyCar  bool             `json:"safety_car"`
		Events     []string         `json:"events"`
		Details    []model.LapEvent `json:"details,omitempty"`
		Commentary string           `json:"commentary,omitempty"`
		Timestamp  string           `json:"timestamp"`
	}

	// CountdownMessage is an informational heartbeat between two laps.
	CountdownMessage struct {
		Event     MessageType `json:"event"`
		RaceID    string      `json:"race_id"`
		NextLap   int         `json:"next_lap"`
		Remaining int         `json:"remaining"` // seconds
	}

	FinishMessage struct {
		Event     MessageType  `json:"event"`
		RaceID    string       `json:"race_id"`
		Laps      int          `json:"laps"`
		Winner    model.Driver `json:"winner"`
		Fact      string       `json:"fact,omitempty"`
		Timestamp string       `json:"timestamp"`
	}

	ErrorMessage struct {
		Event  MessageType `json:"event"`
		RaceID string      `json:"race_id"`
		Error  string      `json:"error"`
	}
)

func (LapMessage) Type() MessageType       { return MessageLap }
func (CountdownMessage) Type() MessageType { return MessageCountdown }
func (FinishMessage) Type() MessageType    { return MessageFinish }
func (ErrorMessage) Type() MessageType     { return MessageError }

func NewLapMessage(raceID string, totalLaps int, res *model.LapResult) LapMessage {
	return LapMessage{
		Event:     MessageLap,
		RaceID:    raceID,
		Lap:       res.Lap,
		TotalLaps: totalLaps,
		Standings: lo.Map(res.State.Standings, func(d model.Driver, i int) StandingEntry {
			return StandingEntry{Position: i + 1, Name: d.Name, Team: d.Team}
		}),
		Raining:   res.State.Raining,
		SafetyCar: res.State.SafetyCar,
		Events:    res.EventTexts(),
		Details:   res.Events,
		Timestamp: formatTime(res.Timestamp),
	}
}

func NewFinishMessage(raceID string, laps int, winner model.Driver, ts time.Time) FinishMessage {
	return FinishMessage{
		Event:     MessageFinish,
		RaceID:    raceID,
		Laps:      laps,
		Winner:    winner,
		Timestamp: formatTime(ts),
	}
}

func NewErrorMessage(raceID string, err error) ErrorMessage {
	return ErrorMessage{Event: MessageError, RaceID: raceID, Error: err.Error()}
}

func NewCountdownMessage(raceID string, nextLap int, remaining time.Duration) CountdownMessage {
	secs := int((remaining + time.Second - 1) / time.Second)
	return CountdownMessage{
		Event:     MessageCountdown,
		RaceID:    raceID,
		NextLap:   nextLap,
		Remaining: secs,
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
