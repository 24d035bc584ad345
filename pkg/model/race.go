package model

import "time"

type EventKind string

const (
	EventWeather        EventKind = "weather"
	EventSafetyCar      EventKind = "safety_car"
	EventPositionChange EventKind = "position_change"
	EventPitStop        EventKind = "pit_stop"
)

// LapEvent describes one notable occurrence of a lap. Driver, From and To
// are set for position changes and pit stops (positions are 1-based).
type LapEvent struct {
	Kind   EventKind `json:"kind"`
	Text   string    `json:"text"`
	Driver string    `json:"driver,omitempty"`
	From   int       `json:"from,omitempty"`
	To     int       `json:"to,omitempty"`
}

// RaceState is owned by a single race and advanced one lap at a time.
// Standings is always a permutation of the roster the race was started with.
type RaceState struct {
	Standings []Driver
	Raining   bool
	SafetyCar bool
	Lap       int
}

// Clone returns a deep copy, standings included.
func (s *RaceState) Clone() RaceState {
	ret := *s
	ret.Standings = append([]Driver(nil), s.Standings...)
	return ret
}

func (s *RaceState) Leader() Driver {
	return s.Standings[0]
}

// Top returns up to n drivers from the front of the field.
func (s *RaceState) Top(n int) []Driver {
	if n > len(s.Standings) {
		n = len(s.Standings)
	}
	return append([]Driver(nil), s.Standings[:n]...)
}

// LapResult is the outcome of one simulation step.
type LapResult struct {
	Lap       int // number of the lap just simulated
	State     RaceState
	Events    []LapEvent
	Timestamp time.Time
}

func (r *LapResult) EventTexts() []string {
	ret := make([]string, len(r.Events))
	for i := range r.Events {
		ret[i] = r.Events[i].Text
	}
	return ret
}
