package models

import "time"

type Counter struct {
	CounterID     string     `json:"counter_id"`
	Name          string     `json:"name"`
	Prefix        string     `json:"prefix"`
	NowServing    int        `json:"now_serving"`
	LastIssued    int        `json:"last_issued"`
	Active        bool       `json:"active"`
	Busy          bool       `json:"busy"`
	LastAdvanceAt *time.Time `json:"last_advance_at,omitempty"`
}
