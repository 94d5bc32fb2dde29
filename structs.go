package main

import (
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"
)

const HectoPascal = 100 * physic.Pascal

type SensorReading struct {
	Temperature float64 `json:"temperature"`
	Pressure    float64 `json:"pressure"`
	Altitude    float64 `json:"altitude"`
	// SCD4x, only present when enabled
	Humidity   float64   `json:"humidity,omitempty"`
	CO2        uint16    `json:"co2,omitempty"`
	Updated    time.Time `json:"-"`
	UpdatedStr string    `json:"updated"`
}

func NewSensorReading(date time.Time) SensorReading {
	return SensorReading{
		Updated:    date,
		UpdatedStr: date.Format("2006-01-02 15:04:05"), // ISO 8601 without timezone
	}
}

// readingStore holds the latest reading, shared between the sensing
// goroutine and the HTTP handlers.
type readingStore struct {
	mu      sync.RWMutex
	reading SensorReading
}

func (s *readingStore) Set(r SensorReading) {
	s.mu.Lock()
	s.reading = r
	s.mu.Unlock()
}

func (s *readingStore) Get() SensorReading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reading
}
