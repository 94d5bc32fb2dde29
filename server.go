package main

import (
	"BaroServer/bmp180"
	"BaroServer/display"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"periph.io/x/conn/v3/physic"
)

// monitor turns the sensor readings into SensorReadings and fans them out to
// the display, the HTTP store and the MQTT publisher.
type monitor struct {
	store     *readingStore
	sink      display.Sink
	publisher readingPublisher
	// air returns relative humidity and CO2 ppm, nil without SCD4x.
	air      func() (float64, uint16, error)
	seaLevel float64 // Pa
	now      func() time.Time
}

func (m *monitor) run(ch <-chan physic.Env) {
	for env := range ch {
		m.update(env)
	}
	log.Println("Sensor stopped")
}

func (m *monitor) update(env physic.Env) {
	pressure := float64(env.Pressure) / float64(physic.Pascal)

	// BMP180
	reading := NewSensorReading(m.now())
	reading.Temperature = env.Temperature.Celsius()
	reading.Pressure = float64(env.Pressure) / float64(HectoPascal)
	reading.Altitude = bmp180.Altitude(pressure, m.seaLevel)

	// SCD41
	if m.air != nil {
		rh, co2, err := m.air()
		if err != nil {
			log.Printf("error while reading SCD4x data: %v", err)
		} else {
			reading.Humidity = rh
			reading.CO2 = co2
		}
	}

	m.store.Set(reading)

	if m.sink != nil {
		r := bmp180.Reading{Temperature: reading.Temperature, Pressure: pressure}
		if err := display.Show(m.sink, r); err != nil {
			log.Printf("display: %v", err)
		}
	}
	if m.publisher != nil {
		if err := m.publisher.Publish(reading); err != nil {
			log.Printf("mqtt: %v", err)
		}
	}
}

type calibrationSource interface {
	Calibration() bmp180.Calibration
}

func newRouter(store *readingStore, cal calibrationSource) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, store.Get())
	}).Methods(http.MethodGet)
	r.HandleFunc("/calibration", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, cal.Calibration())
	}).Methods(http.MethodGet)
	return r
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	jsonStr, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(jsonStr); err != nil {
		log.Printf("Couldn't send response: %v\n", err)
	}
}
