package main

import (
	"BaroServer/bmp180"
	"BaroServer/display"
	"context"
	"errors"
	"fmt"
	"github.com/aldernero/scd4x"
	"github.com/jessevdk/go-flags"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
	"time"
)

type ProgramArgs struct {
	ConfigFile string `short:"c" long:"config" description:"INI file with option defaults" no-ini:"true"`

	// Server Options
	Host string `short:"H" long:"host" default:"127.0.0.1" description:"IP to listen on"`
	Port uint16 `short:"P" long:"port" default:"27315" description:"Port to listen on"`

	// Sensor Options
	Interval     uint16  `short:"I" long:"interval" default:"1" description:"Interval between readings in seconds"`
	I2CDevice    string  `short:"D" long:"i2cdev" description:"The used I2C device (default: auto)"`
	Oversampling uint8   `short:"O" long:"oss" default:"1" choice:"0" choice:"1" choice:"2" choice:"3" description:"Pressure oversampling setting"`
	SeaLevel     float64 `long:"sealevel" default:"1013.25" description:"Sea level pressure in hPa, used for the altitude"`
	Simulate     bool    `long:"simulate" description:"Use a simulated BMP180 instead of the I2C bus"`
	SCD4x        bool    `long:"scd4x" description:"Also read humidity and CO2 from an SCD4x on the same bus"`

	// Display Options
	Display string `long:"display" default:"console" choice:"none" choice:"console" choice:"oled" description:"Where to show the readings"`

	// MQTT Options
	MQTTBroker   string `long:"mqtt-broker" description:"MQTT broker, e.g. tcp://localhost:1883 (disabled if empty)"`
	MQTTTopic    string `long:"mqtt-topic" default:"sensors/bmp180" description:"MQTT topic the readings are published to"`
	MQTTClientID string `long:"mqtt-client-id" default:"baroserver" description:"MQTT client ID"`
}

const (
	MIN_TIMEOUT_SECONDS = 2
)

// parseArgs parses the command line. Options given on the command line take
// precedence over the ones from the config file.
func parseArgs(argv []string) (ProgramArgs, error) {
	args := ProgramArgs{}
	argParser := flags.NewParser(&args, flags.Default)
	if _, err := argParser.ParseArgs(argv); err != nil {
		return args, err
	}
	if args.ConfigFile != "" {
		if err := flags.NewIniParser(argParser).ParseFile(args.ConfigFile); err != nil {
			return args, err
		}
		if _, err := argParser.ParseArgs(argv); err != nil {
			return args, err
		}
	}
	if args.Interval == 0 {
		return args, errors.New("interval must be at least 1 second")
	}
	return args, nil
}

func getOutboundIP() net.IP {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	return localAddr.IP
}

func setupI2CBus(i2cdev string) i2c.BusCloser {
	if _, err := host.Init(); err != nil {
		log.Fatalf("Initialization failed: %v", err)
	}

	bus, err := i2creg.Open(i2cdev)
	if err != nil {
		log.Fatalf("Couldn't open I2C device: %v", err)
	}

	return bus
}

// setupBMPSensor returns the device. the caller has the responsibility to close the bus
func setupBMPSensor(i2cBus i2c.Bus, oss bmp180.Oversampling) *bmp180.Dev {
	deviceOpts := bmp180.DefaultOpts
	deviceOpts.Pressure = oss

	dev, err := bmp180.NewI2C(i2cBus, bmp180.Addr, &deviceOpts)
	if err != nil {
		log.Fatalf("Couldn't initialize sensor: %v", err)
	}

	return dev
}

func setupSimulatedSensor(oss bmp180.Oversampling) *bmp180.Dev {
	deviceOpts := bmp180.DefaultOpts
	deviceOpts.Pressure = oss

	sim := bmp180.NewSim(bmp180.DatasheetCalibration, 27898, 23843<<oss)
	dev, err := bmp180.New(sim, bmp180.Addr, &deviceOpts)
	if err != nil {
		log.Fatalf("Couldn't initialize simulated sensor: %v", err)
	}

	return dev
}

func setupSCDSensor(i2cBus i2c.Bus) *scd4x.SCD4x {
	sensor, err := scd4x.SensorInit(i2cBus, false)
	if err != nil {
		log.Fatalln(err.Error())
	}

	fmt.Println("Initializing SCD4x…")
	if err := sensor.StopMeasurements(); err != nil {
		log.Fatalf("Error while trying to stop periodic measurements: %v\n", err)
	}
	if err := sensor.StartMeasurements(); err != nil {
		log.Fatalf("Error while trying to start periodic measurements: %v\n", err)
	}
	fmt.Println("Done")

	return sensor
}

func setupDisplay(kind string, i2cBus i2c.Bus) display.Sink {
	switch kind {
	case "console":
		return display.NewConsole(os.Stdout)
	case "oled":
		if i2cBus == nil {
			log.Fatal("The OLED display needs an I2C bus")
		}
		oled, err := display.NewOLED(i2cBus)
		if err != nil {
			log.Fatalf("Couldn't initialize display: %v", err)
		}
		return oled
	default:
		return nil
	}
}

func main() {
	args, err := parseArgs(os.Args[1:])
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		log.Fatalf("arg parse fail: %v", err)
	}

	oss := bmp180.Oversampling(args.Oversampling)

	m := &monitor{
		store:    &readingStore{},
		seaLevel: args.SeaLevel * 100,
		now:      time.Now,
	}

	// Boring i2c setup (error handling happens in these functions)
	var bus i2c.BusCloser
	var bmpDev *bmp180.Dev
	if args.Simulate {
		bmpDev = setupSimulatedSensor(oss)
	} else {
		bus = setupI2CBus(args.I2CDevice)
		defer bus.Close()
		bmpDev = setupBMPSensor(bus, oss)
	}
	log.Printf("%s ready, oversampling %s", bmpDev, oss)

	m.sink = setupDisplay(args.Display, bus)
	if oled, ok := m.sink.(*display.OLED); ok {
		defer oled.Halt()
	}

	if args.SCD4x {
		if bus == nil {
			log.Fatal("The SCD4x needs an I2C bus")
		}
		scdDev := setupSCDSensor(bus)
		defer scdDev.StopMeasurements()
		m.air = func() (float64, uint16, error) {
			scdData, err := scdDev.ReadMeasurement()
			if err != nil {
				return 0, 0, err
			}
			return scdData.Rh, scdData.CO2, nil
		}
	}

	if args.MQTTBroker != "" {
		pub, err := newMQTTPublisher(args.MQTTBroker, args.MQTTClientID, args.MQTTTopic)
		if err != nil {
			log.Fatalf("Couldn't connect to MQTT broker: %v", err)
		}
		defer pub.Close()
		log.Printf("Publishing to %s on %s", args.MQTTTopic, args.MQTTBroker)
		m.publisher = pub
	}

	// SenseContinuous will take one reading immediately before looping
	intervalDuration := time.Duration(args.Interval)
	readingChannel, err := bmpDev.SenseContinuous(intervalDuration * time.Second)
	if err != nil {
		log.Fatalf("Couldn't start taking readings: %v", err)
	}
	defer bmpDev.Halt()

	// Start background measurements
	go m.run(readingChannel)

	timeoutLen := max(MIN_TIMEOUT_SECONDS, int(args.Interval))

	addr := fmt.Sprintf("%s:%d", args.Host, args.Port)
	srv := &http.Server{
		Addr:         addr,
		ReadTimeout:  time.Duration(timeoutLen) * time.Second,
		WriteTimeout: time.Duration(timeoutLen) * time.Second,
		IdleTimeout:  120 * time.Second,
		Handler:      newRouter(m.store, bmpDev),
	}

	go func() {
		if args.Host == "0.0.0.0" {
			localIP := getOutboundIP() // resolve local IP for easier debugging
			log.Printf("Listening on %s:%d…\n", localIP.String(), args.Port)
		} else {
			log.Printf("Listening on %s…\n", addr)
		}

		err := srv.ListenAndServe()
		log.Printf("Shutdown (%v)\n", err)
	}()

	sigChan := make(chan os.Signal, 1)
	// We'll accept graceful shutdowns when quit via SIGINT (Ctrl+C)
	// SIGKILL, SIGQUIT or SIGTERM (Ctrl+/) will not be caught.
	signal.Notify(sigChan, os.Interrupt)

	<-sigChan

	// Give the server a timeout period of 4 seconds
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()
	// Doesn't block if no connections, but will otherwise wait until the timeout deadline.
	_ = srv.Shutdown(ctx)
}
