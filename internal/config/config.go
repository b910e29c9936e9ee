package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string
	APIBaseURL  string
	AccessToken string

	// Audio device selection. -1 selects the default input device.
	InputDeviceIndex int

	// Core timing knobs. Tests shrink these; production uses the defaults.
	VADThresholdDB    float64
	VADPollInterval   time.Duration
	SilenceWindow     time.Duration
	SegmentCutEvery   time.Duration
	RecordingCeiling  time.Duration
	WordRevealEvery   time.Duration
	ProcessPollEvery  time.Duration
	ProcessPollBudget time.Duration
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8086"
	}

	base := os.Getenv("PORTAL_API_BASE_URL")
	if base == "" {
		base = "http://localhost:8000"
	}

	token := os.Getenv("PORTAL_ACCESS_TOKEN")
	if token == "" {
		log.Println("Warning: PORTAL_ACCESS_TOKEN not set - portal requests will be rejected")
	}

	device := -1
	if v := os.Getenv("INPUT_DEVICE_INDEX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			device = n
		} else {
			log.Printf("Warning: invalid INPUT_DEVICE_INDEX %q, using default device", v)
		}
	}

	threshold := -65.0
	if v := os.Getenv("VAD_THRESHOLD_DB"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			threshold = f
		}
	}

	log.Printf("config: HTTP_ADDRESS=%s PORTAL_API_BASE_URL=%s", addr, base)
	return Config{
		HTTPAddress:       addr,
		APIBaseURL:        base,
		AccessToken:       token,
		InputDeviceIndex:  device,
		VADThresholdDB:    threshold,
		VADPollInterval:   100 * time.Millisecond,
		SilenceWindow:     2500 * time.Millisecond,
		SegmentCutEvery:   15 * time.Second,
		RecordingCeiling:  120 * time.Second,
		WordRevealEvery:   333 * time.Millisecond,
		ProcessPollEvery:  5 * time.Second,
		ProcessPollBudget: 10 * time.Minute,
	}
}
