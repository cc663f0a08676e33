package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/banshee-data/process.report/internal/api"
	"github.com/banshee-data/process.report/internal/db"
	"github.com/banshee-data/process.report/internal/gaugemux"
)

// gaugeSetup captures the flags that select the gauge transport so the
// selection logic can be exercised without touching package globals.
type gaugeSetup struct {
	Disabled     bool
	Dev          bool
	FixturesPath string
	// PortPath overrides the stored serial configurations with a fixed
	// port opened with default options.
	PortPath string
}

// buildGaugeMux selects the gauge transport for this run: a no-op mux
// when gauges are disabled, a mock replaying the first fixture line in
// dev mode, or a real serial port wrapped in a GaugePortManager so the
// configuration can be swapped at runtime through the API.
func buildGaugeMux(database *db.DB, setup gaugeSetup) (gaugemux.GaugeMuxInterface, *api.GaugePortManager, error) {
	if setup.Disabled {
		return gaugemux.NewDisabledGaugeMux(), nil, nil
	}

	if setup.Dev {
		data, err := os.ReadFile(setup.FixturesPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open fixtures file: %w", err)
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		firstLine := lines[0]
		return gaugemux.NewMockGaugeMux([]byte(firstLine + "\n")), nil, nil
	}

	factory := func(path string, opts gaugemux.PortOptions) (gaugemux.GaugeMuxInterface, error) {
		return gaugemux.NewRealGaugeMux(path, opts)
	}

	if setup.PortPath != "" {
		opts, err := gaugemux.PortOptions{}.Normalize()
		if err != nil {
			return nil, nil, err
		}
		m, err := gaugemux.NewRealGaugeMux(setup.PortPath, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open serial port %s: %w", setup.PortPath, err)
		}
		snapshot := api.SerialConfigSnapshot{
			PortPath: setup.PortPath,
			Source:   "flag",
			Options:  opts,
		}
		manager := api.NewGaugePortManager(database, m, snapshot, factory)
		return manager, manager, nil
	}

	configs, err := database.GetEnabledSerialConfigs()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load serial configurations: %w", err)
	}

	var initial gaugemux.GaugeMuxInterface
	var snapshot api.SerialConfigSnapshot
	if len(configs) == 0 {
		log.Printf("No enabled serial configuration; gauge port idle until one is created and reloaded")
	} else {
		cfg := configs[0]
		opts := gaugemux.PortOptions{
			BaudRate: cfg.BaudRate,
			DataBits: cfg.DataBits,
			StopBits: cfg.StopBits,
			Parity:   cfg.Parity,
		}
		normalized, err := opts.Normalize()
		if err != nil {
			return nil, nil, fmt.Errorf("invalid serial configuration %q: %w", cfg.Name, err)
		}
		m, err := gaugemux.NewRealGaugeMux(cfg.PortPath, normalized)
		if err != nil {
			log.Printf("failed to open serial port %s: %v (fix the configuration and POST /api/serial/reload)", cfg.PortPath, err)
		} else {
			initial = m
			snapshot = api.SerialConfigSnapshot{
				ConfigID: cfg.ID,
				Name:     cfg.Name,
				PortPath: cfg.PortPath,
				Source:   "database",
				Options:  normalized,
			}
		}
	}

	manager := api.NewGaugePortManager(database, initial, snapshot, factory)
	return manager, manager, nil
}
