package main

import (
	"log"
	"sync"

	"github.com/banshee-data/process.report/internal/api"
	"github.com/banshee-data/process.report/internal/db"
	"github.com/banshee-data/process.report/internal/gaugemux"
	"github.com/banshee-data/process.report/internal/ingest"
)

// readingRouter funnels parsed gauge readings into the subgroup builder.
// The target characteristic follows the active serial configuration, so
// swapping configurations at runtime redirects the stream without a
// restart.
type readingRouter struct {
	db      *db.DB
	manager *api.GaugePortManager // nil when the transport is fixed (dev, disabled)
	builder *ingest.Builder

	mu             sync.Mutex
	cachedConfigID int64
	cachedTarget   *int64
}

func newReadingRouter(database *db.DB, manager *api.GaugePortManager, builder *ingest.Builder) *readingRouter {
	return &readingRouter{db: database, manager: manager, builder: builder}
}

// Route is the reading sink handed to gaugemux.HandleEvent. Readings
// with no resolvable characteristic are dropped with a log line rather
// than failing the gauge line handler.
func (rt *readingRouter) Route(r gaugemux.Reading) error {
	target, err := rt.targetCharacteristic()
	if err != nil {
		return err
	}
	if target == nil {
		log.Printf("dropping reading %g: no characteristic linked to the active serial configuration", r.Value)
		return nil
	}
	return rt.builder.Add(*target, r.Value)
}

// targetCharacteristic resolves which characteristic the active serial
// configuration feeds. The lookup is cached per configuration ID; a
// reload that activates a different configuration invalidates it.
func (rt *readingRouter) targetCharacteristic() (*int64, error) {
	if rt.manager != nil {
		if snap := rt.manager.Snapshot(); snap.ConfigID != 0 {
			rt.mu.Lock()
			if rt.cachedConfigID == snap.ConfigID {
				target := rt.cachedTarget
				rt.mu.Unlock()
				return target, nil
			}
			rt.mu.Unlock()

			cfg, err := rt.db.GetSerialConfig(snap.ConfigID)
			if err != nil {
				return nil, err
			}
			var target *int64
			if cfg != nil {
				target = cfg.CharacteristicID
			}

			rt.mu.Lock()
			rt.cachedConfigID = snap.ConfigID
			rt.cachedTarget = target
			rt.mu.Unlock()
			return target, nil
		}
	}

	// Fixed transports route to the first enabled configuration that
	// names a characteristic.
	configs, err := rt.db.GetEnabledSerialConfigs()
	if err != nil {
		return nil, err
	}
	for _, cfg := range configs {
		if cfg.CharacteristicID != nil {
			return cfg.CharacteristicID, nil
		}
	}
	return nil, nil
}
