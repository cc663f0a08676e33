package gaugemux

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

// CurrentState holds the latest status values received from the gauge
// interface and is intentionally package-level so admin routes or tests can
// inspect it.
var CurrentState map[string]any

// HandleStatusResponse folds a JSON status line into CurrentState.
func HandleStatusResponse(payload string) error {
	var statusValues map[string]any

	if err := json.Unmarshal([]byte(payload), &statusValues); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %v", err)
	}

	// update the current state with the new status values
	if CurrentState == nil {
		CurrentState = make(map[string]any)
	}
	for k, v := range statusValues {
		CurrentState[k] = v
	}

	log.Printf("Gauge status line: %+v", payload)

	return nil
}

// HandleEvent classifies one line from the gauge port and dispatches it.
// Readings go to the sink, status lines update CurrentState, command
// acknowledgements are logged only when the unit rejected a command.
func HandleEvent(sink func(Reading) error, payload string) error {
	switch ClassifyPayload(payload) {
	case EventTypeReading:
		r, err := ParseReading(payload)
		if err != nil {
			return fmt.Errorf("failed to parse reading: %v", err)
		}
		return sink(r)
	case EventTypeStatus:
		if err := HandleStatusResponse(payload); err != nil {
			return fmt.Errorf("failed to handle status response: %v", err)
		}
	case EventTypeAck:
		if strings.HasPrefix(strings.TrimSpace(payload), "ER,") {
			log.Printf("gauge rejected command: %s", payload)
		}
	default:
		log.Printf("unknown gauge line: %s", payload)
	}
	return nil
}
