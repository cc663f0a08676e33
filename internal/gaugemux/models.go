package gaugemux

// GaugeModel describes a supported gauge interface unit: the multiplexer or
// readout box that sits between the gauges and the serial port. The command
// strings are what the unit expects over the wire; replies follow the line
// protocol in parse.go.
type GaugeModel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Channels    int    `json:"channels"`
	DefaultBaud int    `json:"default_baud"`
	// InitCommands put the unit into continuous metric output.
	InitCommands []string `json:"init_commands"`
	// StatusCommand requests a JSON status report.
	StatusCommand string `json:"status_command"`
}

// DefaultInitCommands is the init sequence sent when the configured model is
// unknown. The commands are harmless no-ops on units that do not recognise
// them.
var DefaultInitCommands = []string{
	"UM", // report values in millimetres
	"CT", // enable continuous transmit
	"S?", // request a status report
}

// SupportedModels returns the gauge interface units the station knows how to
// drive, ordered for display.
func SupportedModels() []GaugeModel {
	return []GaugeModel{
		{
			ID:            "generic-csv",
			Name:          "Generic CSV interface",
			Channels:      1,
			DefaultBaud:   9600,
			InitCommands:  []string{"UM", "CT"},
			StatusCommand: "S?",
		},
		{
			ID:            "mux-4c",
			Name:          "4-channel gauge multiplexer",
			Channels:      4,
			DefaultBaud:   9600,
			InitCommands:  []string{"UM", "CT", "CH*"},
			StatusCommand: "S?",
		},
		{
			ID:            "readout-d1",
			Name:          "Single-channel digital readout",
			Channels:      1,
			DefaultBaud:   19200,
			InitCommands:  []string{"UM", "TR"},
			StatusCommand: "S?",
		},
	}
}

// LookupModel returns the model with the given ID, or false when the ID is
// not a supported unit.
func LookupModel(id string) (GaugeModel, bool) {
	for _, m := range SupportedModels() {
		if m.ID == id {
			return m, true
		}
	}
	return GaugeModel{}, false
}
