package heuristic

import (
	"kea/internal/config"
	"kea/internal/observer"
)

// Suite wires the full built-in collaborator set for an observer.
func Suite(cfg *config.Config) observer.Collaborators {
	return observer.Collaborators{
		Profiles:    Profiles{},
		Ingest:      Ingestor{},
		Classifier:  Classifier{},
		Scorer:      Scorer{},
		Entities:    Extractor{},
		SelfModel:   SelfModel{},
		Router:      Router{},
		Decomposer:  Decomposer{},
		Simulator:   Simulator{},
		Synthesizer: Synthesizer{},
		Planner:     Planner{},
		Guard:       Guard{},
		Runner:      Runner{},
		Monitor:     NewMonitor(cfg.Observer),
		Grounding:   Grounder{},
		Calibrator:  Calibrator{},
		Filter:      Filter{},
	}
}
