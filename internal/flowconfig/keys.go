// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flowconfig

import (
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"grimm.is/flowengine/internal/flow"
	"grimm.is/flowengine/internal/logging"
)

// truthy lists the strings, matched case-insensitively, that parse as
// true; any other string is false.
var truthy = map[string]bool{
	"1": true, "yes": true, "true": true, "on": true,
}

func parseBool(s string) bool {
	return truthy[strings.ToLower(strings.TrimSpace(s))]
}

// LoadFlowConfig reads the flow.* and flow-timeouts.<proto>.* keys from
// root and returns the resulting Config and TimeoutTable. An absent key
// keeps its built-in default; a key that fails to parse falls back to the
// default and is logged at warn level rather than aborting startup.
func LoadFlowConfig(root Node, log *logging.Logger) (flow.Config, *flow.TimeoutTable) {
	cfg := flow.DefaultConfig()
	log = log.WithComponent("flowconfig")

	if v, ok := root.GetValue("flow.hash-size"); ok {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil && n > 0 {
			cfg.HashSize = uint32(n)
		} else {
			log.Warn("invalid flow.hash-size, using default", "value", v, "default", cfg.HashSize)
		}
	}

	if v, ok := root.GetValue("flow.memcap"); ok {
		if n, err := humanize.ParseBytes(v); err == nil {
			cfg.Memcap = int64(n)
		} else {
			log.Warn("invalid flow.memcap, using default", "value", v, "default", cfg.Memcap)
		}
	}

	if v, ok := root.GetValue("flow.memcap-enforce"); ok && !parseBool(v) {
		// Any non-truthy string, including garbage, disables enforcement.
		cfg.Memcap = 0
	}

	if v, ok := root.GetValue("flow.prealloc"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Prealloc = n
		} else {
			log.Warn("invalid flow.prealloc, using default", "value", v, "default", cfg.Prealloc)
		}
	}

	if v, ok := root.GetValue("flow.emergency-recovery"); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 100 {
			cfg.EmergencyRecoveryPercent = n
		} else {
			log.Warn("invalid flow.emergency-recovery, must be 1..100, using default", "value", v, "default", cfg.EmergencyRecoveryPercent)
		}
	}

	if v, ok := root.GetValue("flow.prune-flows"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PruneBatch = n
		} else {
			log.Warn("invalid flow.prune-flows, using default", "value", v, "default", cfg.PruneBatch)
		}
	}

	if v, ok := root.GetValue("flow.manager-interval"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ManagerInterval = d
		} else {
			log.Warn("invalid flow.manager-interval, using default", "value", v, "default", cfg.ManagerInterval)
		}
	}

	timeouts := flow.DefaultTimeoutTable()
	loadTimeouts(root, timeouts, log)

	return cfg, timeouts
}

var protoNames = map[string]flow.Proto{
	"default": flow.ProtoDefault,
	"tcp":     flow.ProtoTCP,
	"udp":     flow.ProtoUDP,
	"icmp":    flow.ProtoICMP,
}

var phaseNames = map[string]flow.Phase{
	"new":         flow.PhaseNew,
	"established": flow.PhaseEstablished,
	"closed":      flow.PhaseClosing,
}

// parseTimeout accepts either a bare count of seconds ("42") or a Go
// duration string ("45s", "30m").
func parseTimeout(s string) (time.Duration, error) {
	if n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// loadTimeouts reads flow-timeouts.<proto>.<phase> and
// flow-timeouts.<proto>.emergency-<phase> keys into tt.
func loadTimeouts(root Node, tt *flow.TimeoutTable, log *logging.Logger) {
	section, ok := root.FindChild("flow-timeouts")
	if !ok {
		return
	}

	for protoName, proto := range protoNames {
		protoNode, ok := section.FindChild(protoName)
		if !ok {
			continue
		}
		for phaseName, phase := range phaseNames {
			if v, ok := protoNode.GetValue(phaseName); ok {
				if d, err := parseTimeout(v); err == nil {
					tt.Set(proto, phase, d)
				} else {
					log.Warn("invalid flow-timeouts value, keeping default", "proto", protoName, "phase", phaseName, "value", v)
				}
			}
			emergencyKey := "emergency-" + phaseName
			if v, ok := protoNode.GetValue(emergencyKey); ok {
				if d, err := parseTimeout(v); err == nil {
					tt.SetEmergency(proto, phase, d)
				} else {
					log.Warn("invalid flow-timeouts emergency value, keeping default", "proto", protoName, "phase", phaseName, "value", v)
				}
			}
		}
	}
}
