// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"fmt"
	"io"
	"log/syslog"

	"grimm.is/flowengine/internal/errors"
)

// SyslogConfig configures forwarding of log records to a syslog daemon.
// Facility uses the traditional syslog facility numbering (1 = user-level),
// not the shifted syslog.Priority bits log/syslog works in.
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string
	Tag      string
	Facility int
}

// DefaultSyslogConfig returns a disabled syslog configuration with the
// product's normal defaults filled in.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "flowengine",
		Facility: 1,
	}
}

// NewSyslogWriter dials a syslog daemon and returns an io.Writer that
// forwards raw log lines to it. Missing defaults (port, protocol, tag) are
// filled in from DefaultSyslogConfig.
func NewSyslogWriter(cfg SyslogConfig) (io.Writer, error) {
	if cfg.Host == "" {
		return nil, errors.New(errors.KindConfig, "logging: syslog host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "flowengine"
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	priority := syslog.Priority(cfg.Facility<<3) | syslog.LOG_INFO
	w, err := syslog.Dial(cfg.Protocol, addr, priority, cfg.Tag)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "logging: dial syslog")
	}
	return w, nil
}
