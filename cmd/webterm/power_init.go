package main

import (
	"log/slog"

	"github.com/kstaniek/go-webterm/internal/gpio"
	"github.com/kstaniek/go-webterm/internal/power"
)

// initPower opens the GPIO chip and returns the power controller, or nil when
// power control is disabled or the chip is unavailable.
func initPower(cfg *appConfig, l *slog.Logger) *power.Controller {
	if cfg.gpioChip == "" {
		l.Info("power_control_disabled")
		return nil
	}
	chip, err := gpio.Open(cfg.gpioChip)
	if err != nil {
		l.Warn("power_control_unavailable", "chip", cfg.gpioChip, "error", err)
		return nil
	}
	l.Info("power_control", "chip", cfg.gpioChip, "power_line", cfg.powerLine, "sense_line", cfg.senseLine, "pulse", cfg.pulseWidth)
	return power.New(chip,
		power.WithLines(cfg.powerLine, cfg.senseLine),
		power.WithPulseWidth(cfg.pulseWidth),
		power.WithLogger(l),
	)
}
