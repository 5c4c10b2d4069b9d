package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/triviarena/triviarena/go/internal/models"
	"github.com/triviarena/triviarena/go/internal/quiz/coordinator"
	"github.com/triviarena/triviarena/go/internal/quiz/events"
	"github.com/triviarena/triviarena/go/internal/quiz/limiter"
)

// matchConfig is the YAML shape of the match rules file. Durations are Go
// duration strings ("3s", "250ms"). Zero values fall back to the defaults.
type matchConfig struct {
	Match struct {
		ReadDelay        string                    `yaml:"read_delay"`
		BuzzWindow       string                    `yaml:"buzz_window"`
		EarlyBuzzPenalty string                    `yaml:"early_buzz_penalty"`
		WagerCeiling     int                       `yaml:"wager_ceiling"`
		Rounds           []string                  `yaml:"rounds"`
		IdleTimeout      string                    `yaml:"idle_timeout"`
		InboxSize        int                       `yaml:"inbox_size"`
		Limits           map[string]limiter.Config `yaml:"limits"`
	} `yaml:"match"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// loadRules layers the rules file over the defaults.
func loadRules(path string) (coordinator.Rules, error) {
	rules := coordinator.DefaultRules()

	data, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("failed to read rules file: %w", err)
	}
	var config matchConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return rules, fmt.Errorf("failed to parse rules file: %w", err)
	}
	m := config.Match

	if err := overrideDuration(&rules.ReadDelay, m.ReadDelay); err != nil {
		return rules, fmt.Errorf("read_delay: %w", err)
	}
	if err := overrideDuration(&rules.BuzzWindow, m.BuzzWindow); err != nil {
		return rules, fmt.Errorf("buzz_window: %w", err)
	}
	if err := overrideDuration(&rules.EarlyBuzzPenalty, m.EarlyBuzzPenalty); err != nil {
		return rules, fmt.Errorf("early_buzz_penalty: %w", err)
	}
	if err := overrideDuration(&rules.IdleTimeout, m.IdleTimeout); err != nil {
		return rules, fmt.Errorf("idle_timeout: %w", err)
	}
	if m.WagerCeiling > 0 {
		rules.WagerCeiling = models.Value(m.WagerCeiling)
	}
	if len(m.Rounds) > 0 {
		rules.Rounds = m.Rounds
	}
	if m.InboxSize > 0 {
		rules.InboxSize = m.InboxSize
	}
	for name, cfg := range m.Limits {
		rules.Limits[events.Type(name)] = cfg
	}
	return rules, nil
}

func overrideDuration(dst *time.Duration, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
