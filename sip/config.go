package sip

import (
	"fmt"
	"os"
	"time"

	"braces.dev/errtrace"
	"gopkg.in/yaml.v3"

	"github.com/ghettovoice/sipengine/internal/errorutil"
)

// EngineConfig is the file representation of [EngineOptions].
// Zero values select the defaults.
type EngineConfig struct {
	UserAgent string `yaml:"user_agent"`
	Timers    struct {
		T1 time.Duration `yaml:"t1"`
		T2 time.Duration `yaml:"t2"`
		T4 time.Duration `yaml:"t4"`
		C  time.Duration `yaml:"c"`
	} `yaml:"timers"`
	ReqTransCount            int           `yaml:"req_trans_count"`
	RspTransCount            int           `yaml:"rsp_trans_count"`
	MaxForwards              int           `yaml:"max_forwards"`
	LazyTrying               bool          `yaml:"lazy_trying"`
	AutoChangeParty          bool          `yaml:"auto_change_party"`
	AckAfterNewInvite        bool          `yaml:"ack_after_new_invite"`
	PreserveTransactionOrder bool          `yaml:"preserve_transaction_order"`
	AllowedMethods           []string      `yaml:"allowed_methods"`
	PollInterval             time.Duration `yaml:"poll_interval"`
	Workers                  int           `yaml:"workers"`
}

// LoadEngineConfig reads and validates a YAML engine config.
func LoadEngineConfig(filename string) (*EngineConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errtrace.Wrap(fmt.Errorf("read config file %s: %w", filename, err))
	}
	return errtrace.Wrap2(ParseEngineConfig(data))
}

// ParseEngineConfig decodes and validates a YAML engine config.
func ParseEngineConfig(data []byte) (*EngineConfig, error) {
	var cfg EngineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidConfig, err))
	}
	if err := cfg.Validate(); err != nil {
		return nil, errtrace.Wrap(err)
	}
	return &cfg, nil
}

// Validate checks value ranges. Transmission counts out of [2,10] are
// clamped by the engine and are not an error.
func (cfg *EngineConfig) Validate() error {
	var errs []error
	for name, d := range map[string]time.Duration{
		"t1": cfg.Timers.T1,
		"t2": cfg.Timers.T2,
		"t4": cfg.Timers.T4,
		"c":  cfg.Timers.C,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("timer %s is negative: %s", name, d))
		}
	}
	if cfg.Timers.T1 > 0 && cfg.Timers.T2 > 0 && cfg.Timers.T2 < cfg.Timers.T1 {
		errs = append(errs, fmt.Errorf("timer t2 (%s) can not be less than t1 (%s)", cfg.Timers.T2, cfg.Timers.T1))
	}
	if cfg.ReqTransCount < 0 {
		errs = append(errs, fmt.Errorf("invalid req_trans_count: %d", cfg.ReqTransCount))
	}
	if cfg.RspTransCount < 0 {
		errs = append(errs, fmt.Errorf("invalid rsp_trans_count: %d", cfg.RspTransCount))
	}
	if cfg.MaxForwards < 0 || cfg.MaxForwards > 255 {
		errs = append(errs, fmt.Errorf("invalid max_forwards: %d (must be 0-255)", cfg.MaxForwards))
	}
	if cfg.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("invalid poll_interval: %s", cfg.PollInterval))
	}
	if cfg.Workers < 0 {
		errs = append(errs, fmt.Errorf("invalid workers: %d", cfg.Workers))
	}
	if len(errs) == 0 {
		return nil
	}
	return errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidConfig, errorutil.JoinPrefix("engine config:", errs...)))
}

// Options converts the config to engine options.
// Callbacks, clock, metrics and logger are left for the caller to set.
func (cfg *EngineConfig) Options() *EngineOptions {
	return &EngineOptions{
		UserAgent:                cfg.UserAgent,
		Timings:                  NewTimings(cfg.Timers.T1, cfg.Timers.T2, cfg.Timers.T4, cfg.Timers.C),
		ReqTransCount:            cfg.ReqTransCount,
		RspTransCount:            cfg.RspTransCount,
		MaxForwards:              cfg.MaxForwards,
		LazyTrying:               cfg.LazyTrying,
		AutoChangeParty:          cfg.AutoChangeParty,
		AckAfterNewInvite:        cfg.AckAfterNewInvite,
		PreserveTransactionOrder: cfg.PreserveTransactionOrder,
		AllowedMethods:           cfg.AllowedMethods,
		PollInterval:             cfg.PollInterval,
		Workers:                  cfg.Workers,
	}
}
