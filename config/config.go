package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"perpcore/native/perp"
)

// Engine captures the operator-defined risk parameters parsed from
// configuration. Balance-denominated fields are decimal strings so operators
// can express amounts beyond 64 bits.
type Engine struct {
	MaxAccounts                 uint32 `toml:"MaxAccounts" yaml:"maxAccounts"`
	InitialMarginBps            uint64 `toml:"InitialMarginBps" yaml:"initialMarginBps"`
	MaintenanceMarginBps        uint64 `toml:"MaintenanceMarginBps" yaml:"maintenanceMarginBps"`
	AccountCreationFee          string `toml:"AccountCreationFee" yaml:"accountCreationFee"`
	MaintenanceFeePerSlotE6     uint64 `toml:"MaintenanceFeePerSlotE6" yaml:"maintenanceFeePerSlotE6"`
	FeeForgivenessHalfLifeSlots uint64 `toml:"FeeForgivenessHalfLifeSlots" yaml:"feeForgivenessHalfLifeSlots"`
	LiquidationFeeBps           uint64 `toml:"LiquidationFeeBps" yaml:"liquidationFeeBps"`
	RiskReductionThreshold      string `toml:"RiskReductionThreshold" yaml:"riskReductionThreshold"`
	InitialInsurance            string `toml:"InitialInsurance" yaml:"initialInsurance"`
	DustThreshold               string `toml:"DustThreshold" yaml:"dustThreshold"`
	StalenessBoundSlots         uint64 `toml:"StalenessBoundSlots" yaml:"stalenessBoundSlots"`
	WarmupSlopePerStep          uint64 `toml:"WarmupSlopePerStep" yaml:"warmupSlopePerStep"`
	FundingRateClampE6          uint64 `toml:"FundingRateClampE6" yaml:"fundingRateClampE6"`
	MaxOraclePriceE6            uint64 `toml:"MaxOraclePriceE6" yaml:"maxOraclePriceE6"`
	MaxPrincipal                string `toml:"MaxPrincipal" yaml:"maxPrincipal"`
	MaxPnl                      string `toml:"MaxPnl" yaml:"maxPnl"`
	CrankFeeBudget              uint32 `toml:"CrankFeeBudget" yaml:"crankFeeBudget"`
	CrankLiquidationBudget      uint32 `toml:"CrankLiquidationBudget" yaml:"crankLiquidationBudget"`
	GCBudget                    uint32 `toml:"GCBudget" yaml:"gcBudget"`
}

// Default returns the parameter set written when no configuration exists.
func Default() Engine {
	return Engine{
		MaxAccounts:                 4096,
		InitialMarginBps:            1000,
		MaintenanceMarginBps:        500,
		AccountCreationFee:          "1000",
		MaintenanceFeePerSlotE6:     1,
		FeeForgivenessHalfLifeSlots: 216_000,
		LiquidationFeeBps:           100,
		RiskReductionThreshold:      "1000000",
		InitialInsurance:            "1000000",
		DustThreshold:               "10",
		StalenessBoundSlots:         150,
		WarmupSlopePerStep:          1_000_000,
		FundingRateClampE6:          1_000_000,
		MaxOraclePriceE6:            1_000_000_000_000,
		MaxPrincipal:                "1000000000000000000000000",
		MaxPnl:                      "1000000000000000000000000",
		CrankFeeBudget:              64,
		CrankLiquidationBudget:      16,
		GCBudget:                    64,
	}
}

// Load reads the engine configuration from the given path, creating a default
// file when none exists. The extension selects the decoder: .toml uses TOML,
// .yaml/.yml uses YAML.
func Load(path string) (*Engine, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Engine{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, err
		}
	default:
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// createDefault writes and returns the default configuration file.
func createDefault(path string) (*Engine, error) {
	cfg := Default()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raw, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, err
		}
		if _, err := f.Write(raw); err != nil {
			return nil, err
		}
	default:
		if err := toml.NewEncoder(f).Encode(cfg); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// Runtime converts the textual configuration into runtime engine parameters.
func (c Engine) Runtime() (perp.Params, error) {
	if err := c.Validate(); err != nil {
		return perp.Params{}, err
	}
	params := perp.Params{
		MaxAccounts:                 c.MaxAccounts,
		InitialMarginBps:            c.InitialMarginBps,
		MaintenanceMarginBps:        c.MaintenanceMarginBps,
		MaintenanceFeePerSlotE6:     c.MaintenanceFeePerSlotE6,
		FeeForgivenessHalfLifeSlots: c.FeeForgivenessHalfLifeSlots,
		LiquidationFeeBps:           c.LiquidationFeeBps,
		StalenessBoundSlots:         c.StalenessBoundSlots,
		WarmupSlopePerStep:          c.WarmupSlopePerStep,
		FundingRateClampE6:          c.FundingRateClampE6,
		MaxOraclePriceE6:            c.MaxOraclePriceE6,
		CrankFeeBudget:              c.CrankFeeBudget,
		CrankLiquidationBudget:      c.CrankLiquidationBudget,
		GCBudget:                    c.GCBudget,
	}
	var err error
	if params.AccountCreationFee, err = parseAmount("AccountCreationFee", c.AccountCreationFee); err != nil {
		return perp.Params{}, err
	}
	if params.RiskReductionThreshold, err = parseAmount("RiskReductionThreshold", c.RiskReductionThreshold); err != nil {
		return perp.Params{}, err
	}
	if params.InitialInsurance, err = parseAmount("InitialInsurance", c.InitialInsurance); err != nil {
		return perp.Params{}, err
	}
	if params.DustThreshold, err = parseAmount("DustThreshold", c.DustThreshold); err != nil {
		return perp.Params{}, err
	}
	if params.MaxPrincipal, err = parseAmount("MaxPrincipal", c.MaxPrincipal); err != nil {
		return perp.Params{}, err
	}
	if params.MaxPnl, err = parseAmount("MaxPnl", c.MaxPnl); err != nil {
		return perp.Params{}, err
	}
	return params, nil
}

func parseAmount(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("config: invalid %s amount %q", field, value)
	}
	return amount, nil
}
