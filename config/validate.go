package config

import (
	"errors"
	"fmt"
)

var (
	errNoAccounts     = errors.New("config: MaxAccounts must be positive")
	errMarginOrder    = errors.New("config: InitialMarginBps must be at least MaintenanceMarginBps")
	errNoStaleness    = errors.New("config: StalenessBoundSlots must be positive")
	errFloorAboveSeed = errors.New("config: RiskReductionThreshold exceeds InitialInsurance")
)

const maxBps = 10_000

// Validate checks structural bounds on the configuration before it is
// converted into runtime parameters.
func (c Engine) Validate() error {
	if c.MaxAccounts == 0 {
		return errNoAccounts
	}
	if c.InitialMarginBps > maxBps {
		return fmt.Errorf("config: InitialMarginBps %d exceeds %d", c.InitialMarginBps, maxBps)
	}
	if c.MaintenanceMarginBps > maxBps {
		return fmt.Errorf("config: MaintenanceMarginBps %d exceeds %d", c.MaintenanceMarginBps, maxBps)
	}
	if c.InitialMarginBps < c.MaintenanceMarginBps {
		return errMarginOrder
	}
	if c.LiquidationFeeBps > maxBps {
		return fmt.Errorf("config: LiquidationFeeBps %d exceeds %d", c.LiquidationFeeBps, maxBps)
	}
	if c.StalenessBoundSlots == 0 {
		return errNoStaleness
	}
	if c.MaxOraclePriceE6 == 0 {
		return errors.New("config: MaxOraclePriceE6 must be positive")
	}
	floor, err := parseAmount("RiskReductionThreshold", c.RiskReductionThreshold)
	if err != nil {
		return err
	}
	seed, err := parseAmount("InitialInsurance", c.InitialInsurance)
	if err != nil {
		return err
	}
	if floor.Cmp(seed) > 0 {
		return errFloorAboveSeed
	}
	return nil
}
