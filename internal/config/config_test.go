package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ESCROW_CUSTODY_OWNER", "")
	t.Setenv("TON_HOT_WALLET_ADDRESS", "EQcustody")
	t.Setenv("ESCROW_AUTHORITY", "admin")
	t.Setenv("ESCROW_TREASURY", "")
	t.Setenv("LOCK_TTL_SECONDS", "not-a-number")

	cfg := Load()

	if cfg.CustodyOwner != "EQcustody" {
		t.Errorf("CustodyOwner = %q, want hot wallet fallback", cfg.CustodyOwner)
	}
	if cfg.Treasury != "admin" {
		t.Errorf("Treasury = %q, want authority fallback", cfg.Treasury)
	}
	if cfg.LockTTL != 60*time.Second {
		t.Errorf("LockTTL = %v, want default on parse error", cfg.LockTTL)
	}
}

func TestCheck(t *testing.T) {
	valid := func() *Config {
		return &Config{
			CustodyOwner: "custody",
			Authority:    "admin",
			StoreDriver:  DriverMemory,
			LedgerDriver: DriverMemory,
			LockDriver:   DriverLocal,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"no custody", func(c *Config) { c.CustodyOwner = "" }, true},
		{"no authority", func(c *Config) { c.Authority = "" }, true},
		{"bad store", func(c *Config) { c.StoreDriver = "mysql" }, true},
		{"bad lock", func(c *Config) { c.LockDriver = "etcd" }, true},
		{"ton without seed", func(c *Config) {
			c.LedgerDriver = DriverTON
			c.TONHotWalletAddress = "EQ"
		}, true},
		{"ton complete", func(c *Config) {
			c.LedgerDriver = DriverTON
			c.TONHotWalletAddress = "EQ"
			c.TONWalletSeed = "word word"
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Check()
			if (err != nil) != tt.wantErr {
				t.Errorf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
