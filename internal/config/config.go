package config

import (
	"fmt"
	"os"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/spf13/viper"
)

type Config struct {
	BaseDirectory  string
	DbType         string
	SchedulerType  string
	NodeType       string
	NodeAddr       string
	ExpiryInterval int64
	InvoiceExpiry  int64
	LogLevel       int
}

var (
	Datadir        = "DATADIR"
	DbType         = "DB_TYPE"
	SchedulerType  = "SCHEDULER_TYPE"
	NodeType       = "NODE_TYPE"
	NodeAddr       = "NODE_ADDR"
	ExpiryInterval = "EXPIRY_INTERVAL"
	InvoiceExpiry  = "INVOICE_EXPIRY"
	LogLevel       = "LOG_LEVEL"

	defaultDatadir        = btcutil.AppDataDir("tapgated", false)
	defaultDbType         = "badger"
	defaultSchedulerType  = "gocron"
	defaultNodeType       = "mock"
	defaultExpiryInterval = 60
	defaultInvoiceExpiry  = 3600
	defaultLogLevel       = 4 // info
)

func LoadConfig() (*Config, error) {
	viper.SetEnvPrefix("TAPGATE")
	viper.AutomaticEnv()

	viper.SetDefault(Datadir, defaultDatadir)
	viper.SetDefault(DbType, defaultDbType)
	viper.SetDefault(SchedulerType, defaultSchedulerType)
	viper.SetDefault(NodeType, defaultNodeType)
	viper.SetDefault(ExpiryInterval, defaultExpiryInterval)
	viper.SetDefault(InvoiceExpiry, defaultInvoiceExpiry)
	viper.SetDefault(LogLevel, defaultLogLevel)

	if err := initDatadir(); err != nil {
		return nil, fmt.Errorf("error while creating datadir: %s", err)
	}

	cfg := &Config{
		BaseDirectory:  viper.GetString(Datadir),
		DbType:         viper.GetString(DbType),
		SchedulerType:  viper.GetString(SchedulerType),
		NodeType:       viper.GetString(NodeType),
		NodeAddr:       viper.GetString(NodeAddr),
		ExpiryInterval: viper.GetInt64(ExpiryInterval),
		InvoiceExpiry:  viper.GetInt64(InvoiceExpiry),
		LogLevel:       viper.GetInt(LogLevel),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ExpiryInterval < 5 {
		return fmt.Errorf("expiry interval must be at least 5 seconds")
	}
	if c.InvoiceExpiry <= 0 {
		return fmt.Errorf("invoice expiry must be positive")
	}
	return nil
}

func initDatadir() error {
	datadir := viper.GetString(Datadir)
	return makeDirectoryIfNotExists(datadir)
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}
