// Package main implements flowctl, flowsentinel's operator CLI: validating
// definition files, driving a flow instance step by step from the terminal,
// and invoking the session manager's bulk-invalidation operations.
package main

import (
	"fmt"
	"os"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"flowsentinel.dev/config"
	"flowsentinel.dev/logging"
	"flowsentinel.dev/store"
	"flowsentinel.dev/store/memstore"
	"flowsentinel.dev/store/redisstore"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "flowctl",
	Short: "operate flowsentinel flow definitions and running instances",
	Long: `flowctl validates flow definitions, drives a flow instance step by
step against the in-memory or Redis store, and exposes the session
manager's bulk-invalidation operations for operational use.`,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.flowsentinel.yaml)")
	rootCmd.PersistentFlags().String("store-backend", "", "store backend: memory|redis")
	rootCmd.PersistentFlags().String("redis-host", "", "Redis host (dedicated mode)")
	rootCmd.PersistentFlags().Int("redis-port", 0, "Redis port (dedicated mode)")

	viper.BindPFlag("STORE_BACKEND", rootCmd.PersistentFlags().Lookup("store-backend"))
	viper.BindPFlag("REDIS_HOST", rootCmd.PersistentFlags().Lookup("redis-host"))
	viper.BindPFlag("REDIS_PORT", rootCmd.PersistentFlags().Lookup("redis-port"))

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".flowsentinel")
	}

	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "flowctl: using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig resolves flowsentinel's configuration from environment
// variables, then overlays whatever viper picked up from flags/config file.
func loadConfig() config.Config {
	cfg := config.Load("")
	if v := viper.GetString("STORE_BACKEND"); v != "" {
		cfg.Store.Backend = config.Backend(v)
	}
	if v := viper.GetString("REDIS_HOST"); v != "" {
		cfg.Store.Redis.Host = v
	}
	if v := viper.GetInt("REDIS_PORT"); v != 0 {
		cfg.Store.Redis.Port = v
	}
	return cfg
}

// buildStore constructs the Store backend named by cfg, defaulting to
// memstore. Callers that construct a redisstore in Dedicated mode own its
// lifecycle and should arrange to Close it.
func buildStore(cfg config.Config) (store.Store, func() error, error) {
	switch cfg.Store.Backend {
	case config.BackendRedis:
		rc := redisstore.DefaultConfig()
		rc.Namespace = cfg.Store.Redis.Namespace
		rc.TTL = cfg.Store.Redis.TTL
		rc.AbsoluteTTL = cfg.Store.Redis.AbsoluteTTL
		rc.SlidingEnabled = cfg.Store.Redis.SlidingEnabled
		rc.SlidingReset = redisstore.SlidingReset(cfg.Store.Redis.SlidingReset)
		rc.Mode = redisstore.Dedicated
		rc.Dedicated = redisstore.DedicatedConfig{
			Host:           cfg.Store.Redis.Host,
			Port:           cfg.Store.Redis.Port,
			Database:       cfg.Store.Redis.Database,
			Password:       cfg.Store.Redis.Password,
			CommandTimeout: cfg.Store.Redis.CommandTimeout,
			ConnectTimeout: cfg.Store.Redis.ConnectTimeout,
		}
		s, err := redisstore.New(rc)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		mc := memstore.DefaultConfig()
		mc.MaximumSize = cfg.Store.Memory.MaximumSize
		mc.TTL = cfg.Store.Memory.TTL
		mc.AbsoluteTTL = cfg.Store.Memory.AbsoluteTTL
		mc.SlidingEnabled = cfg.Store.Memory.SlidingEnabled
		mc.SlidingReset = memstore.SlidingReset(cfg.Store.Memory.SlidingReset)
		mc.SweepInterval = cfg.Store.Memory.SweepInterval
		s, err := memstore.New(mc)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { s.Close(); return nil }, nil
	}
}

func newLogger(cfg config.Config) *logrus.Logger {
	return logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, AddCaller: cfg.Logging.AddCaller})
}
