package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ghprofiler/ghprofiler/internal/config"
	"github.com/ghprofiler/ghprofiler/internal/database"
	"github.com/ghprofiler/ghprofiler/internal/logging"
	"github.com/ghprofiler/ghprofiler/internal/profiles"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	cfgFile string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "ghprofiler",
		Short:        "Store GitHub profiles and query them by location or language",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(
		newFetchCommand(),
		newListCommand(),
		newServeCommand(),
		newMigrateCommand(),
		newTokenCommand(),
	)
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (postgres, sqlite)")
	cmd.PersistentFlags().String("database-dsn", "", "Database connection string or SQLite path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-file", "", "Optional rotating log file")
	cmd.PersistentFlags().String("github-token", "", "GitHub token used for API requests")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("signing-secret", "", "API token signing secret (overrides env)")

	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.file", "log-file")
	bindFlag(cmd, "github.token", "github-token")
	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	// A missing .env is normal outside development.
	_ = godotenv.Load()
	return readConfigFile(viper.GetViper(), cfgFile)
}

// readConfigFile fails on any problem with an explicitly named file. Without one,
// viper's search finding nothing is not an error.
func readConfigFile(configViper *viper.Viper, path string) error {
	if path != "" {
		configViper.SetConfigFile(path)
	}

	if err := configViper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &configNotFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	return nil
}

// application bundles what every database-backed command needs.
type application struct {
	config   config.AppConfig
	logger   *zap.Logger
	db       *gorm.DB
	profiles *profiles.Service
}

func openApplication() (*application, error) {
	appConfig, logger, err := loadConfigAndLogger()
	if err != nil {
		return nil, err
	}

	db, err := database.Open(database.Options{
		Driver:                 appConfig.DatabaseDriver,
		DSN:                    appConfig.DatabaseDSN,
		MaxOpenConns:           appConfig.DatabaseMaxOpenConns,
		MaxIdleConns:           appConfig.DatabaseMaxIdleConns,
		ConnMaxLifetimeMinutes: appConfig.DatabaseConnMaxLifetimeMinutes,
		LogLevel:               appConfig.DatabaseLogLevel,
	}, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	profileService, err := profiles.NewService(profiles.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		_ = database.Close(db)
		_ = logger.Sync()
		return nil, err
	}

	return &application{config: appConfig, logger: logger, db: db, profiles: profileService}, nil
}

func loadConfigAndLogger() (config.AppConfig, *zap.Logger, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	logger, err := logging.NewLogger(logging.Options{Level: appConfig.LogLevel, File: appConfig.LogFile})
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	return appConfig, logger, nil
}

func (a *application) Close() {
	if err := database.Close(a.db); err != nil {
		a.logger.Warn("failed to close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func minutes(value int) time.Duration {
	return time.Duration(value) * time.Minute
}
