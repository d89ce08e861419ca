package main

import (
	"context"
	"errors"
	"flag"
	"time"

	"ticketintel/internal/config"
	"ticketintel/internal/database"
	"ticketintel/internal/services"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

func main() {
	cfgFile := flag.String("config", "", "config file (default is ./config.yml)")
	seed := flag.Bool("seed", false, "import the built-in keyword vocabulary")
	flag.Parse()

	// 读取配置文件（默认 ./config.yml）
	if *cfgFile != "" {
		viper.SetConfigFile(*cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix("TICKETINTEL")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			logrus.Fatalf("Failed to read config: %v", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}

	db, err := database.Open(cfg.Database, false)
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(db)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	store := services.NewGormStore(db)
	logrus.Info("Starting database migration...")
	if err := store.Migrate(ctx); err != nil {
		logrus.Fatalf("Failed to migrate database: %v", err)
	}
	logrus.Info("Database migration completed successfully!")

	// 插入默认词表
	if *seed {
		logrus.Info("Seeding default vocabulary...")
		report, err := store.ImportCatalog(ctx, services.DefaultCatalog())
		if err != nil {
			logrus.Fatalf("Failed to seed vocabulary: %v", err)
		}
		logrus.Infof("Seeded %d labels", report.LabelsUpserted)
	}

	logrus.Info("Migration process completed!")
}
