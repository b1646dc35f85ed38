package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"chatgate/internal/engine/chatpolicy"
	"chatgate/internal/pkg/logger"
	"chatgate/internal/platform/config"
	"chatgate/internal/platform/database"
	"chatgate/internal/platform/models"
	"chatgate/internal/platform/repositories"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	adminEmail := flag.String("admin-email", "", "Seed an admin user with this email")
	enablePolicies := flag.Bool("enable-policies", false, "Turn on usage policy enforcement")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.Logging)

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	if *adminEmail != "" {
		// The password is read from the environment so it stays out of shell history.
		if err := seedAdmin(ctx, repositories.NewUserRepository(db), *adminEmail, os.Getenv("CHATGATE_ADMIN_PASSWORD")); err != nil {
			log.Fatal().Err(err).Msg("failed to seed admin")
		}
	}

	if *enablePolicies {
		if err := repositories.NewFeatureFlagRepository(db).Set(ctx, chatpolicy.FeatureFlag, true); err != nil {
			log.Fatal().Err(err).Msg("failed to enable usage policies")
		}
	}

	fmt.Println("Migration completed successfully")
}

func seedAdmin(ctx context.Context, users *repositories.UserRepository, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if len(password) < 8 {
		return fmt.Errorf("CHATGATE_ADMIN_PASSWORD must be at least 8 characters")
	}

	existing, err := users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing != nil {
		log.Info().Str("email", email).Msg("admin already exists")
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: string(hash),
		Role:         models.RoleAdmin,
		CreatedAt:    time.Now().Unix(),
	}
	if err := users.Create(ctx, user); err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	log.Info().Str("email", email).Int64("id", user.ID).Msg("seeded admin user")
	return nil
}
