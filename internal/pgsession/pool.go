package pgsession

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awsCreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dsql/auth"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lychee-technology/orcall"
	"go.uber.org/zap"
)

// generateIAMTokenFn is swapped in tests.
var generateIAMTokenFn = func(ctx context.Context, endpoint, region string, creds aws.CredentialsProvider) (string, error) {
	return auth.GenerateDbConnectAuthToken(ctx, endpoint, region, creds)
}

// ConnString renders cfg as a keyword/value connection string.
func ConnString(cfg orcall.PostgresConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database, sslMode)
}

// NewPool opens a pgx pool for cfg. With UseIAM every new connection
// authenticates with a fresh DSQL token instead of the configured password.
func NewPool(ctx context.Context, cfg orcall.PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(ConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	if cfg.UseIAM {
		creds, err := awsCredentials(ctx, cfg.Region)
		if err != nil {
			return nil, err
		}
		endpoint := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		poolCfg.BeforeConnect = func(ctx context.Context, cc *pgx.ConnConfig) error {
			token, err := generateIAMTokenFn(ctx, endpoint, cfg.Region, creds)
			if err != nil {
				return fmt.Errorf("generate IAM auth token: %w", err)
			}
			cc.Password = token
			return nil
		}
		zap.S().Infow("using IAM auth tokens for Postgres connections", "endpoint", endpoint, "region", cfg.Region)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return pool, nil
}

func awsCredentials(ctx context.Context, region string) (aws.CredentialsProvider, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" {
		awsCfg.Credentials = awsCreds.NewStaticCredentialsProvider(key, os.Getenv("AWS_SECRET_ACCESS_KEY"), os.Getenv("AWS_SESSION_TOKEN"))
	}
	return awsCfg.Credentials, nil
}
