package config

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/dittoloan/internal/logger"
	"github.com/marmos91/dittoloan/pkg/inventory"
	"github.com/marmos91/dittoloan/pkg/inventory/badger"
	"github.com/marmos91/dittoloan/pkg/inventory/flatfile"
	"github.com/marmos91/dittoloan/pkg/inventory/memory"
	inventoryS3 "github.com/marmos91/dittoloan/pkg/inventory/s3"
	"github.com/marmos91/dittoloan/pkg/inventory/sqlite"
)

// CreateStore creates an inventory store based on configuration.
//
// This factory function uses the Type field to determine which backend to
// create, then decodes the type-specific section into the backend's Config.
//
// Supported types:
//   - "flatfile": grouped text file (pkg/inventory/flatfile)
//   - "memory": ephemeral, optionally seeded from a flat file
//   - "badger": BadgerDB snapshot, optionally seeded when empty
//   - "sqlite": SQLite snapshot, optionally seeded when empty
//   - "s3": flat text stored as one S3 object
func CreateStore(ctx context.Context, cfg *InventoryConfig) (inventory.Store, error) {
	switch cfg.Type {
	case "flatfile":
		return createFlatfileStore(cfg.Flatfile)
	case "memory":
		return createMemoryStore(ctx, cfg.Memory)
	case "badger":
		return createBadgerStore(ctx, cfg.Badger)
	case "sqlite":
		return createSqliteStore(ctx, cfg.Sqlite)
	case "s3":
		return createS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown inventory store type: %q (supported: flatfile, memory, badger, sqlite, s3)", cfg.Type)
	}
}

// decodeOptions decodes a backend section, accepting "5s" style durations.
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(options)
}

func loadSeed(ctx context.Context, path string) ([]*inventory.Title, error) {
	src, err := flatfile.New(flatfile.Config{Path: path})
	if err != nil {
		return nil, err
	}
	return src.Load(ctx)
}

// seedIfEmpty copies the seed catalogue into store when store holds no titles.
func seedIfEmpty(ctx context.Context, store inventory.Store, seedPath string) error {
	if seedPath == "" {
		return nil
	}

	existing, err := store.Load(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	titles, err := loadSeed(ctx, seedPath)
	if err != nil {
		return fmt.Errorf("seed inventory: %w", err)
	}
	if err := store.Persist(ctx, titles); err != nil {
		return fmt.Errorf("seed inventory: %w", err)
	}
	logger.Info("Inventory seeded with %d titles from %s", len(titles), seedPath)
	return nil
}

func createFlatfileStore(options map[string]any) (inventory.Store, error) {
	var storeCfg flatfile.Config
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode flatfile inventory config: %w", err)
	}

	if storeCfg.Path == "" {
		return nil, fmt.Errorf("flatfile inventory store: path is required")
	}

	return flatfile.New(storeCfg)
}

func createMemoryStore(ctx context.Context, options map[string]any) (inventory.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var storeCfg struct {
		SeedPath string `mapstructure:"seed_path"`
	}
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode memory inventory config: %w", err)
	}

	var titles []*inventory.Title
	if storeCfg.SeedPath != "" {
		var err error
		if titles, err = loadSeed(ctx, storeCfg.SeedPath); err != nil {
			return nil, fmt.Errorf("seed inventory: %w", err)
		}
	}
	return memory.New(titles), nil
}

func createBadgerStore(ctx context.Context, options map[string]any) (inventory.Store, error) {
	var storeCfg struct {
		badger.Config `mapstructure:",squash"`
		SeedPath      string `mapstructure:"seed_path"`
	}
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger inventory config: %w", err)
	}

	if storeCfg.DBPath == "" && !storeCfg.InMemory {
		return nil, fmt.Errorf("badger inventory store: db_path is required")
	}

	store, err := badger.New(ctx, storeCfg.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger inventory store: %w", err)
	}
	if err := seedIfEmpty(ctx, store, storeCfg.SeedPath); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func createSqliteStore(ctx context.Context, options map[string]any) (inventory.Store, error) {
	var storeCfg struct {
		sqlite.Config `mapstructure:",squash"`
		SeedPath      string `mapstructure:"seed_path"`
	}
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode sqlite inventory config: %w", err)
	}

	if storeCfg.Path == "" {
		return nil, fmt.Errorf("sqlite inventory store: path is required")
	}

	store, err := sqlite.New(ctx, storeCfg.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite inventory store: %w", err)
	}
	if err := seedIfEmpty(ctx, store, storeCfg.SeedPath); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// s3StoreConfig is the s3 section of the inventory configuration.
type s3StoreConfig struct {
	Region          string        `mapstructure:"region"`
	Bucket          string        `mapstructure:"bucket"`
	Key             string        `mapstructure:"key"`
	Endpoint        string        `mapstructure:"endpoint"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key"`
	MaxRetries      int           `mapstructure:"max_retries"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

func createS3Store(ctx context.Context, options map[string]any) (inventory.Store, error) {
	var storeCfg s3StoreConfig
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 inventory config: %w", err)
	}

	if storeCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 inventory store: bucket is required")
	}
	if storeCfg.Region == "" {
		return nil, fmt.Errorf("S3 inventory store: region is required")
	}

	var configOptions []func(*awsConfig.LoadOptions) error
	configOptions = append(configOptions, awsConfig.WithRegion(storeCfg.Region))

	// Static credentials when given, otherwise the default credential chain.
	if storeCfg.AccessKeyID != "" && storeCfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			storeCfg.AccessKeyID,
			storeCfg.SecretAccessKey,
			"",
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := storeCfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Path-style addressing for MinIO/Localstack.
		if storeCfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(storeCfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	store, err := inventoryS3.New(inventoryS3.Config{
		Client:  client,
		Bucket:  storeCfg.Bucket,
		Key:     storeCfg.Key,
		Timeout: storeCfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 inventory store: %w", err)
	}

	logger.Info("S3 inventory store initialized: bucket=%s, region=%s, key=%s",
		storeCfg.Bucket, storeCfg.Region, storeCfg.Key)

	return store, nil
}
