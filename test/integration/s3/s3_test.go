//go:build integration

package s3_test

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/marmos91/dittoloan/pkg/clock"
	"github.com/marmos91/dittoloan/pkg/config"
	"github.com/marmos91/dittoloan/pkg/inventory"
)

func localstackEndpoint() string {
	if endpoint := os.Getenv("LOCALSTACK_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	return "http://localhost:4566"
}

// setupTestBucket creates bucketName on Localstack and returns a cleanup
// function that empties and deletes it.
func setupTestBucket(t *testing.T, bucketName string) func() {
	t.Helper()
	ctx := context.Background()

	cfg, err := awsConfig.LoadDefaultConfig(ctx,
		awsConfig.WithRegion("us-east-1"),
		awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	if err != nil {
		t.Fatalf("Failed to load AWS config: %v", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(localstackEndpoint())
		o.UsePathStyle = true
	})

	if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucketName)}); err != nil {
		t.Fatalf("Failed to create test bucket: %v", err)
	}

	return func() {
		listResp, _ := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: aws.String(bucketName)})
		if listResp != nil {
			for _, obj := range listResp.Contents {
				_, _ = client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucketName), Key: obj.Key})
			}
		}
		_, _ = client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucketName)})
	}
}

// TestS3Inventory_Integration saves a catalogue to Localstack through the
// configured S3 backend and loads it back.
//
// Prerequisites:
//   - Localstack running on localhost:4566 (or LOCALSTACK_ENDPOINT)
//   - Run with: go test -tags=integration ./test/integration/s3/...
//
// To start Localstack:
//
//	docker run --rm -p 4566:4566 localstack/localstack
func TestS3Inventory_Integration(t *testing.T) {
	ctx := context.Background()
	bucketName := "dittoloan-test-bucket"
	cleanup := setupTestBucket(t, bucketName)
	defer cleanup()

	cfg := &config.InventoryConfig{
		Type: "s3",
		S3: map[string]any{
			"region":            "us-east-1",
			"bucket":            bucketName,
			"key":               "library/inventory.txt",
			"endpoint":          localstackEndpoint(),
			"access_key_id":     "test",
			"secret_access_key": "test",
			"timeout":           "10s",
		},
	}

	store, err := config.CreateStore(ctx, cfg)
	if err != nil {
		t.Fatalf("CreateStore: %v", err)
	}
	defer store.Close()

	if _, err := store.Load(ctx); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Load before first save: expected fs.ErrNotExist, got %v", err)
	}

	clk := clock.Fake(time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC))
	inv := inventory.New([]*inventory.Title{
		{ISBN: 42, Name: "Dune", Copies: []inventory.Copy{{Number: 1, State: inventory.Available}}},
	}, clk, inventory.DefaultLoanDays)
	if _, err := inv.Borrow(42, "Dune"); err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	if err := inventory.Save(ctx, store, inv.Titles(), os.Stderr); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened, err := inventory.Open(ctx, store, clk, inventory.DefaultLoanDays)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	title, err := reopened.Lookup(42, "Dune")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if title.Copies[0].State != inventory.Loaned {
		t.Fatalf("copy 1 should be loaned after reload, got %s", title.Copies[0].State)
	}
}
