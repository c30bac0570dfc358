package e2e_harness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// comtestSchema mirrors the loopback comtest application as PostgreSQL functions.
var comtestSchema = []string{
	`CREATE SCHEMA IF NOT EXISTS comtest`,
	`CREATE TYPE comtest.ucsimpleintstr AS (
  attr_int integer,
  attr_str text,
  vc_int text,
  vc_str text
)`,
	`CREATE OR REPLACE FUNCTION comtest.helloworld(
  INOUT hellostring text DEFAULT NULL,
  INOUT counter integer DEFAULT NULL
) LANGUAGE plpgsql AS $$
BEGIN
  IF hellostring IS NULL THEN
    hellostring := 'Well NULL to you too!';
  ELSE
    hellostring := 'Well "' || hellostring || '" to you too.';
  END IF;
  counter := COALESCE(counter, 0) + 1;
END
$$`,
	`CREATE OR REPLACE FUNCTION comtest.echo_ucsimple(INOUT p1 comtest.ucsimpleintstr)
LANGUAGE plpgsql AS $$
BEGIN
  p1.vc_int := p1.attr_int::text;
  p1.vc_str := p1.attr_str;
END
$$`,
	`CREATE OR REPLACE FUNCTION comtest.echo_ucarray(
  INOUT items comtest.ucsimpleintstr[] DEFAULT '{}',
  OUT rowcount integer
) LANGUAGE plpgsql AS $$
BEGIN
  SELECT COALESCE(array_agg(ROW(u.attr_int, u.attr_str, u.attr_int::text, u.attr_str)::comtest.ucsimpleintstr ORDER BY u.ord), '{}')
    INTO items
    FROM unnest(items) WITH ORDINALITY AS u(attr_int, attr_str, vc_int, vc_str, ord);
  rowcount := COALESCE(array_length(items, 1), 0);
END
$$`,
	`CREATE OR REPLACE FUNCTION comtest.add_money(amount numeric, rate numeric) RETURNS numeric
LANGUAGE sql AS $$ SELECT round(amount * (1 + rate), 2) $$`,
}

// SeedComtest creates the comtest schema, its composite type and functions.
func SeedComtest(ctx context.Context, db *sql.DB) error {
	for _, stmt := range comtestSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("seed comtest: %w", err)
		}
	}
	return nil
}

// EnsureBucket creates bucket on the S3 endpoint unless it already exists.
func EnsureBucket(ctx context.Context, endpoint, accessKey, secretKey, bucket string) error {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion("us-east-1"), // region required by SDK; endpoint will be used for custom endpoints like MinIO
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	}
	if endpoint != "" {
		loadOpts = append(loadOpts, config.WithBaseEndpoint(endpoint))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err == nil {
		return nil
	}
	if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			code := apiErr.ErrorCode()
			if code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
				return nil
			}
		}
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}
