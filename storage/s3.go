package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/utils"
)

type Config struct {
	AccessKey    string
	SecretKey    string
	Region       string
	Endpoint     string
	Bucket       string
	Prefix       string
	UsePathStyle bool
}

// Client uploads result manifests and downloads s3:// sources. Any
// S3-compatible service works when Endpoint is set.
type Client struct {
	client *s3.Client
	bucket string
	prefix string
	log    logrus.FieldLogger
}

func NewClient(ctx context.Context, cfg Config, log logrus.FieldLogger) (*Client, error) {
	const op = "storage.NewClient"

	if log == nil {
		log = logrus.StandardLogger()
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Config(op, err, "unable to load S3 configuration")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Client{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		log:    log,
	}, nil
}

// ManifestKey is the object key a run's manifest is stored under.
func (c *Client) ManifestKey(runID string) string {
	return path.Join(c.prefix, runID, "results.json")
}

// PutManifest uploads an encoded result manifest and returns its s3:// URI.
func (c *Client) PutManifest(ctx context.Context, runID string, data []byte) (string, error) {
	const op = "Client.PutManifest"

	if c.bucket == "" {
		return "", errors.Write(op, nil, "no results bucket configured")
	}

	key := c.ManifestKey(runID)
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", errors.Write(op, err, fmt.Sprintf("failed to upload results to s3://%s/%s", c.bucket, key))
	}

	uri := fmt.Sprintf("s3://%s/%s", c.bucket, key)
	c.log.WithFields(logrus.Fields{
		"run_id": runID,
		"uri":    uri,
		"bytes":  len(data),
	}).Info("Uploaded result manifest")
	return uri, nil
}

// Download copies the object named by an s3:// reference into dest.
func (c *Client) Download(ctx context.Context, ref, dest string) error {
	const op = "Client.Download"

	bucket, key, err := ParseURI(ref)
	if err != nil {
		return errors.FetchFailed(op, err, "invalid s3 reference")
	}

	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.FetchFailed(op, err, fmt.Sprintf("failed to get %s", ref))
	}
	defer out.Body.Close()

	if err := utils.WriteFileAtomic(dest, out.Body, 0o644); err != nil {
		return errors.FetchFailed(op, err, fmt.Sprintf("failed to store %s", ref))
	}
	return nil
}

// ParseURI splits s3://bucket/key.
func ParseURI(ref string) (bucket, key string, err error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("not an s3 URI: %s", ref)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("s3 URI must be s3://bucket/key: %s", ref)
	}
	return u.Host, key, nil
}
