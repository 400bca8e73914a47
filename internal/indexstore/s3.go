package indexstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/xxxsen/askscribe/internal/pkg/s3util"
)

const defaultS3Key = "askscribe/index.json"

type s3Config struct {
	s3util.Config
	Key string `json:"key"`
}

type s3Store struct {
	client s3util.ObjectAPI
	bucket string
	key    string
}

func init() {
	Register("s3", createS3Store)
}

func createS3Store(args interface{}) (Store, error) {
	cfg := &s3Config{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	client, err := s3util.NewClient(context.Background(), cfg.Config)
	if err != nil {
		return nil, err
	}
	return newS3Store(client, cfg.Bucket, s3util.ObjectKey(cfg.Prefix, cfg.Key, defaultS3Key)), nil
}

func newS3Store(client s3util.ObjectAPI, bucket, key string) *s3Store {
	return &s3Store{client: client, bucket: bucket, key: key}
}

func (s *s3Store) Location() string {
	return "s3://" + s.bucket + "/" + s.key
}

func (s *s3Store) Load(ctx context.Context) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		if s3util.IsNotFound(err) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("get index object: %w", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read index object: %w", err)
	}
	return data, nil
}

func (s *s3Store) Save(ctx context.Context, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put index object: %w", err)
	}
	return nil
}
