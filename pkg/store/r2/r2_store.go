package r2store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/moonwalker/tuner/pkg/mime"
	"github.com/moonwalker/tuner/pkg/store"
)

const (
	endpointFmt  = "https://%s.r2.cloudflarestorage.com"
	configRegion = "auto"
)

type Credentials struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
}

type r2store struct {
	bucketName string
	creds      Credentials

	once   sync.Once
	err    error
	client *s3.Client
}

func New(bucketName string, creds Credentials) store.Store {
	return &r2store{bucketName: bucketName, creds: creds}
}

func (s *r2store) Name() string {
	return "r2:" + s.bucketName
}

func (s *r2store) open() (*s3.Client, error) {
	s.once.Do(func() {
		cfg, err := config.LoadDefaultConfig(context.Background(),
			config.WithRegion(configRegion),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(s.creds.AccessKeyID, s.creds.AccessKeySecret, "")),
		)
		if err != nil {
			s.err = err
			return
		}

		s.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(fmt.Sprintf(endpointFmt, s.creds.AccountID))
		})
	})
	return s.client, s.err
}

func notFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func (s *r2store) Get(key string) ([]byte, error) {
	client, err := s.open()
	if err != nil {
		return nil, err
	}

	out, err := client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if notFound(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}

func (s *r2store) Set(key string, value []byte, options *store.WriteOptions) error {
	client, err := s.open()
	if err != nil {
		return err
	}

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.Concurrency = 1
		u.MaxUploadParts = 1
	})

	ctype := mime.Detect(key, value)
	if options != nil && len(options.ContentType) > 0 {
		ctype = options.ContentType
	}

	_, err = uploader.Upload(context.Background(), &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		ContentType: aws.String(ctype),
		Body:        bytes.NewReader(value),
	})
	return err
}

func (s *r2store) Delete(key string) error {
	client, err := s.open()
	if err != nil {
		return err
	}

	_, err = client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	return err
}

func (s *r2store) Exists(key string) (bool, error) {
	client, err := s.open()
	if err != nil {
		return false, err
	}

	_, err = client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if notFound(err) {
		return false, nil
	}
	return err == nil, err
}

func (s *r2store) Scan(prefix string, skip int, limit int, fn func(key string, val []byte)) error {
	client, err := s.open()
	if err != nil {
		return err
	}

	p := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucketName),
		Prefix: aws.String(prefix),
	})

	i := 0
	for p.HasMorePages() {
		page, err := p.NextPage(context.Background())
		if err != nil {
			return err
		}
		for _, obj := range page.Contents {
			inside, done := store.Window(i, skip, limit)
			i++
			if done {
				return nil
			}
			if !inside {
				continue
			}
			key := aws.ToString(obj.Key)
			val, err := s.Get(key)
			if err != nil {
				return err
			}
			fn(key, val)
		}
	}

	return nil
}

func (s *r2store) Close() error {
	return nil
}
