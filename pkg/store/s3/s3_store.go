package s3store

import (
	"bytes"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/moonwalker/tuner/pkg/mime"
	"github.com/moonwalker/tuner/pkg/store"
)

const (
	defaultRegion = "eu-central-1"
)

type s3store struct {
	bucketName string
	region     string

	once sync.Once
	err  error
	s3   *s3.S3
}

func New(bucketName string, region string) store.Store {
	if region == "" {
		region = defaultRegion
	}
	return &s3store{bucketName: bucketName, region: region}
}

func (s *s3store) Name() string {
	return "s3:" + s.bucketName
}

func (s *s3store) open() error {
	s.once.Do(func() {
		sess, err := session.NewSession(&aws.Config{Region: aws.String(s.region)})
		if err != nil {
			s.err = err
			return
		}
		s.s3 = s3.New(sess)

		inp := &s3.CreateBucketInput{
			Bucket: aws.String(s.bucketName),
			CreateBucketConfiguration: &s3.CreateBucketConfiguration{
				LocationConstraint: aws.String(s.region),
			},
		}

		_, err = s.s3.CreateBucket(inp)
		if err != nil {
			if aerr, ok := err.(awserr.Error); ok {
				switch aerr.Code() {
				case s3.ErrCodeBucketAlreadyOwnedByYou:
					err = nil
				}
			}
		}
		s.err = err
	})
	return s.err
}

func notFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

func (s *s3store) Get(key string) (val []byte, err error) {
	inp := &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	}

	err = s.open()
	if err != nil {
		return
	}

	out, err := s.s3.GetObject(inp)
	if notFound(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return
	}
	defer out.Body.Close()

	val, err = io.ReadAll(out.Body)
	return
}

func (s *s3store) Set(key string, val []byte, options *store.WriteOptions) (err error) {
	inp := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        aws.ReadSeekCloser(bytes.NewReader(val)),
		ContentType: aws.String(mime.Detect(key, val)),
	}

	if options != nil {
		if len(options.ContentType) > 0 {
			inp.ContentType = aws.String(options.ContentType)
		}
	}

	err = s.open()
	if err != nil {
		return
	}

	_, err = s.s3.PutObject(inp)
	return
}

func (s *s3store) Delete(key string) (err error) {
	inp := &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	}

	err = s.open()
	if err != nil {
		return
	}

	_, err = s.s3.DeleteObject(inp)
	return
}

func (s *s3store) Exists(key string) (bool, error) {
	err := s.open()
	if err != nil {
		return false, err
	}

	_, err = s.s3.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if notFound(err) {
		return false, nil
	}
	return err == nil, err
}

// Scan lists keys in the bucket's lexical order.
func (s *s3store) Scan(prefix string, skip int, limit int, fn func(key string, val []byte)) (err error) {
	inp := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucketName),
		Prefix: aws.String(prefix),
	}

	err = s.open()
	if err != nil {
		return
	}

	i := 0
	var getErr error
	err = s.s3.ListObjectsV2Pages(inp, func(p *s3.ListObjectsV2Output, last bool) bool {
		for _, obj := range p.Contents {
			inside, done := store.Window(i, skip, limit)
			i++
			if done {
				return false
			}
			if !inside {
				continue
			}

			key := aws.StringValue(obj.Key)
			val, err := s.Get(key)
			if err != nil {
				getErr = err
				return false
			}

			fn(key, val)
		}
		return true
	})
	if err == nil {
		err = getErr
	}

	return
}

func (s *s3store) Close() (err error) {
	return
}
