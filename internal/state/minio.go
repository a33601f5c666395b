package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	minioNoSuchKeyCodeConstant   = "NoSuchKey"
	minioJSONContentTypeConstant = "application/json"
	s3EndpointRequiredMessage    = "state object storage endpoint is required"
	s3BucketRequiredMessage      = "state object storage bucket is required"
	s3CredentialsRequiredMessage = "state object storage access key and secret key must be set together"
	s3ClientErrorTemplate        = "unable to create object storage client: %w"
	s3BucketErrorTemplate        = "unable to ensure state bucket %s: %w"
)

// S3Configuration describes an S3-compatible bucket that stores state objects.
type S3Configuration struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Prefix    string `mapstructure:"prefix"`
}

// Validate reports configuration problems.
func (configuration S3Configuration) Validate() error {
	if len(strings.TrimSpace(configuration.Endpoint)) == 0 {
		return errors.New(s3EndpointRequiredMessage)
	}
	if len(strings.TrimSpace(configuration.Bucket)) == 0 {
		return errors.New(s3BucketRequiredMessage)
	}
	if (len(configuration.AccessKey) == 0) != (len(configuration.SecretKey) == 0) {
		return errors.New(s3CredentialsRequiredMessage)
	}
	return nil
}

// MinIOObjectClient adapts a minio client bound to one bucket to ObjectClient.
type MinIOObjectClient struct {
	client *minio.Client
	bucket string
}

// NewMinIOObjectClient connects to the configured endpoint and creates the bucket when missing.
func NewMinIOObjectClient(executionContext context.Context, configuration S3Configuration) (*MinIOObjectClient, error) {
	if validationError := configuration.Validate(); validationError != nil {
		return nil, validationError
	}
	client, clientError := minio.New(configuration.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(configuration.AccessKey, configuration.SecretKey, ""),
		Secure: configuration.UseSSL,
		Region: configuration.Region,
	})
	if clientError != nil {
		return nil, fmt.Errorf(s3ClientErrorTemplate, clientError)
	}
	if bucketError := ensureBucket(executionContext, client, configuration.Bucket, configuration.Region); bucketError != nil {
		return nil, fmt.Errorf(s3BucketErrorTemplate, configuration.Bucket, bucketError)
	}
	return &MinIOObjectClient{client: client, bucket: configuration.Bucket}, nil
}

// Get downloads an object. The boolean is false when the object does not exist.
func (objectClient *MinIOObjectClient) Get(executionContext context.Context, name string) ([]byte, bool, error) {
	object, getError := objectClient.client.GetObject(executionContext, objectClient.bucket, name, minio.GetObjectOptions{})
	if getError != nil {
		if isMissingObject(getError) {
			return nil, false, nil
		}
		return nil, false, getError
	}
	defer object.Close()
	content, readError := io.ReadAll(object)
	if readError != nil {
		if isMissingObject(readError) {
			return nil, false, nil
		}
		return nil, false, readError
	}
	return content, true, nil
}

// Put uploads an object.
func (objectClient *MinIOObjectClient) Put(executionContext context.Context, name string, content []byte) error {
	_, putError := objectClient.client.PutObject(executionContext, objectClient.bucket, name, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{ContentType: minioJSONContentTypeConstant})
	return putError
}

// Exists reports whether an object exists.
func (objectClient *MinIOObjectClient) Exists(executionContext context.Context, name string) (bool, error) {
	_, statError := objectClient.client.StatObject(executionContext, objectClient.bucket, name, minio.StatObjectOptions{})
	if statError != nil {
		if isMissingObject(statError) {
			return false, nil
		}
		return false, statError
	}
	return true, nil
}

// Remove deletes an object.
func (objectClient *MinIOObjectClient) Remove(executionContext context.Context, name string) error {
	return objectClient.client.RemoveObject(executionContext, objectClient.bucket, name, minio.RemoveObjectOptions{})
}

func ensureBucket(executionContext context.Context, client *minio.Client, bucket string, region string) error {
	exists, existsError := client.BucketExists(executionContext, bucket)
	if existsError != nil {
		return existsError
	}
	if exists {
		return nil
	}
	return client.MakeBucket(executionContext, bucket, minio.MakeBucketOptions{Region: region})
}

func isMissingObject(objectError error) bool {
	response := minio.ToErrorResponse(objectError)
	return response.Code == minioNoSuchKeyCodeConstant || response.StatusCode == http.StatusNotFound
}
