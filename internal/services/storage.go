package services

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/chachabrian/bikeshare-backend/internal/apperrors"
	"github.com/chachabrian/bikeshare-backend/internal/config"
	"github.com/sirupsen/logrus"
)

const maxPhotoSize = 10 << 20

// PhotoStorage keeps drop-off assessment photos in S3, or on local disk
// when AWS is not configured.
type PhotoStorage struct {
	s3Client  *s3.S3
	uploader  *s3manager.Uploader
	bucket    string
	region    string
	baseURL   string
	uploadDir string
	logger    *logrus.Logger
}

func NewPhotoStorage(cfg *config.Config, logger *logrus.Logger) (*PhotoStorage, error) {
	ps := &PhotoStorage{
		bucket:    cfg.AWS.Bucket,
		region:    cfg.AWS.Region,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		uploadDir: cfg.UploadDir,
		logger:    logger,
	}

	if cfg.AWS.Region != "" && cfg.AWS.AccessKey != "" && cfg.AWS.SecretKey != "" && cfg.AWS.Bucket != "" {
		sess, err := session.NewSession(&aws.Config{
			Region: aws.String(cfg.AWS.Region),
			Credentials: credentials.NewStaticCredentials(
				cfg.AWS.AccessKey,
				cfg.AWS.SecretKey,
				"",
			),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS session: %w", err)
		}
		ps.s3Client = s3.New(sess)
		ps.uploader = s3manager.NewUploader(sess)
		logger.WithField("bucket", cfg.AWS.Bucket).Info("photo storage: S3")
		return ps, nil
	}

	if err := os.MkdirAll(ps.uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	logger.WithField("dir", ps.uploadDir).Warn("photo storage: AWS S3 not configured, using local disk")
	return ps, nil
}

func (ps *PhotoStorage) UsingS3() bool {
	return ps.uploader != nil
}

// UploadPhoto stores an image under folder and returns its public URL.
func (ps *PhotoStorage) UploadPhoto(file *multipart.FileHeader, folder string) (string, error) {
	if file.Size > maxPhotoSize {
		return "", fmt.Errorf("%w: photo exceeds %d bytes", apperrors.ErrInvalidInput, maxPhotoSize)
	}
	src, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer src.Close()

	buffer := bytes.NewBuffer(nil)
	if _, err := io.Copy(buffer, src); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	contentType := http.DetectContentType(buffer.Bytes())
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("%w: unsupported content type %s", apperrors.ErrInvalidInput, contentType)
	}

	name := fmt.Sprintf("%d%s", time.Now().UnixNano(), strings.ToLower(filepath.Ext(file.Filename)))
	if ps.UsingS3() {
		return ps.uploadToS3(buffer.Bytes(), folder+"/"+name, contentType)
	}
	return ps.uploadLocally(buffer.Bytes(), folder, name)
}

func (ps *PhotoStorage) uploadToS3(body []byte, key, contentType string) (string, error) {
	_, err := ps.uploader.Upload(&s3manager.UploadInput{
		Bucket:      aws.String(ps.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", ps.bucket, ps.region, key), nil
}

func (ps *PhotoStorage) uploadLocally(body []byte, folder, name string) (string, error) {
	dir := filepath.Join(ps.uploadDir, folder)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create folder directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), body, 0644); err != nil {
		return "", fmt.Errorf("failed to save file: %w", err)
	}
	return fmt.Sprintf("%s/uploads/%s/%s", ps.baseURL, filepath.ToSlash(folder), name), nil
}

// DeletePhoto removes a photo previously returned by UploadPhoto.
func (ps *PhotoStorage) DeletePhoto(photoURL string) error {
	u, err := url.Parse(photoURL)
	if err != nil {
		return err
	}
	if ps.UsingS3() {
		_, err := ps.s3Client.DeleteObject(&s3.DeleteObjectInput{
			Bucket: aws.String(ps.bucket),
			Key:    aws.String(strings.TrimPrefix(u.Path, "/")),
		})
		return err
	}
	rel := strings.TrimPrefix(u.Path, "/uploads/")
	if rel == u.Path || strings.Contains(rel, "..") {
		return fmt.Errorf("not a local upload: %s", photoURL)
	}
	return os.Remove(filepath.Join(ps.uploadDir, filepath.FromSlash(rel)))
}

// Owns reports whether url points into this storage.
func (ps *PhotoStorage) Owns(photoURL string) bool {
	if ps.UsingS3() {
		return strings.HasPrefix(photoURL, fmt.Sprintf("https://%s.s3.%s.amazonaws.com/", ps.bucket, ps.region))
	}
	return strings.HasPrefix(photoURL, ps.baseURL+"/uploads/")
}
