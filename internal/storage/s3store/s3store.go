// Пакет s3store — хранилище содержимого пакетов в S3-совместимом
// объектном хранилище (MinIO, AWS S3) через aws-sdk-go-v2.
// Мягкое удаление — тег deleted=true на объекте; байты остаются
// до внешней очистки (например, lifecycle-правила по тегу).
package s3store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/bigkaa/goartstore/yum-module/internal/domain/model"
)

const (
	// DeletedTagKey, DeletedTagValue — тег мягкого удаления.
	DeletedTagKey   = "deleted"
	DeletedTagValue = "true"

	// checksumMetaKey — пользовательские метаданные объекта с SHA-256.
	checksumMetaKey = "sha256"
)

// API — используемое подмножество методов *s3.Client.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	PutObjectTagging(ctx context.Context, in *s3.PutObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObjectTagging(ctx context.Context, in *s3.GetObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error)
}

// Options — параметры подключения к S3.
type Options struct {
	// Endpoint — базовый URL (пусто — AWS по региону)
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// NewClient создаёт S3-клиент со статическими учётными данными.
func NewClient(ctx context.Context, o Options) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(o.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			o.AccessKey,
			o.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("загрузка конфигурации S3: %w", err)
	}

	return s3.NewFromConfig(cfg, func(so *s3.Options) {
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
		}
		so.UsePathStyle = o.UsePathStyle
	}), nil
}

// Store — содержимое пакетов в бакете S3.
type Store struct {
	api    API
	bucket string
	// tmpDir — директория для буферизации загрузок (пусто — системная)
	tmpDir string
}

// New создаёт хранилище поверх S3 API.
func New(api API, bucket string) *Store {
	return &Store{api: api, bucket: bucket}
}

// Store загружает содержимое под ключом. Поток сначала буферизуется во
// временный файл: PutObject требует известной длины и перематываемого тела.
func (s *Store) Store(ctx context.Context, key string, r io.Reader) (*model.BlobInfo, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(s.tmpDir, "ym-s3-*")
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	defer func() {
		f.Close()
		os.Remove(f.Name())
	}()

	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(r, hasher))
	if err != nil {
		return nil, fmt.Errorf("ошибка буферизации данных: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("ошибка перемотки временного файла: %w", err)
	}
	checksum := hex.EncodeToString(hasher.Sum(nil))

	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/x-rpm"),
		Metadata:      map[string]string{checksumMetaKey: checksum},
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки %s в S3: %w", key, err)
	}

	return &model.BlobInfo{Key: key, Size: size, Checksum: checksum}, nil
}

// SoftDelete помечает объект тегом deleted=true.
// Отсутствующий объект не является ошибкой.
func (s *Store) SoftDelete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	_, err := s.api.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Tagging: &types.Tagging{TagSet: []types.Tag{
			{Key: aws.String(DeletedTagKey), Value: aws.String(DeletedTagValue)},
		}},
	})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("ошибка пометки %s в S3: %w", key, err)
	}
	return nil
}

// Exists проверяет наличие объекта.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	_, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("ошибка проверки %s в S3: %w", key, err)
}

// IsMarkedDeleted проверяет наличие тега мягкого удаления.
func (s *Store) IsMarkedDeleted(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	out, err := s.api.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка чтения тегов %s в S3: %w", key, err)
	}
	return hasDeletedTag(out.TagSet), nil
}

func hasDeletedTag(tags []types.Tag) bool {
	for _, t := range tags {
		if aws.ToString(t.Key) == DeletedTagKey && aws.ToString(t.Value) == DeletedTagValue {
			return true
		}
	}
	return false
}

// ErrInvalidKey — ключ объекта недопустим.
var ErrInvalidKey = errors.New("недопустимый ключ объекта")

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// IsNotFound сообщает, что объект отсутствует в бакете.
func IsNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
