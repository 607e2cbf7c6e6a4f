package repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrOtpNotFound is returned when no pending code exists for a phone number.
var ErrOtpNotFound = errors.New("otp code not found")

// OtpRepository stores pending one-time codes with a bounded lifetime and an
// attempt counter that expires together with the code.
type OtpRepository interface {
	Save(ctx context.Context, phone, codeHash string, ttl time.Duration) error
	Get(ctx context.Context, phone string) (codeHash string, tries int64, err error)
	IncrementTries(ctx context.Context, phone string) (int64, error)
	Delete(ctx context.Context, phone string) error
}

type otpRepository struct {
	client *redis.Client
}

// NewOtpRepository returns a Redis-backed implementation.
func NewOtpRepository(client *redis.Client) OtpRepository {
	return &otpRepository{client: client}
}

func codeKey(phone string) string  { return "otp:code:" + phone }
func triesKey(phone string) string { return "otp:tries:" + phone }

func (r *otpRepository) Save(ctx context.Context, phone, codeHash string, ttl time.Duration) error {
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, codeKey(phone), codeHash, ttl)
	pipe.Set(ctx, triesKey(phone), 0, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *otpRepository) Get(ctx context.Context, phone string) (string, int64, error) {
	hash, err := r.client.Get(ctx, codeKey(phone)).Result()
	if errors.Is(err, redis.Nil) {
		return "", 0, ErrOtpNotFound
	}
	if err != nil {
		return "", 0, err
	}

	tries, err := r.client.Get(ctx, triesKey(phone)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", 0, err
	}
	return hash, tries, nil
}

func (r *otpRepository) IncrementTries(ctx context.Context, phone string) (int64, error) {
	return r.client.Incr(ctx, triesKey(phone)).Result()
}

func (r *otpRepository) Delete(ctx context.Context, phone string) error {
	return r.client.Del(ctx, codeKey(phone), triesKey(phone)).Err()
}
