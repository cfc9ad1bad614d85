package redis

import (
	"context"
	"errors"

	goredis "github.com/redis/go-redis/v9"
)

// GetSetting returns the stored value for key.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.HGet(ctx, settingsKey, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", false, nil
		}
		return "", false, wrap("get setting", err)
	}
	return v, true, nil
}

// SetSetting stores value for key.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if err := s.client.HSet(ctx, settingsKey, key, value).Err(); err != nil {
		return wrap("set setting", err)
	}
	return nil
}

// ListSettings returns every stored setting.
func (s *Store) ListSettings(ctx context.Context) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, settingsKey).Result()
	if err != nil {
		return nil, wrap("list settings", err)
	}
	return m, nil
}
