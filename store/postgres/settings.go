package postgres

import "context"

// GetSetting returns the stored value for key.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM queuectl_settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if isNoRows(err) {
			return "", false, nil
		}
		return "", false, wrap("get setting", err)
	}
	return value, true, nil
}

// SetSetting stores value for key, replacing any previous value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO queuectl_settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	if err != nil {
		return wrap("set setting", err)
	}
	return nil
}

// ListSettings returns every stored key and value.
func (s *Store) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM queuectl_settings`)
	if err != nil {
		return nil, wrap("list settings", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, wrap("scan setting row", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate setting rows", err)
	}
	return out, nil
}
