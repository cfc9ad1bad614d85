package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// GetSetting returns the stored value for key.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var m settingModel
	err := s.db.Collection(colConfig).FindOne(ctx, bson.M{"_id": key}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return "", false, nil
		}
		return "", false, wrap("get setting", err)
	}
	return m.Value, true, nil
}

// SetSetting stores value for key, replacing any previous value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.Collection(colConfig).UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{"value": value}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return wrap("set setting", err)
	}
	return nil
}

// ListSettings returns every stored key and value.
func (s *Store) ListSettings(ctx context.Context) (map[string]string, error) {
	cursor, err := s.db.Collection(colConfig).Find(ctx, bson.M{})
	if err != nil {
		return nil, wrap("list settings", err)
	}
	defer cursor.Close(ctx)

	var models []settingModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, wrap("list settings decode", err)
	}
	out := make(map[string]string, len(models))
	for _, m := range models {
		out[m.Key] = m.Value
	}
	return out, nil
}
