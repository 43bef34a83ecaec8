package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/uri157/exchange-simulator/internal/apperr"
	"github.com/uri157/exchange-simulator/internal/core"
)

type sessionDoc struct {
	SessionID  string   `bson:"session_id"`
	Symbols    []string `bson:"symbols"`
	Interval   string   `bson:"interval"`
	StartTime  int64    `bson:"start_time"`
	EndTime    int64    `bson:"end_time"`
	Speed      float64  `bson:"speed"`
	MarketMode string   `bson:"market_mode"`
	Enabled    bool     `bson:"enabled"`
	Status     string   `bson:"status"`
	Seed       int64    `bson:"seed"`
	CreatedAt  int64    `bson:"created_at"`
	UpdatedAt  int64    `bson:"updated_at"`
}

func docFromSession(cfg core.SessionConfig) sessionDoc {
	return sessionDoc{
		SessionID:  cfg.SessionID.String(),
		Symbols:    cfg.Symbols,
		Interval:   cfg.Interval,
		StartTime:  int64(cfg.StartTime),
		EndTime:    int64(cfg.EndTime),
		Speed:      cfg.Speed,
		MarketMode: string(cfg.MarketMode),
		Enabled:    cfg.Enabled,
		Status:     string(cfg.Status),
		Seed:       cfg.Seed,
		CreatedAt:  int64(cfg.CreatedAt),
		UpdatedAt:  int64(cfg.UpdatedAt),
	}
}

func (d sessionDoc) toCore() (core.SessionConfig, error) {
	id, err := uuid.Parse(d.SessionID)
	if err != nil {
		return core.SessionConfig{}, fmt.Errorf("parse session id: %w", err)
	}
	return core.SessionConfig{
		SessionID:  id,
		Symbols:    d.Symbols,
		Interval:   d.Interval,
		StartTime:  core.TimestampMs(d.StartTime),
		EndTime:    core.TimestampMs(d.EndTime),
		Speed:      d.Speed,
		MarketMode: core.MarketMode(d.MarketMode),
		Enabled:    d.Enabled,
		Status:     core.SessionStatus(d.Status),
		Seed:       d.Seed,
		CreatedAt:  core.TimestampMs(d.CreatedAt),
		UpdatedAt:  core.TimestampMs(d.UpdatedAt),
	}, nil
}

// SessionsRepo implements core.SessionsRepo against the sessions
// collection.
type SessionsRepo struct{ db *mongo.Database }

func NewSessionsRepo(db *mongo.Database) *SessionsRepo { return &SessionsRepo{db: db} }

func (r *SessionsRepo) Insert(ctx context.Context, cfg core.SessionConfig) (core.SessionConfig, error) {
	doc := docFromSession(cfg)
	if _, err := r.db.Collection("sessions").InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return core.SessionConfig{}, apperr.Conflictf("session %s already exists", cfg.SessionID)
		}
		return core.SessionConfig{}, apperr.Databasef(err, "insert session")
	}
	return cfg, nil
}

func (r *SessionsRepo) Get(ctx context.Context, sessionID uuid.UUID) (core.SessionConfig, error) {
	var doc sessionDoc
	err := r.db.Collection("sessions").FindOne(ctx, bson.M{"session_id": sessionID.String()}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return core.SessionConfig{}, apperr.NotFoundf("session %s not found", sessionID)
	}
	if err != nil {
		return core.SessionConfig{}, apperr.Databasef(err, "get session")
	}
	return doc.toCore()
}

func (r *SessionsRepo) List(ctx context.Context) ([]core.SessionConfig, error) {
	cursor, err := r.db.Collection("sessions").Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, apperr.Databasef(err, "list sessions")
	}
	defer cursor.Close(ctx)

	var docs []sessionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, apperr.Databasef(err, "decode sessions")
	}
	out := make([]core.SessionConfig, 0, len(docs))
	for _, d := range docs {
		cfg, err := d.toCore()
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

func (r *SessionsRepo) UpdateStatus(ctx context.Context, sessionID uuid.UUID, status core.SessionStatus) (core.SessionConfig, error) {
	update := bson.M{"$set": bson.M{"status": string(status), "updated_at": int64(core.NowMs())}}
	res := r.db.Collection("sessions").FindOneAndUpdate(ctx, bson.M{"session_id": sessionID.String()}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After))

	var doc sessionDoc
	if err := res.Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return core.SessionConfig{}, apperr.NotFoundf("session %s not found", sessionID)
		}
		return core.SessionConfig{}, apperr.Databasef(err, "update session status")
	}
	return doc.toCore()
}

func (r *SessionsRepo) SetEnabled(ctx context.Context, sessionID uuid.UUID, enabled bool) error {
	update := bson.M{"$set": bson.M{"enabled": enabled, "updated_at": int64(core.NowMs())}}
	res, err := r.db.Collection("sessions").UpdateOne(ctx, bson.M{"session_id": sessionID.String()}, update)
	if err != nil {
		return apperr.Databasef(err, "set session enabled")
	}
	if res.MatchedCount == 0 {
		return apperr.NotFoundf("session %s not found", sessionID)
	}
	return nil
}

func (r *SessionsRepo) Delete(ctx context.Context, sessionID uuid.UUID) error {
	res, err := r.db.Collection("sessions").DeleteOne(ctx, bson.M{"session_id": sessionID.String()})
	if err != nil {
		return apperr.Databasef(err, "delete session")
	}
	if res.DeletedCount == 0 {
		return apperr.NotFoundf("session %s not found", sessionID)
	}
	return nil
}

var _ core.SessionsRepo = (*SessionsRepo)(nil)
