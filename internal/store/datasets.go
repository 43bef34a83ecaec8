package store

import (
	"context"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/uri157/exchange-simulator/internal/apperr"
	"github.com/uri157/exchange-simulator/internal/core"
)

type datasetDoc struct {
	ID          string `bson:"id"`
	Symbol      string `bson:"symbol"`
	Interval    string `bson:"interval"`
	StartTime   int64  `bson:"start_time"`
	EndTime     int64  `bson:"end_time"`
	Status      string `bson:"status"`
	Progress    uint8  `bson:"progress"`
	LastMessage string `bson:"last_message"`
	CreatedAt   int64  `bson:"created_at"`
	UpdatedAt   int64  `bson:"updated_at"`
}

func docFromDataset(d core.DatasetMetadata) datasetDoc {
	return datasetDoc{
		ID: d.ID.String(), Symbol: d.Symbol, Interval: d.Interval,
		StartTime: int64(d.StartTime), EndTime: int64(d.EndTime),
		Status: string(d.Status), Progress: d.Progress, LastMessage: d.LastMessage,
		CreatedAt: int64(d.CreatedAt), UpdatedAt: int64(d.UpdatedAt),
	}
}

func (d datasetDoc) toCore() (core.DatasetMetadata, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return core.DatasetMetadata{}, err
	}
	return core.DatasetMetadata{
		ID: id, Symbol: d.Symbol, Interval: d.Interval,
		StartTime: core.TimestampMs(d.StartTime), EndTime: core.TimestampMs(d.EndTime),
		Status: core.DatasetStatus(d.Status), Progress: d.Progress, LastMessage: d.LastMessage,
		CreatedAt: core.TimestampMs(d.CreatedAt), UpdatedAt: core.TimestampMs(d.UpdatedAt),
	}, nil
}

// DatasetRepo implements core.DatasetRepo against the datasets
// collection.
type DatasetRepo struct{ db *mongo.Database }

func NewDatasetRepo(db *mongo.Database) *DatasetRepo { return &DatasetRepo{db: db} }

func (r *DatasetRepo) Upsert(ctx context.Context, d core.DatasetMetadata) error {
	doc := docFromDataset(d)
	_, err := r.db.Collection("datasets").ReplaceOne(ctx, bson.M{"id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return apperr.Databasef(err, "upsert dataset")
	}
	return nil
}

func (r *DatasetRepo) Get(ctx context.Context, id uuid.UUID) (core.DatasetMetadata, error) {
	var doc datasetDoc
	err := r.db.Collection("datasets").FindOne(ctx, bson.M{"id": id.String()}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return core.DatasetMetadata{}, apperr.NotFoundf("dataset %s not found", id)
	}
	if err != nil {
		return core.DatasetMetadata{}, apperr.Databasef(err, "get dataset")
	}
	return doc.toCore()
}

func (r *DatasetRepo) List(ctx context.Context) ([]core.DatasetMetadata, error) {
	cursor, err := r.db.Collection("datasets").Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, apperr.Databasef(err, "list datasets")
	}
	defer cursor.Close(ctx)

	var docs []datasetDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, apperr.Databasef(err, "decode datasets")
	}
	out := make([]core.DatasetMetadata, 0, len(docs))
	for _, d := range docs {
		dm, err := d.toCore()
		if err != nil {
			return nil, err
		}
		out = append(out, dm)
	}
	return out, nil
}

var _ core.DatasetRepo = (*DatasetRepo)(nil)
