// Package mongostore implements ledger.Store backed by MongoDB, grounded on
// the teacher's features/runlog/mongo client layering: a thin Store that
// delegates to a low-level Client wrapping the official driver, so tests can
// substitute a fake Client without pulling in a live Mongo connection.
package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"github.com/taskreactor/orchestrator/domain/ledger"
)

const (
	defaultCollection = "ai_usage"
	defaultTimeout    = 5 * time.Second
)

type (
	// Client exposes Mongo-backed operations for the cost and audit ledger.
	Client interface {
		health.Pinger

		Append(ctx context.Context, r ledger.Record) error
		Aggregate(ctx context.Context, filter bson.M) (ledger.Aggregate, error)
	}

	// Options configures the Mongo ledger client.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	client struct {
		mongo   *mongodriver.Client
		coll    *mongodriver.Collection
		timeout time.Duration
	}

	usageDocument struct {
		RunID         string  `bson:"run_id"`
		TaskID        int64   `bson:"task_id"`
		StepID        string  `bson:"step_id"`
		Provider      string  `bson:"provider"`
		Model         string  `bson:"model"`
		Operation     string  `bson:"operation"`
		InputTokens   int     `bson:"input_tokens"`
		OutputTokens  int     `bson:"output_tokens"`
		EstimatedCost float64 `bson:"estimated_cost"`
		DurationMS    int64   `bson:"duration_ms"`
		Success       bool    `bson:"success"`
		Error         string  `bson:"error,omitempty"`
		Timestamp     int64   `bson:"timestamp"`
	}
)

// New returns a Client backed by the provided MongoDB client.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	coll := opts.Client.Database(opts.Database).Collection(collection)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, coll); err != nil {
		return nil, err
	}

	return &client{mongo: opts.Client, coll: coll, timeout: timeout}, nil
}

func ensureIndexes(ctx context.Context, coll *mongodriver.Collection) error {
	_, err := coll.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "run_id", Value: 1}}},
		{Keys: bson.D{{Key: "task_id", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
	})
	return err
}

// Ping implements health.Pinger.
func (c *client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.mongo.Ping(ctx, readpref.Primary())
}

// Append implements Client.
func (c *client) Append(ctx context.Context, r ledger.Record) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, err := c.coll.InsertOne(ctx, usageDocument{
		RunID: r.RunID, TaskID: r.TaskID, StepID: r.StepID, Provider: r.Provider, Model: r.Model,
		Operation: r.Operation, InputTokens: r.InputTokens, OutputTokens: r.OutputTokens,
		EstimatedCost: r.EstimatedCost, DurationMS: r.Duration.Milliseconds(),
		Success: r.Success, Error: r.Error, Timestamp: r.Timestamp.UnixMilli(),
	})
	return err
}

// Aggregate implements Client using a $group pipeline so the reported sum of
// estimated_cost is computed server-side from the same rows the filter
// selects (spec §8 invariant 6 is then a property of the query, not of
// client-side arithmetic that could drift from it).
func (c *client) Aggregate(ctx context.Context, filter bson.M) (ledger.Aggregate, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pipeline := mongodriver.Pipeline{
		{{Key: "$match", Value: filter}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$provider"},
			{Key: "input_tokens", Value: bson.D{{Key: "$sum", Value: "$input_tokens"}}},
			{Key: "output_tokens", Value: bson.D{{Key: "$sum", Value: "$output_tokens"}}},
			{Key: "cost", Value: bson.D{{Key: "$sum", Value: "$estimated_cost"}}},
			{Key: "calls", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}

	cur, err := c.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return ledger.Aggregate{}, err
	}
	defer cur.Close(ctx)

	agg := ledger.Aggregate{ByProvider: make(map[string]ledger.ProviderAggregate)}
	for cur.Next(ctx) {
		var row struct {
			Provider     string  `bson:"_id"`
			InputTokens  int     `bson:"input_tokens"`
			OutputTokens int     `bson:"output_tokens"`
			Cost         float64 `bson:"cost"`
			Calls        int     `bson:"calls"`
		}
		if err := cur.Decode(&row); err != nil {
			return ledger.Aggregate{}, err
		}
		agg.TotalInputTokens += row.InputTokens
		agg.TotalOutputTokens += row.OutputTokens
		agg.TotalCost += row.Cost
		agg.ByProvider[row.Provider] = ledger.ProviderAggregate{
			InputTokens: row.InputTokens, OutputTokens: row.OutputTokens,
			Cost: row.Cost, Calls: row.Calls,
		}
	}
	return agg, cur.Err()
}
