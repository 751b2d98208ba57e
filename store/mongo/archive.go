// Package mongo implements optional archival of terminal execution records
// to MongoDB. It is an archive sink only: it is never consulted for resume
// and never feeds store.Store reads — a
// caller that wants execution history beyond the in-memory retention window
// queries this archive directly.
//
// Grounded on features/run/mongo/{store.go,clients/mongo/client.go}'s
// client-wraps-collection shape.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/weavegraph/weavegraph/store"
)

const (
	defaultCollection = "workflow_executions"
	defaultOpTimeout  = 5 * time.Second
)

// Options configures the archive.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Archive persists terminal execution records for long-term retrieval.
type Archive struct {
	coll    *mongodriver.Collection
	timeout time.Duration
}

// New builds an Archive against an already-connected Mongo client.
func New(opts Options) (*Archive, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongo: database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := opts.Client.Database(opts.Database).Collection(collection)
	return &Archive{coll: coll, timeout: timeout}, nil
}

// Save upserts a terminal execution record. Saving a non-terminal record is
// rejected: the archive is a write-once history of finished executions, not
// a mirror of the live store.
func (a *Archive) Save(ctx context.Context, rec store.Record) error {
	if !rec.Status.Terminal() {
		return errors.New("mongo: only terminal records may be archived")
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	doc := fromRecord(rec)
	filter := bson.M{"execution_id": rec.ExecutionID}
	update := bson.M{"$set": doc}
	_, err := a.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

// Load retrieves a single archived record by execution id.
func (a *Archive) Load(ctx context.Context, executionID string) (store.Record, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	var doc recordDocument
	err := a.coll.FindOne(ctx, bson.M{"execution_id": executionID}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return store.Record{}, nil
	}
	if err != nil {
		return store.Record{}, err
	}
	return doc.toRecord(), nil
}

// ListForWorkflow returns every archived record for a workflow definition.
func (a *Archive) ListForWorkflow(ctx context.Context, workflowID string) ([]store.Record, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	cursor, err := a.coll.Find(ctx, bson.M{"workflow_id": workflowID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []store.Record
	for cursor.Next(ctx) {
		var doc recordDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toRecord())
	}
	return out, cursor.Err()
}

func (a *Archive) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, a.timeout)
}

type nodeDocument struct {
	NodeID    string    `bson:"node_id"`
	Status    string    `bson:"status"`
	UpdatedAt time.Time `bson:"updated_at"`
	Error     string    `bson:"error,omitempty"`
}

type recordDocument struct {
	ExecutionID string         `bson:"execution_id"`
	WorkflowID  string         `bson:"workflow_id"`
	Status      string         `bson:"status"`
	StartedAt   time.Time      `bson:"started_at"`
	EndedAt     time.Time      `bson:"ended_at"`
	Nodes       []nodeDocument `bson:"nodes,omitempty"`
	Error       string         `bson:"error,omitempty"`
}

func fromRecord(rec store.Record) recordDocument {
	nodes := make([]nodeDocument, 0, len(rec.Nodes))
	for _, n := range rec.Nodes {
		nodes = append(nodes, nodeDocument{
			NodeID:    n.NodeID,
			Status:    string(n.Status),
			UpdatedAt: n.UpdatedAt,
			Error:     n.Error,
		})
	}
	return recordDocument{
		ExecutionID: rec.ExecutionID,
		WorkflowID:  rec.WorkflowID,
		Status:      string(rec.Status),
		StartedAt:   rec.StartedAt,
		EndedAt:     rec.EndedAt,
		Nodes:       nodes,
		Error:       rec.Error,
	}
}

func (doc recordDocument) toRecord() store.Record {
	nodes := make(map[string]store.NodeUpdate, len(doc.Nodes))
	for _, n := range doc.Nodes {
		nodes[n.NodeID] = store.NodeUpdate{
			NodeID:    n.NodeID,
			Status:    store.Status(n.Status),
			UpdatedAt: n.UpdatedAt,
			Error:     n.Error,
		}
	}
	return store.Record{
		ExecutionID: doc.ExecutionID,
		WorkflowID:  doc.WorkflowID,
		Status:      store.Status(doc.Status),
		StartedAt:   doc.StartedAt,
		EndedAt:     doc.EndedAt,
		Nodes:       nodes,
		Error:       doc.Error,
	}
}
