package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/evalforge/evalforge/pkg/platform/ferrors"
)

// defaultPageSize is used when a caller asks for a page without
// specifying a size.
const defaultPageSize = 50

// collection is the generic per-document-type helper every typed
// repository wraps. It owns no domain semantics; repositories layer
// those on top (idempotent upserts, array-union mutations, filters).
type collection[T any] struct {
	coll *mongo.Collection
}

func newCollection[T any](db *mongo.Database, name string) *collection[T] {
	return &collection[T]{coll: db.Collection(name)}
}

// Get fetches a single document by its _id.
func (c *collection[T]) Get(ctx context.Context, id string) (*T, error) {
	var doc T
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ferrors.New(ferrors.KindNotFound, "document not found: "+id, nil)
	}
	if err != nil {
		return nil, ferrors.FailedTo("get document", err)
	}
	return &doc, nil
}

// Upsert replaces the document at id wholesale (last-writer-wins).
func (c *collection[T]) Upsert(ctx context.Context, id string, doc *T) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := c.coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, opts); err != nil {
		return ferrors.FailedTo("upsert document", err)
	}
	return nil
}

// mutate runs a read-modify-write inside a transaction so a
// concurrent mutation of the same document (e.g. two dedup runs
// appending to the same suggestion's source_traces) never loses an
// update.
func (c *collection[T]) mutate(ctx context.Context, id string, apply func(*T) error) error {
	session, err := c.coll.Database().Client().StartSession()
	if err != nil {
		return ferrors.FailedTo("start mutation session", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		var doc T
		if derr := c.coll.FindOne(sessCtx, bson.M{"_id": id}).Decode(&doc); derr != nil {
			if derr == mongo.ErrNoDocuments {
				return nil, ferrors.New(ferrors.KindNotFound, "document not found: "+id, nil)
			}
			return nil, ferrors.FailedTo("load document for mutation", derr)
		}
		if aerr := apply(&doc); aerr != nil {
			return nil, aerr
		}
		opts := options.Replace().SetUpsert(true)
		if _, rerr := c.coll.ReplaceOne(sessCtx, bson.M{"_id": id}, doc, opts); rerr != nil {
			return nil, ferrors.FailedTo("persist mutation", rerr)
		}
		return nil, nil
	})
	return err
}

// Count reports the number of documents matching filter. It tries a
// $count aggregation first, falling back to CountDocuments when the
// aggregation path is unavailable.
func (c *collection[T]) Count(ctx context.Context, filter bson.M) (int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: filter}},
		{{Key: "$count", Value: "n"}},
	}
	if cur, err := c.coll.Aggregate(ctx, pipeline); err == nil {
		defer cur.Close(ctx)
		var result struct {
			N int64 `bson:"n"`
		}
		if cur.Next(ctx) {
			if decodeErr := cur.Decode(&result); decodeErr == nil {
				return result.N, nil
			}
		} else if cur.Err() == nil {
			return 0, nil
		}
	}

	n, err := c.coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, ferrors.FailedTo("count documents", err)
	}
	return n, nil
}

// List returns one page of documents matching filter, ordered by
// orderField descending (ties broken by _id descending), plus an
// opaque cursor for the next page when more remain. Passing the
// previous page's cursor resumes after its last document.
func (c *collection[T]) List(ctx context.Context, filter bson.M, orderField string, pageSize int64, cursor string) ([]T, string, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	query := bson.M{}
	for k, v := range filter {
		query[k] = v
	}

	if cursor != "" {
		cc, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", ferrors.New(ferrors.KindInvalidJSON, "invalid pagination cursor", err)
		}
		query["$or"] = []bson.M{
			{orderField: bson.M{"$lt": cc.OrderValue}},
			{orderField: cc.OrderValue, "_id": bson.M{"$lt": cc.ID}},
		}
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: orderField, Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(pageSize + 1)

	mongoCur, err := c.coll.Find(ctx, query, findOpts)
	if err != nil {
		return nil, "", ferrors.FailedTo("list documents", err)
	}
	defer mongoCur.Close(ctx)

	var raw []bson.M
	if err := mongoCur.All(ctx, &raw); err != nil {
		return nil, "", ferrors.FailedTo("decode document page", err)
	}

	hasMore := int64(len(raw)) > pageSize
	if hasMore {
		raw = raw[:pageSize]
	}

	items := make([]T, len(raw))
	for i, r := range raw {
		data, err := bson.Marshal(r)
		if err != nil {
			return nil, "", ferrors.FailedTo("re-marshal document", err)
		}
		if err := bson.Unmarshal(data, &items[i]); err != nil {
			return nil, "", ferrors.FailedTo("decode typed document", err)
		}
	}

	var nextCursor string
	if hasMore {
		last := raw[len(raw)-1]
		id, _ := last["_id"].(string)
		nextCursor = encodeCursor(orderValueOf(last[orderField]), id)
	}

	return items, nextCursor, nil
}

// orderValueOf normalizes the raw bson value of the ordering field
// into a time.Time; every orderField used by a repository in this
// package is a timestamp.
func orderValueOf(v any) time.Time {
	if dt, ok := v.(primitive.DateTime); ok {
		return dt.Time()
	}
	return time.Time{}
}
