package search

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoFTS is the fallback Searcher, a case-insensitive regex scan over
// the primary MongoDB collections. Always considered healthy.
type MongoFTS struct {
	db      *mongo.Database
	timeout time.Duration
}

func NewMongoFTS(db *mongo.Database) *MongoFTS {
	return &MongoFTS{db: db, timeout: 5 * time.Second}
}

// Healthy always reports true; if Mongo is down the whole API is down.
func (f *MongoFTS) Healthy() bool {
	return true
}

func (f *MongoFTS) Search(q Query) ([]Result, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	pattern := primitive.Regex{Pattern: regexp.QuoteMeta(q.Text), Options: "i"}
	scope := f.projectScope(q)

	var results []Result

	if q.FilterType == "" || q.FilterType == ResultProject {
		hits, err := f.searchProjects(ctx, pattern, scope, limit)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, hits...)
	}
	if q.FilterType == "" || q.FilterType == ResultFile {
		hits, err := f.searchFiles(ctx, pattern, scope, limit)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, hits...)
	}
	if q.FilterType == "" || q.FilterType == ResultComment {
		hits, err := f.searchComments(ctx, pattern, scope, limit)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, hits...)
	}

	return results, len(results), nil
}

// projectScope converts the query's project restrictions into a list of
// object ids, or nil when unrestricted.
func (f *MongoFTS) projectScope(q Query) []primitive.ObjectID {
	ids := q.ProjectIDs
	if q.FilterProjectID != "" {
		ids = []string{q.FilterProjectID}
	}
	var scope []primitive.ObjectID
	for _, raw := range ids {
		if oid, err := primitive.ObjectIDFromHex(raw); err == nil {
			scope = append(scope, oid)
		}
	}
	return scope
}

func (f *MongoFTS) searchProjects(ctx context.Context, pattern primitive.Regex, scope []primitive.ObjectID, limit int64) ([]Result, error) {
	filter := bson.M{"name": pattern}
	if scope != nil {
		filter["_id"] = bson.M{"$in": scope}
	}

	cur, err := f.db.Collection("projects").Find(ctx, filter, options.Find().SetLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("search projects: %w", err)
	}
	defer cur.Close(ctx)

	var results []Result
	for cur.Next(ctx) {
		var doc struct {
			ID   primitive.ObjectID `bson:"_id"`
			Name string             `bson:"name"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		results = append(results, Result{
			Type:      ResultProject,
			ID:        doc.ID.Hex(),
			Title:     doc.Name,
			ProjectID: doc.ID.Hex(),
		})
	}
	return results, cur.Err()
}

func (f *MongoFTS) searchFiles(ctx context.Context, pattern primitive.Regex, scope []primitive.ObjectID, limit int64) ([]Result, error) {
	filter := bson.M{"name": pattern}
	if scope != nil {
		filter["projectId"] = bson.M{"$in": scope}
	}

	cur, err := f.db.Collection("files").Find(ctx, filter, options.Find().SetLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("search files: %w", err)
	}
	defer cur.Close(ctx)

	var results []Result
	for cur.Next(ctx) {
		var doc struct {
			ID        primitive.ObjectID `bson:"_id"`
			Name      string             `bson:"name"`
			ProjectID primitive.ObjectID `bson:"projectId"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		results = append(results, Result{
			Type:      ResultFile,
			ID:        doc.ID.Hex(),
			Title:     doc.Name,
			FileID:    doc.ID.Hex(),
			ProjectID: doc.ProjectID.Hex(),
		})
	}
	return results, cur.Err()
}

func (f *MongoFTS) searchComments(ctx context.Context, pattern primitive.Regex, scope []primitive.ObjectID, limit int64) ([]Result, error) {
	match := bson.M{"body": pattern}

	// Comments carry no projectId, so the scope applies through a file
	// lookup.
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$lookup", Value: bson.M{
			"from":         "files",
			"localField":   "fileId",
			"foreignField": "_id",
			"as":           "fileInfo",
		}}},
		{{Key: "$unwind", Value: "$fileInfo"}},
	}
	if scope != nil {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: bson.M{
			"fileInfo.projectId": bson.M{"$in": scope},
		}}})
	}
	pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit}})

	cur, err := f.db.Collection("comments").Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("search comments: %w", err)
	}
	defer cur.Close(ctx)

	var results []Result
	for cur.Next(ctx) {
		var doc struct {
			ID       primitive.ObjectID `bson:"_id"`
			Body     string             `bson:"body"`
			FileID   primitive.ObjectID `bson:"fileId"`
			FileInfo struct {
				ProjectID primitive.ObjectID `bson:"projectId"`
			} `bson:"fileInfo"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		results = append(results, Result{
			Type:      ResultComment,
			ID:        doc.ID.Hex(),
			Snippet:   doc.Body,
			FileID:    doc.FileID.Hex(),
			ProjectID: doc.FileInfo.ProjectID.Hex(),
		})
	}
	return results, cur.Err()
}
