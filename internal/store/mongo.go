package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNotFound is returned for lookups that match no document.
var ErrNotFound = errors.New("not found")

type MongoStore struct {
	db *mongo.Database
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

func (s *MongoStore) DB() *mongo.Database {
	return s.db
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// EnsureIndexes creates the indexes the query paths rely on. Safe to
// call on every startup.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection("comments").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "fileId", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "parentId", Value: 1}, {Key: "createdAt", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("comment indexes: %w", err)
	}
	_, err = s.db.Collection("users").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("user email index: %w", err)
	}
	_, err = s.db.Collection("files").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "originalFileId", Value: 1}, {Key: "version", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("file version index: %w", err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

// ── Users ──

func (s *MongoStore) InsertUser(ctx context.Context, user User) (User, error) {
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	if _, err := s.db.Collection("users").InsertOne(ctx, user); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *MongoStore) GetUserByID(ctx context.Context, id primitive.ObjectID) (User, error) {
	var user User
	err := s.db.Collection("users").FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		return User{}, notFound(err)
	}
	return user, nil
}

func (s *MongoStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.Collection("users").FindOne(ctx, bson.M{"email": email}).Decode(&user)
	if err != nil {
		return User{}, notFound(err)
	}
	return user, nil
}

func (s *MongoStore) SetUserPassword(ctx context.Context, id primitive.ObjectID, passwordHash string) error {
	result, err := s.db.Collection("users").UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"passwordHash": passwordHash}},
	)
	if err != nil {
		return fmt.Errorf("set user password: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// SearchUsers matches users by email substring, excluding the caller.
// Backs mention autocomplete when no project scope is given.
func (s *MongoStore) SearchUsers(ctx context.Context, query string, exclude primitive.ObjectID, limit int) ([]User, error) {
	filter := bson.M{"_id": bson.M{"$ne": exclude}}
	if query != "" {
		filter["email"] = bson.M{"$regex": regexEscape(query), "$options": "i"}
	}
	cursor, err := s.db.Collection("users").Find(ctx, filter,
		options.Find().SetLimit(int64(limit)).SetProjection(bson.M{"email": 1}))
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer cursor.Close(ctx)

	users := []User{}
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return users, nil
}

// ListProjectMembers returns the author and reviewers of a project as
// user records.
func (s *MongoStore) ListProjectMembers(ctx context.Context, project Project) ([]User, error) {
	ids := append([]primitive.ObjectID{project.AuthorID}, project.Reviewers...)
	cursor, err := s.db.Collection("users").Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("list project members: %w", err)
	}
	defer cursor.Close(ctx)

	users := []User{}
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode project members: %w", err)
	}
	return users, nil
}

// ── Projects ──

func (s *MongoStore) InsertProject(ctx context.Context, project Project) (Project, error) {
	if project.ID.IsZero() {
		project.ID = primitive.NewObjectID()
	}
	if project.Reviewers == nil {
		project.Reviewers = []primitive.ObjectID{}
	}
	project.CreatedAt = time.Now().UTC()
	if _, err := s.db.Collection("projects").InsertOne(ctx, project); err != nil {
		return Project{}, fmt.Errorf("insert project: %w", err)
	}
	return project, nil
}

func (s *MongoStore) GetProject(ctx context.Context, id primitive.ObjectID) (Project, error) {
	var project Project
	err := s.db.Collection("projects").FindOne(ctx, bson.M{"_id": id}).Decode(&project)
	if err != nil {
		return Project{}, notFound(err)
	}
	return project, nil
}

func (s *MongoStore) ListProjectsForUser(ctx context.Context, userID primitive.ObjectID) ([]Project, error) {
	cursor, err := s.db.Collection("projects").Find(ctx,
		bson.M{"$or": bson.A{bson.M{"authorId": userID}, bson.M{"reviewers": userID}}},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer cursor.Close(ctx)

	projects := []Project{}
	if err := cursor.All(ctx, &projects); err != nil {
		return nil, fmt.Errorf("decode projects: %w", err)
	}
	return projects, nil
}

// AddReviewer adds the user to the project's reviewer set. $addToSet
// keeps the set deduplicated without a read-modify-write cycle.
func (s *MongoStore) AddReviewer(ctx context.Context, projectID, userID primitive.ObjectID) error {
	result, err := s.db.Collection("projects").UpdateOne(ctx,
		bson.M{"_id": projectID},
		bson.M{"$addToSet": bson.M{"reviewers": userID}},
	)
	if err != nil {
		return fmt.Errorf("add reviewer: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ── Folders ──

func (s *MongoStore) InsertFolder(ctx context.Context, folder Folder) (Folder, error) {
	if folder.ID.IsZero() {
		folder.ID = primitive.NewObjectID()
	}
	folder.CreatedAt = time.Now().UTC()
	if _, err := s.db.Collection("folders").InsertOne(ctx, folder); err != nil {
		return Folder{}, fmt.Errorf("insert folder: %w", err)
	}
	return folder, nil
}

func (s *MongoStore) GetFolder(ctx context.Context, id primitive.ObjectID) (Folder, error) {
	var folder Folder
	err := s.db.Collection("folders").FindOne(ctx, bson.M{"_id": id}).Decode(&folder)
	if err != nil {
		return Folder{}, notFound(err)
	}
	return folder, nil
}

func (s *MongoStore) UpdateFolderName(ctx context.Context, id primitive.ObjectID, name string) error {
	result, err := s.db.Collection("folders").UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"name": name}},
	)
	if err != nil {
		return fmt.Errorf("update folder: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) ListFoldersByAuthor(ctx context.Context, authorID primitive.ObjectID) ([]Folder, error) {
	cursor, err := s.db.Collection("folders").Find(ctx, bson.M{"authorId": authorID})
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer cursor.Close(ctx)

	folders := []Folder{}
	if err := cursor.All(ctx, &folders); err != nil {
		return nil, fmt.Errorf("decode folders: %w", err)
	}
	return folders, nil
}

// ── Files ──

func (s *MongoStore) InsertFile(ctx context.Context, file File) (File, error) {
	if file.ID.IsZero() {
		file.ID = primitive.NewObjectID()
	}
	file.CreatedAt = time.Now().UTC()
	if file.Version == 0 {
		file.Version = 1
	}
	if _, err := s.db.Collection("files").InsertOne(ctx, file); err != nil {
		return File{}, fmt.Errorf("insert file: %w", err)
	}
	return file, nil
}

func (s *MongoStore) GetFile(ctx context.Context, id primitive.ObjectID) (File, error) {
	var file File
	err := s.db.Collection("files").FindOne(ctx, bson.M{"_id": id}).Decode(&file)
	if err != nil {
		return File{}, notFound(err)
	}
	return file, nil
}

func (s *MongoStore) ListFilesByProject(ctx context.Context, projectID primitive.ObjectID) ([]File, error) {
	cursor, err := s.db.Collection("files").Find(ctx, bson.M{"projectId": projectID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer cursor.Close(ctx)

	files := []File{}
	if err := cursor.All(ctx, &files); err != nil {
		return nil, fmt.Errorf("decode files: %w", err)
	}
	return files, nil
}

func (s *MongoStore) UpdateFileDeadline(ctx context.Context, id primitive.ObjectID, deadline *time.Time) error {
	result, err := s.db.Collection("files").UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"deadline": deadline}},
	)
	if err != nil {
		return fmt.Errorf("update file deadline: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestVersion returns the highest version number in a file lineage.
func (s *MongoStore) LatestVersion(ctx context.Context, lineageID primitive.ObjectID) (int, error) {
	var file File
	err := s.db.Collection("files").FindOne(ctx,
		lineageFilter(lineageID),
		options.FindOne().SetSort(bson.D{{Key: "version", Value: -1}}),
	).Decode(&file)
	if err != nil {
		return 0, notFound(err)
	}
	return file.Version, nil
}

func (s *MongoStore) ListFileVersions(ctx context.Context, lineageID primitive.ObjectID) ([]File, error) {
	cursor, err := s.db.Collection("files").Find(ctx,
		lineageFilter(lineageID),
		options.Find().SetSort(bson.D{{Key: "version", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list file versions: %w", err)
	}
	defer cursor.Close(ctx)

	files := []File{}
	if err := cursor.All(ctx, &files); err != nil {
		return nil, fmt.Errorf("decode file versions: %w", err)
	}
	return files, nil
}

// lineageFilter matches version 1 (its own id) and every re-upload
// pointing back at it.
func lineageFilter(lineageID primitive.ObjectID) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"_id": lineageID},
		bson.M{"originalFileId": lineageID},
	}}
}

// ── Comments ──

func (s *MongoStore) InsertComment(ctx context.Context, comment Comment) (Comment, error) {
	if comment.ID.IsZero() {
		comment.ID = primitive.NewObjectID()
	}
	// Server-side timestamp keeps display ordering trustworthy.
	comment.CreatedAt = time.Now().UTC()
	comment.Author = nil
	if _, err := s.db.Collection("comments").InsertOne(ctx, comment); err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return comment, nil
}

func (s *MongoStore) GetComment(ctx context.Context, id primitive.ObjectID) (Comment, error) {
	var comment Comment
	err := s.db.Collection("comments").FindOne(ctx, bson.M{"_id": id}).Decode(&comment)
	if err != nil {
		return Comment{}, notFound(err)
	}
	return comment, nil
}

func (s *MongoStore) CountThreadRoots(ctx context.Context, fileID primitive.ObjectID) (int, error) {
	total, err := s.db.Collection("comments").CountDocuments(ctx, bson.M{
		"fileId":   fileID,
		"parentId": bson.M{"$exists": false},
	})
	if err != nil {
		return 0, fmt.Errorf("count thread roots: %w", err)
	}
	return int(total), nil
}

// ListThreadRoots returns one page of root comments for a file, ordered
// by creation time, with the author document embedded.
func (s *MongoStore) ListThreadRoots(ctx context.Context, fileID primitive.ObjectID, skip, limit int) ([]Comment, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"fileId":   fileID,
			"parentId": bson.M{"$exists": false},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "createdAt", Value: 1}}}},
		{{Key: "$skip", Value: skip}},
		{{Key: "$limit", Value: limit}},
	}
	pipeline = append(pipeline, authorLookupStages()...)
	return s.aggregateComments(ctx, pipeline)
}

// ListRepliesForRoots returns every direct reply of the given roots in
// one query, ordered by creation time, with authors embedded.
func (s *MongoStore) ListRepliesForRoots(ctx context.Context, rootIDs []primitive.ObjectID) ([]Comment, error) {
	if len(rootIDs) == 0 {
		return []Comment{}, nil
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"parentId": bson.M{"$in": rootIDs}}}},
		{{Key: "$sort", Value: bson.D{{Key: "createdAt", Value: 1}}}},
	}
	pipeline = append(pipeline, authorLookupStages()...)
	return s.aggregateComments(ctx, pipeline)
}

func (s *MongoStore) CountReplies(ctx context.Context, parentID primitive.ObjectID) (int, error) {
	total, err := s.db.Collection("comments").CountDocuments(ctx, bson.M{"parentId": parentID})
	if err != nil {
		return 0, fmt.Errorf("count replies: %w", err)
	}
	return int(total), nil
}

func (s *MongoStore) ListReplies(ctx context.Context, parentID primitive.ObjectID, skip, limit int) ([]Comment, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"parentId": parentID}}},
		{{Key: "$sort", Value: bson.D{{Key: "createdAt", Value: 1}}}},
		{{Key: "$skip", Value: skip}},
		{{Key: "$limit", Value: limit}},
	}
	pipeline = append(pipeline, authorLookupStages()...)
	return s.aggregateComments(ctx, pipeline)
}

// AttachMentionResults sets the notification audit trail on a comment.
// Idempotent; repeated calls overwrite with the same data.
func (s *MongoStore) AttachMentionResults(ctx context.Context, commentID primitive.ObjectID, results []MentionResult) error {
	_, err := s.db.Collection("comments").UpdateOne(ctx,
		bson.M{"_id": commentID},
		bson.M{"$set": bson.M{"mentionNotifications": results}},
	)
	if err != nil {
		return fmt.Errorf("attach mention results: %w", err)
	}
	return nil
}

func (s *MongoStore) aggregateComments(ctx context.Context, pipeline mongo.Pipeline) ([]Comment, error) {
	cursor, err := s.db.Collection("comments").Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate comments: %w", err)
	}
	defer cursor.Close(ctx)

	comments := []Comment{}
	if err := cursor.All(ctx, &comments); err != nil {
		return nil, fmt.Errorf("decode comments: %w", err)
	}
	return comments, nil
}

// authorLookupStages joins the author document onto each comment.
func authorLookupStages() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$lookup", Value: bson.M{
			"from":         "users",
			"localField":   "authorId",
			"foreignField": "_id",
			"as":           "authorInfo",
		}}},
		{{Key: "$addFields", Value: bson.M{
			"author": bson.M{"$arrayElemAt": bson.A{"$authorInfo", 0}},
		}}},
		{{Key: "$project", Value: bson.M{
			"authorInfo":          0,
			"author.passwordHash": 0,
		}}},
	}
}

func regexEscape(value string) string {
	escaped := make([]rune, 0, len(value))
	for _, r := range value {
		switch r {
		case '.', '+', '*', '?', '(', ')', '[', ']', '{', '}', '^', '$', '|', '\\':
			escaped = append(escaped, '\\')
		}
		escaped = append(escaped, r)
	}
	return string(escaped)
}
