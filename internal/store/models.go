package store

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Email        string             `bson:"email" json:"email"`
	PasswordHash string             `bson:"passwordHash,omitempty" json:"-"`
}

type Project struct {
	ID        primitive.ObjectID   `bson:"_id,omitempty" json:"_id"`
	Name      string               `bson:"name" json:"name"`
	AuthorID  primitive.ObjectID   `bson:"authorId" json:"authorId"`
	Reviewers []primitive.ObjectID `bson:"reviewers" json:"reviewers"`
	FolderID  primitive.ObjectID   `bson:"folderId" json:"folderId"`
	CreatedAt time.Time            `bson:"createdAt" json:"createdAt"`
}

// Member reports whether the user owns the project or sits in its
// reviewer set. Owners hold every reviewer privilege implicitly.
func (p Project) Member(userID primitive.ObjectID) bool {
	if p.AuthorID == userID {
		return true
	}
	for _, reviewer := range p.Reviewers {
		if reviewer == userID {
			return true
		}
	}
	return false
}

type Folder struct {
	ID             primitive.ObjectID  `bson:"_id,omitempty" json:"_id"`
	AuthorID       primitive.ObjectID  `bson:"authorId" json:"authorId"`
	Name           string              `bson:"name" json:"name"`
	ParentFolderID *primitive.ObjectID `bson:"parentFolderId" json:"parentFolderId"`
	CreatedAt      time.Time           `bson:"createdAt" json:"createdAt"`
}

type File struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	ProjectID   primitive.ObjectID `bson:"projectId" json:"projectId"`
	AuthorID    primitive.ObjectID `bson:"authorId" json:"authorId"`
	Name        string             `bson:"name" json:"name"`
	StoragePath string             `bson:"storagePath" json:"storagePath"`
	CreatedAt   time.Time          `bson:"createdAt" json:"createdAt"`
	Deadline    *time.Time         `bson:"deadline,omitempty" json:"deadline"`
	// Version 1 has a nil OriginalFileID; re-uploads share the first
	// version's id and count upward.
	Version        int                 `bson:"version" json:"version"`
	OriginalFileID *primitive.ObjectID `bson:"originalFileId,omitempty" json:"originalFileId"`
}

// Lineage is the id shared by every version of a file.
func (f File) Lineage() primitive.ObjectID {
	if f.OriginalFileID != nil {
		return *f.OriginalFileID
	}
	return f.ID
}

type Comment struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	FileID    primitive.ObjectID `bson:"fileId" json:"fileId"`
	AuthorID  primitive.ObjectID `bson:"authorId" json:"authorId"`
	Body      string             `bson:"body" json:"body"`
	// Marker position as percentage of the image dimensions, [0,100].
	X         float64             `bson:"x" json:"x"`
	Y         float64             `bson:"y" json:"y"`
	CreatedAt time.Time           `bson:"createdAt" json:"createdAt"`
	ParentID  *primitive.ObjectID `bson:"parentId,omitempty" json:"parentId,omitempty"`
	// Optional base64-encoded annotation image drawn over the file.
	Annotation           string          `bson:"annotation,omitempty" json:"annotation,omitempty"`
	MentionNotifications []MentionResult `bson:"mentionNotifications,omitempty" json:"mentionNotifications,omitempty"`
	// Author is populated by read-side lookups, never written back.
	Author *User `bson:"author,omitempty" json:"author,omitempty"`
}

// MentionResult records one mention-notification attempt, embedded into
// the triggering comment after the fan-out completes.
type MentionResult struct {
	User   primitive.ObjectID `bson:"user" json:"user"`
	Sent   bool               `bson:"sent" json:"sent"`
	Reason string             `bson:"reason,omitempty" json:"reason,omitempty"`
	Error  string             `bson:"error,omitempty" json:"error,omitempty"`
	Email  string             `bson:"email" json:"email"`
}

// ThreadGroup is a root comment followed by its direct replies, ordered
// by creation time. Pagination operates over groups, not flat comments.
type ThreadGroup []Comment

type Pagination struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}
