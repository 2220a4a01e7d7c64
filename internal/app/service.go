package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"proofdeck/api/internal/authpw"
	"proofdeck/api/internal/blob"
	"proofdeck/api/internal/search"
	"proofdeck/api/internal/store"
)

// dataStore is the persistence surface the service needs. MongoStore is
// the production implementation; tests substitute fakes.
type dataStore interface {
	Ping(ctx context.Context) error

	InsertUser(ctx context.Context, user store.User) (store.User, error)
	GetUserByID(ctx context.Context, id primitive.ObjectID) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	SearchUsers(ctx context.Context, query string, exclude primitive.ObjectID, limit int) ([]store.User, error)
	ListProjectMembers(ctx context.Context, project store.Project) ([]store.User, error)

	InsertProject(ctx context.Context, project store.Project) (store.Project, error)
	GetProject(ctx context.Context, id primitive.ObjectID) (store.Project, error)
	ListProjectsForUser(ctx context.Context, userID primitive.ObjectID) ([]store.Project, error)
	AddReviewer(ctx context.Context, projectID, userID primitive.ObjectID) error

	InsertFolder(ctx context.Context, folder store.Folder) (store.Folder, error)
	GetFolder(ctx context.Context, id primitive.ObjectID) (store.Folder, error)
	UpdateFolderName(ctx context.Context, id primitive.ObjectID, name string) error
	ListFoldersByAuthor(ctx context.Context, authorID primitive.ObjectID) ([]store.Folder, error)

	InsertFile(ctx context.Context, file store.File) (store.File, error)
	GetFile(ctx context.Context, id primitive.ObjectID) (store.File, error)
	ListFilesByProject(ctx context.Context, projectID primitive.ObjectID) ([]store.File, error)
	UpdateFileDeadline(ctx context.Context, id primitive.ObjectID, deadline *time.Time) error
	LatestVersion(ctx context.Context, lineageID primitive.ObjectID) (int, error)
	ListFileVersions(ctx context.Context, lineageID primitive.ObjectID) ([]store.File, error)

	InsertComment(ctx context.Context, comment store.Comment) (store.Comment, error)
	GetComment(ctx context.Context, id primitive.ObjectID) (store.Comment, error)
	CountThreadRoots(ctx context.Context, fileID primitive.ObjectID) (int, error)
	ListThreadRoots(ctx context.Context, fileID primitive.ObjectID, skip, limit int) ([]store.Comment, error)
	ListRepliesForRoots(ctx context.Context, rootIDs []primitive.ObjectID) ([]store.Comment, error)
	CountReplies(ctx context.Context, parentID primitive.ObjectID) (int, error)
	ListReplies(ctx context.Context, parentID primitive.ObjectID, skip, limit int) ([]store.Comment, error)
}

// broadcaster pushes created comments to connected clients.
type broadcaster interface {
	BroadcastNewComment(fileID string, authorID primitive.ObjectID, comment interface{})
}

// commentNotifier runs mention processing for a created comment.
type commentNotifier interface {
	ProcessComment(ctx context.Context, comment store.Comment) []store.MentionResult
}

// searcher is the search facade; nil disables search.
type searcher interface {
	Search(q search.Query) search.Response
	IndexProject(p search.ProjectRecord)
	IndexFile(f search.FileRecord)
	IndexComment(c search.CommentRecord)
}

type Service struct {
	store    dataStore
	auth     *authpw.Service
	mentions commentNotifier
	hub      broadcaster
	search   searcher
	blobs    blob.Store
}

// Deps carries the collaborators wired in at startup. hub, mentions and
// search may be nil in tests.
type Deps struct {
	Auth     *authpw.Service
	Mentions commentNotifier
	Hub      broadcaster
	Search   searcher
	Blobs    blob.Store
}

func NewService(st dataStore, deps Deps) *Service {
	return &Service{
		store:    st,
		auth:     deps.Auth,
		mentions: deps.Mentions,
		hub:      deps.Hub,
		search:   deps.Search,
		blobs:    deps.Blobs,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// AuthService exposes the password auth service to the HTTP layer.
func (s *Service) AuthService() *authpw.Service {
	return s.auth
}

func parseID(raw, what string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(strings.TrimSpace(raw))
	if err != nil {
		return primitive.NilObjectID, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", what+" must be a valid id", nil)
	}
	return id, nil
}

// ── Comments ──

type CreateCommentInput struct {
	FileID     string  `json:"fileId"`
	Body       string  `json:"body"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	ParentID   string  `json:"parentId,omitempty"`
	Annotation string  `json:"annotation,omitempty"`
}

// CreateComment validates, authorizes and persists a comment, then kicks
// off mention processing and the room broadcast. Once the insert has
// succeeded nothing downstream can fail the call.
func (s *Service) CreateComment(ctx context.Context, userID primitive.ObjectID, in CreateCommentInput) (store.Comment, error) {
	fileID, err := parseID(in.FileID, "fileId")
	if err != nil {
		return store.Comment{}, err
	}
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return store.Comment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "body must be a non-empty string", nil)
	}
	if in.X < 0 || in.X > 100 || in.Y < 0 || in.Y > 100 {
		return store.Comment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "x and y must be between 0 and 100", map[string]float64{"x": in.X, "y": in.Y})
	}

	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Comment{}, domainError(http.StatusNotFound, "NOT_FOUND", "File not found", nil)
		}
		return store.Comment{}, fmt.Errorf("load file: %w", err)
	}
	project, err := s.store.GetProject(ctx, file.ProjectID)
	if err != nil {
		return store.Comment{}, fmt.Errorf("load project: %w", err)
	}
	if !project.Member(userID) {
		return store.Comment{}, domainError(http.StatusForbidden, "FORBIDDEN", "You do not have access to this file", nil)
	}

	// A passed deadline blocks reviewers. The project owner and the
	// file's uploader keep commenting.
	if file.Deadline != nil && time.Now().After(*file.Deadline) &&
		userID != project.AuthorID && userID != file.AuthorID {
		return store.Comment{}, domainError(http.StatusForbidden, "FORBIDDEN", "The comment deadline for this file has passed", nil)
	}

	comment := store.Comment{
		FileID:     fileID,
		AuthorID:   userID,
		Body:       body,
		X:          in.X,
		Y:          in.Y,
		Annotation: strings.TrimSpace(in.Annotation),
	}

	if strings.TrimSpace(in.ParentID) != "" {
		parentID, err := parseID(in.ParentID, "parentId")
		if err != nil {
			return store.Comment{}, err
		}
		parent, err := s.store.GetComment(ctx, parentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return store.Comment{}, domainError(http.StatusNotFound, "NOT_FOUND", "Parent comment not found", nil)
			}
			return store.Comment{}, fmt.Errorf("load parent comment: %w", err)
		}
		// A parent under another file is treated as not found, the same
		// as a nonexistent id.
		if parent.FileID != fileID {
			return store.Comment{}, domainError(http.StatusNotFound, "NOT_FOUND", "Parent comment not found", nil)
		}
		comment.ParentID = &parentID
	}

	created, err := s.store.InsertComment(ctx, comment)
	if err != nil {
		return store.Comment{}, fmt.Errorf("insert comment: %w", err)
	}

	if author, err := s.store.GetUserByID(ctx, userID); err == nil {
		created.Author = &author
	}

	s.afterCommentCreated(created, file, project)
	return created, nil
}

// afterCommentCreated fans out the side effects of a successful insert.
// Failures are logged and swallowed; the comment is already durable.
func (s *Service) afterCommentCreated(comment store.Comment, file store.File, project store.Project) {
	if s.hub != nil {
		s.hub.BroadcastNewComment(comment.FileID.Hex(), comment.AuthorID, comment)
	}
	if s.search != nil {
		authorEmail := ""
		if comment.Author != nil {
			authorEmail = comment.Author.Email
		}
		s.search.IndexComment(search.CommentRecord{
			ID:          comment.ID.Hex(),
			Body:        comment.Body,
			FileID:      comment.FileID.Hex(),
			ProjectID:   project.ID.Hex(),
			AuthorEmail: authorEmail,
		})
	}
	if s.mentions != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			s.mentions.ProcessComment(ctx, comment)
		}()
	}
}

// ListComments returns the file's comments grouped by thread and
// paginated over groups.
func (s *Service) ListComments(ctx context.Context, userID primitive.ObjectID, rawFileID string, page, limit int) (map[string]any, error) {
	fileID, err := parseID(rawFileID, "fileId")
	if err != nil {
		return nil, err
	}
	if _, _, err := s.authorizeFileAccess(ctx, userID, fileID); err != nil {
		return nil, err
	}

	page = store.ClampPage(page)
	limit = store.ClampLimit(limit)

	total, err := s.store.CountThreadRoots(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("count threads: %w", err)
	}
	roots, err := s.store.ListThreadRoots(ctx, fileID, (page-1)*limit, limit)
	if err != nil {
		return nil, fmt.Errorf("list thread roots: %w", err)
	}

	rootIDs := make([]primitive.ObjectID, len(roots))
	for i, root := range roots {
		rootIDs[i] = root.ID
	}
	replies, err := s.store.ListRepliesForRoots(ctx, rootIDs)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}

	return map[string]any{
		"comments":   store.BuildThreadGroups(roots, replies),
		"pagination": store.NewPagination(total, page, limit),
	}, nil
}

// GetThread returns one thread group by any comment id inside it.
func (s *Service) GetThread(ctx context.Context, userID primitive.ObjectID, rawThreadID string) (map[string]any, error) {
	threadID, err := parseID(rawThreadID, "threadId")
	if err != nil {
		return nil, err
	}

	comment, err := s.store.GetComment(ctx, threadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Comment not found", nil)
		}
		return nil, fmt.Errorf("load comment: %w", err)
	}
	if _, _, err := s.authorizeFileAccess(ctx, userID, comment.FileID); err != nil {
		return nil, err
	}

	root := comment
	if comment.ParentID != nil {
		root, err = s.store.GetComment(ctx, *comment.ParentID)
		if err != nil {
			return nil, fmt.Errorf("load thread root: %w", err)
		}
	}

	replies, err := s.store.ListRepliesForRoots(ctx, []primitive.ObjectID{root.ID})
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	groups := store.BuildThreadGroups([]store.Comment{root}, replies)

	return map[string]any{
		"comments":   groups,
		"pagination": store.NewPagination(1, 1, store.DefaultPageLimit),
	}, nil
}

// ListReplies returns the flat reply list under one root comment.
func (s *Service) ListReplies(ctx context.Context, userID primitive.ObjectID, rawParentID string, page, limit int) (map[string]any, error) {
	parentID, err := parseID(rawParentID, "parentId")
	if err != nil {
		return nil, err
	}

	parent, err := s.store.GetComment(ctx, parentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Parent comment not found", nil)
		}
		return nil, fmt.Errorf("load parent comment: %w", err)
	}
	if _, _, err := s.authorizeFileAccess(ctx, userID, parent.FileID); err != nil {
		return nil, err
	}

	page = store.ClampPage(page)
	limit = store.ClampLimit(limit)

	total, err := s.store.CountReplies(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("count replies: %w", err)
	}
	replies, err := s.store.ListReplies(ctx, parentID, (page-1)*limit, limit)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}

	return map[string]any{
		"replies":    replies,
		"pagination": store.NewPagination(total, page, limit),
	}, nil
}

// authorizeFileAccess loads the file and its project and verifies the
// user is the owner or a reviewer.
func (s *Service) authorizeFileAccess(ctx context.Context, userID, fileID primitive.ObjectID) (store.File, store.Project, error) {
	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.File{}, store.Project{}, domainError(http.StatusNotFound, "NOT_FOUND", "File not found", nil)
		}
		return store.File{}, store.Project{}, fmt.Errorf("load file: %w", err)
	}
	project, err := s.store.GetProject(ctx, file.ProjectID)
	if err != nil {
		return store.File{}, store.Project{}, fmt.Errorf("load project: %w", err)
	}
	if !project.Member(userID) {
		return store.File{}, store.Project{}, domainError(http.StatusForbidden, "FORBIDDEN", "You do not have access to this file", nil)
	}
	return file, project, nil
}

// ── Projects ──

func (s *Service) CreateProject(ctx context.Context, userID primitive.ObjectID, name, rawFolderID string) (store.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Project{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}

	project := store.Project{
		Name:      name,
		AuthorID:  userID,
		Reviewers: []primitive.ObjectID{},
	}
	if strings.TrimSpace(rawFolderID) != "" {
		folderID, err := parseID(rawFolderID, "folderId")
		if err != nil {
			return store.Project{}, err
		}
		folder, err := s.store.GetFolder(ctx, folderID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return store.Project{}, domainError(http.StatusNotFound, "NOT_FOUND", "Folder not found", nil)
			}
			return store.Project{}, fmt.Errorf("load folder: %w", err)
		}
		if folder.AuthorID != userID {
			return store.Project{}, domainError(http.StatusForbidden, "FORBIDDEN", "You do not own this folder", nil)
		}
		project.FolderID = folderID
	}

	created, err := s.store.InsertProject(ctx, project)
	if err != nil {
		return store.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if s.search != nil {
		s.search.IndexProject(search.ProjectRecord{ID: created.ID.Hex(), Name: created.Name})
	}
	return created, nil
}

func (s *Service) ListProjects(ctx context.Context, userID primitive.ObjectID) ([]store.Project, error) {
	projects, err := s.store.ListProjectsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

// GetProjectDetail returns a project with its files and members.
func (s *Service) GetProjectDetail(ctx context.Context, userID primitive.ObjectID, rawProjectID string) (map[string]any, error) {
	project, err := s.authorizeProject(ctx, userID, rawProjectID)
	if err != nil {
		return nil, err
	}

	files, err := s.store.ListFilesByProject(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("list project files: %w", err)
	}
	members, err := s.store.ListProjectMembers(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("list project members: %w", err)
	}

	return map[string]any{
		"project": project,
		"files":   files,
		"members": members,
	}, nil
}

// InviteReviewer grants a user comment access by email. Unknown emails
// get a placeholder user that is claimed at signup.
func (s *Service) InviteReviewer(ctx context.Context, userID primitive.ObjectID, rawProjectID, email string) (store.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return store.User{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "a valid email is required", nil)
	}

	project, err := s.authorizeProject(ctx, userID, rawProjectID)
	if err != nil {
		return store.User{}, err
	}
	if project.AuthorID != userID {
		return store.User{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only the project owner can invite reviewers", nil)
	}

	reviewer, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		reviewer, err = s.store.InsertUser(ctx, store.User{Email: email})
	}
	if err != nil {
		return store.User{}, fmt.Errorf("resolve invited user: %w", err)
	}

	if reviewer.ID == project.AuthorID {
		return store.User{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "the owner is already a member", nil)
	}
	if err := s.store.AddReviewer(ctx, project.ID, reviewer.ID); err != nil {
		return store.User{}, fmt.Errorf("add reviewer: %w", err)
	}
	return reviewer, nil
}

func (s *Service) authorizeProject(ctx context.Context, userID primitive.ObjectID, rawProjectID string) (store.Project, error) {
	projectID, err := parseID(rawProjectID, "projectId")
	if err != nil {
		return store.Project{}, err
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Project{}, domainError(http.StatusNotFound, "NOT_FOUND", "Project not found", nil)
		}
		return store.Project{}, fmt.Errorf("load project: %w", err)
	}
	if !project.Member(userID) {
		return store.Project{}, domainError(http.StatusForbidden, "FORBIDDEN", "You do not have access to this project", nil)
	}
	return project, nil
}

// ── Folders ──

func (s *Service) CreateFolder(ctx context.Context, userID primitive.ObjectID, name, rawParentID string) (store.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Folder{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}

	folder := store.Folder{AuthorID: userID, Name: name}
	if strings.TrimSpace(rawParentID) != "" {
		parentID, err := parseID(rawParentID, "parentFolderId")
		if err != nil {
			return store.Folder{}, err
		}
		parent, err := s.store.GetFolder(ctx, parentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return store.Folder{}, domainError(http.StatusNotFound, "NOT_FOUND", "Parent folder not found", nil)
			}
			return store.Folder{}, fmt.Errorf("load parent folder: %w", err)
		}
		if parent.AuthorID != userID {
			return store.Folder{}, domainError(http.StatusForbidden, "FORBIDDEN", "You do not own this folder", nil)
		}
		folder.ParentFolderID = &parentID
	}

	created, err := s.store.InsertFolder(ctx, folder)
	if err != nil {
		return store.Folder{}, fmt.Errorf("insert folder: %w", err)
	}
	return created, nil
}

func (s *Service) RenameFolder(ctx context.Context, userID primitive.ObjectID, rawFolderID, name string) (store.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Folder{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	folderID, err := parseID(rawFolderID, "folderId")
	if err != nil {
		return store.Folder{}, err
	}

	folder, err := s.store.GetFolder(ctx, folderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Folder{}, domainError(http.StatusNotFound, "NOT_FOUND", "Folder not found", nil)
		}
		return store.Folder{}, fmt.Errorf("load folder: %w", err)
	}
	if folder.AuthorID != userID {
		return store.Folder{}, domainError(http.StatusForbidden, "FORBIDDEN", "You do not own this folder", nil)
	}

	if err := s.store.UpdateFolderName(ctx, folderID, name); err != nil {
		return store.Folder{}, fmt.Errorf("rename folder: %w", err)
	}
	folder.Name = name
	return folder, nil
}

// FolderNode is a folder with its projects and subfolders attached.
type FolderNode struct {
	store.Folder
	Projects []store.Project `json:"projects"`
	Children []FolderNode    `json:"children"`
}

// ListFolderTree returns the user's folders as a tree with their
// projects attached. Projects outside any folder come back separately.
func (s *Service) ListFolderTree(ctx context.Context, userID primitive.ObjectID) (map[string]any, error) {
	folders, err := s.store.ListFoldersByAuthor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	projects, err := s.store.ListProjectsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}

	tree, loose := buildFolderTree(folders, projects)
	return map[string]any{
		"folders":  tree,
		"projects": loose,
	}, nil
}

// buildFolderTree nests folders under their parents and attaches each
// project to its folder. Projects whose folder is missing (or unset) are
// returned as loose.
func buildFolderTree(folders []store.Folder, projects []store.Project) ([]FolderNode, []store.Project) {
	nodes := make(map[primitive.ObjectID]*FolderNode, len(folders))
	for _, folder := range folders {
		nodes[folder.ID] = &FolderNode{Folder: folder, Projects: []store.Project{}, Children: []FolderNode{}}
	}

	loose := []store.Project{}
	for _, project := range projects {
		if node, ok := nodes[project.FolderID]; ok {
			node.Projects = append(node.Projects, project)
		} else {
			loose = append(loose, project)
		}
	}

	var rootIDs []primitive.ObjectID
	childIDs := map[primitive.ObjectID][]primitive.ObjectID{}
	for _, folder := range folders {
		if folder.ParentFolderID != nil {
			if _, ok := nodes[*folder.ParentFolderID]; ok {
				childIDs[*folder.ParentFolderID] = append(childIDs[*folder.ParentFolderID], folder.ID)
				continue
			}
		}
		rootIDs = append(rootIDs, folder.ID)
	}

	var build func(id primitive.ObjectID) FolderNode
	build = func(id primitive.ObjectID) FolderNode {
		node := *nodes[id]
		for _, childID := range childIDs[id] {
			node.Children = append(node.Children, build(childID))
		}
		sort.SliceStable(node.Children, func(i, j int) bool {
			return node.Children[i].CreatedAt.Before(node.Children[j].CreatedAt)
		})
		return node
	}

	tree := make([]FolderNode, 0, len(rootIDs))
	for _, id := range rootIDs {
		tree = append(tree, build(id))
	}
	sort.SliceStable(tree, func(i, j int) bool {
		return tree[i].CreatedAt.Before(tree[j].CreatedAt)
	})
	return tree, loose
}

// ── Files ──

var allowedUploadTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

type UploadFileInput struct {
	ProjectID   string
	Name        string
	ContentType string
	Size        int64
	Deadline    *time.Time
	Content     io.Reader
}

// UploadFile stores the blob and creates version 1 of a new file
// lineage. Owner only.
func (s *Service) UploadFile(ctx context.Context, userID primitive.ObjectID, in UploadFileInput) (store.File, error) {
	project, err := s.authorizeProject(ctx, userID, in.ProjectID)
	if err != nil {
		return store.File{}, err
	}
	if project.AuthorID != userID {
		return store.File{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only the project owner can upload files", nil)
	}
	if err := validateUpload(in.Name, in.ContentType); err != nil {
		return store.File{}, err
	}
	if in.Deadline != nil && !in.Deadline.After(time.Now()) {
		return store.File{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "deadline must be in the future", nil)
	}

	key, err := s.blobs.Save(ctx, in.Content, in.Size, in.Name, in.ContentType)
	if err != nil {
		return store.File{}, fmt.Errorf("store upload: %w", err)
	}

	file, err := s.store.InsertFile(ctx, store.File{
		ProjectID:   project.ID,
		AuthorID:    userID,
		Name:        in.Name,
		StoragePath: key,
		Deadline:    in.Deadline,
	})
	if err != nil {
		return store.File{}, fmt.Errorf("insert file: %w", err)
	}

	if s.search != nil {
		s.search.IndexFile(search.FileRecord{
			ID:        file.ID.Hex(),
			Name:      file.Name,
			ProjectID: project.ID.Hex(),
		})
	}
	return file, nil
}

// UploadVersion stores a new revision of an existing file. The new
// record shares the lineage id and takes the next version number.
func (s *Service) UploadVersion(ctx context.Context, userID primitive.ObjectID, rawFileID string, in UploadFileInput) (store.File, error) {
	fileID, err := parseID(rawFileID, "fileId")
	if err != nil {
		return store.File{}, err
	}
	file, project, err := s.authorizeFileAccess(ctx, userID, fileID)
	if err != nil {
		return store.File{}, err
	}
	if project.AuthorID != userID {
		return store.File{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only the project owner can upload versions", nil)
	}
	if err := validateUpload(in.Name, in.ContentType); err != nil {
		return store.File{}, err
	}

	lineage := file.Lineage()
	latest, err := s.store.LatestVersion(ctx, lineage)
	if err != nil {
		return store.File{}, fmt.Errorf("resolve latest version: %w", err)
	}

	key, err := s.blobs.Save(ctx, in.Content, in.Size, in.Name, in.ContentType)
	if err != nil {
		return store.File{}, fmt.Errorf("store upload: %w", err)
	}

	version, err := s.store.InsertFile(ctx, store.File{
		ProjectID:      project.ID,
		AuthorID:       userID,
		Name:           in.Name,
		StoragePath:    key,
		Deadline:       file.Deadline,
		Version:        latest + 1,
		OriginalFileID: &lineage,
	})
	if err != nil {
		return store.File{}, fmt.Errorf("insert file version: %w", err)
	}

	if s.search != nil {
		s.search.IndexFile(search.FileRecord{
			ID:        version.ID.Hex(),
			Name:      version.Name,
			ProjectID: project.ID.Hex(),
		})
	}
	return version, nil
}

func validateUpload(name, contentType string) error {
	if strings.TrimSpace(name) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "a file name is required", nil)
	}
	if !allowedUploadTypes[contentType] {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "only jpeg and png uploads are supported", nil)
	}
	return nil
}

func (s *Service) GetFileMeta(ctx context.Context, userID primitive.ObjectID, rawFileID string) (store.File, error) {
	fileID, err := parseID(rawFileID, "fileId")
	if err != nil {
		return store.File{}, err
	}
	file, _, err := s.authorizeFileAccess(ctx, userID, fileID)
	return file, err
}

// FileContent opens the stored blob for streaming to the client.
func (s *Service) FileContent(ctx context.Context, userID primitive.ObjectID, rawFileID string) (io.ReadCloser, store.File, error) {
	file, err := s.GetFileMeta(ctx, userID, rawFileID)
	if err != nil {
		return nil, store.File{}, err
	}
	rc, err := s.blobs.Open(ctx, file.StoragePath)
	if err != nil {
		return nil, store.File{}, fmt.Errorf("open blob: %w", err)
	}
	return rc, file, nil
}

func (s *Service) ListFiles(ctx context.Context, userID primitive.ObjectID, rawProjectID string) ([]store.File, error) {
	project, err := s.authorizeProject(ctx, userID, rawProjectID)
	if err != nil {
		return nil, err
	}
	files, err := s.store.ListFilesByProject(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return files, nil
}

// SetDeadline updates the review deadline on a file. Owner only; nil
// clears the deadline.
func (s *Service) SetDeadline(ctx context.Context, userID primitive.ObjectID, rawFileID string, deadline *time.Time) (store.File, error) {
	fileID, err := parseID(rawFileID, "fileId")
	if err != nil {
		return store.File{}, err
	}
	file, project, err := s.authorizeFileAccess(ctx, userID, fileID)
	if err != nil {
		return store.File{}, err
	}
	if project.AuthorID != userID {
		return store.File{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only the project owner can change the deadline", nil)
	}
	if deadline != nil && !deadline.After(time.Now()) {
		return store.File{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "deadline must be in the future", nil)
	}

	if err := s.store.UpdateFileDeadline(ctx, fileID, deadline); err != nil {
		return store.File{}, fmt.Errorf("update deadline: %w", err)
	}
	file.Deadline = deadline
	return file, nil
}

func (s *Service) ListVersions(ctx context.Context, userID primitive.ObjectID, rawFileID string) ([]store.File, error) {
	fileID, err := parseID(rawFileID, "fileId")
	if err != nil {
		return nil, err
	}
	file, _, err := s.authorizeFileAccess(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}
	versions, err := s.store.ListFileVersions(ctx, file.Lineage())
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return versions, nil
}

// ── Users ──

// UserSuggestions powers mention autocomplete. With projectId the
// results are limited to that project's members.
func (s *Service) UserSuggestions(ctx context.Context, userID primitive.ObjectID, query, rawProjectID string) ([]store.User, error) {
	query = strings.TrimSpace(query)

	if strings.TrimSpace(rawProjectID) != "" {
		project, err := s.authorizeProject(ctx, userID, rawProjectID)
		if err != nil {
			return nil, err
		}
		members, err := s.store.ListProjectMembers(ctx, project)
		if err != nil {
			return nil, fmt.Errorf("list project members: %w", err)
		}
		matched := []store.User{}
		for _, member := range members {
			if member.ID == userID {
				continue
			}
			if query == "" || strings.Contains(strings.ToLower(member.Email), strings.ToLower(query)) {
				matched = append(matched, member)
			}
		}
		return matched, nil
	}

	users, err := s.store.SearchUsers(ctx, query, userID, 10)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return users, nil
}

func (s *Service) GetUser(ctx context.Context, rawUserID string) (store.User, error) {
	id, err := parseID(rawUserID, "userId")
	if err != nil {
		return store.User{}, err
	}
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.User{}, domainError(http.StatusNotFound, "NOT_FOUND", "User not found", nil)
		}
		return store.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// ── Search ──

// Search runs a scoped full-text search over everything the user can
// see.
func (s *Service) Search(ctx context.Context, userID primitive.ObjectID, q, filterType string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q}, nil
	}

	projects, err := s.store.ListProjectsForUser(ctx, userID)
	if err != nil {
		return search.Response{}, fmt.Errorf("list projects: %w", err)
	}
	projectIDs := make([]string, len(projects))
	for i, project := range projects {
		projectIDs[i] = project.ID.Hex()
	}
	if len(projectIDs) == 0 {
		return search.Response{Results: []search.Result{}, Query: q}, nil
	}

	return s.search.Search(search.Query{
		Text:       q,
		FilterType: search.ResultType(filterType),
		ProjectIDs: projectIDs,
		Limit:      limit,
		Offset:     offset,
	}), nil
}
