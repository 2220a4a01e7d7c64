// Package mention extracts @mentions from comment text, resolves them to
// project members, and sends notification emails.
package mention

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"proofdeck/api/internal/email"
	"proofdeck/api/internal/store"
)

// mentionPattern matches @username tokens. Letters, digits, underscores,
// hyphens and dots are allowed so full email addresses match too.
var mentionPattern = regexp.MustCompile(`@([\w.-]+)`)

// ExtractMentions returns the unique mention tokens in text, without the
// leading @, in order of first occurrence.
func ExtractMentions(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	tokens := make([]string, 0, len(matches))
	for _, m := range matches {
		token := m[1]
		if seen[token] {
			continue
		}
		seen[token] = true
		tokens = append(tokens, token)
	}
	return tokens
}

// Resolve matches mention tokens against candidate users. A token matches a
// user when it equals the full email address or the local part before the @.
// Each user is returned at most once.
func Resolve(tokens []string, candidates []store.User) []store.User {
	if len(tokens) == 0 {
		return nil
	}

	wanted := make(map[string]bool, len(tokens))
	for _, token := range tokens {
		wanted[token] = true
	}

	var resolved []store.User
	for _, user := range candidates {
		local, _, _ := strings.Cut(user.Email, "@")
		if wanted[user.Email] || wanted[local] {
			resolved = append(resolved, user)
		}
	}
	return resolved
}

type dataStore interface {
	GetFile(ctx context.Context, id primitive.ObjectID) (store.File, error)
	GetProject(ctx context.Context, id primitive.ObjectID) (store.Project, error)
	GetUserByID(ctx context.Context, id primitive.ObjectID) (store.User, error)
	ListProjectMembers(ctx context.Context, project store.Project) ([]store.User, error)
	AttachMentionResults(ctx context.Context, commentID primitive.ObjectID, results []store.MentionResult) error
}

type sender interface {
	IsConfigured() bool
	SendMentionEmail(to string, data email.MentionData) error
}

// Service resolves and delivers mention notifications for new comments.
type Service struct {
	store          dataStore
	email          sender
	frontendOrigin string
}

func NewService(st dataStore, email sender, frontendOrigin string) *Service {
	return &Service{store: st, email: email, frontendOrigin: frontendOrigin}
}

// ProcessComment handles all mention work for a freshly created comment.
// It never returns an error: comment creation must not fail because a
// notification could not be delivered.
func (s *Service) ProcessComment(ctx context.Context, comment store.Comment) []store.MentionResult {
	if !strings.Contains(comment.Body, "@") {
		return nil
	}

	results, err := s.process(ctx, comment)
	if err != nil {
		log.Printf("mention processing failed for comment %s: %v", comment.ID.Hex(), err)
		return nil
	}

	if len(results) > 0 {
		if err := s.store.AttachMentionResults(ctx, comment.ID, results); err != nil {
			log.Printf("attach mention results for comment %s: %v", comment.ID.Hex(), err)
		}
	}
	return results
}

func (s *Service) process(ctx context.Context, comment store.Comment) ([]store.MentionResult, error) {
	tokens := ExtractMentions(comment.Body)
	if len(tokens) == 0 {
		return nil, nil
	}

	file, err := s.store.GetFile(ctx, comment.FileID)
	if err != nil {
		return nil, fmt.Errorf("load file: %w", err)
	}
	project, err := s.store.GetProject(ctx, file.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	author, err := s.store.GetUserByID(ctx, comment.AuthorID)
	if err != nil {
		return nil, fmt.Errorf("load author: %w", err)
	}

	// Mentions only resolve against people who can see the file.
	members, err := s.store.ListProjectMembers(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("list project members: %w", err)
	}

	mentioned := Resolve(tokens, members)
	if len(mentioned) == 0 {
		return nil, nil
	}

	if !s.email.IsConfigured() {
		log.Printf("smtp not configured, skipping %d mention notifications", len(mentioned))
		results := make([]store.MentionResult, len(mentioned))
		for i, user := range mentioned {
			results[i] = store.MentionResult{
				User:   user.ID,
				Sent:   false,
				Reason: "smtp-not-configured",
				Email:  user.Email,
			}
		}
		return results, nil
	}

	commentURL := fmt.Sprintf("%s/files/%s?commentId=%s",
		s.frontendOrigin, comment.FileID.Hex(), comment.ID.Hex())
	mentionerName, _, _ := strings.Cut(author.Email, "@")

	// Sends are independent. One failed delivery does not block the rest.
	results := make([]store.MentionResult, len(mentioned))
	var wg sync.WaitGroup
	for i, user := range mentioned {
		if user.ID == author.ID {
			results[i] = store.MentionResult{
				User:   user.ID,
				Sent:   false,
				Reason: "self-mention",
				Email:  user.Email,
			}
			continue
		}

		wg.Add(1)
		go func(i int, user store.User) {
			defer wg.Done()
			err := s.email.SendMentionEmail(user.Email, email.MentionData{
				MentionerName: mentionerName,
				ProjectName:   project.Name,
				FileName:      file.Name,
				CommentText:   comment.Body,
				CommentURL:    commentURL,
			})
			if err != nil {
				log.Printf("send mention email to %s: %v", user.Email, err)
				results[i] = store.MentionResult{
					User:  user.ID,
					Sent:  false,
					Error: err.Error(),
					Email: user.Email,
				}
				return
			}
			results[i] = store.MentionResult{User: user.ID, Sent: true, Email: user.Email}
		}(i, user)
	}
	wg.Wait()

	return results, nil
}
