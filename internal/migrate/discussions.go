package migrate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

const dateFormat = "02.01.2006, 15:04:05"

// ClassifyAnchor maps a GitLab diff position to a Bitbucket anchor. It returns false when
// the position carries neither an old nor a new line.
func ClassifyAnchor(a DiffAnchor) (Anchor, bool) {
	anchor := Anchor{Path: a.NewPath}
	if a.NewPath != a.OldPath {
		anchor.SrcPath = a.OldPath
	}

	hasOld, hasNew := a.OldLine > 0, a.NewLine > 0
	switch {
	case !hasOld && !hasNew:
		return anchor, false
	case hasOld && !hasNew:
		anchor.LineType, anchor.FileType, anchor.Line = LineRemoved, FileFrom, a.OldLine
	case !hasOld && hasNew:
		anchor.LineType, anchor.FileType, anchor.Line = LineAdded, FileTo, a.NewLine
	default:
		anchor.LineType, anchor.FileType, anchor.Line = LineContext, FileFrom, a.OldLine
	}

	return anchor, true
}

// RewriteUploadLinks makes relative GitLab upload links in markdown absolute against the
// project's web URL.
func RewriteUploadLinks(text, webURL string) string {
	target := "](" + strings.TrimSuffix(webURL, "/") + "/uploads/"
	return strings.NewReplacer(
		"](/uploads/", target,
		"](uploads/", target,
		"] (/uploads/", target,
		"] (uploads/", target,
	).Replace(text)
}

// Attribution is the header prepended to every migrated comment.
func Attribution(author string, createdAt time.Time) string {
	return fmt.Sprintf("Created by %s\nOn %s", author, createdAt.Format(dateFormat))
}

// Replicator posts GitLab discussions onto a Bitbucket pull request.
type Replicator struct {
	dest   Destination
	repo   DestinationRepo
	webURL string
	logger hclog.Logger
}

func NewReplicator(dest Destination, repo DestinationRepo, webURL string, logger hclog.Logger) *Replicator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Replicator{dest: dest, repo: repo, webURL: webURL, logger: logger}
}

// Replicate posts each discussion as a comment thread on the pull request. The first comment
// of a thread becomes the root (anchored to a line when it is a diff note); every later
// comment is a reply to that root.
func (r *Replicator) Replicate(ctx context.Context, prID int, discussions []Discussion) (int, error) {
	posted := 0
	for _, discussion := range discussions {
		var rootID int
		threaded := false

		for _, comment := range discussion.Comments {
			text := r.commentText(comment)

			if threaded {
				if _, err := r.dest.AddPullRequestComment(ctx, r.repo.ProjectKey, r.repo.Slug, prID, text, rootID); err != nil {
					return posted, fmt.Errorf("replying to comment %d on pull request %d: %w", rootID, prID, err)
				}
				posted++
				continue
			}

			id, err := r.postRoot(ctx, prID, comment, text)
			if err != nil {
				return posted, err
			}
			rootID, threaded = id, true
			posted++
		}
	}

	return posted, nil
}

func (r *Replicator) postRoot(ctx context.Context, prID int, comment Comment, text string) (int, error) {
	if comment.Inline {
		var position DiffAnchor
		if comment.Anchor != nil {
			position = *comment.Anchor
		}

		if anchor, ok := ClassifyAnchor(position); ok {
			id, err := r.dest.PostInlineComment(ctx, r.repo.ProjectKey, r.repo.Slug, prID, InlineComment{Text: text, Anchor: anchor})
			if err != nil {
				return 0, fmt.Errorf("posting inline comment on %s line %d of pull request %d: %w", anchor.Path, anchor.Line, prID, err)
			}
			return id, nil
		}

		r.logger.Warn("diff comment has neither old nor new line, posting as plain comment", "pr_id", prID, "path", position.NewPath)
	}

	id, err := r.dest.AddPullRequestComment(ctx, r.repo.ProjectKey, r.repo.Slug, prID, text, 0)
	if err != nil {
		return 0, fmt.Errorf("posting comment on pull request %d: %w", prID, err)
	}
	return id, nil
}

func (r *Replicator) commentText(c Comment) string {
	return Attribution(c.Author, c.CreatedAt) + "\n" + RewriteUploadLinks(c.Body, r.webURL)
}
