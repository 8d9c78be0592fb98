// Package github decodes the GitHub webhook payloads the gateway handles
// into one strongly-typed variant per event, failing explicitly on
// unrecognized shapes instead of poking at untyped maps.
package github

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedEvent marks event types the gateway does not handle.
	// Callers treat it as a successful no-op, not a failure.
	ErrUnsupportedEvent = errors.New("unsupported event type")

	// ErrIgnoredAction marks actions (edited, deleted, dismissed...) on
	// supported events that carry no new narrative.
	ErrIgnoredAction = errors.New("ignored event action")
)

// Kind names a supported event variant.
type Kind string

const (
	KindIssueComment  Kind = "issue_comment"
	KindReviewComment Kind = "pull_request_review_comment"
	KindReview        Kind = "pull_request_review"
)

// User is the comment author.
type User struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

// CommentEvent is the decoded, normalized form of any supported event:
// someone wrote text somewhere on a repository.
type CommentEvent struct {
	Kind     Kind
	Action   string
	Body     string
	User     User
	RepoName string
	Number   int
}

type issueCommentPayload struct {
	Action  string `json:"action"`
	Comment *struct {
		Body string `json:"body"`
		User *User  `json:"user"`
	} `json:"comment"`
	Issue *struct {
		Number int `json:"number"`
	} `json:"issue"`
	Repository *struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

type reviewCommentPayload struct {
	Action  string `json:"action"`
	Comment *struct {
		Body string `json:"body"`
		User *User  `json:"user"`
	} `json:"comment"`
	PullRequest *struct {
		Number int `json:"number"`
	} `json:"pull_request"`
	Repository *struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

type reviewPayload struct {
	Action string `json:"action"`
	Review *struct {
		Body string `json:"body"`
		User *User  `json:"user"`
	} `json:"review"`
	PullRequest *struct {
		Number int `json:"number"`
	} `json:"pull_request"`
	Repository *struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// Decode converts a raw webhook payload into a CommentEvent based on the
// x-github-event header value.
func Decode(eventType string, payload []byte) (*CommentEvent, error) {
	switch Kind(eventType) {
	case KindIssueComment:
		return decodeIssueComment(payload)
	case KindReviewComment:
		return decodeReviewComment(payload)
	case KindReview:
		return decodeReview(payload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEvent, eventType)
	}
}

func decodeIssueComment(payload []byte) (*CommentEvent, error) {
	var p issueCommentPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode issue_comment payload: %w", err)
	}
	if p.Action != "created" {
		return nil, fmt.Errorf("%w: issue_comment %q", ErrIgnoredAction, p.Action)
	}
	if p.Comment == nil || p.Comment.User == nil || p.Issue == nil {
		return nil, fmt.Errorf("issue_comment payload missing comment, user, or issue")
	}
	ev := &CommentEvent{
		Kind:   KindIssueComment,
		Action: p.Action,
		Body:   p.Comment.Body,
		User:   *p.Comment.User,
		Number: p.Issue.Number,
	}
	if p.Repository != nil {
		ev.RepoName = p.Repository.FullName
	}
	return ev, nil
}

func decodeReviewComment(payload []byte) (*CommentEvent, error) {
	var p reviewCommentPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode pull_request_review_comment payload: %w", err)
	}
	if p.Action != "created" {
		return nil, fmt.Errorf("%w: pull_request_review_comment %q", ErrIgnoredAction, p.Action)
	}
	if p.Comment == nil || p.Comment.User == nil || p.PullRequest == nil {
		return nil, fmt.Errorf("pull_request_review_comment payload missing comment, user, or pull_request")
	}
	ev := &CommentEvent{
		Kind:   KindReviewComment,
		Action: p.Action,
		Body:   p.Comment.Body,
		User:   *p.Comment.User,
		Number: p.PullRequest.Number,
	}
	if p.Repository != nil {
		ev.RepoName = p.Repository.FullName
	}
	return ev, nil
}

func decodeReview(payload []byte) (*CommentEvent, error) {
	var p reviewPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode pull_request_review payload: %w", err)
	}
	if p.Action != "submitted" {
		return nil, fmt.Errorf("%w: pull_request_review %q", ErrIgnoredAction, p.Action)
	}
	if p.Review == nil || p.Review.User == nil || p.PullRequest == nil {
		return nil, fmt.Errorf("pull_request_review payload missing review, user, or pull_request")
	}
	ev := &CommentEvent{
		Kind:   KindReview,
		Action: p.Action,
		Body:   p.Review.Body,
		User:   *p.Review.User,
		Number: p.PullRequest.Number,
	}
	if p.Repository != nil {
		ev.RepoName = p.Repository.FullName
	}
	return ev, nil
}
