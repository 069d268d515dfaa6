package github

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"area/internal/registry"
)

// createIssue opens an issue on a repository. Parameters: repository
// ("owner/name") and title are required, body and labels optional.
type createIssue struct {
	svc *service
}

func (e createIssue) Execute(ctx context.Context, store registry.Store, userID int64, params map[string]any) error {
	acct, err := account(ctx, store, userID)
	if err != nil {
		return err
	}
	repoName, err := requireString(params, "repository")
	if err != nil {
		return err
	}
	title, err := requireString(params, "title")
	if err != nil {
		return err
	}
	body := map[string]any{"title": title}
	if v, _ := params["body"].(string); v != "" {
		body["body"] = v
	}
	if labels, ok := params["labels"].([]any); ok && len(labels) > 0 {
		body["labels"] = labels
	}
	return e.svc.doJSON(ctx, http.MethodPost, "/repos/"+repoName+"/issues", acct.AccessToken, body, nil)
}

// addComment comments on an existing issue or pull request.
type addComment struct {
	svc *service
}

func (e addComment) Execute(ctx context.Context, store registry.Store, userID int64, params map[string]any) error {
	acct, err := account(ctx, store, userID)
	if err != nil {
		return err
	}
	repoName, err := requireString(params, "repository")
	if err != nil {
		return err
	}
	var number string
	switch v := params["issue_number"].(type) {
	case string:
		number = v
	case float64:
		number = strconv.Itoa(int(v))
	}
	if number == "" {
		return registry.NewStatusError(http.StatusBadRequest, "missing required parameter %q", "issue_number")
	}
	comment, err := requireString(params, "comment")
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/repos/%s/issues/%s/comments", repoName, number)
	return e.svc.doJSON(ctx, http.MethodPost, path, acct.AccessToken, map[string]any{"body": comment}, nil)
}

// createBranch creates a branch from an existing ref (from_branch, default
// "main").
type createBranch struct {
	svc *service
}

func (e createBranch) Execute(ctx context.Context, store registry.Store, userID int64, params map[string]any) error {
	acct, err := account(ctx, store, userID)
	if err != nil {
		return err
	}
	repoName, err := requireString(params, "repository")
	if err != nil {
		return err
	}
	branch, err := requireString(params, "branch_name")
	if err != nil {
		return err
	}
	from := optionalString(params, "from_branch", "main")

	var ref struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	if err := e.svc.doJSON(ctx, http.MethodGet, "/repos/"+repoName+"/git/ref/heads/"+from, acct.AccessToken, nil, &ref); err != nil {
		return err
	}
	body := map[string]any{
		"ref": "refs/heads/" + branch,
		"sha": ref.Object.SHA,
	}
	return e.svc.doJSON(ctx, http.MethodPost, "/repos/"+repoName+"/git/refs", acct.AccessToken, body, nil)
}
