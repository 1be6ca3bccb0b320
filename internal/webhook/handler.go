// Package webhook implements the HTTP endpoint that ingests forge
// webhook deliveries, authenticates them, resolves the project they
// target, and enqueues a pending build.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/centrixci/centrix-ci/internal/forge"
	"github.com/centrixci/centrix-ci/internal/metrics"
	"github.com/centrixci/centrix-ci/internal/store"
)

const (
	eventHeader     = "X-GitHub-Event"
	signatureHeader = "X-Hub-Signature-256"

	// maxBodyBytes bounds how much of an inbound delivery we read.
	maxBodyBytes = 1 << 20

	eventPing        = "ping"
	eventPush        = "push"
	eventPullRequest = "pull_request"
)

var openingPRActions = map[string]bool{
	"opened":      true,
	"synchronize": true,
	"reopened":    true,
}

// Handler ingests forge webhook deliveries for a single tenant.
type Handler struct {
	store          *store.Store
	forge          *forge.Client
	secret         []byte
	tenantID       string
	dashboardURL   string
	throttleWindow time.Duration
	log            *zap.Logger
}

// Deps bundles Handler's construction dependencies.
type Deps struct {
	Store          *store.Store
	Forge          *forge.Client
	Secret         string
	TenantID       string
	DashboardURL   string
	ThrottleWindow time.Duration
	Logger         *zap.Logger
}

// New builds a webhook Handler. An empty Secret disables signature
// verification — every request is accepted and a warning is logged once.
func New(d Deps) *Handler {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if d.Secret == "" {
		log.Warn("webhook: no secret configured, signature verification disabled")
	}
	return &Handler{
		store:          d.Store,
		forge:          d.Forge,
		secret:         []byte(d.Secret),
		tenantID:       d.TenantID,
		dashboardURL:   d.DashboardURL,
		throttleWindow: d.ThrottleWindow,
		log:            log,
	}
}

type pushPayload struct {
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	After  string `json:"after"`
	Ref    string `json:"ref"`
	Pusher struct {
		Name string `json:"name"`
	} `json:"pusher"`
	HeadCommit struct {
		Message string `json:"message"`
	} `json:"head_commit"`
}

type pullRequestPayload struct {
	Action     string `json:"action"`
	Number     int    `json:"number"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	PullRequest struct {
		Head struct {
			SHA string `json:"sha"`
			Ref string `json:"ref"`
		} `json:"head"`
		User struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"pull_request"`
}

// ServeHTTP implements the webhook intake flow: read event kind, verify
// signature, parse body, dispatch by kind, resolve project, dedup,
// insert, and fire a status callback.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	event := r.Header.Get(eventHeader)
	metrics.RecordWebhook(event, "received")

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		metrics.RecordWebhook(event, "too_large")
		http.Error(w, "request body too large or unreadable", http.StatusBadRequest)
		return
	}

	if len(h.secret) > 0 {
		if !forge.VerifySignature(h.secret, r.Header.Get(signatureHeader), body) {
			metrics.RecordWebhook(event, "bad_signature")
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	switch event {
	case eventPing:
		metrics.RecordWebhook(event, "accepted")
		w.WriteHeader(http.StatusOK)
	case eventPush:
		h.handlePush(ctx, w, body)
	case eventPullRequest:
		h.handlePullRequest(ctx, w, body)
	default:
		metrics.RecordWebhook(event, "ignored")
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) handlePush(ctx context.Context, w http.ResponseWriter, body []byte) {
	var p pushPayload
	if err := json.Unmarshal(body, &p); err != nil {
		metrics.RecordWebhook(eventPush, "malformed")
		http.Error(w, "malformed json", http.StatusBadRequest)
		return
	}

	branch := strings.TrimPrefix(p.Ref, "refs/heads/")
	if p.After == "" || branch == "" {
		metrics.RecordWebhook(eventPush, "accepted_noop")
		w.WriteHeader(http.StatusOK)
		return
	}

	fingerprint := fmt.Sprintf("%s-%s-push", p.After, branch)
	h.enqueue(ctx, w, eventPush, p.Repository.FullName, p.After, branch, 0,
		p.Pusher.Name, p.HeadCommit.Message, fingerprint, "push")
}

func (h *Handler) handlePullRequest(ctx context.Context, w http.ResponseWriter, body []byte) {
	var p pullRequestPayload
	if err := json.Unmarshal(body, &p); err != nil {
		metrics.RecordWebhook(eventPullRequest, "malformed")
		http.Error(w, "malformed json", http.StatusBadRequest)
		return
	}

	if !openingPRActions[p.Action] {
		metrics.RecordWebhook(eventPullRequest, "ignored_action")
		w.WriteHeader(http.StatusOK)
		return
	}

	fingerprint := fmt.Sprintf("%s-%s-pr%d", p.PullRequest.Head.SHA, p.PullRequest.Head.Ref, p.Number)
	h.enqueue(ctx, w, eventPullRequest, p.Repository.FullName, p.PullRequest.Head.SHA,
		p.PullRequest.Head.Ref, p.Number, p.PullRequest.User.Login, "", fingerprint, "pull_request")
}

// buildURL constructs the dashboard link for a build's status callback.
func (h *Handler) buildURL(buildID string) string {
	if h.dashboardURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/ci/api/builds/%s", strings.TrimSuffix(h.dashboardURL, "/"), buildID)
}

// enqueue resolves the target project, deduplicates, and inserts a
// pending build, shared by the push and pull_request paths.
func (h *Handler) enqueue(ctx context.Context, w http.ResponseWriter, event, repo, sha, branch string,
	prNumber int, author, message, fingerprint, triggerEvent string) {

	project, err := h.store.FindProjectByRepo(ctx, h.tenantID, repo)
	if err == store.ErrNotFound {
		metrics.RecordWebhook(event, "unknown_repo")
		w.WriteHeader(http.StatusOK)
		return
	}
	if err != nil {
		h.log.Error("webhook: resolve project failed", zap.String("repo", repo), zap.Error(err))
		metrics.RecordWebhook(event, "store_error")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	dup, err := h.store.IsDuplicate(ctx, h.tenantID, fingerprint, h.throttleWindow)
	if err != nil {
		h.log.Error("webhook: dedup check failed", zap.String("fingerprint", fingerprint), zap.Error(err))
		metrics.RecordWebhook(event, "store_error")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if dup {
		metrics.RecordWebhook(event, "duplicate")
		w.WriteHeader(http.StatusOK)
		return
	}

	build := &store.Build{
		TenantID:         h.tenantID,
		ProjectID:        project.ID,
		CommitSHA:        sha,
		Branch:           branch,
		Author:           author,
		Message:          message,
		DedupFingerprint: fingerprint,
		TriggerEvent:     triggerEvent,
	}
	if prNumber > 0 {
		build.PRNumber = &prNumber
	}

	if err := h.store.InsertBuild(ctx, build); err != nil {
		h.log.Error("webhook: insert build failed", zap.String("repo", repo), zap.Error(err))
		metrics.RecordWebhook(event, "store_error")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	metrics.RecordWebhook(event, "accepted")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(fmt.Sprintf(`{"build_id":%q}`, build.ID)))

	go h.forge.PostStatus(context.WithoutCancel(ctx), repo, sha, forge.Status{
		State:       "pending",
		Description: "Build queued",
		Context:     "centrix-ci",
		TargetURL:   h.buildURL(build.ID),
	})
}
