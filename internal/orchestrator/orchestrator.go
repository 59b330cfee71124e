// Package orchestrator grounds a shopper message in catalog and profile data
// and runs it through the provider fallback chain.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopkeeper/backend/internal/catalog"
	"github.com/shopkeeper/backend/internal/collaborator"
	"github.com/shopkeeper/backend/internal/provider"
)

// Completer is satisfied by *provider.Executor.
type Completer interface {
	Execute(ctx context.Context, req provider.CompletionRequest) (*provider.Completion, error)
}

type Request struct {
	Identity      string
	Text          string
	History       []HistoryTurn
	PenaltyActive bool
	ActiveCode    string
	// OnDispatch is forwarded to the executor.
	OnDispatch func()
}

type Result struct {
	*provider.Completion
	Hits    []collaborator.Product
	Profile *collaborator.Profile
}

type Options struct {
	TopK          int
	SearchTimeout time.Duration
	Logger        *slog.Logger
}

type Orchestrator struct {
	exec          Completer
	search        collaborator.Searcher
	profiles      collaborator.ProfileStore
	topK          int
	searchTimeout time.Duration
	logger        *slog.Logger
}

// New builds an orchestrator. search and profiles may be nil; the turn then
// runs ungrounded.
func New(exec Completer, search collaborator.Searcher, profiles collaborator.ProfileStore, opts Options) *Orchestrator {
	if opts.TopK <= 0 || opts.TopK > MaxHits {
		opts.TopK = MaxHits
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		exec:          exec,
		search:        search,
		profiles:      profiles,
		topK:          opts.TopK,
		searchTimeout: opts.SearchTimeout,
		logger:        opts.Logger,
	}
}

// Complete fetches the profile and search hits, builds the prompt and calls
// the executor. Collaborator failures degrade to an empty context; only the
// executor's error is returned.
func (o *Orchestrator) Complete(ctx context.Context, req Request) (*Result, error) {
	profile := o.loadProfile(ctx, req.Identity)
	hits := o.searchHits(ctx, req.Text, profile)

	system := buildSystemPrompt(hits, profile, req.PenaltyActive, req.ActiveCode)
	completion, err := o.exec.Execute(ctx, provider.CompletionRequest{
		Messages:   buildMessages(system, req.History, req.Text),
		Tools:      catalog.ToolSchemas(),
		OnDispatch: req.OnDispatch,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Completion: completion, Hits: hits, Profile: profile}, nil
}

func (o *Orchestrator) loadProfile(ctx context.Context, identity string) *collaborator.Profile {
	if o.profiles == nil {
		return nil
	}
	p, err := o.profiles.GetProfile(ctx, identity)
	if err != nil {
		o.logger.Warn("[Orchestrator] profile lookup failed, continuing without it", "identity", identity, "error", err)
		return nil
	}
	return p
}

func (o *Orchestrator) searchHits(ctx context.Context, text string, profile *collaborator.Profile) []collaborator.Product {
	if o.search == nil {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, o.searchTimeout)
	defer cancel()

	hits, err := o.search.Search(sctx, text, profile.Preferences(), o.topK)
	if err != nil {
		o.logger.Warn("[Orchestrator] catalog search failed, continuing without hits", "error", err)
		return nil
	}
	if len(hits) > o.topK {
		hits = hits[:o.topK]
	}
	return hits
}
