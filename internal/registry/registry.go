package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/msouza-dev/flowsync/internal/models"
)

// Storage is the persistence contract behind the registry.
type Storage interface {
	List(ctx context.Context) ([]models.SyncRule, error)
	Insert(ctx context.Context, rule *models.SyncRule) error
	Update(ctx context.Context, id string, patch *models.SyncRulePatch) error
	Delete(ctx context.Context, id string) error
	SetError(ctx context.Context, id string, msg string) error
}

// Registry is the single source of truth for which tables have active sync
// rules. It keeps a write-through in-memory mirror over Storage: every
// mutation hits storage first, then the mirror under one write lock, so
// lookups on the poll path never touch the database.
//
// A rule change takes effect on the next poll cycle; an in-flight batch
// keeps the rule snapshot it started with.
type Registry struct {
	storage Storage
	logger  *slog.Logger

	mu    sync.RWMutex
	rules map[string]*models.SyncRule
}

func New(storage Storage, logger *slog.Logger) *Registry {
	return &Registry{
		storage: storage,
		logger:  logger,
		rules:   make(map[string]*models.SyncRule),
	}
}

// Load rebuilds the mirror from storage. Called once on process start.
func (r *Registry) Load(ctx context.Context) error {
	rules, err := r.storage.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sync rules: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.rules = make(map[string]*models.SyncRule, len(rules))
	for i := range rules {
		rule := rules[i]
		r.rules[rule.ID] = &rule
	}

	r.logger.Info("Sync rule registry loaded", "rules", len(rules))
	return nil
}

// Register persists a new rule and adds it to the mirror.
func (r *Registry) Register(ctx context.Context, rule *models.SyncRule) error {
	if err := r.storage.Insert(ctx, rule); err != nil {
		return err
	}

	cp := *rule
	r.mu.Lock()
	r.rules[cp.ID] = &cp
	r.mu.Unlock()

	r.logger.Info("Sync rule registered", "rule_id", rule.ID, "table", rule.TableName)
	return nil
}

// Unregister hard-deletes a rule; the next poll cycle stops routing to it.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	if err := r.storage.Delete(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.rules, id)
	r.mu.Unlock()

	r.logger.Info("Sync rule unregistered", "rule_id", id)
	return nil
}

// Update applies a partial patch write-through.
func (r *Registry) Update(ctx context.Context, id string, patch *models.SyncRulePatch) error {
	if err := r.storage.Update(ctx, id, patch); err != nil {
		return err
	}

	r.mu.Lock()
	if rule, ok := r.rules[id]; ok {
		patch.Apply(rule)
	}
	r.mu.Unlock()
	return nil
}

// MarkError flags a rule broken by a configuration failure, in storage and
// in the mirror.
func (r *Registry) MarkError(ctx context.Context, id string, msg string) error {
	if err := r.storage.SetError(ctx, id, msg); err != nil {
		return err
	}

	r.mu.Lock()
	if rule, ok := r.rules[id]; ok {
		rule.Status = models.RuleError
		rule.LastError = msg
	}
	r.mu.Unlock()
	return nil
}

// Get returns a copy of one rule.
func (r *Registry) Get(id string) (models.SyncRule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[id]
	if !ok {
		return models.SyncRule{}, false
	}
	return cloneRule(rule), true
}

// EnabledForTable returns copies of every enabled rule targeting the table.
func (r *Registry) EnabledForTable(table string) []models.SyncRule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.SyncRule
	for _, rule := range r.rules {
		if rule.TableName == table && rule.Enabled {
			out = append(out, cloneRule(rule))
		}
	}
	return out
}

// All returns copies of every rule.
func (r *Registry) All() []models.SyncRule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.SyncRule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, cloneRule(rule))
	}
	return out
}

// HasEnabled reports whether any rule is currently enabled. The poller uses
// this to idle long when the pipeline has nothing to route.
func (r *Registry) HasEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rule := range r.rules {
		if rule.Enabled {
			return true
		}
	}
	return false
}

func cloneRule(rule *models.SyncRule) models.SyncRule {
	cp := *rule
	cp.SelectedFields = append([]string(nil), rule.SelectedFields...)
	return cp
}
