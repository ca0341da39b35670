package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"task-master/backend/internal/cache"
	"task-master/backend/internal/models"
)

const listingKeyPrefix = "user_tasks"

// ChangeNotifier is told after every successful mutation so that other
// instances can drop their local copies of the owner's listings.
type ChangeNotifier interface {
	TasksChanged(ctx context.Context, ownerID string) error
}

// CachedTaskService caches listings per owner and query. Single-task reads
// pass through. Mutations invalidate every listing of the owner.
//
// Listing keys carry a per-owner generation that every mutation bumps, so
// a listing read before a mutation can never be served after it, even when
// the shared cache could not be cleared.
type CachedTaskService struct {
	taskService TaskService
	cache       cache.Cache
	notifier    ChangeNotifier
	listTTL     time.Duration

	mu          sync.Mutex
	generations map[string]uint64
	// owners whose shared listings could not be cleared yet
	pending map[string]struct{}
}

func NewCachedTaskService(taskService TaskService, cacheInstance cache.Cache, notifier ChangeNotifier, listTTL time.Duration) *CachedTaskService {
	if listTTL <= 0 {
		listTTL = 5 * time.Minute
	}

	return &CachedTaskService{
		taskService: taskService,
		cache:       cacheInstance,
		notifier:    notifier,
		listTTL:     listTTL,
		generations: make(map[string]uint64),
		pending:     make(map[string]struct{}),
	}
}

// ListingPattern matches every cached listing of ownerID.
func ListingPattern(ownerID string) string {
	return fmt.Sprintf("%s:%s:*", listingKeyPrefix, escapeGlob(ownerID))
}

func listingKey(ownerID string, generation uint64, query TaskQuery) string {
	return fmt.Sprintf("%s:%s:g%d:%s", listingKeyPrefix, ownerID, generation, query.CacheKey())
}

func (s *CachedTaskService) generation(ownerID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[ownerID]
}

// MarkStale retires every listing of ownerID cached so far. It is called
// for local mutations and for change events from other instances.
func (s *CachedTaskService) MarkStale(ownerID string) {
	s.mu.Lock()
	s.generations[ownerID]++
	s.mu.Unlock()
}

func (s *CachedTaskService) setPending(ownerID string, pending bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pending {
		s.pending[ownerID] = struct{}{}
	} else {
		delete(s.pending, ownerID)
	}
}

func (s *CachedTaskService) isPending(ownerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[ownerID]
	return ok
}

// clearListings drops the owner's listings from the cache and remembers
// the owner when that fails so the next listing retries.
func (s *CachedTaskService) clearListings(ownerID string) {
	pattern := ListingPattern(ownerID)
	if err := s.cache.DeletePattern(pattern); err != nil {
		log.Printf("[cache] invalidate %s: %v", pattern, err)
		s.setPending(ownerID, true)
		return
	}
	s.setPending(ownerID, false)
}

func (s *CachedTaskService) CreateTask(ctx context.Context, ownerID string, input TaskInput) (*models.Task, error) {
	task, err := s.taskService.CreateTask(ctx, ownerID, input)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, ownerID)
	return task, nil
}

func (s *CachedTaskService) ListTasks(ctx context.Context, ownerID string, query TaskQuery) ([]models.Task, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	if s.isPending(ownerID) {
		s.clearListings(ownerID)
	}

	generation := s.generation(ownerID)
	cacheKey := listingKey(ownerID, generation, query)

	var cachedTasks []models.Task
	err := s.cache.Get(cacheKey, &cachedTasks)
	if err == nil {
		return cachedTasks, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		log.Printf("[cache] get %s: %v", cacheKey, err)
	}

	tasks, err := s.taskService.ListTasks(ctx, ownerID, query)
	if err != nil {
		return tasks, err
	}

	// an empty listing may be a degraded read of an unreachable store; a
	// changed generation means a mutation landed while this one was read
	if len(tasks) > 0 && s.generation(ownerID) == generation {
		if err := s.cache.Set(cacheKey, tasks, s.listTTL); err != nil {
			log.Printf("[cache] set %s: %v", cacheKey, err)
		}
	}

	return tasks, nil
}

func (s *CachedTaskService) SearchTasks(ctx context.Context, ownerID, search string, filter models.TaskFilter) ([]models.Task, error) {
	return s.ListTasks(ctx, ownerID, TaskQuery{Search: strings.TrimSpace(search), Filter: filter})
}

func (s *CachedTaskService) GetTask(ctx context.Context, ownerID, id string) (*models.Task, error) {
	return s.taskService.GetTask(ctx, ownerID, id)
}

func (s *CachedTaskService) UpdateTask(ctx context.Context, ownerID, id string, update TaskUpdate) (*models.Task, error) {
	task, err := s.taskService.UpdateTask(ctx, ownerID, id, update)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, ownerID)
	return task, nil
}

func (s *CachedTaskService) ToggleTaskStatus(ctx context.Context, ownerID, id string, completed bool) (*models.Task, error) {
	task, err := s.taskService.ToggleTaskStatus(ctx, ownerID, id, completed)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, ownerID)
	return task, nil
}

func (s *CachedTaskService) DeleteTask(ctx context.Context, ownerID, id string) error {
	if err := s.taskService.DeleteTask(ctx, ownerID, id); err != nil {
		return err
	}

	s.invalidate(ctx, ownerID)
	return nil
}

func (s *CachedTaskService) GetCacheStats() map[string]interface{} {
	return s.cache.Stats()
}

// invalidate failures are logged only; the mutation already succeeded.
func (s *CachedTaskService) invalidate(ctx context.Context, ownerID string) {
	s.MarkStale(ownerID)
	s.clearListings(ownerID)

	if s.notifier == nil {
		return
	}
	if err := s.notifier.TasksChanged(ctx, ownerID); err != nil {
		log.Printf("[events] notify change for %s: %v", ownerID, err)
	}
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
