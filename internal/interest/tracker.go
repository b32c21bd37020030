package interest

import (
	"container/list"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/watt29/smart-service-system-backend/internal/config"
	"github.com/watt29/smart-service-system-backend/internal/models"
	"github.com/watt29/smart-service-system-backend/internal/observability"
)

const (
	textHitWeight  = 1.0
	shownHitWeight = 0.5
)

// CategoryDetector maps free text to lexicon categories. Satisfied by
// query.Preprocessor.
type CategoryDetector interface {
	DetectCategories(text string) []string
}

// Tracker maintains per-user interest profiles in memory. The store is
// bounded: when it holds MaxProfiles users, recording for a new user evicts
// the least recently active profile. Categories typed by the user count at
// full weight, categories inferred from entries shown to the user count at
// half weight. Per-user interaction history is capped at HistoryLimit.
type Tracker struct {
	mu       sync.RWMutex
	detector CategoryDetector
	logger   *zap.Logger

	profiles map[string]*profile
	lru      *list.List

	maxProfiles  int
	historyLimit int
	halfLife     time.Duration

	now func() time.Time
}

type profile struct {
	userID  string
	weights map[string]*interestState
	history []interaction
	elem    *list.Element
}

type interestState struct {
	weight    float64
	updatedAt time.Time
}

type interaction struct {
	text       string
	categories []string
	shownCount int
	at         time.Time
}

// ProfileSummary is a read-only snapshot of one user's profile.
type ProfileSummary struct {
	UserID       string                  `json:"user_id"`
	Interests    []models.InterestWeight `json:"interests"`
	Interactions int                     `json:"interactions"`
	LastActive   time.Time               `json:"last_active"`
}

func NewTracker(detector CategoryDetector, cfg config.InterestConfig, logger *zap.Logger) *Tracker {
	return &Tracker{
		detector:     detector,
		logger:       logger,
		profiles:     make(map[string]*profile),
		lru:          list.New(),
		maxProfiles:  cfg.MaxProfiles,
		historyLimit: cfg.HistoryLimit,
		halfLife:     cfg.DecayHalfLife,
		now:          time.Now,
	}
}

// Record updates the user's profile from one interaction: the raw text they
// typed plus the entries that were shown back to them. Unknown users get a
// fresh profile; anonymous interactions (empty user id) are dropped.
func (t *Tracker) Record(userID, rawText string, shown []models.CatalogEntry) {
	if userID == "" {
		return
	}

	textCategories := t.detector.DetectCategories(rawText)

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	p := t.touch(userID)

	for _, cat := range textCategories {
		t.bump(p, cat, textHitWeight, now)
	}

	for i := range shown {
		for _, cat := range t.detector.DetectCategories(shown[i].Category + " " + shown[i].Name) {
			t.bump(p, cat, shownHitWeight, now)
		}
	}

	p.history = append(p.history, interaction{
		text:       rawText,
		categories: textCategories,
		shownCount: len(shown),
		at:         now,
	})
	if len(p.history) > t.historyLimit {
		p.history = p.history[len(p.history)-t.historyLimit:]
	}
}

// TopInterests returns up to n (category, weight) pairs ordered by weight
// descending. Ties go to the most recently updated category. A user with no
// profile gets an empty result, never an error.
func (t *Tracker) TopInterests(userID string, n int) []models.InterestWeight {
	if n <= 0 {
		return nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.profiles[userID]
	if !ok {
		return nil
	}

	now := t.now()
	type ranked struct {
		category  string
		weight    float64
		updatedAt time.Time
	}

	all := make([]ranked, 0, len(p.weights))
	for cat, st := range p.weights {
		w := t.decayed(st, now)
		if w <= 0 {
			continue
		}
		all = append(all, ranked{cat, w, st.updatedAt})
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].weight != all[j].weight {
			return all[i].weight > all[j].weight
		}
		if !all[i].updatedAt.Equal(all[j].updatedAt) {
			return all[i].updatedAt.After(all[j].updatedAt)
		}
		return all[i].category < all[j].category
	})

	if len(all) > n {
		all = all[:n]
	}

	out := make([]models.InterestWeight, len(all))
	for i, r := range all {
		out[i] = models.InterestWeight{Category: r.category, Weight: r.weight}
	}
	return out
}

// Summary snapshots one profile for the profile endpoint. The second return
// is false when the user has never been recorded.
func (t *Tracker) Summary(userID string, n int) (ProfileSummary, bool) {
	t.mu.RLock()
	p, ok := t.profiles[userID]
	if !ok {
		t.mu.RUnlock()
		return ProfileSummary{}, false
	}
	interactions := len(p.history)
	var last time.Time
	if interactions > 0 {
		last = p.history[interactions-1].at
	}
	t.mu.RUnlock()

	return ProfileSummary{
		UserID:       userID,
		Interests:    t.TopInterests(userID, n),
		Interactions: interactions,
		LastActive:   last,
	}, true
}

// Len reports how many profiles are resident.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.profiles)
}

// touch returns the profile for userID, creating it if needed, and marks it
// most recently used. Caller holds the write lock.
func (t *Tracker) touch(userID string) *profile {
	if p, ok := t.profiles[userID]; ok {
		t.lru.MoveToFront(p.elem)
		return p
	}

	if t.maxProfiles > 0 && len(t.profiles) >= t.maxProfiles {
		t.evictOldest()
	}

	p := &profile{
		userID:  userID,
		weights: make(map[string]*interestState),
	}
	p.elem = t.lru.PushFront(p)
	t.profiles[userID] = p
	observability.InterestProfilesResident.Set(float64(len(t.profiles)))
	return p
}

func (t *Tracker) evictOldest() {
	back := t.lru.Back()
	if back == nil {
		return
	}
	victim := back.Value.(*profile)
	t.lru.Remove(back)
	delete(t.profiles, victim.userID)
	observability.InterestProfilesResident.Set(float64(len(t.profiles)))
	if t.logger != nil {
		t.logger.Debug("evicted interest profile",
			zap.String("user_id", victim.userID),
			zap.Int("resident", len(t.profiles)))
	}
}

func (t *Tracker) bump(p *profile, category string, delta float64, now time.Time) {
	st, ok := p.weights[category]
	if !ok {
		p.weights[category] = &interestState{weight: delta, updatedAt: now}
		return
	}
	st.weight = t.decayed(st, now) + delta
	st.updatedAt = now
}

// decayed applies exponential half-life decay to a stored weight. A zero
// half-life disables decay.
func (t *Tracker) decayed(st *interestState, now time.Time) float64 {
	if t.halfLife <= 0 {
		return st.weight
	}
	elapsed := now.Sub(st.updatedAt)
	if elapsed <= 0 {
		return st.weight
	}
	return st.weight * math.Pow(0.5, float64(elapsed)/float64(t.halfLife))
}
