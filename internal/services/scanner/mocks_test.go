package scanner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bobmcallan/vire-scanner/internal/models"
)

// --- mock providers ---

type mockBarProvider struct {
	barsFn func(ctx context.Context, ticker string, from, to time.Time) ([]models.Bar, error)
}

func (m *mockBarProvider) GetDailyBars(ctx context.Context, ticker string, from, to time.Time) ([]models.Bar, error) {
	if m.barsFn != nil {
		return m.barsFn(ctx, ticker, from, to)
	}
	return nil, fmt.Errorf("not implemented")
}

type mockUniverseProvider struct {
	symbolsFn func(ctx context.Context, exchange string) ([]models.Symbol, error)
}

func (m *mockUniverseProvider) GetExchangeSymbols(ctx context.Context, exchange string) ([]models.Symbol, error) {
	if m.symbolsFn != nil {
		return m.symbolsFn(ctx, exchange)
	}
	return nil, fmt.Errorf("not implemented")
}

// --- in-memory result store ---

type memStore struct {
	mu           sync.Mutex
	sessions     map[string]models.ScanSession
	rows         map[string][]models.ScanResultRow // by session id
	active       map[models.Market]string
	kv           map[string]string
	replaceErr   error
	replaceCalls int
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string]models.ScanSession),
		rows:     make(map[string][]models.ScanResultRow),
		active:   make(map[models.Market]string),
		kv:       make(map[string]string),
	}
}

func (s *memStore) SaveSession(_ context.Context, session *models.ScanSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = *session
	return nil
}

func (s *memStore) GetSession(_ context.Context, id string) (*models.ScanSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	return &sess, nil
}

func (s *memStore) ListSessions(_ context.Context, market models.Market, limit int) ([]models.ScanSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ScanSession
	for _, sess := range s.sessions {
		if sess.Market == market {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ReplaceResults(_ context.Context, session *models.ScanSession, rows []models.ScanResultRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceCalls++
	if s.replaceErr != nil {
		return s.replaceErr
	}
	s.rows[session.ID] = append([]models.ScanResultRow(nil), rows...)
	prev := s.active[session.Market]
	s.active[session.Market] = session.ID
	if prev != "" && prev != session.ID {
		delete(s.rows, prev)
	}
	return nil
}

func (s *memStore) GetLatest(_ context.Context, market models.Market) (*models.LatestResults, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := &models.LatestResults{Market: market}
	id, ok := s.active[market]
	if !ok {
		return res, nil
	}
	sess := s.sessions[id]
	res.Session = &sess
	for _, r := range s.rows[id] {
		if r.Kind == models.ScanKindSqueeze {
			res.Squeeze = append(res.Squeeze, r)
		} else {
			res.Spikes = append(res.Spikes, r)
		}
	}
	return res, nil
}

func (s *memStore) GetSystemKV(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.kv[key]
	if !ok {
		return "", fmt.Errorf("key %s not found", key)
	}
	return v, nil
}

func (s *memStore) SetSystemKV(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = value
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) session(id string) models.ScanSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

// --- bar fixtures ---

var fixtureStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func makeBars(closes []float64, spread float64, volumes []int64) []models.Bar {
	bars := make([]models.Bar, len(closes))
	for i, c := range closes {
		bars[i] = models.Bar{
			Date:   fixtureStart.AddDate(0, 0, i),
			Open:   c,
			High:   c + spread,
			Low:    c - spread,
			Close:  c,
			Volume: volumes[i],
		}
	}
	return bars
}

func linear(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func flat(n int, v int64) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// squeezeBars is a long uptrend that goes quiet for 25 sessions: EMA-stacked
// and inside the Keltner channel.
func squeezeBars(volume int64) []models.Bar {
	closes := linear(280, 10, 0.5)
	last := closes[len(closes)-1]
	for i := 1; i <= 25; i++ {
		closes = append(closes, last+0.01*float64(i))
	}
	return makeBars(closes, 2, flat(len(closes), volume))
}

// spikeBars trades 5000 shares a day then 50k-60k for the last three days
// while rising.
func spikeBars() []models.Bar {
	vols := flat(40, 5000)
	vols[37], vols[38], vols[39] = 50000, 60000, 55000
	return makeBars(linear(40, 10, 0.1), 0.2, vols)
}
