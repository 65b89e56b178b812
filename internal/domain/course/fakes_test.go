package course

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu       sync.Mutex
	previews map[uuid.UUID]Preview
	courses  map[uuid.UUID]Course
	actions  map[uuid.UUID]Action
	leases   map[uuid.UUID]time.Time
	saveErr  error
}

func newMemRepo() *memRepo {
	return &memRepo{
		previews: map[uuid.UUID]Preview{},
		courses:  map[uuid.UUID]Course{},
		actions:  map[uuid.UUID]Action{},
		leases:   map[uuid.UUID]time.Time{},
	}
}

func (m *memRepo) record(a *Action) {
	if a == nil {
		return
	}
	if _, ok := m.actions[a.SpendID]; !ok {
		m.actions[a.SpendID] = *a
	}
	delete(m.leases, a.SpendID)
}

func (m *memRepo) InsertPreview(_ context.Context, p *Preview, a *Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.previews[p.ID] = *p
	m.record(a)
	return nil
}

func (m *memRepo) GetPreview(_ context.Context, userID, id uuid.UUID) (*Preview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.previews[id]
	if !ok || p.UserID != userID {
		return nil, nil
	}
	return &p, nil
}

func (m *memRepo) InsertCourse(_ context.Context, c *Course, a *Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.courses[c.ID] = *c
	m.record(a)
	return nil
}

func (m *memRepo) UpdateCourse(_ context.Context, c *Course, a *Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if prev, ok := m.courses[c.ID]; !ok || prev.UserID != c.UserID {
		return ErrCourseNotFound
	}
	m.courses[c.ID] = *c
	m.record(a)
	return nil
}

func (m *memRepo) GetCourse(_ context.Context, userID, id uuid.UUID) (*Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[id]
	if !ok || c.UserID != userID {
		return nil, nil
	}
	return &c, nil
}

func (m *memRepo) ListCourses(_ context.Context, userID uuid.UUID, limit, offset int) ([]*Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*Course{}
	for _, c := range m.courses {
		if c.UserID == userID {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []*Course{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) FindAction(_ context.Context, spendID uuid.UUID) (*Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[spendID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *memRepo) LeaseAction(_ context.Context, spendID, _ uuid.UUID, now, until time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.leases[spendID]; ok && held.After(now) {
		return false, nil
	}
	m.leases[spendID] = until
	return true, nil
}

func (m *memRepo) ReleaseAction(_ context.Context, spendID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.leases, spendID)
	return nil
}

func (m *memRepo) leased(spendID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.leases[spendID]
	return ok
}

func (m *memRepo) addCourse(c Course) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.courses[c.ID] = c
}

const samplePlan = `## Week 1

### Day 1: Push
old day one

### Day 2: Pull
old day two

## Week 2

### Day 1: Legs
week two day one
`

type fakeGen struct {
	mu         sync.Mutex
	prompts    []string
	images     int
	err        error
	imageErrAt map[int]bool
	png        []byte
	// entered and release, when set, hold Complete until the test lets go.
	entered chan struct{}
	release chan struct{}
}

func (g *fakeGen) Complete(_ context.Context, system, prompt string, _ int) (string, error) {
	if g.release != nil {
		g.entered <- struct{}{}
		<-g.release
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	switch {
	case system == nutritionSystem:
		return "Eat **protein** with every meal.", nil
	case strings.Contains(prompt, "Rewrite ONLY Week 1, Day 2"):
		return "### Day 2: Fresh Pull\n\n- new rows", nil
	case strings.Contains(prompt, "Rewrite ONLY Week 2"):
		return "## Week 2\n\n### Day 1: Fresh Legs\n\n- squats", nil
	case strings.Contains(prompt, "Write the first week"):
		return "## Week 1\n\n### Day 1: Push\npreview day", nil
	default:
		return samplePlan, nil
	}
}

func (g *fakeGen) GenerateImage(_ context.Context, prompt string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.images
	g.images++
	if g.imageErrAt[n] {
		return nil, errors.New("image backend down")
	}
	return g.png, nil
}

func (g *fakeGen) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

type fakeRenderer struct {
	mu   sync.Mutex
	html []string
	err  error
}

func (r *fakeRenderer) RenderHTML(_ context.Context, html string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.html = append(r.html, html)
	if r.err != nil {
		return nil, r.err
	}
	return []byte("%PDF-1.4 test"), nil
}

func (r *fakeRenderer) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.html) == 0 {
		return ""
	}
	return r.html[len(r.html)-1]
}

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 80, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
