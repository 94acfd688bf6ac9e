package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/upb/agent-governance/internal/auth"
	"github.com/upb/agent-governance/models"
	"github.com/upb/agent-governance/services"
	"github.com/upb/agent-governance/services/session"
)

type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) Create(ctx context.Context, in session.CreateInput) (*models.Session, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *MockSessionService) Get(ctx context.Context, id string) (*models.Session, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *MockSessionService) Children(ctx context.Context, id string) ([]*models.Session, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Session), args.Error(1)
}

func (m *MockSessionService) Remove(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

const parentUUID = "8a3c1f0e-6b2d-4e57-9a51-3f2f7c9d0b11"

var (
	owner    = &auth.Principal{ID: "u1", Role: auth.RoleEmployee}
	stranger = &auth.Principal{ID: "u2", Role: auth.RoleEmployee}
	admin    = &auth.Principal{ID: "u-admin", Role: auth.RoleAdmin}
)

func TestSessionHandler_Create(t *testing.T) {
	parent := models.NewSession("parent").WithUser("u1")
	parent.ID = parentUUID

	tests := []struct {
		name      string
		body      string
		principal *auth.Principal
		setup     func(m *MockSessionService)
		wantCode  int
	}{
		{
			name:      "created",
			body:      `{"title":"refactor auth"}`,
			principal: owner,
			setup: func(m *MockSessionService) {
				m.On("Create", mock.Anything, session.CreateInput{Title: "refactor auth"}).
					Return(models.NewSession("refactor auth"), nil)
			},
			wantCode: http.StatusCreated,
		},
		{
			name:      "child of own parent",
			body:      `{"title":"child","parent_id":"` + parentUUID + `"}`,
			principal: owner,
			setup: func(m *MockSessionService) {
				m.On("Get", mock.Anything, parentUUID).Return(parent, nil)
				m.On("Create", mock.Anything, session.CreateInput{Title: "child", ParentID: parentUUID}).
					Return(models.NewSession("child").WithParent(parentUUID), nil)
			},
			wantCode: http.StatusCreated,
		},
		{
			name:      "child of another user's parent",
			body:      `{"title":"child","parent_id":"` + parentUUID + `"}`,
			principal: stranger,
			setup: func(m *MockSessionService) {
				m.On("Get", mock.Anything, parentUUID).Return(parent, nil)
			},
			wantCode: http.StatusForbidden,
		},
		{
			name:      "missing title",
			body:      `{}`,
			principal: owner,
			wantCode:  http.StatusBadRequest,
		},
		{
			name:      "parent id not a uuid",
			body:      `{"title":"x","parent_id":"nope"}`,
			principal: owner,
			wantCode:  http.StatusBadRequest,
		},
		{
			name:      "unknown field",
			body:      `{"title":"x","owner":"me"}`,
			principal: owner,
			wantCode:  http.StatusBadRequest,
		},
		{
			name:      "parent missing",
			body:      `{"title":"child","parent_id":"` + parentUUID + `"}`,
			principal: owner,
			setup: func(m *MockSessionService) {
				m.On("Get", mock.Anything, parentUUID).Return(nil, services.ErrSessionNotFound)
			},
			wantCode: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockSessionService)
			if tt.setup != nil {
				tt.setup(svc)
			}
			h := NewSessionHandler(svc, zap.NewNop())

			w := serve(t, http.MethodPost, "/sessions", "/sessions", tt.body, h.HandleCreate, tt.principal)

			assert.Equal(t, tt.wantCode, w.Code)
			svc.AssertExpectations(t)
			if tt.wantCode != http.StatusCreated {
				svc.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestSessionHandler_Get(t *testing.T) {
	s := models.NewSession("one").WithUser("u1")
	svc := new(MockSessionService)
	svc.On("Get", mock.Anything, s.ID).Return(s, nil)
	svc.On("Get", mock.Anything, "missing").Return(nil, services.ErrSessionNotFound)
	h := NewSessionHandler(svc, zap.NewNop())

	t.Run("owner", func(t *testing.T) {
		w := serve(t, http.MethodGet, "/sessions/{id}", "/sessions/"+s.ID, "", h.HandleGet, owner)

		assert.Equal(t, http.StatusOK, w.Code)
		data := decodeBody(t, w)["data"].(map[string]interface{})
		assert.Equal(t, s.ID, data["id"])
		assert.Equal(t, "active", data["status"])
	})

	t.Run("not found", func(t *testing.T) {
		w := serve(t, http.MethodGet, "/sessions/{id}", "/sessions/missing", "", h.HandleGet, owner)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "session not found", decodeBody(t, w)["message"])
	})
}

func TestSessionHandler_CrossUserAccess(t *testing.T) {
	s := models.NewSession("u1's session").WithUser("u1")
	orphan := models.NewSession("system session")

	routes := []struct {
		name    string
		method  string
		pattern string
		suffix  string
		handle  func(h *SessionHandler) http.HandlerFunc
		okCode  int
	}{
		{"get", http.MethodGet, "/sessions/{id}", "", func(h *SessionHandler) http.HandlerFunc { return h.HandleGet }, http.StatusOK},
		{"children", http.MethodGet, "/sessions/{id}/children", "/children", func(h *SessionHandler) http.HandlerFunc { return h.HandleChildren }, http.StatusOK},
		{"delete", http.MethodDelete, "/sessions/{id}", "", func(h *SessionHandler) http.HandlerFunc { return h.HandleDelete }, http.StatusNoContent},
	}
	callers := []struct {
		name      string
		session   *models.Session
		principal *auth.Principal
		allowed   bool
		wantCode  int
	}{
		{"owner", s, owner, true, 0},
		{"other employee", s, stranger, false, http.StatusForbidden},
		{"admin", s, admin, true, 0},
		{"unowned session for employee", orphan, owner, false, http.StatusForbidden},
		{"anonymous", s, nil, false, http.StatusUnauthorized},
	}

	for _, rt := range routes {
		for _, c := range callers {
			t.Run(rt.name+"/"+c.name, func(t *testing.T) {
				svc := new(MockSessionService)
				svc.On("Get", mock.Anything, c.session.ID).Return(c.session, nil)
				svc.On("Children", mock.Anything, c.session.ID).Return([]*models.Session{}, nil)
				svc.On("Remove", mock.Anything, c.session.ID).Return(nil)
				h := NewSessionHandler(svc, zap.NewNop())

				w := serve(t, rt.method, rt.pattern, "/sessions/"+c.session.ID+rt.suffix, "", rt.handle(h), c.principal)

				if c.allowed {
					assert.Equal(t, rt.okCode, w.Code)
					return
				}
				assert.Equal(t, c.wantCode, w.Code)
				svc.AssertNotCalled(t, "Children", mock.Anything, mock.Anything)
				svc.AssertNotCalled(t, "Remove", mock.Anything, mock.Anything)
			})
		}
	}
}

func TestSessionHandler_Children(t *testing.T) {
	p := models.NewSession("parent").WithUser("u1")
	svc := new(MockSessionService)
	svc.On("Get", mock.Anything, p.ID).Return(p, nil)
	svc.On("Children", mock.Anything, p.ID).Return(nil, nil)
	h := NewSessionHandler(svc, zap.NewNop())

	w := serve(t, http.MethodGet, "/sessions/{id}/children", "/sessions/"+p.ID+"/children", "", h.HandleChildren, owner)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{}, decodeBody(t, w)["data"])
}

func TestSessionHandler_Delete(t *testing.T) {
	s := models.NewSession("doomed").WithUser("u1")
	svc := new(MockSessionService)
	svc.On("Get", mock.Anything, s.ID).Return(s, nil)
	svc.On("Get", mock.Anything, "gone").Return(nil, services.ErrSessionNotFound)
	svc.On("Remove", mock.Anything, s.ID).Return(nil)
	h := NewSessionHandler(svc, zap.NewNop())

	w := serve(t, http.MethodDelete, "/sessions/{id}", "/sessions/"+s.ID, "", h.HandleDelete, owner)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = serve(t, http.MethodDelete, "/sessions/{id}", "/sessions/gone", "", h.HandleDelete, owner)
	assert.Equal(t, http.StatusNotFound, w.Code)
	svc.AssertNumberOfCalls(t, "Remove", 1)
}
