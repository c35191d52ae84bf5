package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"

	"troubledesk/internal/helpdesk/matching"
	"troubledesk/internal/helpdesk/models"
	"troubledesk/internal/helpdesk/service"
	"troubledesk/internal/helpdesk/store/memory"
)

var testSigningKey = []byte("test-signing-key")

type HandlerSuite struct {
	suite.Suite
	store  *memory.Store
	svc    *service.Service
	router chi.Router

	user   models.Identity
	expert models.Identity
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.store = memory.New()
	s.user = models.Identity{ID: "user-1", Role: models.RoleUser}
	s.expert = models.Identity{ID: "exp-a", Role: models.RoleExpert}

	selector, err := matching.NewSelector()
	s.Require().NoError(err)
	regions, err := matching.NewRegionBalancer(s.store, []string{"north", "south"}, nil)
	s.Require().NoError(err)
	svc, err := service.New(s.store, selector, regions, service.WithRetryDelay(time.Hour))
	s.Require().NoError(err)
	s.svc = svc

	s.router = chi.NewRouter()
	New(svc, nil).Register(s.router)
}

func (s *HandlerSuite) TearDownTest() {
	s.svc.Close()
}

// do runs a request with the identity injected the way Auth would.
func (s *HandlerSuite) do(id models.Identity, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req = req.WithContext(WithIdentity(req.Context(), id))

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) seedExpert(id string) {
	s.store.SeedExpert(models.Expert{
		ID: id, Region: "north", Verified: true, Available: true, Tags: []string{"vpn"},
	})
}

func (s *HandlerSuite) submitBody() map[string]any {
	return map[string]any{
		"title":   "vpn down",
		"urgency": 3,
		"region":  "north",
	}
}

func (s *HandlerSuite) TestSubmitIssue() {
	s.Run("valid submission returns the created issue", func() {
		s.seedExpert("exp-a")

		rec := s.do(s.user, http.MethodPost, "/issues", s.submitBody())
		s.Require().Equal(http.StatusCreated, rec.Code)

		var issue models.Issue
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &issue))
		s.Equal(models.StatusAssigned, issue.Status)
		s.Require().NotNil(issue.AssignedExpert)
		s.Equal("exp-a", *issue.AssignedExpert)
	})

	s.Run("malformed JSON is a 400", func() {
		req := httptest.NewRequest(http.MethodPost, "/issues", bytes.NewBufferString("{not json"))
		req = req.WithContext(WithIdentity(req.Context(), s.user))
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("validator rejects out-of-range urgency", func() {
		body := s.submitBody()
		body["urgency"] = 9
		rec := s.do(s.user, http.MethodPost, "/issues", body)
		s.Equal(http.StatusBadRequest, rec.Code)

		var errBody map[string]string
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &errBody))
		s.Equal("validation", errBody["error"])
		s.NotEmpty(errBody["description"])
	})

	s.Run("expert role is a 403", func() {
		rec := s.do(s.expert, http.MethodPost, "/issues", s.submitBody())
		s.Equal(http.StatusForbidden, rec.Code)
	})
}

func (s *HandlerSuite) TestLifecycleRoutes() {
	s.seedExpert("exp-a")
	rec := s.do(s.user, http.MethodPost, "/issues", s.submitBody())
	s.Require().Equal(http.StatusCreated, rec.Code)
	var issue models.Issue
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &issue))

	s.Run("accept flips to in_progress", func() {
		rec := s.do(s.expert, http.MethodPost, "/issues/"+issue.ID+"/accept", nil)
		s.Require().Equal(http.StatusOK, rec.Code)

		var got models.Issue
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &got))
		s.Equal(models.StatusInProgress, got.Status)
	})

	s.Run("resolution requires notes", func() {
		rec := s.do(s.expert, http.MethodPost, "/issues/"+issue.ID+"/resolution", map[string]any{})
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("resolution parks the issue", func() {
		rec := s.do(s.expert, http.MethodPost, "/issues/"+issue.ID+"/resolution",
			map[string]any{"resolution_notes": "rebooted it"})
		s.Require().Equal(http.StatusOK, rec.Code)

		var got models.Issue
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &got))
		s.Equal(models.StatusAwaitingConfirmation, got.Status)
	})

	s.Run("both parties marking done closes it", func() {
		rec := s.do(s.user, http.MethodPost, "/issues/"+issue.ID+"/done", nil)
		s.Require().Equal(http.StatusOK, rec.Code)

		rec = s.do(s.expert, http.MethodPost, "/issues/"+issue.ID+"/done", nil)
		s.Require().Equal(http.StatusOK, rec.Code)

		var resp struct {
			Issue  models.Issue `json:"issue"`
			Closed bool         `json:"closed"`
		}
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
		s.True(resp.Closed)
		s.Equal(models.StatusClosed, resp.Issue.Status)
	})

	s.Run("rating after closure", func() {
		rec := s.do(s.user, http.MethodPost, "/issues/"+issue.ID+"/rating",
			map[string]any{"rating": 5, "comment": "great"})
		s.Require().Equal(http.StatusCreated, rec.Code)

		rec = s.do(s.user, http.MethodPost, "/issues/"+issue.ID+"/rating",
			map[string]any{"rating": 5})
		s.Equal(http.StatusBadRequest, rec.Code, "second rating is rejected")
	})
}

func (s *HandlerSuite) TestRejectAndEscalateRoutes() {
	s.seedExpert("exp-a")
	s.seedExpert("exp-b")
	rec := s.do(s.user, http.MethodPost, "/issues", s.submitBody())
	s.Require().Equal(http.StatusCreated, rec.Code)
	var issue models.Issue
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &issue))
	s.Require().Equal("exp-a", *issue.AssignedExpert)

	s.Run("reject hands the issue to the next expert", func() {
		rec := s.do(s.expert, http.MethodPost, "/issues/"+issue.ID+"/reject", nil)
		s.Require().Equal(http.StatusOK, rec.Code)

		var got models.Issue
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &got))
		s.Contains(got.RejectedBy, "exp-a")
		s.Require().NotNil(got.AssignedExpert)
		s.Equal("exp-b", *got.AssignedExpert)
	})

	s.Run("escalate skips the current expert", func() {
		rec := s.do(s.user, http.MethodPost, "/issues/"+issue.ID+"/escalate", nil)
		s.Require().Equal(http.StatusOK, rec.Code)

		var got models.Issue
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &got))
		s.Contains(got.SkippedBy, "exp-b")
	})

	s.Run("unknown issue is a 404", func() {
		rec := s.do(s.expert, http.MethodPost, "/issues/nope/reject", nil)
		s.Equal(http.StatusNotFound, rec.Code)
	})
}

func (s *HandlerSuite) TestListAndDeleteRoutes() {
	s.seedExpert("exp-a")
	rec := s.do(s.user, http.MethodPost, "/issues", s.submitBody())
	s.Require().Equal(http.StatusCreated, rec.Code)
	var issue models.Issue
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &issue))

	s.Run("submitter lists their issues", func() {
		rec := s.do(s.user, http.MethodGet, "/issues", nil)
		s.Require().Equal(http.StatusOK, rec.Code)

		var issues []models.Issue
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &issues))
		s.Len(issues, 1)
	})

	s.Run("expert lists assignments", func() {
		rec := s.do(s.expert, http.MethodGet, "/assignments", nil)
		s.Require().Equal(http.StatusOK, rec.Code)

		var issues []models.Issue
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &issues))
		s.Len(issues, 1)
	})

	s.Run("empty list serializes as an array", func() {
		other := models.Identity{ID: "user-2", Role: models.RoleUser}
		rec := s.do(other, http.MethodGet, "/issues", nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		s.Equal("[]\n", rec.Body.String())
	})

	s.Run("delete returns no content", func() {
		rec := s.do(s.user, http.MethodDelete, "/issues/"+issue.ID, nil)
		s.Equal(http.StatusNoContent, rec.Code)
	})
}

func (s *HandlerSuite) TestExpertRoutes() {
	s.seedExpert("exp-a")

	s.Run("availability toggle", func() {
		rec := s.do(s.expert, http.MethodPut, "/experts/availability",
			map[string]any{"available": false})
		s.Require().Equal(http.StatusNoContent, rec.Code)

		e, err := s.store.FindExpert(context.Background(), "exp-a")
		s.Require().NoError(err)
		s.False(e.Available)
	})

	s.Run("availability body is required", func() {
		rec := s.do(s.expert, http.MethodPut, "/experts/availability", map[string]any{})
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("admin verifies an expert", func() {
		s.store.SeedExpert(models.Expert{ID: "exp-new", Region: "north"})
		admin := models.Identity{ID: "admin-1", Role: models.RoleAdmin}

		rec := s.do(admin, http.MethodPut, "/experts/exp-new/verified", map[string]any{"notes": "checked"})
		s.Require().Equal(http.StatusNoContent, rec.Code)

		e, err := s.store.FindExpert(context.Background(), "exp-new")
		s.Require().NoError(err)
		s.True(e.Verified)
	})

	s.Run("verification is admin only", func() {
		rec := s.do(s.user, http.MethodPut, "/experts/exp-a/verified", map[string]any{})
		s.Equal(http.StatusForbidden, rec.Code)
	})
}

func (s *HandlerSuite) TestAuthMiddleware() {
	router := chi.NewRouter()
	router.Use(Auth(testSigningKey))
	New(s.svc, nil).Register(router)

	mint := func(claims jwt.MapClaims) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSigningKey)
		s.Require().NoError(err)
		return token
	}
	request := func(authorization string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/issues", nil)
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	s.Run("missing token is rejected", func() {
		s.Equal(http.StatusForbidden, request("").Code)
	})

	s.Run("garbage token is rejected", func() {
		s.Equal(http.StatusForbidden, request("Bearer not.a.token").Code)
	})

	s.Run("wrong key is rejected", func() {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256,
			jwt.MapClaims{"sub": "user-1", "role": "user"}).SignedString([]byte("other-key"))
		s.Require().NoError(err)
		s.Equal(http.StatusForbidden, request("Bearer "+token).Code)
	})

	s.Run("token without a role is rejected", func() {
		s.Equal(http.StatusForbidden, request("Bearer "+mint(jwt.MapClaims{"sub": "user-1"})).Code)
	})

	s.Run("valid token reaches the handler", func() {
		token := mint(jwt.MapClaims{"sub": "user-1", "role": "user"})
		s.Equal(http.StatusOK, request("Bearer "+token).Code)
	})
}
