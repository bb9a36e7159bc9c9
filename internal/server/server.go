package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"podnotes/internal/domain"
	"podnotes/internal/engine"
	"podnotes/internal/engine/auth"
	"podnotes/internal/repo"
	"podnotes/internal/timecode"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"ALREADY_CLAIMED"`
	Message string         `json:"message" example:"episode is already claimed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// routes carries per-handler state shared by the registered operations.
type routes struct {
	logger *slog.Logger
}

// New returns an HTTP handler exposing the podnotes API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	rt := routes{logger: cfg.Logger}
	if rt.logger == nil {
		rt.logger = slog.Default()
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Podnotes API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	rt.registerEpisodes(group, cfg.Engine)
	rt.registerHosts(group, cfg.Engine)
	rt.registerClaims(group, cfg.Engine)
	rt.registerTopics(group, cfg.Engine)
	rt.registerFeedback(group, cfg.Engine)
	rt.registerEvents(group, cfg.Engine)
	rt.registerMe(group, cfg.Engine)
	if cfg.Auth.DevLogin {
		rt.registerDevAuth(group, cfg.Engine, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func statusForKind(k domain.Kind) int {
	switch k {
	case domain.KindInput:
		return http.StatusBadRequest
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (rt routes) handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var de *domain.Error
	if errors.As(err, &de) {
		var details map[string]any
		var fe auth.ForbiddenError
		if errors.As(err, &fe) {
			details = map[string]any{"action": fe.Action}
		}
		return newAPIError(statusForKind(de.Kind), de.Code, err.Error(), details)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	}
	rt.logger.Error("request failed", "err", err)
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	open := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Patch,
		} {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <title>Podnotes API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({ url: '%s', dom_id: '#swagger-ui' });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type episodePath struct {
	GUID string `path:"guid"`
}

func (rt routes) registerEpisodes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-episodes",
		Method:      http.MethodGet,
		Path:        "/episodes",
		Summary:     "List episodes",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Claimed    string `query:"claimed" doc:"true or false"`
		WithTopics bool   `query:"with_topics"`
		Limit      int    `query:"limit" default:"50"`
		Offset     int    `query:"offset"`
	}) (*struct {
		Body []EpisodeResponse `json:"body"`
	}, error) {
		f := repo.EpisodeFilters{WithTopicsOnly: input.WithTopics, Limit: normalizeLimit(input.Limit), Offset: input.Offset}
		if input.Claimed != "" {
			v, err := strconv.ParseBool(input.Claimed)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "claimed must be true or false", map[string]any{"claimed": input.Claimed})
			}
			f.Claimed = &v
		}
		items, err := e.ListEpisodes(ctx, f)
		if err != nil {
			return nil, rt.handleError(err)
		}
		resp := make([]EpisodeResponse, 0, len(items))
		for _, ep := range items {
			resp = append(resp, episodeResponse(ep))
		}
		return &struct {
			Body []EpisodeResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-episode",
		Method:      http.MethodGet,
		Path:        "/episodes/{guid}",
		Summary:     "Get an episode with its claim, hosts and votes",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *episodePath) (*struct {
		Body EpisodeDetailResponse `json:"body"`
	}, error) {
		g, err := e.LoadGraph(ctx, input.GUID)
		if err != nil {
			return nil, rt.handleError(err)
		}
		resp := EpisodeDetailResponse{EpisodeResponse: episodeResponse(g.Episode), Hosts: []string{}}
		for _, h := range g.Hosts {
			resp.Hosts = append(resp.Hosts, h.Name)
		}
		resp.TopicCount = len(g.Topics)
		if c, err := e.GetClaim(ctx, input.GUID); err == nil {
			cr := claimResponse(c)
			resp.Claim = &cr
		} else if !errors.Is(err, domain.ErrNotClaimed) {
			return nil, rt.handleError(err)
		}
		tally, err := e.Repo.TallyVotes(ctx, input.GUID)
		if err != nil {
			return nil, rt.handleError(err)
		}
		resp.Votes = VotesResponse(tally)
		return &struct {
			Body EpisodeDetailResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func (rt routes) registerHosts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-hosts",
		Method:      http.MethodGet,
		Path:        "/hosts",
		Summary:     "List hosts",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Host `json:"body"`
	}, error) {
		hosts, err := e.ListHosts(ctx)
		if err != nil {
			return nil, rt.handleError(err)
		}
		return &struct {
			Body []domain.Host `json:"body"`
		}{Body: nonNilSlice(hosts)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-episode-hosts",
		Method:      http.MethodGet,
		Path:        "/episodes/{guid}/hosts",
		Summary:     "List the hosts of an episode",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *episodePath) (*struct {
		Body []domain.Host `json:"body"`
	}, error) {
		hosts, err := e.EpisodeHosts(ctx, input.GUID)
		if err != nil {
			return nil, rt.handleError(err)
		}
		return &struct {
			Body []domain.Host `json:"body"`
		}{Body: nonNilSlice(hosts)}, nil
	})
}

func (rt routes) registerClaims(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "claim-episode",
		Method:        http.MethodPost,
		Path:          "/episodes/{guid}/claim",
		Summary:       "Claim an episode for editing",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *episodePath) (*struct {
		Body ClaimResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.Claim(ctx, input.GUID, userID)
		if err != nil {
			return nil, rt.handleError(err)
		}
		return &struct {
			Body ClaimResponse `json:"body"`
		}{Body: claimResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-episode",
		Method:      http.MethodDelete,
		Path:        "/episodes/{guid}/claim",
		Summary:     "Release your claim on an episode",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *episodePath) (*struct {
		Body ReleaseResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Release(ctx, input.GUID, userID); err != nil {
			return nil, rt.handleError(err)
		}
		return &struct {
			Body ReleaseResponse `json:"body"`
		}{Body: ReleaseResponse{EpisodeGUID: input.GUID, Released: true}}, nil
	})
}

func (rt routes) registerTopics(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-topics",
		Method:      http.MethodGet,
		Path:        "/episodes/{guid}/topics",
		Summary:     "List an episode's topics in start order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *episodePath) (*struct {
		Body []TopicResponse `json:"body"`
	}, error) {
		items, err := e.ListTopics(ctx, input.GUID)
		if err != nil {
			return nil, rt.handleError(err)
		}
		return &struct {
			Body []TopicResponse `json:"body"`
		}{Body: mapTopics(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-topic",
		Method:        http.MethodPost,
		Path:          "/episodes/{guid}/topics",
		Summary:       "Add a topic to a claimed episode",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GUID string `path:"guid"`
		Body CreateTopicRequest
	}) (*struct {
		Body TopicResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		start, err := timecode.Parse(input.Body.Start)
		if err != nil {
			return nil, rt.handleError(err)
		}
		end, err := optionalTimecode(input.Body.End)
		if err != nil {
			return nil, rt.handleError(err)
		}
		t, err := e.CreateTopic(ctx, engine.TopicInput{
			EpisodeGUID: input.GUID,
			UserID:      userID,
			Name:        input.Body.Name,
			Start:       start,
			End:         end,
			Ad:          input.Body.Ad,
			Community:   input.Body.Community,
			Subtopics:   input.Body.Subtopics,
		})
		if err != nil {
			return nil, rt.handleError(err)
		}
		return &struct {
			Body TopicResponse `json:"body"`
		}{Body: topicResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-topic",
		Method:      http.MethodPatch,
		Path:        "/topics/{id}",
		Summary:     "Update a topic",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body UpdateTopicRequest
	}) (*struct {
		Body TopicResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		patch := engine.TopicPatch{Name: input.Body.Name, Ad: input.Body.Ad, Community: input.Body.Community}
		if input.Body.Start != nil {
			start, err := timecode.Parse(*input.Body.Start)
			if err != nil {
				return nil, rt.handleError(err)
			}
			patch.Start = &start
		}
		end, err := optionalTimecode(input.Body.End)
		if err != nil {
			return nil, rt.handleError(err)
		}
		patch.End = end
		t, err := e.UpdateTopic(ctx, input.ID, userID, patch)
		if err != nil {
			return nil, rt.handleError(err)
		}
		return &struct {
			Body TopicResponse `json:"body"`
		}{Body: topicResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-topic",
		Method:      http.MethodDelete,
		Path:        "/topics/{id}",
		Summary:     "Delete a topic",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTopic(ctx, input.ID, userID); err != nil {
			return nil, rt.handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-subtopic",
		Method:        http.MethodPost,
		Path:          "/topics/{id}/subtopics",
		Summary:       "Add a subtopic",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body SubtopicRequest
	}) (*struct {
		Body SubtopicResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.AddSubtopic(ctx, input.ID, userID, input.Body.Name)
		if err != nil {
			return nil, rt.handleError(err)
		}
		return &struct {
			Body SubtopicResponse `json:"body"`
		}{Body: subtopicResponse(st)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-subtopic",
		Method:      http.MethodDelete,
		Path:        "/subtopics/{id}",
		Summary:     "Delete a subtopic",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteSubtopic(ctx, input.ID, userID); err != nil {
			return nil, rt.handleError(err)
		}
		return &struct{}{}, nil
	})
}

func (rt routes) registerFeedback(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "vote-episode",
		Method:      http.MethodPost,
		Path:        "/episodes/{guid}/vote",
		Summary:     "Vote on an episode's annotations; direction 0 withdraws",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GUID string `path:"guid"`
		Body VoteRequest
	}) (*struct {
		Body VotesResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tally, err := e.Vote(ctx, input.GUID, userID, input.Body.Direction)
		if err != nil {
			return nil, rt.handleError(err)
		}
		return &struct {
			Body VotesResponse `json:"body"`
		}{Body: VotesResponse(tally)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "flag-episode",
		Method:        http.MethodPost,
		Path:          "/episodes/{guid}/flags",
		Summary:       "Flag an episode's annotations for rework",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GUID string `path:"guid"`
		Body FlagRequest
	}) (*struct {
		Body domain.Flag `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, err := e.CreateFlag(ctx, input.GUID, userID, input.Body.Reason)
		if err != nil {
			return nil, rt.handleError(err)
		}
		return &struct {
			Body domain.Flag `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-flags",
		Method:      http.MethodGet,
		Path:        "/episodes/{guid}/flags",
		Summary:     "List an episode's flags",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *episodePath) (*struct {
		Body []domain.Flag `json:"body"`
	}, error) {
		if _, err := e.GetEpisode(ctx, input.GUID); err != nil {
			return nil, rt.handleError(err)
		}
		items, err := e.Repo.ListFlags(ctx, input.GUID)
		if err != nil {
			return nil, rt.handleError(err)
		}
		return &struct {
			Body []domain.Flag `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-flag",
		Method:      http.MethodDelete,
		Path:        "/flags/{id}",
		Summary:     "Delete one of your flags",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteFlag(ctx, input.ID, userID); err != nil {
			return nil, rt.handleError(err)
		}
		return &struct{}{}, nil
	})
}

func (rt routes) registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List events after a cursor",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type   string `query:"type"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		var types []string
		if input.Type != "" {
			types = strings.Split(input.Type, ",")
		}
		items, err := e.Events.Since(ctx, cursorID, types, limit+1)
		if err != nil {
			return nil, rt.handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func (rt routes) registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user and their claims",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		u, err := e.GetUser(ctx, principal.UserID)
		if err != nil {
			return nil, rt.handleError(err)
		}
		claims, err := e.ListClaims(ctx, u.ID)
		if err != nil {
			return nil, rt.handleError(err)
		}
		resp := WhoAmIResponse{User: u, Source: principal.Source, Claims: []ClaimResponse{}}
		for _, c := range claims {
			resp.Claims = append(resp.Claims, claimResponse(c))
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func (rt routes) registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for an existing user",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		username := strings.TrimSpace(input.Body.Username)
		if username == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "username is required", nil)
		}
		u, err := e.UserByUsername(ctx, username)
		if err != nil {
			return nil, rt.handleError(err)
		}
		token, err := signDevToken(authCfg.JWTSecret, u.ID)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token, UserID: u.ID}}, nil
	})
}

func optionalTimecode(s *string) (*int, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, nil
	}
	v, err := timecode.Parse(*s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
