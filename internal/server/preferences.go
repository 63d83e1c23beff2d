package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"heartmend/internal/engine"
)

func registerPreferences(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-preferences",
		Method:      http.MethodGet,
		Path:        "/preferences",
		Summary:     "Get preferences",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body PreferencesResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.GetPreferences(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PreferencesResponse `json:"body"`
		}{Body: preferencesResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-preferences",
		Method:      http.MethodPatch,
		Path:        "/preferences",
		Summary:     "Update preferences",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body UpdatePreferencesRequest `json:"body"`
	}) (*struct {
		Body PreferencesResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdatePreferences(ctx, userID, engine.PreferencesUpdate{
			PreferredProvider: input.Body.PreferredProvider,
			DefaultTone:       input.Body.DefaultTone,
			SaveRawInputs:     input.Body.SaveRawInputs,
			EnableAnalytics:   input.Body.EnableAnalytics,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PreferencesResponse `json:"body"`
		}{Body: preferencesResponse(p)}, nil
	})
}
