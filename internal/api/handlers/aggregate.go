package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"sellerhub/internal/aggregate"
	"sellerhub/internal/auth/token"
	"sellerhub/internal/marketplace"
)

// OrdersHandler answers "all my orders" across every linked account.
// Failing accounts are dropped from the response, never fatal.
func OrdersHandler(agg *aggregate.Aggregator, resources *marketplace.ResourceClient) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := pageParams(r)
		result, err := aggregate.Fanout(r.Context(), agg, UserFromRequest(r), params,
			func(ctx context.Context, cred *token.Credential, p marketplace.PageParams) ([]marketplace.Order, error) {
				return resources.SearchOrders(ctx, cred.AccessToken, cred.MarketplaceUserID, p)
			})
		if err != nil {
			http.Error(w, `{"error": "Failed to aggregate orders"}`, http.StatusInternalServerError)
			return
		}

		if r.URL.Query().Get("sort") == "date_desc" {
			aggregate.SortByTimeDesc(result.Items, func(o marketplace.Order) time.Time {
				return o.DateCreated
			})
		}
		writeJSON(w, result)
	}
}

// QuestionsHandler answers "all my open questions" across every linked
// account.
func QuestionsHandler(agg *aggregate.Aggregator, resources *marketplace.ResourceClient) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := pageParams(r)
		result, err := aggregate.Fanout(r.Context(), agg, UserFromRequest(r), params,
			func(ctx context.Context, cred *token.Credential, p marketplace.PageParams) ([]marketplace.Question, error) {
				return resources.SearchQuestions(ctx, cred.AccessToken, cred.MarketplaceUserID, p)
			})
		if err != nil {
			http.Error(w, `{"error": "Failed to aggregate questions"}`, http.StatusInternalServerError)
			return
		}

		if r.URL.Query().Get("sort") == "date_desc" {
			aggregate.SortByTimeDesc(result.Items, func(q marketplace.Question) time.Time {
				return q.DateCreated
			})
		}
		writeJSON(w, result)
	}
}

func pageParams(r *http.Request) marketplace.PageParams {
	var params marketplace.PageParams
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		params.Limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil {
		params.Offset = v
	}
	return params
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
