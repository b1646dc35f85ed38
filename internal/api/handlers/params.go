package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	apiContext "chatgate/internal/api/context"
	"chatgate/internal/api/middleware"
)

const maxBodyBytes = 1 << 20

func paramID(r *http.Request, name string) (int64, error) {
	params, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
	id, err := strconv.ParseInt(params.ByName(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}

// queryID reads an optional positive id. Absent or non-positive values are 0.
func queryID(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", name)
	}
	if id < 0 {
		id = 0
	}
	return id, nil
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
}

// actorID is the user a request acts for: the admin session user, or the
// owner of the calling API key.
func actorID(r *http.Request) *int64 {
	if c := middleware.ClaimsFrom(r.Context()); c != nil {
		id := c.UserID
		return &id
	}
	if id := middleware.IdentityFrom(r.Context()); id != nil {
		return id.CreatedBy
	}
	return nil
}
