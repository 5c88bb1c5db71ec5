package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"pulse-server/internal/auth"
	"pulse-server/internal/store"
)

type issueTokenRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

type issueTokenResponse struct {
	Token string `json:"token"`
}

// IssueToken mints a session token for an existing user. The route sits
// behind the client-secret middleware: the identity provider at the boundary
// authenticates the user and exchanges the id for a token here.
func (a *API) IssueToken(tokens *auth.Tokens) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req issueTokenRequest
		if err := decode(r, &req); err != nil || req.UserID == uuid.Nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		user, err := a.Store.UserByID(r.Context(), req.UserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "unknown user")
				return
			}
			writeStoreError(w, err)
			return
		}

		token, err := tokens.Issue(user.ID, user.Username)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "token signing failed")
			return
		}

		writeJSON(w, http.StatusOK, issueTokenResponse{Token: token})
	}
}
