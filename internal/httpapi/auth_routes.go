package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/gatekeeper/pkg/clientip"
	"github.com/dmitrymomot/gatekeeper/pkg/fingerprint"
	"github.com/dmitrymomot/gatekeeper/pkg/jwt"
	"github.com/dmitrymomot/gatekeeper/pkg/session"
	"github.com/dmitrymomot/gatekeeper/svc/auth"
)

func (a *API) authRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(a.authLimiter())
		r.Post("/login", a.handle(a.login))
		r.Post("/refresh", a.handle(a.refresh))
	})
	r.Group(func(r chi.Router) {
		r.Use(a.auth.RequireAuth)
		r.Post("/logout", a.handle(a.logout))
		r.Get("/me", a.handle(a.me))
		r.Get("/sessions", a.handle(a.listOwnSessions))
		r.Delete("/sessions", a.handle(a.revokeOtherSessions))
		r.Delete("/sessions/{sessionID}", a.handle(a.revokeOwnSession))
	})
}

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required,max=320"`
	Secret     string `json:"secret" validate:"required,max=1024"`
	RememberMe bool   `json:"remember_me"`
	Location   string `json:"location" validate:"max=255"`
}

func device(r *http.Request) auth.Device {
	return auth.Device{
		IPAddress:   clientip.FromContext(r.Context()),
		UserAgent:   r.UserAgent(),
		Fingerprint: fingerprint.DeviceFromContext(r.Context()),
	}
}

func (a *API) login(w http.ResponseWriter, r *http.Request) error {
	var req loginRequest
	if err := a.decode(w, r, &req); err != nil {
		return err
	}
	dev := device(r)
	dev.Location = req.Location
	res, err := a.auth.Login(r.Context(), auth.LoginInput{
		Identifier: req.Identifier,
		Secret:     req.Secret,
		RememberMe: req.RememberMe,
		Device:     dev,
	})
	if err != nil {
		return err
	}
	respond(w, http.StatusOK, a.tokensOf(res))
	return nil
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) error {
	var req refreshRequest
	if err := a.decode(w, r, &req); err != nil {
		return err
	}
	res, err := a.auth.Refresh(r.Context(), req.RefreshToken, device(r))
	if err != nil {
		return err
	}
	respond(w, http.StatusOK, a.tokensOf(res))
	return nil
}

func (a *API) tokensOf(res *auth.Result) tokensView {
	return tokensView{
		Tokens:  res.Tokens,
		Session: sessionOf(res.Session, a.sessions.Now(), res.Session.ID),
		User:    res.Principal,
	}
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) error {
	all, err := queryBool(r, "all", false)
	if err != nil {
		return err
	}
	token, _ := jwt.TokenFromContext(r.Context())
	n, err := a.auth.Logout(r.Context(), token, auth.LogoutOptions{AllSessions: all})
	if err != nil {
		return err
	}
	respond(w, http.StatusOK, map[string]int{"revoked": n})
	return nil
}

type meView struct {
	auth.Principal
	Permissions []string                `json:"permissions"`
	Policy      auth.AuthorizationPolicy `json:"authorization_policy"`
}

func (a *API) me(w http.ResponseWriter, r *http.Request) error {
	p, _ := auth.PrincipalFromContext(r.Context())
	perms, err := a.auth.Permissions(r.Context(), p)
	if err != nil {
		return err
	}
	if perms == nil {
		perms = []string{}
	}
	respond(w, http.StatusOK, meView{Principal: *p, Permissions: perms, Policy: a.auth.Policy()})
	return nil
}

func (a *API) listOwnSessions(w http.ResponseWriter, r *http.Request) error {
	activeOnly, err := queryBool(r, "active", true)
	if err != nil {
		return err
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	list, err := a.auth.GetUserSessions(r.Context(), p.UserID, activeOnly)
	if err != nil {
		return err
	}
	respondList(w, sessionsOf(list, a.sessions.Now(), p.SessionID))
	return nil
}

func (a *API) revokeOwnSession(w http.ResponseWriter, r *http.Request) error {
	id, err := pathUUID(r, "sessionID")
	if err != nil {
		return err
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	if err := a.auth.RevokeSession(r.Context(), p.UserID, id, session.ReasonRevoked); err != nil {
		return err
	}
	noContent(w)
	return nil
}

func (a *API) revokeOtherSessions(w http.ResponseWriter, r *http.Request) error {
	p, _ := auth.PrincipalFromContext(r.Context())
	n, err := a.auth.RevokeAllSessions(r.Context(), p.UserID, &p.SessionID, session.ReasonRevoked)
	if err != nil {
		return err
	}
	respond(w, http.StatusOK, map[string]int{"revoked": n})
	return nil
}
