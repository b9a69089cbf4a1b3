package mcp

import (
	"crypto/subtle"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/mjytdlp/mjytdlp/cookies"
	"github.com/mjytdlp/mjytdlp/settings"
)

const (
	adminPasswordHeader = "X-MJYTDLP-Admin-Password"
	cookiesFormField    = "cookies_file"
)

type adminError struct {
	Ok    bool   `json:"ok"`
	Error string `json:"error"`
}

type settingsReply struct {
	Ok       bool               `json:"ok"`
	Settings *settings.Settings `json:"settings"`
}

type cookiesReply struct {
	Ok      bool            `json:"ok"`
	Cookies *cookies.Status `json:"cookies,omitempty"`
}

func (s *Server) adminRoutes(r chi.Router) {
	r.Use(s.adminAuth)
	r.Get("/api/settings", s.getSettings)
	r.Put("/api/settings", s.putSettings)
	r.Get("/api/mcp/settings", s.getSettings)
	r.Post("/api/mcp/settings", s.putSettings)
	r.Get("/api/cookies", s.getCookies)
	r.Put("/api/cookies", s.putCookies)
	r.Delete("/api/cookies", s.deleteCookies)
}

// adminAuth accepts the admin password as a bearer token or in the
// X-MJYTDLP-Admin-Password header. The whole surface is hidden when no
// password is configured.
func (s *Server) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.conf.Admin.Enabled() {
			http.NotFound(w, r)
			return
		}

		secret := r.Header.Get(adminPasswordHeader)
		if secret == "" {
			authHeaderParts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
			if len(authHeaderParts) == 2 && strings.EqualFold(authHeaderParts[0], "bearer") {
				secret = strings.TrimSpace(authHeaderParts[1])
			}
		}
		if secret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(s.conf.Admin.Password)) != 1 {
			log.WithField("remote_addr", r.RemoteAddr).Warning("Admin authentication failed")
			s.writeJson(w, &adminError{Error: "unauthorized"}, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, s.settings.Load().Masked(), http.StatusOK)
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		s.writeJson(w, &adminError{Error: "failed to read request body"}, http.StatusBadRequest)
		return
	}

	saved, err := s.settings.Save(body)
	if err != nil {
		if errors.Is(err, settings.ErrInvalidSettings) {
			s.writeJson(w, &adminError{Error: err.Error()}, http.StatusBadRequest)
			return
		}
		log.WithError(err).Error("Failed to save settings")
		s.writeJson(w, &adminError{Error: "failed to save settings"}, http.StatusInternalServerError)
		return
	}

	log.WithField("providers", len(saved.Providers)).Info("Provider settings updated")
	s.writeJson(w, &settingsReply{Ok: true, Settings: saved.Masked()}, http.StatusOK)
}

func (s *Server) getCookies(w http.ResponseWriter, r *http.Request) {
	status, err := s.cookies.Status(r.URL.Query().Get("name"))
	if err != nil {
		s.writeCookiesError(w, err)
		return
	}
	s.writeJson(w, &cookiesReply{Ok: true, Cookies: status}, http.StatusOK)
}

// putCookies takes the jar either as the raw body or as the cookies_file
// field of a multipart form.
func (s *Server) putCookies(w http.ResponseWriter, r *http.Request) {
	var upload io.Reader = r.Body
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "multipart/form-data" {
		file, _, err := r.FormFile(cookiesFormField)
		if err != nil {
			s.writeJson(w, &adminError{Error: "missing " + cookiesFormField}, http.StatusBadRequest)
			return
		}
		defer file.Close()
		upload = file
	}

	status, err := s.cookies.Write(r.URL.Query().Get("name"), upload)
	if err != nil {
		s.writeCookiesError(w, err)
		return
	}
	s.writeJson(w, &cookiesReply{Ok: true, Cookies: status}, http.StatusOK)
}

func (s *Server) deleteCookies(w http.ResponseWriter, r *http.Request) {
	if err := s.cookies.Delete(r.URL.Query().Get("name")); err != nil {
		s.writeCookiesError(w, err)
		return
	}
	s.writeJson(w, &cookiesReply{Ok: true}, http.StatusOK)
}

func (s *Server) writeCookiesError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cookies.ErrInvalidName),
		errors.Is(err, cookies.ErrEmptyFile),
		errors.Is(err, cookies.ErrFileTooLarge):
		s.writeJson(w, &adminError{Error: err.Error()}, http.StatusBadRequest)
	case errors.Is(err, cookies.ErrCookiesNotFound):
		s.writeJson(w, &adminError{Error: err.Error()}, http.StatusNotFound)
	default:
		log.WithError(err).Error("Cookies operation failed")
		s.writeJson(w, &adminError{Error: "cookies operation failed"}, http.StatusInternalServerError)
	}
}
