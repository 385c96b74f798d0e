package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/webitel/wlog"

	"github.com/webitel/media_jobs/infra/http_srv"
	"github.com/webitel/media_jobs/internal/model"
)

const (
	SignatureHeader = "X-Webhook-Signature"

	SourceSonarr  = "sonarr"
	SourceRadarr  = "radarr"
	SourceGeneric = "generic"

	testEvent = "Test"
)

var errSignature = errors.New("invalid webhook signature")

// webhookPayload covers the fields used from Sonarr, Radarr and the generic
// form; everything else in the body is ignored.
type webhookPayload struct {
	EventType    string `json:"eventType"`
	EpisodeFiles []struct {
		Path string `json:"path"`
	} `json:"episodeFiles"`
	EpisodeFile *struct {
		Path string `json:"path"`
	} `json:"episodeFile"`
	MovieFile *struct {
		Path string `json:"path"`
	} `json:"movieFile"`
	Path  string   `json:"path"`
	Paths []string `json:"paths"`
}

func (p *webhookPayload) files(source string) []string {
	var res []string

	switch source {
	case SourceSonarr:
		for _, f := range p.EpisodeFiles {
			res = append(res, f.Path)
		}

		if p.EpisodeFile != nil {
			res = append(res, p.EpisodeFile.Path)
		}
	case SourceRadarr:
		if p.MovieFile != nil {
			res = append(res, p.MovieFile.Path)
		}
	default:
		res = append(res, p.Paths...)
		if p.Path != "" {
			res = append(res, p.Path)
		}
	}

	out := res[:0]
	for _, f := range res {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}

	return out
}

type webhookResponse struct {
	Status   string   `json:"status"`
	Message  string   `json:"message,omitempty"`
	GroupID  string   `json:"group_id,omitempty"`
	JobIDs   []string `json:"job_ids,omitempty"`
	Rejected []string `json:"rejected,omitempty"`
}

type Webhook struct {
	adm    AdmissionService
	secret []byte
	log    *wlog.Logger
}

func NewWebhook(adm AdmissionService, secret string, s *http_srv.Server, l *wlog.Logger) *Webhook {
	h := &Webhook{
		adm:    adm,
		secret: []byte(secret),
		log:    l.With(wlog.String("handler", "webhook")),
	}

	s.Post("/webhook/{source}", h.Receive)

	return h
}

// verify checks the hex HMAC-SHA256 of body when a secret is configured.
func (h *Webhook) verify(body []byte, signature string) error {
	if len(h.secret) == 0 {
		return nil
	}

	if signature == "" {
		return errors.Wrap(errSignature, "missing signature")
	}

	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)

	got, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil || !hmac.Equal(got, mac.Sum(nil)) {
		return errSignature
	}

	return nil
}

func (h *Webhook) Receive(w http.ResponseWriter, r *http.Request) {
	source := strings.ToLower(chi.URLParam(r, "source"))
	switch source {
	case SourceSonarr, SourceRadarr, SourceGeneric:
	default:
		respondError(w, r, h.log, errors.Wrapf(model.ErrNotFound, "webhook source %q", source), nil)

		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, r, h.log, errorsJoinInvalid(err), nil)

		return
	}

	if err = h.verify(body, r.Header.Get(SignatureHeader)); err != nil {
		h.log.Warn(err.Error(), wlog.String("source", source))
		respondJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})

		return
	}

	var p webhookPayload
	if err = json.Unmarshal(body, &p); err != nil {
		respondError(w, r, h.log, errorsJoinInvalid(err), nil)

		return
	}

	log := h.log.With(wlog.String("source", source), wlog.String("event", p.EventType))

	if p.EventType == testEvent {
		log.Info("test event received")
		respondJSON(w, http.StatusOK, webhookResponse{Status: "ok", Message: "test event"})

		return
	}

	files := p.files(source)
	if len(files) == 0 {
		log.Warn("webhook without file paths")
		respondJSON(w, http.StatusBadRequest, webhookResponse{Status: "rejected", Message: "no file paths in payload"})

		return
	}

	res, err := h.adm.SubmitEvent(r.Context(), source, files)
	if err != nil {
		resp := webhookResponse{Status: "rejected", Message: err.Error()}
		if res != nil {
			if res.Group != nil {
				g := newGroupResponse(res)
				resp.Status, resp.GroupID, resp.JobIDs = "partial", g.GroupID, g.JobIDs
			}

			for _, rj := range res.Rejected {
				resp.Rejected = append(resp.Rejected, rj.Path)
			}
		}

		code := statusCode(err)
		if code >= http.StatusInternalServerError {
			log.Error(err.Error(), wlog.Err(err))
		}

		respondJSON(w, code, resp)

		return
	}

	g := newGroupResponse(res)
	log.Info("webhook accepted", wlog.String("group_id", g.GroupID), wlog.Int("jobs", len(g.JobIDs)))

	resp := webhookResponse{Status: "accepted", GroupID: g.GroupID, JobIDs: g.JobIDs}
	for _, rj := range res.Rejected {
		resp.Rejected = append(resp.Rejected, rj.Path)
	}

	respondJSON(w, http.StatusAccepted, resp)
}
