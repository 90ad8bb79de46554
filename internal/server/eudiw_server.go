package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/kokukuma/eudiw-verifier/decoder"
	"github.com/kokukuma/eudiw-verifier/document"
	"github.com/kokukuma/eudiw-verifier/internal/logfields"
	"github.com/kokukuma/eudiw-verifier/openid4vp"
	"github.com/kokukuma/eudiw-verifier/validator"
)

type InitiateRequest struct {
	QRCode bool `json:"qrcode"`
}

type InitiateResponse struct {
	SessionID string `json:"sessionId"`
	WalletURL string `json:"walletUrl"`
	QRCode    string `json:"qrCode,omitempty"`
}

type CallbackResponse struct {
	RedirectURI string `json:"redirect_uri"`
}

type ResultResponse struct {
	Status       Status              `json:"status"`
	PidClaims    *document.PidClaims `json:"pidClaims,omitempty"`
	ErrorMessage string              `json:"errorMessage,omitempty"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) Initiate(w http.ResponseWriter, r *http.Request) {
	req := InitiateRequest{}
	if r.ContentLength != 0 {
		// an empty or non JSON body just means no options
		_ = parseJSON(r, &req)
	}

	session, err := s.sessions.NewSession()
	if err != nil {
		s.logger.Error("failed to create session", logfields.WithError(err))
		jsonErrorResponse(w, errors.New("failed to create session"), http.StatusInternalServerError)
		return
	}
	s.metrics.sessionInitiated()

	resp := InitiateResponse{
		SessionID: session.ID,
		WalletURL: s.builder.WalletURL(session.ID),
	}

	if req.QRCode || r.URL.Query().Get("qrcode") == "true" {
		png, err := qrcode.Encode(resp.WalletURL, qrcode.Medium, 256)
		if err != nil {
			// the wallet URL alone is still usable
			s.logger.Warn("failed to generate QR code", logfields.WithSessionID(session.ID), logfields.WithError(err))
		} else {
			resp.QRCode = base64.StdEncoding.EncodeToString(png)
		}
	}

	s.logger.Info("session initiated",
		logfields.WithSessionID(session.ID),
		logfields.WithMode(s.builder.ResponseMode()),
	)
	jsonResponse(w, resp, http.StatusOK)
}

func (s *Server) RequestJWT(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		jsonErrorResponse(w, err, sessionStatus(err))
		return
	}
	if session.Terminal() {
		jsonErrorResponse(w, ErrSessionNotFound, http.StatusNotFound)
		return
	}

	tokenString, err := s.builder.SignedRequest(openid4vp.RequestParams{
		SessionID:     session.ID,
		Nonce:         session.Nonce,
		EncryptionKey: &session.EncryptionKey.PublicKey,
	})
	if err != nil {
		s.logger.Error("failed to build request object", logfields.WithSessionID(sessionID), logfields.WithError(err))
		jsonErrorResponse(w, errors.New("failed to build request object"), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/"+openid4vp.RequestObjectType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "%s", tokenString)
}

func (s *Server) Callback(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	logger := s.logger.With(logfields.WithSessionID(sessionID))

	session, err := s.sessions.Get(sessionID)
	if err != nil {
		s.metrics.callback(callbackOutcome(err))
		jsonErrorResponse(w, err, sessionStatus(err))
		return
	}
	if session.Terminal() {
		logger.Warn("callback for finished session rejected", zap.String("state", string(session.Status)))
		s.metrics.callback(outcomeNotFound)
		jsonErrorResponse(w, ErrSessionNotFound, http.StatusNotFound)
		return
	}

	var claims document.PidClaims
	sub, err := decoder.ReadSubmission(r, s.maxCallbackBody)
	if err != nil {
		err = readFailure(err)
		s.metrics.validationFailed(validator.FailedLayer(err))
	} else {
		claims, err = s.validator.Validate(r.Context(), sub, validator.Session{
			ID:            session.ID,
			Nonce:         session.Nonce,
			EncryptionKey: session.EncryptionKey,
		})
	}

	if err != nil {
		if ctxErr := r.Context().Err(); ctxErr != nil {
			logger.Info("callback abandoned", logfields.WithError(ctxErr))
			return
		}
		msg := validator.PublicMessage(err)
		logger.Info("callback rejected", logfields.WithLayer(validator.FailedLayer(err)))
		session.Status = StatusError
		session.ErrorMessage = msg
		if !s.sessions.Update(sessionID, session) {
			s.metrics.callback(outcomeNotFound)
			jsonErrorResponse(w, ErrSessionNotFound, http.StatusNotFound)
			return
		}
		s.metrics.callback(outcomeRejected)
		jsonErrorResponse(w, errors.New(msg), http.StatusBadRequest)
		return
	}

	session.Status = StatusComplete
	session.PidClaims = &claims
	if !s.sessions.Update(sessionID, session) {
		s.metrics.callback(outcomeNotFound)
		jsonErrorResponse(w, ErrSessionNotFound, http.StatusNotFound)
		return
	}
	s.metrics.callback(outcomeComplete)

	jsonResponse(w, CallbackResponse{
		RedirectURI: fmt.Sprintf("%s/done/%s", s.builder.ServiceURL(), sessionID),
	}, http.StatusOK)
}

// readFailure turns a body read error into a structure failure.
func readFailure(err error) error {
	switch {
	case errors.Is(err, decoder.ErrResponseTooLarge):
		return &validator.Error{Layer: validator.LayerStructure, Message: "request body too large"}
	case errors.Is(err, decoder.ErrMissingVPToken):
		return &validator.Error{Layer: validator.LayerStructure, Message: "missing or invalid vp_token in request body"}
	}
	return &validator.Error{Layer: validator.LayerStructure, Message: "failed to read request body"}
}

func callbackOutcome(err error) string {
	if errors.Is(err, ErrSessionExpired) {
		return outcomeExpired
	}
	return outcomeNotFound
}

// Result reports the session state. A terminal state is delivered once and
// the session is deleted.
func (s *Server) Result(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		jsonErrorResponse(w, err, sessionStatus(err))
		return
	}

	switch session.Status {
	case StatusComplete, StatusError:
		if !s.sessions.Delete(sessionID) {
			jsonErrorResponse(w, ErrSessionNotFound, http.StatusNotFound)
			return
		}
	default:
		jsonResponse(w, ResultResponse{Status: StatusPending}, http.StatusAccepted)
		return
	}

	if session.Status == StatusError {
		jsonResponse(w, ResultResponse{
			Status:       StatusError,
			ErrorMessage: session.ErrorMessage,
		}, http.StatusBadRequest)
		return
	}
	jsonResponse(w, ResultResponse{
		Status:    StatusComplete,
		PidClaims: session.PidClaims,
	}, http.StatusOK)
}

const donePage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Verification complete</title></head>
<body>
<h1>Verification complete</h1>
<p>You can close this window and return to the website.</p>
</body>
</html>
`

func (s *Server) Done(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, donePage)
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, HealthResponse{
		Status:    "ok",
		Timestamp: s.now().UTC().Format(time.RFC3339),
	}, http.StatusOK)
}
