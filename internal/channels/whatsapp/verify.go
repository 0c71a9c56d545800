package whatsapp

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
)

// VerifyHandler answers the Meta webhook subscription handshake:
// GET ?hub.mode=subscribe&hub.verify_token=...&hub.challenge=...
func VerifyHandler(verifyToken string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		mode := q.Get("hub.mode")
		token := q.Get("hub.verify_token")
		challenge := q.Get("hub.challenge")

		slog.Info("webhook verification attempt", "mode", mode, "token_present", token != "")

		if mode == "" || token == "" || challenge == "" {
			http.Error(w, "Missing parameters", http.StatusBadRequest)
			return
		}
		if mode != "subscribe" || verifyToken == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(verifyToken)) != 1 {
			slog.Warn("webhook verification failed")
			http.Error(w, "Verification failed", http.StatusForbidden)
			return
		}

		slog.Info("webhook verification successful")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(challenge))
	}
}
